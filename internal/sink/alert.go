package sink

import (
	"context"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

const alertTimeout = 30 * time.Second

// AlertExec runs the configured shell command for each alert with the
// message as its single argument.
type AlertExec struct {
	cmds    map[model.Severity]string
	timeout time.Duration
}

// NewAlertExec returns an executor. An empty command only logs alerts of
// that severity.
func NewAlertExec(warnCmd, critCmd string) *AlertExec {
	return &AlertExec{
		cmds: map[model.Severity]string{
			model.SeverityWarn: warnCmd,
			model.SeverityCrit: critCmd,
		},
		timeout: alertTimeout,
	}
}

func (a *AlertExec) Name() string { return "alert" }

func (a *AlertExec) Handle(ev model.Event) {
	if ev.Kind != model.EventAlert {
		return
	}
	al := ev.Alert
	log.Printf("sink: alert: %s", al.Message)
	cmd := strings.TrimSpace(a.cmds[al.Severity])
	if cmd == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", cmd+` "$1"`, "anystat", al.Message).CombinedOutput()
	if err != nil {
		log.Printf("sink: alert: %s command failed: %v: %s", al.Severity, err, strings.TrimSpace(string(out)))
	}
}

func (a *AlertExec) Close() error { return nil }
