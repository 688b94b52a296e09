package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/anystat/internal/config"
	"github.com/tinytelemetry/anystat/internal/sink"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig("", nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DBPath != "" || !cfg.DBJournal || cfg.DBPruneInterval != defaultDBPruneInterval {
		t.Errorf("db defaults = %q %v %v", cfg.DBPath, cfg.DBJournal, cfg.DBPruneInterval)
	}
	if cfg.APIAddr != "127.0.0.1:8091" || cfg.APIEnabled {
		t.Errorf("api defaults = %q enabled=%v", cfg.APIAddr, cfg.APIEnabled)
	}
	if cfg.QueueSize != sink.DefaultQueueSize || !cfg.Console || cfg.Dashboard {
		t.Errorf("queue %d console %v dashboard %v", cfg.QueueSize, cfg.Console, cfg.Dashboard)
	}
	if !cfg.TailSkipExisting || cfg.AlertRepeat != 0 {
		t.Errorf("tail-skip-existing %v alert-repeat %v, want true 0", cfg.TailSkipExisting, cfg.AlertRepeat)
	}
	if len(cfg.Records) != 0 {
		t.Errorf("records = %d, want 0", len(cfg.Records))
	}
}

func TestWriteVersion(t *testing.T) {
	var buf bytes.Buffer
	writeVersion(&buf)
	out := buf.String()
	for _, want := range []string{"anystat", "Version:    " + version, "Commit:     " + commit} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadConfig_File(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, `
db-path: ~/data/anystat.duckdb
db-prune: 72h
log-dir: ~/logs
log-size: 4096
uplink-host: graphite.local
uplink-prefix: host1
alert-repeat: 1m
records:
  - name: load
    cat: /proc/loadavg
    valuex: 1
    interval: 15
    warn-above: 4
    scale-max: 8
  - name: procs
    cmd: ps -e -o comm=
    namex: 1
`)

	cfg, err := loadConfig(path, nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ConfigPath != path {
		t.Errorf("ConfigPath = %q, want %q", cfg.ConfigPath, path)
	}
	if cfg.DBPath != filepath.Join(home, "data", "anystat.duckdb") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.LogDir != filepath.Join(home, "logs") || cfg.LogSize != 4096 {
		t.Errorf("log = %q %d", cfg.LogDir, cfg.LogSize)
	}
	if cfg.DBPrune != 72*time.Hour || cfg.AlertRepeat != time.Minute {
		t.Errorf("durations = %v %v", cfg.DBPrune, cfg.AlertRepeat)
	}
	if cfg.UplinkHost != "graphite.local" || cfg.UplinkPort != defaultUplinkPort || cfg.UplinkPrefix != "host1" {
		t.Errorf("uplink = %s:%d %q", cfg.UplinkHost, cfg.UplinkPort, cfg.UplinkPrefix)
	}
	if len(cfg.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(cfg.Records))
	}
	load := cfg.Records[0]
	if load.Name != "load" || load.Cat != "/proc/loadavg" || load.ValueX != 1 || load.Interval != 15 {
		t.Errorf("load = %+v", load)
	}
	if load.WarnAbove == nil || *load.WarnAbove != 4 || load.ScaleMax == nil || *load.ScaleMax != 8 {
		t.Errorf("load limits = %v %v", load.WarnAbove, load.ScaleMax)
	}

	recs, err := config.ResolveAll(cfg.Records)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if recs[0].Interval != 15*time.Second || recs[1].Interval != 60*time.Second {
		t.Errorf("intervals = %v %v", recs[0].Interval, recs[1].Interval)
	}
}

func TestLoadConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANYSTAT_API_PORT", "9100")
	t.Setenv("ANYSTAT_QUEUE_SIZE", "16")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("dashboard", false, "")
	fs.Bool("verbose", false, "")
	if err := fs.Parse([]string{"--dashboard", "--verbose"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := loadConfig("", fs)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.APIPort != 9100 || cfg.APIAddr != "127.0.0.1:9100" {
		t.Errorf("api = %d %q", cfg.APIPort, cfg.APIAddr)
	}
	if cfg.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", cfg.QueueSize)
	}
	if !cfg.Dashboard || !cfg.Verbose {
		t.Errorf("flags not bound: dashboard=%v verbose=%v", cfg.Dashboard, cfg.Verbose)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name string
		body string
	}{
		{"api port", "api-port: 70000\n"},
		{"uplink port", "uplink-host: x\nuplink-port: 0\n"},
		{"log size", "log-size: -1\n"},
		{"malformed", "records: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body), nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfig_MissingFileTolerated(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yml"), nil); err != nil {
		t.Fatalf("loadConfig with missing file: %v", err)
	}
}

func TestWriteResolved(t *testing.T) {
	warn := 80.0
	recs, err := config.ResolveAll([]config.RecordSpec{
		{Name: "disk", Cmd: "df -P", NameX: 6, ValueX: 5, Regex: `(\d+)%`, WarnAbove: &warn},
		{Name: "auth", Tail: "/var/log/auth.log", ValueX: 1},
	})
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	var buf bytes.Buffer
	if err := writeResolved(&buf, recs); err != nil {
		t.Fatalf("writeResolved: %v", err)
	}

	var out struct {
		Records []resolvedRecord `yaml:"records"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if len(out.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(out.Records))
	}
	disk := out.Records[0]
	if disk.Source != "cmd" || disk.Mode != "namevalpos" || disk.Interval != "1m0s" || disk.Regex != `(\d+)%` {
		t.Errorf("disk = %+v", disk)
	}
	if disk.WarnAbove == nil || *disk.WarnAbove != 80 || disk.CritAbove != nil {
		t.Errorf("disk limits = %v %v", disk.WarnAbove, disk.CritAbove)
	}
	if out.Records[1].Interval != "event" {
		t.Errorf("auth interval = %q, want event", out.Records[1].Interval)
	}
	if !strings.Contains(buf.String(), "alert-after: 1") {
		t.Errorf("alert-after missing:\n%s", buf.String())
	}
}

func TestBuildHub(t *testing.T) {
	cfg := appConfig{
		LogDir:     filepath.Join(t.TempDir(), "logs"),
		UplinkHost: "127.0.0.1",
		UplinkPort: 1,
		Console:    true,
		QueueSize:  8,
	}
	hub, err := buildHub(cfg, sink.NewMetrics(), sink.NewRegistry(), nil, nil)
	if err != nil {
		t.Fatalf("buildHub: %v", err)
	}
	defer hub.Close()

	var names []string
	for _, s := range hub.Sinks() {
		names = append(names, s.Name())
	}
	want := "registry,prometheus,flatlog,uplink,alert,console"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("sinks = %s, want %s", got, want)
	}
}
