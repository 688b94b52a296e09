package sink

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

const (
	uplinkDialTimeout  = 5 * time.Second
	uplinkWriteTimeout = 5 * time.Second
)

// Uplink forwards samples as "[prefix.]dotted.path value unix-ts" lines
// over TCP. The connection is dialled on demand and redialled after a
// failed write; samples seen while it is down are dropped.
type Uplink struct {
	addr   string
	prefix string
	dial   func(network, addr string, timeout time.Duration) (net.Conn, error)
	conn   net.Conn

	failures    int
	lastFailLog time.Time
}

// NewUplink targets host:port. No connection is made until the first
// sample.
func NewUplink(host string, port int, prefix string) *Uplink {
	return &Uplink{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		prefix: strings.Trim(prefix, "."),
		dial:   net.DialTimeout,
	}
}

func (u *Uplink) Name() string { return "uplink" }

func (u *Uplink) Handle(ev model.Event) {
	if ev.Kind != model.EventSample {
		return
	}
	if err := u.send(UplinkLine(u.prefix, ev.Sample)); err != nil {
		u.fail(err)
	}
}

func (u *Uplink) send(line string) error {
	if u.conn == nil {
		conn, err := u.dial("tcp", u.addr, uplinkDialTimeout)
		if err != nil {
			return fmt.Errorf("dial %s: %w", u.addr, err)
		}
		if u.failures > 0 {
			log.Printf("sink: uplink: connected to %s after %d failures", u.addr, u.failures)
			u.failures = 0
		}
		u.conn = conn
	}
	u.conn.SetWriteDeadline(time.Now().Add(uplinkWriteTimeout))
	if _, err := u.conn.Write([]byte(line)); err != nil {
		u.conn.Close()
		u.conn = nil
		return fmt.Errorf("write %s: %w", u.addr, err)
	}
	return nil
}

// fail logs at most once per 10 seconds.
func (u *Uplink) fail(err error) {
	u.failures++
	if now := time.Now(); now.Sub(u.lastFailLog) >= 10*time.Second {
		u.lastFailLog = now
		log.Printf("sink: uplink: %v (%d samples dropped)", err, u.failures)
	}
}

func (u *Uplink) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

// UplinkLine formats one sample for the uplink.
func UplinkLine(prefix string, s model.Sample) string {
	name := strings.ReplaceAll(s.Path, "/", ".")
	if prefix != "" {
		name = prefix + "." + name
	}
	return name + " " + strconv.FormatFloat(s.Value, 'f', -1, 64) + " " + strconv.FormatInt(s.Timestamp.Unix(), 10) + "\n"
}
