package main

import (
	"time"

	"github.com/tinytelemetry/anystat/internal/config"
	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/sink"
)

const (
	defaultLogSize         = 10 << 20 // bytes, 0 = no rotation
	defaultDBPruneInterval = model.DBPruneInterval
	defaultDBFlushInterval = time.Second
	defaultDBBatchSize     = 500
	defaultUplinkPort      = 2003
	defaultAlertRepeat     = time.Duration(0)
	defaultBindHost        = "127.0.0.1"
	defaultAPIPort         = 8091
	defaultQueueSize       = sink.DefaultQueueSize
	defaultMaxSleep        = model.MaxSleep
	defaultRetryBackoff    = 10 * time.Millisecond
	defaultRelaunchBackoff = time.Second
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	LogDir  string `mapstructure:"log-dir"`
	LogSize int64  `mapstructure:"log-size"`

	DBPath          string        `mapstructure:"db-path"` // empty disables storage
	DBJournal       bool          `mapstructure:"db-journal"`
	DBPrune         time.Duration `mapstructure:"db-prune"` // 0 = keep forever
	DBPruneInterval time.Duration `mapstructure:"db-prune-interval"`
	DBFlushInterval time.Duration `mapstructure:"db-flush-interval"`
	DBBatchSize     int           `mapstructure:"db-batch-size"`

	UplinkHost   string `mapstructure:"uplink-host"`
	UplinkPort   int    `mapstructure:"uplink-port"`
	UplinkPrefix string `mapstructure:"uplink-prefix"`

	WarnCmd     string        `mapstructure:"warn-cmd"`
	CritCmd     string        `mapstructure:"crit-cmd"`
	AlertRepeat time.Duration `mapstructure:"alert-repeat"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIHost    string `mapstructure:"api-host"`
	APIPort    int    `mapstructure:"api-port"`

	QueueSize        int           `mapstructure:"queue-size"`
	TailSkipExisting bool          `mapstructure:"tail-skip-existing"`
	MaxSleep         time.Duration `mapstructure:"max-sleep"`
	RetryBackoff     time.Duration `mapstructure:"retry-backoff"`
	RelaunchBackoff  time.Duration `mapstructure:"relaunch-backoff"`

	Console   bool `mapstructure:"console"`
	Dashboard bool `mapstructure:"dashboard"`
	Verbose   bool `mapstructure:"verbose"`

	Records []config.RecordSpec `mapstructure:"records"`

	ConfigPath string `mapstructure:"-"` // not from config file
	APIAddr    string `mapstructure:"-"`
}
