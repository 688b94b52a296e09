package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/anystat/internal/config"
	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func writeVersion(w io.Writer) {
	fmt.Fprintf(w, "anystat - metrics agent\n")
	fmt.Fprintf(w, "  Version:    %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Built:      %s\n", buildTime)
	fmt.Fprintf(w, "  Go version: %s\n", goVersion)
}

func main() {
	fs := pflag.NewFlagSet("anystat", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "config file (default is $HOME/.config/anystat/config.yml)")
	showVersion := fs.Bool("version", false, "print version information")
	printConfig := fs.Bool("print-config", false, "print the resolved record table and exit")
	fs.BoolP("dashboard", "d", false, "show the terminal dashboard")
	fs.BoolP("verbose", "v", false, "also log to stderr")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		writeVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	records, err := config.ResolveAll(cfg.Records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in records: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		if err := writeResolved(os.Stdout, records); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no records configured\n")
		os.Exit(1)
	}

	if err := runAgent(cfg, records); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string, fs *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ANYSTAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("log-dir", "")
	v.SetDefault("log-size", defaultLogSize)
	v.SetDefault("db-path", "")
	v.SetDefault("db-journal", true)
	v.SetDefault("db-prune", 0)
	v.SetDefault("db-prune-interval", defaultDBPruneInterval)
	v.SetDefault("db-flush-interval", defaultDBFlushInterval)
	v.SetDefault("db-batch-size", defaultDBBatchSize)
	v.SetDefault("uplink-host", "")
	v.SetDefault("uplink-port", defaultUplinkPort)
	v.SetDefault("uplink-prefix", "")
	v.SetDefault("warn-cmd", "")
	v.SetDefault("crit-cmd", "")
	v.SetDefault("alert-repeat", defaultAlertRepeat)
	v.SetDefault("api-enabled", false)
	v.SetDefault("api-host", defaultBindHost)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("queue-size", defaultQueueSize)
	v.SetDefault("tail-skip-existing", true)
	v.SetDefault("max-sleep", defaultMaxSleep)
	v.SetDefault("retry-backoff", defaultRetryBackoff)
	v.SetDefault("relaunch-backoff", defaultRelaunchBackoff)
	v.SetDefault("console", true)
	v.SetDefault("dashboard", false)
	v.SetDefault("verbose", false)

	if fs != nil {
		for _, name := range []string{"dashboard", "verbose"} {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(name, f); err != nil {
					return cfg, fmt.Errorf("binding --%s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "anystat", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.UplinkHost != "" && (cfg.UplinkPort <= 0 || cfg.UplinkPort > 65535) {
		return cfg, fmt.Errorf("invalid uplink-port: %d", cfg.UplinkPort)
	}
	if cfg.LogSize < 0 {
		return cfg, fmt.Errorf("invalid log-size: %d", cfg.LogSize)
	}
	if cfg.DBPrune < 0 {
		return cfg, fmt.Errorf("invalid db-prune: %s", cfg.DBPrune)
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.LogDir = expandHome(home, cfg.LogDir)
	cfg.APIAddr = net.JoinHostPort(cfg.APIHost, strconv.Itoa(cfg.APIPort))

	return cfg, nil
}

// expandHome expands a leading ~/ in path.
func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// resolvedRecord is the --print-config view of one record.
type resolvedRecord struct {
	Name       string   `yaml:"name"`
	Source     string   `yaml:"source"`
	Target     string   `yaml:"target"`
	Mode       string   `yaml:"mode"`
	Interval   string   `yaml:"interval"`
	Line       int      `yaml:"line,omitempty"`
	Skip       int      `yaml:"skip,omitempty"`
	ValueX     int      `yaml:"valuex,omitempty"`
	NameX      int      `yaml:"namex,omitempty"`
	Regex      string   `yaml:"regex,omitempty"`
	Delta      bool     `yaml:"delta,omitempty"`
	Rate       float64  `yaml:"rate,omitempty"`
	Consol     string   `yaml:"consol,omitempty"`
	Unit       string   `yaml:"unit,omitempty"`
	WarnAbove  *float64 `yaml:"warn-above,omitempty"`
	WarnBelow  *float64 `yaml:"warn-below,omitempty"`
	CritAbove  *float64 `yaml:"crit-above,omitempty"`
	CritBelow  *float64 `yaml:"crit-below,omitempty"`
	AlertAfter int      `yaml:"alert-after"`
}

func resolvedView(c record.Config) resolvedRecord {
	interval := "event"
	if c.Interval > 0 {
		interval = c.Interval.String()
	}
	r := resolvedRecord{
		Name:       c.Name,
		Source:     c.Kind.String(),
		Target:     c.Target,
		Mode:       c.Mode.String(),
		Interval:   interval,
		Line:       c.Line,
		Skip:       c.Skip,
		ValueX:     c.ValueIndex,
		NameX:      c.NameIndex,
		Delta:      c.Delta,
		Rate:       c.Rate,
		Unit:       c.Unit,
		WarnAbove:  limitPtr(c.WarnAbove),
		WarnBelow:  limitPtr(c.WarnBelow),
		CritAbove:  limitPtr(c.CritAbove),
		CritBelow:  limitPtr(c.CritBelow),
		AlertAfter: c.AlertAfter,
	}
	if c.Pattern != nil {
		r.Regex = c.Pattern.String()
	}
	if c.Consolidation != 0 {
		r.Consol = c.Consolidation.String()
	}
	return r
}

func limitPtr(l model.Limit) *float64 {
	if !l.Set {
		return nil
	}
	v := l.Value
	return &v
}

// writeResolved dumps the resolved record table as YAML.
func writeResolved(w io.Writer, records []record.Config) error {
	out := struct {
		Records []resolvedRecord `yaml:"records"`
	}{Records: make([]resolvedRecord, 0, len(records))}
	for _, c := range records {
		out.Records = append(out.Records, resolvedView(c))
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("print-config: %w", err)
	}
	return enc.Close()
}
