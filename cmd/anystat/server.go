package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/anystat/internal/duckdb"
	"github.com/tinytelemetry/anystat/internal/httpserver"
	"github.com/tinytelemetry/anystat/internal/journal"
	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/reactor"
	"github.com/tinytelemetry/anystat/internal/record"
	"github.com/tinytelemetry/anystat/internal/sink"
	"github.com/tinytelemetry/anystat/internal/source"
	"github.com/tinytelemetry/anystat/internal/tui"
)

// storage is the optional database pipeline.
type storage struct {
	store     *duckdb.Store
	buffer    *duckdb.InsertBuffer
	retention *duckdb.RetentionCleaner
}

func openStorage(cfg appConfig) (*storage, error) {
	store, err := duckdb.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}

	// Journal samples ahead of the buffer so a crash loses none.
	var j *journal.Journal
	if cfg.DBJournal {
		j, err = journal.Open(cfg.DBPath + ".journal")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open sample journal: %w", err)
		}
	}
	bufCfg := duckdb.InsertBufferConfig{
		BatchSize:     cfg.DBBatchSize,
		FlushInterval: cfg.DBFlushInterval,
	}
	if j != nil {
		bufCfg.Journal = j
	}

	return &storage{
		store:  store,
		buffer: duckdb.NewInsertBuffer(store, bufCfg),
		retention: duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
			MaxAge:   cfg.DBPrune,
			Interval: cfg.DBPruneInterval,
		}),
	}, nil
}

// Close stops the cleaner, flushes the buffer and closes the store.
func (s *storage) Close() {
	s.retention.Stop()
	s.buffer.Stop()
	if err := s.store.Close(); err != nil {
		log.Printf("duckdb: close: %v", err)
	}
}

// buildHub attaches every configured sink. Sinks doing blocking I/O sit
// behind an Async queue whose drops are counted by metrics.
func buildHub(cfg appConfig, metrics *sink.Metrics, registry *sink.Registry, st *storage, dash tui.Sender) (*sink.Hub, error) {
	hub := sink.NewHub(registry, metrics)
	async := func(s model.Sink) model.Sink {
		return sink.NewAsync(s, sink.AsyncConfig{QueueSize: cfg.QueueSize, OnDrop: metrics.DropCounter(s.Name())})
	}

	if st != nil {
		hub.Attach(async(sink.NewDatabase(st.store, st.buffer)))
	}
	if cfg.LogDir != "" {
		fl, err := sink.NewFlatLog(cfg.LogDir, cfg.LogSize)
		if err != nil {
			hub.Close()
			return nil, err
		}
		hub.Attach(async(fl))
	}
	if cfg.UplinkHost != "" {
		hub.Attach(async(sink.NewUplink(cfg.UplinkHost, cfg.UplinkPort, cfg.UplinkPrefix)))
	}
	hub.Attach(async(sink.NewAlertExec(cfg.WarnCmd, cfg.CritCmd)))
	if dash != nil {
		hub.Attach(async(tui.NewSink(dash)))
	} else if cfg.Console {
		hub.Attach(sink.NewConsole(os.Stdout))
	}
	return hub, nil
}

// runAgent builds the record tree and sinks, then runs the reactor until
// a signal, a fatal source error or the dashboard quitting.
func runAgent(cfg appConfig, records []record.Config) error {
	cleanupLogger := configureRuntimeLogger(cfg.Verbose && !cfg.Dashboard)
	defer cleanupLogger()

	var st *storage
	if cfg.DBPath != "" {
		var err error
		if st, err = openStorage(cfg); err != nil {
			return err
		}
		defer st.Close()
	}

	var program *tea.Program
	var dash tui.Sender
	if cfg.Dashboard {
		program = tea.NewProgram(tui.NewApp(), tea.WithAltScreen())
		dash = program
	}

	metrics := sink.NewMetrics()
	registry := sink.NewRegistry()
	hub, err := buildHub(cfg, metrics, registry, st, dash)
	if err != nil {
		return err
	}
	// Sinks drain before storage stops.
	defer func() {
		if err := hub.Close(); err != nil {
			log.Printf("agent: %v", err)
		}
	}()

	r, err := reactor.New(reactor.Config{MaxSleep: cfg.MaxSleep, RetryBackoff: cfg.RetryBackoff})
	if err != nil {
		return err
	}
	tree := record.NewTree(hub, cfg.AlertRepeat)
	env := source.Env{
		Tree:            tree,
		Spawner:         r.Supervisor(),
		Watcher:         r,
		ReadExisting:    !cfg.TailSkipExisting,
		RelaunchBackoff: cfg.RelaunchBackoff,
	}
	for _, rc := range records {
		rec, err := tree.Add(rc)
		if err != nil {
			r.Close()
			return err
		}
		src, err := source.New(rec, env)
		if err != nil {
			r.Close()
			return err
		}
		r.Add(src)
	}

	if cfg.APIEnabled {
		var reader model.SampleReader
		if st != nil {
			reader = st.store
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, registry, reader, metrics.Handler())
		if err := apiServer.Start(); err != nil {
			r.Close()
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		if program == nil {
			fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		}
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	if program == nil {
		printStartupBanner(cfg, len(records), st != nil)
	}
	log.Printf("agent: running %d records", len(records))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.Run(gctx); err != nil {
			return fmt.Errorf("reactor: %w", err)
		}
		return nil
	})

	if program != nil {
		g.Go(func() error {
			// Quitting the dashboard stops the agent.
			defer cancel()
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			program.Quit()
			return nil
		})
	}

	err = g.Wait()
	cancel()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	if err != nil {
		log.Printf("agent: exited with error: %v", err)
	}
	return err
}

// configureRuntimeLogger sends the log to the agent's state file, tee'd
// to stderr when tee is set.
func configureRuntimeLogger(tee bool) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "anystat")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "anystat.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	if tee {
		log.SetOutput(io.MultiWriter(f, os.Stderr))
	} else {
		log.SetOutput(f)
	}
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, records int, storage bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	status := func(label string, on bool, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
	}

	ver := dim.Render("v" + version)
	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{
		"",
		cyan.Bold(true).Render("    anystat"),
		"    " + ver,
		"",
		separator,
		"",
		bold.Render("    Records"),
		"",
		fmt.Sprintf("    %s  %-14s %s", check, "Configured", cyan.Render(strconv.Itoa(records))),
		"",
		bold.Render("    Outputs"),
		"",
		status("HTTP API", cfg.APIEnabled, cfg.APIAddr),
		status("Storage", storage, shortenPath(cfg.DBPath)),
		status("Flat logs", cfg.LogDir != "", shortenPath(cfg.LogDir)),
		status("Uplink", cfg.UplinkHost != "", fmt.Sprintf("%s:%d", cfg.UplinkHost, cfg.UplinkPort)),
		status("Console", cfg.Console, "stdout"),
		"",
		bold.Render("    Config"),
		"",
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}
	lines = append(lines,
		"",
		separator,
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"),
		"",
	)

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
