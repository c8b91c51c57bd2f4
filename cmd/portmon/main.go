package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/portmonhq/portmon/internal/config"
	"github.com/portmonhq/portmon/internal/daemon"
	"github.com/portmonhq/portmon/internal/events"
	"github.com/portmonhq/portmon/internal/health"
	"github.com/portmonhq/portmon/internal/logging"
	"github.com/portmonhq/portmon/internal/metrics"
	"github.com/portmonhq/portmon/internal/monitor"
	"github.com/portmonhq/portmon/internal/scheduler"
	"github.com/portmonhq/portmon/internal/snapshot"
	"github.com/portmonhq/portmon/pkg/types"
)

const (
	recentEventsLimit = 256
	staleIntervals    = 3
)

func main() {
	ctx := context.Background()

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && (!strings.HasPrefix(args[0], "-") || args[0] == "-h" || args[0] == "--help") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, args)
	case "snapshot":
		err = printSnapshot(ctx, args, os.Stdout)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("portmon - listening port change monitor")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  portmon [run] [--config /etc/portmon/portmon.yaml] [--foreground]")
	fmt.Println("  portmon snapshot [--config path] [--source ss|system]")
}

func loadConfig(ctx context.Context, path string) (config.Config, error) {
	if path == "" {
		return config.LoadFromEnv(ctx)
	}
	return config.LoadOptional(ctx, path)
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $PORTMON_CONFIG or "+config.DefaultConfigPath+")")
	foreground := fs.Bool("foreground", false, "Stay attached to the terminal instead of detaching")

	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		return err
	}

	cfg, err := config.LoadOptional(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(os.Stderr)
	if !*foreground {
		if !daemon.IsChild() {
			if _, err := daemon.Detach(detachArgs(path)); err != nil {
				return fmt.Errorf("detach: %w", err)
			}
			return nil
		}
		if err := daemon.Prepare(); err != nil {
			return fmt.Errorf("prepare daemon: %w", err)
		}
		logger = logging.New(io.Discard)
	}

	source, err := snapshot.NewSource(cfg.Source, cfg.Command, cfg.MaxEntries)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(runCtx, cfg, source, logger)
}

// resolveConfigPath picks the flag value or $PORTMON_CONFIG and makes it
// absolute, since the detached child runs from "/".
func resolveConfigPath(flagPath string) (string, error) {
	path := flagPath
	if path == "" {
		path = config.PathFromEnv()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return abs, nil
}

func detachArgs(configPath string) []string {
	return []string{"run", "-config", configPath}
}

// serve runs the monitor until ctx is cancelled or the snapshot source turns
// out to be unusable. Cancellation logs the stop record and returns without
// waiting for an in-flight cycle.
func serve(ctx context.Context, cfg config.Config, source snapshot.Source, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = scheduler.DefaultInterval
	}

	store := metrics.NewStore()
	checker := health.NewChecker(store, staleIntervals*interval)
	recent := events.NewBuffer(recentEventsLimit)
	recorder := events.NewMulti(store, recent)

	var instanceID string
	appender := logging.NewAppender(cfg.LogPath,
		logging.WithLogger(logger),
		logging.WithFailureHook(func(err error) {
			now := time.Now()
			checker.ObserveChangeLogFailure(now, err)
			recorder.Record(types.Event{
				ID:         uuid.NewString(),
				Type:       types.EventChangeLogFailed,
				Timestamp:  now.UTC(),
				InstanceID: instanceID,
				Details:    map[string]any{"error": err.Error()},
			})
		}),
	)

	mon := monitor.New(source, appender,
		monitor.WithMetrics(store.CycleRecorder()),
		monitor.WithEvents(recorder),
	)
	instanceID = mon.InstanceID()
	store.SetInstanceID(instanceID)

	appender.Append(logging.StartMessage)
	logger.Printf("port monitor starting (instance=%s, log=%s, interval=%s, source=%s)", instanceID, appender.Path(), interval, cfg.Source)

	sched := scheduler.New(
		func(ctx context.Context) error {
			report, err := mon.Cycle(ctx)
			if err != nil {
				return err
			}
			if report.HasChanges() {
				logger.Printf("ports changed: opened=%d closed=%d", len(report.Opened), len(report.Closed))
			}
			return nil
		},
		scheduler.WithInterval(interval),
		scheduler.WithFatal(func(err error) bool { return errors.Is(err, snapshot.ErrUnavailable) }),
		scheduler.WithErrorHandler(func(err error) { logger.Printf("cycle failed: %v", err) }),
		scheduler.WithCycleObserver(checker.ObserveCycle),
	)

	grp, groupCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		if err := sched.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		grp.Go(func() error {
			return serveMonitoring(groupCtx, cfg.MetricsAddr, store, checker, recent, logger)
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- grp.Wait()
	}()

	select {
	case <-ctx.Done():
		appender.Append(logging.StopMessage)
		logger.Printf("port monitor stopped")
		return nil
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, snapshot.ErrUnavailable) {
			appender.Append(fmt.Sprintf("Failed to run snapshot command: %v", err))
		}
		return err
	}
}

func serveMonitoring(ctx context.Context, addr string, store *metrics.Store, checker *health.Checker, recent *events.Buffer, logger *log.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: monitoringHandler(store, checker, recent),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("metrics listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func monitoringHandler(store *metrics.Store, checker *health.Checker, recent *events.Buffer) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.NewHTTPHandler(store))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if checker == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := checker.Ready(time.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/events", eventsHandler(recent)).Methods(http.MethodGet)
	r.HandleFunc("/events/{type}", eventsHandler(recent)).Methods(http.MethodGet)
	return r
}

func eventsHandler(recent *events.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := types.EventType(mux.Vars(r)["type"])
		list := make([]types.Event, 0)
		for _, ev := range recent.Events() {
			if filter != "" && ev.Type != filter {
				continue
			}
			list = append(list, ev)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(list); err != nil {
			http.Error(w, "events unavailable", http.StatusInternalServerError)
		}
	}
}

func printSnapshot(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	sourceKind := fs.String("source", "", "Snapshot source override (ss|system)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *sourceKind != "" {
		cfg.Source = *sourceKind
	}

	source, err := snapshot.NewSource(cfg.Source, cfg.Command, cfg.MaxEntries)
	if err != nil {
		return err
	}
	return writeSnapshot(ctx, source, out)
}

func writeSnapshot(ctx context.Context, source snapshot.Source, out io.Writer) error {
	snap, err := source.Snapshot(ctx)
	if err != nil {
		return err
	}
	entries := snap.Entries()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Protocol == entries[j].Protocol {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].Protocol < entries[j].Protocol
	})
	for _, e := range entries {
		if _, err := fmt.Fprintf(out, "%-5s %s\n", e.Protocol, e.Address); err != nil {
			return err
		}
	}
	if snap.Truncated() {
		if _, err := fmt.Fprintf(out, "# truncated at %d entries\n", snap.Capacity()); err != nil {
			return err
		}
	}
	return nil
}
