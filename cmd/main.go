package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/version"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jtonini/cluster-monitor/internal/app/docs"
	"github.com/jtonini/cluster-monitor/internal/app/router"
	"github.com/jtonini/cluster-monitor/internal/diagnose"
	"github.com/jtonini/cluster-monitor/internal/module/status"
	"github.com/jtonini/cluster-monitor/internal/monitor"
	"github.com/jtonini/cluster-monitor/internal/pkg/client/mail"
	"github.com/jtonini/cluster-monitor/internal/pkg/client/postgres"
	"github.com/jtonini/cluster-monitor/internal/pkg/client/remote"
	"github.com/jtonini/cluster-monitor/internal/pkg/client/slurm"
	"github.com/jtonini/cluster-monitor/internal/pkg/config"
	"github.com/jtonini/cluster-monitor/internal/pkg/health"
	"github.com/jtonini/cluster-monitor/internal/pkg/log"
	"github.com/jtonini/cluster-monitor/internal/recovery"
)

// @title           cluster-monitor
// @version         0.1.0
// @description     cluster node health monitor and recovery backend
// @schema			http
// @BasePath        /api/v1
// @contact.email	jtonini@richmond.edu
func main() {
	var (
		logOutput          string
		logFormat          string
		logFile            string
		logLevel           string
		configPath         string
		srvlistenAddr      string
		srvshutdownTimeout time.Duration
		reportSince        time.Duration
		cleanupOlderThan   time.Duration
		diagnoseCluster    string
		monitorOnce        bool
	)
	app := kingpin.New(filepath.Base(os.Args[0]), "Cluster node health monitor and recovery daemon.")
	app.HelpFlag.Short('h')
	// Logging related flags
	app.Flag("log.level", "Log level, one of [debug, info, warn, error].").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")
	app.Flag("log.output", "Log output, one of [stdout, stderr, file].").Default("stderr").EnumVar(&logOutput, "stdout", "stderr", "file")
	app.Flag("log.format", "Log format, one of [json, text].").Default("text").EnumVar(&logFormat, "json", "text")
	app.Flag("log.file", "Log file path when --output=file.").PlaceHolder("PATH").StringVar(&logFile)
	app.Flag("config", "Path to the YAML configuration file.").Default("/etc/cluster-monitor/config.yaml").StringVar(&configPath)
	// Cross-flag validation
	app.PreAction(func(*kingpin.ParseContext) error {
		if strings.EqualFold(logOutput, "file") {
			if !isValidFilePath(logFile) {
				return fmt.Errorf("invalid --file path: %q", logFile)
			}
		}
		return nil
	})
	app.Version(version.Print("cluster-monitor"))

	monitorCmd := app.Command("monitor", "Run monitoring cycles until interrupted.")
	monitorCmd.Flag("once", "Run a single cycle, print its summary and exit.").BoolVar(&monitorOnce)
	diagnoseCmd := app.Command("diagnose", "Diagnose the pending queue once and print the verdicts.")
	diagnoseCmd.Flag("cluster", "Limit diagnosis to one cluster.").StringVar(&diagnoseCluster)
	reportCmd := app.Command("report", "Print problem, recovery and downtime reports.")
	reportCmd.Flag("since", "Report window (Go duration, e.g. 24h, 168h).").Default("168h").DurationVar(&reportSince)
	cleanupCmd := app.Command("cleanup", "Delete old rows from the append-only tables.")
	cleanupCmd.Flag("older-than", "Age threshold (Go duration, e.g. 2160h for 90 days).").Default("2160h").DurationVar(&cleanupOlderThan)
	serveCmd := app.Command("serve", "Serve the HTTP API and run monitoring in the background.")
	serveCmd.Flag("server.listen-addr", "Server listen address (e.g. :8081 or 127.0.0.1:8081)").Default(":8081").StringVar(&srvlistenAddr)
	serveCmd.Flag("server.shutdown-timeout", "Graceful shutdown timeout (e.g. 10s)").Default("10s").DurationVar(&srvshutdownTimeout)

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to parse commandline arguments: %w", err))
		app.Usage(os.Args[1:])
		os.Exit(2)
	}

	logger, logClose, err := log.NewLogger(logOutput, logFormat, logFile, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logClose()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("unable to load configuration", slog.Any("err", err))
		os.Exit(1)
	}

	var dbOpts []postgres.Option
	if cfg.Database.MaxConns > 0 {
		dbOpts = append(dbOpts, postgres.WithMaxConns(cfg.Database.MaxConns))
	}
	dbctx, dbcancel := context.WithTimeout(context.Background(), 5*time.Second)
	db, err := postgres.New(dbctx, cfg.Database.DSN, dbOpts...)
	dbcancel()
	if err != nil {
		logger.Error("unable to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		logger.Error("unable to ensure database schema", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case monitorCmd.FullCommand():
		err = runMonitor(ctx, cfg, db, logger, monitorOnce)
	case diagnoseCmd.FullCommand():
		err = runDiagnose(ctx, cfg, db, diagnoseCluster, logger)
	case reportCmd.FullCommand():
		err = runReport(ctx, cfg, db, reportSince)
	case cleanupCmd.FullCommand():
		var deleted map[string]int64
		deleted, err = db.CleanupOldRecords(ctx, time.Now().Add(-cleanupOlderThan))
		if err == nil {
			err = printJSON(deleted)
		}
	case serveCmd.FullCommand():
		err = runServe(ctx, cfg, db, srvlistenAddr, srvshutdownTimeout, logger)
	}
	if err != nil && err != context.Canceled {
		logger.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// buildMonitor assembles per-cluster telemetry and recovery workers from the
// configuration.
func buildMonitor(cfg *config.Config, db *postgres.Client, logger *slog.Logger) (*monitor.Monitor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	pool := remote.NewPool(logger)

	workers := make([]*monitor.ClusterWorker, 0, len(cfg.Clusters))
	for _, name := range cfg.ClusterNames() {
		cl := cfg.Clusters[name]
		runner, err := pool.FetchOrCreate(remote.Conf{
			Cluster:  name,
			User:     cl.User,
			HeadNode: cl.HeadNode,
			Timeout:  cfg.Monitoring.CommandTimeout.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", name, err)
		}
		classifier := health.New(cl.ProblemStates)
		slurmc := slurm.New(cl, runner, hostname, logger)
		orch := recovery.New(name, cl.RecoveryCommands,
			cfg.Monitoring.MaxRecoveryAttempts, cfg.Monitoring.RecoveryWait.Std(),
			db, runner, slurmc, classifier, logger)
		nodes, err := expandNodes(cl.Nodes)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", name, err)
		}
		workers = append(workers, &monitor.ClusterWorker{
			Name:       name,
			Nodes:      nodes,
			Telemetry:  slurmc,
			Recovery:   orch,
			Classifier: classifier,
		})
	}

	engine := diagnose.New(health.New(nil))
	notifier := mail.New(cfg.Email, logger)
	return monitor.New(workers, db, engine, notifier, cfg.Monitoring.DiagnoseQueue, logger), nil
}

// expandNodes expands scheduler hostlist entries like "spdr[01-24]" from the
// configuration into individual node names.
func expandNodes(entries []string) ([]string, error) {
	nodes := make([]string, 0, len(entries))
	for _, entry := range entries {
		expanded, err := slurm.ExpandHostlist(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid node list %q: %w", entry, err)
		}
		nodes = append(nodes, expanded...)
	}
	return nodes, nil
}

func runMonitor(ctx context.Context, cfg *config.Config, db *postgres.Client, logger *slog.Logger, once bool) error {
	m, err := buildMonitor(cfg, db, logger)
	if err != nil {
		return err
	}
	if once {
		summary, err := m.RunCycle(ctx)
		if err != nil {
			return err
		}
		return printJSON(summary)
	}
	logger.Info("monitoring started", slog.Duration("interval", cfg.Monitoring.Interval.Std()))
	return m.Run(ctx, cfg.Monitoring.Interval.Std())
}

func runDiagnose(ctx context.Context, cfg *config.Config, db *postgres.Client, only string, logger *slog.Logger) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	pool := remote.NewPool(logger)
	engine := diagnose.New(health.New(nil))

	all := make(map[string]interface{})
	for _, name := range cfg.ClusterNames() {
		if only != "" && name != only {
			continue
		}
		cl := cfg.Clusters[name]
		runner, err := pool.FetchOrCreate(remote.Conf{
			Cluster:  name,
			User:     cl.User,
			HeadNode: cl.HeadNode,
			Timeout:  cfg.Monitoring.CommandTimeout.Std(),
		})
		if err != nil {
			return fmt.Errorf("cluster %s: %w", name, err)
		}
		snap, err := slurm.New(cl, runner, hostname, logger).Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("cluster %s: %w", name, err)
		}
		verdicts := engine.Diagnose(snap)
		if len(verdicts) > 0 {
			if err := db.SaveVerdicts(ctx, verdicts); err != nil {
				return fmt.Errorf("cluster %s: save verdicts: %w", name, err)
			}
		}
		all[name] = verdicts
	}
	return printJSON(all)
}

func runReport(ctx context.Context, cfg *config.Config, db *postgres.Client, window time.Duration) error {
	since := time.Now().Add(-window)
	report := make(map[string]interface{})

	summary, err := db.GetClusterSummary(ctx)
	if err != nil {
		return fmt.Errorf("cluster summary: %w", err)
	}
	report["summary"] = summary

	for _, name := range cfg.ClusterNames() {
		history, err := db.GetProblemHistory(ctx, name, since)
		if err != nil {
			return fmt.Errorf("cluster %s: problem history: %w", name, err)
		}
		stats, err := db.GetRecoveryStats(ctx, name, since)
		if err != nil {
			return fmt.Errorf("cluster %s: recovery stats: %w", name, err)
		}
		downtime, err := db.GetDowntimeStats(ctx, name, since)
		if err != nil {
			return fmt.Errorf("cluster %s: downtime stats: %w", name, err)
		}
		report[name] = map[string]interface{}{
			"problem_history": history,
			"recovery_stats":  stats,
			"downtime":        downtime,
		}
	}
	return printJSON(report)
}

func runServe(ctx context.Context, cfg *config.Config, db *postgres.Client, listenAddr string, shutdownTimeout time.Duration, logger *slog.Logger) error {
	m, err := buildMonitor(cfg, db, logger)
	if err != nil {
		return err
	}

	r := router.New(logger)
	docs.SwaggerInfo.BasePath = "/api/v1"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.Register(status.NewRouter(db, logger))
	router.Mount(r)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	monitorErr := make(chan error, 1)
	go func() {
		logger.Info("monitoring started", slog.Duration("interval", cfg.Monitoring.Interval.Std()))
		monitorErr <- m.Run(ctx, cfg.Monitoring.Interval.Std())
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case err := <-monitorErr:
		if err != nil && err != context.Canceled {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shctx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}
	logger.Info("server exiting")
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// isValidFilePath performs a light-weight validation for file paths.
// It accepts both absolute and relative paths and rejects empty paths
// or paths that end with a path separator (which usually indicate a directory).
func isValidFilePath(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	// Reject paths that end with a separator, which imply directories
	if strings.HasSuffix(p, string(os.PathSeparator)) {
		return false
	}
	base := filepath.Base(p)
	if base == "." || base == string(os.PathSeparator) {
		return false
	}
	return true
}
