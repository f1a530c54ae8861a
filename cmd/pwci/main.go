package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	cirrusadapter "github.com/apconole/pw-ci/internal/adapter/driven/cirrus"
	dummyadapter "github.com/apconole/pw-ci/internal/adapter/driven/dummy"
	emailadapter "github.com/apconole/pw-ci/internal/adapter/driven/email"
	githubadapter "github.com/apconole/pw-ci/internal/adapter/driven/github"
	patchworkadapter "github.com/apconole/pw-ci/internal/adapter/driven/patchwork"
	sqliteadapter "github.com/apconole/pw-ci/internal/adapter/driven/sqlite"
	travisadapter "github.com/apconole/pw-ci/internal/adapter/driven/travis"
	httphandler "github.com/apconole/pw-ci/internal/adapter/driving/http"
	"github.com/apconole/pw-ci/internal/application"
	"github.com/apconole/pw-ci/internal/config"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"patchwork", cfg.PatchworkURL,
		"project", cfg.PatchworkProject,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"dry_run", cfg.DryRun,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	seriesStore := sqliteadapter.NewSeriesRepo(db)
	attemptStore := sqliteadapter.NewAttemptRepo(db)
	recheckStore := sqliteadapter.NewRecheckRepo(db)

	// 6. Construct CI backends from whatever credentials are present.
	var providers []driven.CIProvider
	if cfg.HasGitHub() {
		gh, err := githubadapter.NewProvider(cfg.GitHubToken, cfg.GitHubRepo)
		if err != nil {
			return err
		}
		providers = append(providers, gh)
		slog.Info("github backend enabled", "repo", cfg.GitHubRepo)
	}
	if cfg.HasTravis() {
		providers = append(providers, travisadapter.NewProvider(cfg.TravisToken, cfg.TravisSlug))
		slog.Info("travis backend enabled", "slug", cfg.TravisSlug)
	}
	if cfg.HasCirrus() {
		cirrus, err := cirrusadapter.NewProvider(cfg.CirrusToken, cfg.CirrusOwner+"/"+cfg.CirrusRepo)
		if err != nil {
			return err
		}
		providers = append(providers, cirrus)
		slog.Info("cirrus backend enabled", "owner", cfg.CirrusOwner, "repo", cfg.CirrusRepo)
	}
	if cfg.EnableDummy {
		providers = append(providers, dummyadapter.NewProvider())
		slog.Info("dummy backend enabled")
	}
	if len(providers) == 0 {
		slog.Warn("no CI backends configured, attempts will stay pending")
	}

	providerNames := make([]string, 0, len(providers))
	for _, p := range providers {
		providerNames = append(providerNames, p.Name())
	}

	// 7. Patchwork client and report notifier.
	patchwork, err := patchworkadapter.NewClient(cfg.PatchworkURL, cfg.PatchworkProject, cfg.PatchworkCredentials)
	if err != nil {
		return err
	}

	var notifier driven.Notifier
	if cfg.HasMail() {
		statuses := emailadapter.DefaultStatusStrings()
		if cfg.StatusSuccess != "" {
			statuses.Success = cfg.StatusSuccess
		}
		if cfg.StatusFailure != "" {
			statuses.Failure = cfg.StatusFailure
		}
		if cfg.StatusWarning != "" {
			statuses.Warning = cfg.StatusWarning
		}
		notifier = emailadapter.NewReporter(cfg.SMTPAddr, nil, cfg.MailFrom, cfg.MailTo, statuses)
		slog.Info("mail reporting enabled", "smtp", cfg.SMTPAddr, "to", cfg.MailTo)
	} else {
		notifier = emailadapter.NewLogReporter(slog.Default())
		slog.Info("no SMTP configured, reports will be logged only")
	}

	// 8. Create and start the monitor.
	recheckSvc := application.NewRecheckService(
		patchwork, seriesStore, attemptStore, recheckStore, providerNames, slog.Default())

	monitor := application.NewMonitorService(
		patchwork, providers, seriesStore, attemptStore, attemptStore, recheckStore,
		recheckSvc, notifier,
		application.MonitorOptions{
			Interval:    cfg.PollInterval,
			PollTimeout: cfg.PollTimeout,
			Workers:     cfg.Workers,
			Retention:   cfg.Retention,
			DryRun:      cfg.DryRun,
		},
		slog.Default(),
	)

	monitorErr := make(chan error, 1)
	go func() { monitorErr <- monitor.Start(ctx) }()

	// 9. HTTP diagnostic API.
	apiHandler := httphandler.NewHandler(seriesStore, attemptStore, monitor, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("pw-ci started", "backends", providerNames)

	// 10. Wait for shutdown signal or a fatal monitor error.
	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-monitorErr:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			slog.Error("monitor stopped", "error", runErr)
		}
	}

	// 11. Graceful shutdown with 10s timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return runErr
}
