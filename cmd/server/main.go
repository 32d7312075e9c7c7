package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/api"
	"pos-sync-terminal/internal/config"
	"pos-sync-terminal/internal/credential"
	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/delivery"
	"pos-sync-terminal/internal/device"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
	"pos-sync-terminal/internal/remote/binlog"
	"pos-sync-terminal/internal/remote/rest"
	"pos-sync-terminal/internal/remote/sqlremote"
	"pos-sync-terminal/internal/reservation"
	"pos-sync-terminal/internal/shift"
	"pos-sync-terminal/internal/store"
	"pos-sync-terminal/internal/sync"
	"pos-sync-terminal/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the terminal config file")
	flag.Parse()

	// Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS terminal",
		zap.String("terminal_id", cfg.Terminal.ID),
		zap.String("profile_dir", cfg.Terminal.ProfileDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, "pos-terminal", cfg.Terminal.ID, cfg.Telemetry)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Log.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	// Local store
	db, err := database.Open(cfg.Local.DatabasePath)
	if err != nil {
		logger.Log.Fatal("Failed to open local database", zap.Error(err))
	}
	defer db.Close()

	report := db.Migrate(ctx)
	if report.Degraded() {
		logger.Log.Warn("Running on a degraded schema", zap.Strings("failures", report.Failures))
	}

	// Device identity and credential
	machineID, err := device.MachineID(cfg.Local.MachineIDPath)
	if err != nil {
		logger.Log.Fatal("Failed to resolve machine id", zap.Error(err))
	}
	vault, err := device.NewVault(machineID)
	if err != nil {
		logger.Log.Fatal("Failed to init vault", zap.Error(err))
	}
	tokens := credential.NewSource(cfg.Local.CredentialPath, vault)
	if claims, err := tokens.Claims(ctx); err != nil {
		logger.Log.Warn("No usable device credential; uploads wait until one is provisioned", zap.Error(err))
	} else {
		logger.Log.Info("Device credential loaded",
			zap.String("device_id", claims.DeviceID),
			zap.String("tenant_id", claims.TenantID),
		)
	}

	// Remote backend
	backend, stream, closeRemote, err := openRemote(ctx, cfg.Remote, tokens)
	if err != nil {
		logger.Log.Fatal("Failed to init remote backend", zap.Error(err))
	}
	defer closeRemote()

	// Domain services
	q := queue.New(db, cfg.Sync.DeadLetterAfter)
	localStore := store.New(db)
	shifts := shift.NewManager(db)
	ledger := reservation.NewLedger(db)
	deliveries := delivery.NewService(db)
	printer := device.NewPrinter(cfg.Printer.SpoolDir, cfg.Printer.BusinessName)

	// Sync
	engine := sync.NewEngine(q, localStore, backend, stream, sync.OptionsFromConfig(cfg.Sync))
	if err := engine.Start(ctx); err != nil {
		logger.Log.Fatal("Failed to start sync engine", zap.Error(err))
	}
	defer engine.Stop()

	scheduler := sync.NewScheduler(cfg.Scheduler, engine, ledger)
	if err := scheduler.Start(); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// Init API
	if cfg.Server.AuthToken == "" {
		logger.Log.Warn("server.auth_token is empty; the local API is unauthenticated")
	}
	handler := api.NewHandler(api.Deps{
		TerminalID:  cfg.Terminal.ID,
		BranchID:    cfg.Terminal.BranchID,
		AuthToken:   cfg.Server.AuthToken,
		Shifts:      shifts,
		Store:       localStore,
		Deliveries:  deliveries,
		Ledger:      ledger,
		Queue:       q,
		Engine:      engine,
		Printer:     printer,
		Migration:   report,
		BaseContext: ctx,
	})

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      otelhttp.NewHandler(handler.Routes(), "pos-terminal-api"),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Log.Warn("Server shutdown failed", zap.Error(err))
	}
}

// openRemote builds the configured backend and, when available, its change
// feed. The returned close func is always safe to call.
func openRemote(ctx context.Context, cfg config.RemoteConfig, tokens rest.TokenSource) (remote.Store, remote.ChangeStream, func(), error) {
	var (
		backend remote.Store
		stream  remote.ChangeStream
		closeFn = func() {}
	)

	switch cfg.Driver {
	case "", "rest":
		if cfg.BaseURL == "" {
			logger.Log.Warn("remote.base_url is empty; running offline, queued work stays pending")
			return remote.Offline{}, nil, closeFn, nil
		}
		client, err := rest.New(rest.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.GetTimeout(),
			Tokens:  tokens,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		backend = client
		if cfg.RealtimeURL != "" {
			stream = rest.NewRealtime(cfg.RealtimeURL, cfg.APIKey, tokens)
		}
	case "mysql":
		m, err := sqlremote.OpenMySQL(cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		backend = m
		closeFn = func() { m.Close() }
	case "postgres":
		p, err := sqlremote.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		backend = p
		closeFn = func() { p.Close() }
	default:
		return nil, nil, nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}

	if cfg.Binlog.Enabled {
		stream = binlog.New(cfg.Binlog)
	}

	logger.Log.Info("Remote backend configured",
		zap.String("driver", cfg.Driver),
		zap.Bool("change_feed", stream != nil),
	)
	return backend, stream, closeFn, nil
}
