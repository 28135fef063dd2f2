package main

//	@title						apwatch API
//	@version					0.1.0
//	@description				Presence tracking and device identity consolidation for OpenWrt access points.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/HerbHall/apwatch/api/swagger"
	"github.com/HerbHall/apwatch/internal/auth"
	"github.com/HerbHall/apwatch/internal/config"
	"github.com/HerbHall/apwatch/internal/event"
	"github.com/HerbHall/apwatch/internal/influx"
	"github.com/HerbHall/apwatch/internal/mqtt"
	"github.com/HerbHall/apwatch/internal/registry"
	"github.com/HerbHall/apwatch/internal/server"
	"github.com/HerbHall/apwatch/internal/store"
	"github.com/HerbHall/apwatch/internal/tracker"
	"github.com/HerbHall/apwatch/internal/version"
	"github.com/HerbHall/apwatch/internal/webhook"
	"github.com/HerbHall/apwatch/internal/ws"
	"github.com/HerbHall/apwatch/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		case "check":
			os.Exit(runCheck(os.Args[2:]))
		case "token":
			os.Exit(runToken(os.Args[2:]))
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("apwatch starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "apwatch.db"
	}
	if err := ensureDir(dbPath); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}

	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	// Create shared services
	bus := event.NewBus(logger.Named("event"))
	defer bus.Close()
	logger.Info("event bus created", zap.String("component", "event"))

	reg := registry.New(logger.Named("registry"))

	// Register all plugins (compile-time composition)
	modules := []plugin.Plugin{
		tracker.New(),
		mqtt.New(),
		influx.New(),
		webhook.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	// Authentication is enabled by configuring a signing secret.
	var authRoutes server.RouteRegistrar
	if secret := viperCfg.GetString("auth.jwt_secret"); secret != "" {
		tokens, err := auth.NewTokenService([]byte(secret), viperCfg.GetDuration("auth.token_ttl"))
		if err != nil {
			logger.Fatal("failed to create token service", zap.Error(err))
		}
		authRoutes = auth.NewHandler(tokens, logger.Named("auth"))
		logger.Info("auth enabled",
			zap.String("component", "auth"),
			zap.Duration("token_ttl", tokens.TTL()),
		)
	}

	wsHandler := ws.NewHandler(bus, logger.Named("ws"))
	defer wsHandler.Close()
	logger.Info("websocket handler initialized", zap.String("component", "ws"))

	addr := viperCfg.GetString("server.host") + ":" + viperCfg.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	opts := server.Options{
		ReadOnly: viperCfg.GetBool("server.read_only"),
		RateLimit: server.RateLimitConfig{
			RPS:             viperCfg.GetFloat64("server.rate_limit.rps"),
			Burst:           viperCfg.GetInt("server.rate_limit.burst"),
			RefreshInterval: viperCfg.GetDuration("server.rate_limit.refresh_interval"),
			TrustForwarded:  viperCfg.GetBool("server.rate_limit.trust_forwarded"),
		},
	}
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	})
	extraRoutes := []server.SimpleRouteRegistrar{wsHandler}
	if viperCfg.GetBool("server.dev_mode") {
		extraRoutes = append(extraRoutes, server.SwaggerUI{Logger: logger})
	}
	srv := server.New(addr, reg, logger, readyCheck, authRoutes, opts, extraRoutes...)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("apwatch ready",
		zap.String("addr", addr),
		zap.Bool("read_only", opts.ReadOnly),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)

	logger.Info("apwatch stopped")
}
