package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gungiarena/gungi-server-go/internal/config"
	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/placement"
	"github.com/gungiarena/gungi-server-go/internal/repository"
	"github.com/gungiarena/gungi-server-go/internal/server"
	"github.com/gungiarena/gungi-server-go/internal/session"
	"github.com/gungiarena/gungi-server-go/internal/settlement"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting gungi server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// The match archive is optional; without a database the server still
	// settles games, it just keeps no durable history.
	var notifier settlement.Notifier
	if cfg.Database.URL != "" {
		db, dbErr := repository.NewDB(ctx, cfg.Database, logger)
		if dbErr != nil {
			logger.Fatal("failed to connect to database", zap.Error(dbErr))
		}
		defer db.Close()

		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)

		matchRepo := repository.NewMatchRepository(db, logger)
		notifier = repository.NewArchivingNotifier(matchRepo)
	} else {
		logger.Warn("no database configured; match archiving disabled")
	}

	rules := gungi.NewRules(gungi.RulesConfig{CaptureTopOnly: cfg.Game.CaptureTopOnly})

	controller := placement.NewController(nil, cfg.Placement.SustainedSamples, logger)
	logger.Info("placement controller initialized",
		zap.Int("sustained_samples", cfg.Placement.SustainedSamples),
	)

	transport := placement.NewMemoryTransport()
	finalizer := settlement.NewFinalizer(notifier, logger)

	broadcaster := server.NewBroadcaster(logger)
	go broadcaster.Run(ctx)

	manager := session.NewManager(
		session.Config{
			MaxSessions:         cfg.Server.MaxSessions,
			MoveLimit:           cfg.Game.MoveLimit,
			MaxQueueDepth:       cfg.Game.MaxQueueDepth,
			TokenMaxAge:         cfg.Game.TokenMaxAge,
			AIMoveBudget:        cfg.AI.MoveBudget,
			TacticalReplyWeight: cfg.AI.TacticalReplyWeight,
			LatencyTarget:       cfg.Telemetry.TargetLatency,
			LatencyWindow:       cfg.Telemetry.WindowSize,
			TransferRetries:     cfg.Placement.TransferRetries,
			CompletedRetention:  cfg.Game.CompletedRetention,
		},
		rules,
		controller,
		transport,
		finalizer,
		broadcaster,
		logger,
	)
	logger.Info("session manager initialized",
		zap.Int("move_limit", cfg.Game.MoveLimit),
		zap.Duration("ai_move_budget", cfg.AI.MoveBudget),
	)

	svc := server.NewService(manager, logger)

	// Drive AI agents: whenever a session is active with an agent to move,
	// play its turn within the configured budget.
	go driveAIAgents(ctx, manager, logger)

	// Retire completed sessions once their retention window passes so the
	// capacity cap counts live games only.
	go manager.CleanupCompletedSessions(ctx)

	go func() {
		if wsErr := server.StartWebSocketServer(cfg.Server.WebSocket, broadcaster, svc, logger); wsErr != nil {
			logger.Error("websocket server error", zap.Error(wsErr))
		}
	}()

	logger.Info("gungi server initialized",
		zap.String("version", version),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	logger.Info("gungi server stopped")
}

// driveAIAgents polls live sessions and plays AI turns as they come up.
func driveAIAgents(ctx context.Context, manager *session.Manager, logger *zap.Logger) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range manager.Sessions() {
				if !s.AITurn() {
					continue
				}
				if _, err := manager.PlayAITurn(s.ID()); err != nil {
					logger.Warn("ai turn failed",
						zap.String("session_id", s.ID()),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
