package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/config"
	"github.com/garyjia/sms-orchestrator/internal/container"
	httpserver "github.com/garyjia/sms-orchestrator/internal/interfaces/http"
	"github.com/garyjia/sms-orchestrator/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    utils.DefaultServiceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Orchestrator exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Orchestrator exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting SMS orchestrator",
		zap.String("address", cfg.Server.Addr()),
		zap.String("database", cfg.Database.Driver),
		zap.String("lock", cfg.Lock.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown error", zap.Error(err))
		}
	}()

	services := c.Services()
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		WebhookSecret:   cfg.Server.WebhookSecret,
		WebhookMaxSkew:  cfg.Server.WebhookMaxSkew,
	}, httpserver.Deps{
		Intake:    services.Intake,
		Approvals: services.Approval,
		Timeouts:  services.Timeout,
		Plans:     services.PaymentPlan,
		Engine:    c.WorkflowEngine(),
		Breakers:  c.Breakers(),
		Health: func(ctx context.Context) (bool, interface{}) {
			h := c.Health(ctx)
			return h.Overall, h.Components
		},
	}, c.KVLogger())

	return server.Start(ctx)
}
