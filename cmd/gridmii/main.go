package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jtcave/gridmii/internal/broker"
	"github.com/jtcave/gridmii/internal/chat"
	"github.com/jtcave/gridmii/internal/config"
	"github.com/jtcave/gridmii/internal/grid"
	"github.com/jtcave/gridmii/internal/logging"
	"github.com/jtcave/gridmii/internal/metrics"
	"github.com/jtcave/gridmii/internal/relay"
)

func main() {
	configPath := flag.String("config", "data/config.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("could not load .env: %v\n", err)
	}

	logger, err := logging.New()
	if err != nil {
		fmt.Printf("could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("could not load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	gridMetrics := metrics.NewGridMetrics()
	if cfg.MetricsPort > 0 {
		go metrics.Serve(ctx, gridMetrics, cfg.MetricsPort, logger)
	}

	chatAdapter, err := chat.NewDiscordAdapter(cfg.Token, cfg.Guild, logger)
	if err != nil {
		logger.Fatal("could not create chat session", zap.Error(err))
	}

	brk := broker.NewMQTTBroker(broker.MQTTConfig{
		Host:     cfg.MQTTBroker,
		Port:     cfg.MQTTPort,
		TLS:      cfg.MQTTTLS,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		ClientID: "gridmii-" + uuid.NewString(),
		Topics:   []string{"job/#", "node/#"},
	}, logger)

	var rel relay.Relay = relay.Disabled{}
	if cfg.RelayConfigPath != "" {
		logger.Warn("relay config specified but no object-storage backend is linked; file downloads stay disabled",
			zap.String("path", cfg.RelayConfigPath))
	}

	controller := grid.New(cfg, logger, chatAdapter, brk, rel, gridMetrics)
	brk.SetOnConnect(controller.OnBrokerConnect)

	go brk.Run(ctx)

	if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("controller exited", zap.Error(err))
	}
}
