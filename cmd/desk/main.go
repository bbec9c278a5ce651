package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mhalpert/optiondesk/internal/broker"
	"github.com/mhalpert/optiondesk/internal/config"
	"github.com/mhalpert/optiondesk/internal/dashboard"
	"github.com/mhalpert/optiondesk/internal/executor"
	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/market"
	"github.com/mhalpert/optiondesk/internal/pricing"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Infof("Starting desk in %s mode", cfg.Environment.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		desk    broker.Broker
		marker  market.PositionMarker
		history dashboard.TransactionSource
	)
	if cfg.IsLive() {
		client := broker.NewTradierClient(cfg.Broker.APIKey, cfg.Broker.AccountID,
			cfg.Broker.Sandbox, cfg.BrokerTimeout())
		if err := client.Verify(); err != nil {
			logger.Fatalf("Broker connectivity check failed: %v", err)
		}
		desk = broker.NewCircuitBreakerBroker(client)
		logger.Info("Connected to Tradier")
	} else {
		led, err := ledger.New(cfg.Ledger.Path, ledger.Config{
			StartingCash:   cfg.Ledger.StartingCash,
			MarginMultiple: cfg.Ledger.MarginMultiple,
		})
		if err != nil {
			logger.Fatalf("Failed to open ledger %s: %v", cfg.Ledger.Path, err)
		}
		synthetic := pricing.NewSynthetic(pricing.NewEstimator())
		exec := executor.New(led, synthetic, logger)
		sim := broker.NewSimBroker(led, exec, synthetic)
		desk = sim
		marker = sim
		history = sim

		snap := led.AccountSnapshot()
		logger.WithFields(logrus.Fields{
			"cash":         snap.Cash,
			"buying_power": snap.BuyingPower,
			"path":         cfg.Ledger.Path,
		}).Info("Simulated ledger ready")
	}

	poller := market.NewPoller(desk, marker, cfg.Monitor.Tickers, cfg.RefreshInterval(), logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return poller.Run(ctx)
	})

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, desk, poller, history, logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Errorf("Desk stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
