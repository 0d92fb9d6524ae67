package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/crmkit/tenant-sync/internal/config"
	"github.com/crmkit/tenant-sync/internal/db"
	"github.com/crmkit/tenant-sync/internal/logger"
	"github.com/crmkit/tenant-sync/internal/metrics"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var delivererCmd = &cobra.Command{
	Use:   "deliverer",
	Short: "Run the outbound webhook delivery drain",
	RunE:  runDeliverer,
}

func runDeliverer(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) ClickHouse for the attempt audit log (optional in dev)
	var attemptsRepo repository.AttemptsRepository
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		log.Printf("clickhouse unavailable, delivery audit disabled: %v", err)
	} else {
		defer func() { _ = chDB.Close() }()
		attemptsRepo = repository.NewAttemptsRepository(chDB)
	}

	// 4) deliverer
	d := worker.NewDeliverer(
		repository.NewOutboundRepository(dbx),
		attemptsRepo,
		logger.Log,
		[]byte(cfg.Webhook.Secret),
	)

	// tune knobs
	if cfg.Delivery.BatchLimit > 0 {
		d.BatchLimit = cfg.Delivery.BatchLimit
	}
	if cfg.Delivery.DrainInterval > 0 {
		d.Interval = cfg.Delivery.DrainInterval
	}
	if cfg.Delivery.BaseDelay > 0 {
		d.BaseDelay = cfg.Delivery.BaseDelay
	}
	if cfg.Delivery.Timeout > 0 {
		d.Timeout = cfg.Delivery.Timeout
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> deliverer started batchLimit=%d interval=%s baseDelay=%s timeout=%s",
		d.BatchLimit, d.Interval, d.BaseDelay, d.Timeout)

	return d.Run(ctx)
}
