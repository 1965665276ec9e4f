// Package warehouse parses service command flags and launches the
// warehouse runtime: the sqlite-backed store, the outbox bus worker, and
// a gRPC health server.
package warehouse

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/quillon/warehouse/internal/platform/config"
	"github.com/quillon/warehouse/internal/platform/logging"
	"github.com/quillon/warehouse/internal/platform/otel"
	"github.com/quillon/warehouse/internal/warehouse/bus"
	"github.com/quillon/warehouse/internal/warehouse/storage/sqlite"
)

// Config holds warehouse service configuration.
type Config struct {
	Port               int           `env:"WAREHOUSE_PORT" envDefault:"8080"`
	DBPath             string        `env:"WAREHOUSE_DB_PATH" envDefault:"data/warehouse.db"`
	KafkaBrokers       []string      `env:"WAREHOUSE_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic         string        `env:"WAREHOUSE_KAFKA_TOPIC" envDefault:"warehouse.ledger"`
	OutboxPollInterval time.Duration `env:"WAREHOUSE_OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"WAREHOUSE_OUTBOX_BATCH_SIZE" envDefault:"50"`
	DevLogging         bool          `env:"WAREHOUSE_DEV_LOGGING"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	var brokers string
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The warehouse health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The warehouse SQLite database path")
	fs.StringVar(&brokers, "kafka-brokers", "", "Comma-separated Kafka broker addresses")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic for ledger events")
	fs.DurationVar(&cfg.OutboxPollInterval, "outbox-poll-interval", cfg.OutboxPollInterval, "Bus outbox poll interval")
	fs.IntVar(&cfg.OutboxBatchSize, "outbox-batch-size", cfg.OutboxBatchSize, "Bus outbox claim batch size")
	fs.BoolVar(&cfg.DevLogging, "dev-logging", cfg.DevLogging, "Use the human-readable development logger")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if brokers != "" {
		cfg.KafkaBrokers = cfg.KafkaBrokers[:0]
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	return cfg, nil
}

// Run starts the warehouse runtime and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.DevLogging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	otelShutdown, err := otel.Setup(ctx, "warehouse")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown tracing", zap.Error(err))
		}
	}()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close sqlite store", zap.Error(closeErr))
		}
	}()

	workerErr := make(chan error, 1)
	if len(cfg.KafkaBrokers) > 0 {
		publisher := bus.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Warn("close kafka publisher", zap.Error(closeErr))
			}
		}()
		worker := bus.NewWorker(store, publisher, logger, bus.Config{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
		})
		go func() {
			workerErr <- worker.Run(ctx)
		}()
	} else {
		// Without brokers the outbox accumulates; the worker can be
		// attached later and will drain it.
		logger.Warn("no kafka brokers configured, bus worker disabled")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("warehouse.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	logger.Info("warehouse server listening", zap.String("addr", listener.Addr().String()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-workerErr:
		return err
	case err := <-serveErr:
		serveErr <- err
		return err
	}
}
