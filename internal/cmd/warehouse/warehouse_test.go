package warehouse

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("warehouse", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DBPath != "data/warehouse.db" {
		t.Fatalf("unexpected default db path: %s", cfg.DBPath)
	}
	if cfg.KafkaTopic != "warehouse.ledger" {
		t.Fatalf("unexpected default topic: %s", cfg.KafkaTopic)
	}
	if cfg.OutboxPollInterval != 2*time.Second {
		t.Fatalf("unexpected default poll interval: %v", cfg.OutboxPollInterval)
	}
}

func TestParseConfigFlagsOverride(t *testing.T) {
	fs := flag.NewFlagSet("warehouse", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-port", "9090",
		"-db-path", "/tmp/wh.db",
		"-kafka-brokers", "broker-1:9092, broker-2:9092",
		"-outbox-batch-size", "10",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 9090 || cfg.DBPath != "/tmp/wh.db" || cfg.OutboxBatchSize != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "broker-1:9092" || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.KafkaBrokers)
	}
}
