// Package maintenance provides operational commands over the warehouse
// store: projection rebuilds, outbox reporting, idempotency cleanup, and
// the transit reconciliation sweep.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/quillon/warehouse/internal/warehouse/app"
	"github.com/quillon/warehouse/internal/warehouse/projection"
	"github.com/quillon/warehouse/internal/warehouse/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath  string        `env:"WAREHOUSE_DB_PATH"`
	Timeout time.Duration `env:"WAREHOUSE_MAINTENANCE_TIMEOUT" envDefault:"10m"`

	Rebuild       bool
	Verify        bool
	RebuildStatus bool
	CleanupShadow bool

	OutboxReport           bool
	OutboxRequeueDead      bool
	OutboxRequeueDeadLimit int

	CleanupCommands  bool
	CommandRetention time.Duration

	Reconcile bool
	Resume    bool
	OlderThan time.Duration

	JSONOutput bool
}

type envConfig struct {
	DBPath  string        `env:"WAREHOUSE_DB_PATH"`
	Timeout time.Duration `env:"WAREHOUSE_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:  envCfg.DBPath,
		Timeout: envCfg.Timeout,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "warehouse.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the warehouse sqlite database (default: WAREHOUSE_DB_PATH or data/warehouse.db)")
	fs.BoolVar(&cfg.Rebuild, "rebuild", false, "rebuild the available_stock projection from the ledger")
	fs.BoolVar(&cfg.Verify, "verify", false, "checksum the rebuilt view against the live one before swapping")
	fs.BoolVar(&cfg.RebuildStatus, "rebuild-status", false, "report whether a rebuild currently holds the lease")
	fs.BoolVar(&cfg.CleanupShadow, "cleanup-shadow", false, "drop a leftover shadow table from an aborted rebuild")
	fs.BoolVar(&cfg.OutboxReport, "outbox-report", false, "report bus outbox depth by status")
	fs.BoolVar(&cfg.OutboxRequeueDead, "outbox-requeue-dead", false, "requeue a bounded batch of dead outbox rows")
	fs.IntVar(&cfg.OutboxRequeueDeadLimit, "outbox-requeue-dead-limit", 0, "max dead outbox rows to requeue (required with -outbox-requeue-dead)")
	fs.BoolVar(&cfg.CleanupCommands, "cleanup-commands", false, "delete terminal idempotency records older than the retention window")
	fs.DurationVar(&cfg.CommandRetention, "command-retention", 24*time.Hour, "idempotency record retention window")
	fs.BoolVar(&cfg.Reconcile, "reconcile", false, "report stuck in-transit stock and unfinished transfer executions")
	fs.BoolVar(&cfg.Resume, "resume", false, "resume unfinished transfer executions found by -reconcile")
	fs.DurationVar(&cfg.OlderThan, "older-than", 10*time.Minute, "minimum age of transit rows to report")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Verify && !cfg.Rebuild {
		return errors.New("-verify requires -rebuild")
	}
	if cfg.Resume && !cfg.Reconcile {
		return errors.New("-resume requires -reconcile")
	}
	if cfg.OutboxRequeueDead && cfg.OutboxRequeueDeadLimit <= 0 {
		return errors.New("-outbox-requeue-dead requires a positive -outbox-requeue-dead-limit")
	}
	if !cfg.Rebuild && !cfg.RebuildStatus && !cfg.CleanupShadow &&
		!cfg.OutboxReport && !cfg.OutboxRequeueDead &&
		!cfg.CleanupCommands && !cfg.Reconcile {
		return errors.New("no operation selected")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "close store: %v\n", closeErr)
		}
	}()

	if cfg.Rebuild {
		if err := runRebuild(ctx, store, cfg, out); err != nil {
			return err
		}
	}
	if cfg.RebuildStatus {
		if err := runRebuildStatus(ctx, store, cfg, out); err != nil {
			return err
		}
	}
	if cfg.CleanupShadow {
		if err := runCleanupShadow(ctx, store, cfg, out); err != nil {
			return err
		}
	}
	if cfg.OutboxReport {
		if err := runOutboxReport(ctx, store, cfg, out); err != nil {
			return err
		}
	}
	if cfg.OutboxRequeueDead {
		requeued, err := store.RequeueOutboxDeadRows(ctx, cfg.OutboxRequeueDeadLimit, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("requeue dead outbox rows: %w", err)
		}
		return report(out, cfg.JSONOutput, map[string]any{"requeued": requeued},
			"requeued %d dead outbox rows\n", requeued)
	}
	if cfg.CleanupCommands {
		cutoff := time.Now().UTC().Add(-cfg.CommandRetention)
		removed, err := store.CleanupCommands(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup commands: %w", err)
		}
		return report(out, cfg.JSONOutput, map[string]any{"removed": removed},
			"removed %d terminal command records\n", removed)
	}
	if cfg.Reconcile {
		if err := runReconcile(ctx, store, cfg, out); err != nil {
			return err
		}
	}
	return nil
}

func runRebuild(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	rebuilder := projection.NewRebuilder(store, nil)
	result, err := rebuilder.Rebuild(ctx, projection.ViewName, cfg.Verify)
	if err != nil {
		return fmt.Errorf("rebuild projection: %w", err)
	}
	if cfg.JSONOutput {
		return json.NewEncoder(out).Encode(result)
	}
	fmt.Fprintf(out, "rebuilt %s: %d events, checksum_match=%v swapped=%v\n",
		projection.ViewName, result.EventsProcessed, result.ChecksumMatch, result.Swapped)
	return nil
}

func runRebuildStatus(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	rebuilder := projection.NewRebuilder(store, nil)
	status, err := rebuilder.Status(ctx, projection.ViewName)
	if err != nil {
		return fmt.Errorf("rebuild status: %w", err)
	}
	if cfg.JSONOutput {
		return json.NewEncoder(out).Encode(status)
	}
	if status.Locked {
		fmt.Fprintf(out, "rebuild in progress, holder %s\n", status.Holder)
	} else {
		fmt.Fprintln(out, "no rebuild in progress")
	}
	return nil
}

func runCleanupShadow(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	rebuilder := projection.NewRebuilder(store, nil)
	dropped, err := rebuilder.CleanupShadow(ctx, projection.ViewName)
	if err != nil {
		return fmt.Errorf("cleanup shadow: %w", err)
	}
	return report(out, cfg.JSONOutput, map[string]any{"dropped": dropped},
		"shadow dropped: %v\n", dropped)
}

func runOutboxReport(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		return fmt.Errorf("outbox summary: %w", err)
	}
	if cfg.JSONOutput {
		return json.NewEncoder(out).Encode(summary)
	}
	fmt.Fprintf(out, "outbox: pending=%d processing=%d failed=%d dead=%d\n",
		summary.PendingCount, summary.ProcessingCount, summary.FailedCount, summary.DeadCount)
	if summary.PendingCount > 0 {
		fmt.Fprintf(out, "oldest pending: seq=%d at=%s\n",
			summary.OldestPendingSeq, summary.OldestPendingAt.Format(time.RFC3339))
	}
	return nil
}

func runReconcile(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	svc := app.NewService(store, nil)
	reportData, err := svc.ReconcileTransit(ctx, "maintenance", cfg.OlderThan, cfg.Resume)
	if err != nil {
		return fmt.Errorf("reconcile transit: %w", err)
	}
	if cfg.JSONOutput {
		return json.NewEncoder(out).Encode(reportData)
	}
	fmt.Fprintf(out, "stuck transit rows: %d\n", len(reportData.StuckRows))
	for _, row := range reportData.StuckRows {
		fmt.Fprintf(out, "  %s/%s %s on_hand=%d\n", row.WarehouseID, row.Location, row.SKU, row.OnHand)
	}
	fmt.Fprintf(out, "incomplete transfers: %d\n", len(reportData.IncompleteTransfers))
	for _, id := range reportData.IncompleteTransfers {
		fmt.Fprintf(out, "  %s\n", id)
	}
	if cfg.Resume {
		fmt.Fprintf(out, "resumed transfers: %d\n", len(reportData.ResumedTransfers))
	}
	return nil
}

func report(out io.Writer, jsonOutput bool, payload map[string]any, format string, args ...any) error {
	if jsonOutput {
		return json.NewEncoder(out).Encode(payload)
	}
	fmt.Fprintf(out, format, args...)
	return nil
}
