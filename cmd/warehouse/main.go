// Package main starts the warehouse service process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	warehousecmd "github.com/quillon/warehouse/internal/cmd/warehouse"
)

func main() {
	cfg, err := warehousecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[WAREHOUSE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := warehousecmd.Run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
