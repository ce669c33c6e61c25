// Command reconcile checks wallet balances against the ledger chain.
//
//	reconcile                 sweep every wallet, freezing inconsistent ones
//	reconcile --user ID       check one wallet
//	reconcile --repair        rewrite cached balances from a valid chain and unfreeze
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"qatmarket/internal/app"
	"qatmarket/pkg/config"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	repair := flag.Bool("repair", false, "rewrite balances from the ledger when the chain is intact")
	user := flag.String("user", "", "reconcile a single user's wallet")
	timeout := flag.Duration("timeout", 10*time.Minute, "give up after this long")
	flag.Parse()

	cfg := config.Load()
	log := logger.NewWithLevel("reconcile", cfg.Log.Level)
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to start", map[string]interface{}{"error": err.Error()})
	}
	defer a.Close()
	// Quarantine alerts go through the hub; there are no live sessions here
	// so they land in the unread store only.
	a.Hub.Start(ctx)
	defer a.Hub.Close(context.Background())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *user != "" {
		id, err := uuid.Parse(*user)
		if err != nil {
			log.Fatal("Invalid --user", map[string]interface{}{"error": err.Error()})
		}
		report, err := a.Coordinator.Reconcile(ctx, id, *repair)
		if report != nil {
			_ = enc.Encode(report)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			if errors.Is(err, errors.ErrIntegrityFault) {
				os.Exit(3)
			}
			os.Exit(1)
		}
		return
	}

	sweep, err := a.Coordinator.ReconcileAll(ctx, *repair)
	if sweep != nil {
		_ = enc.Encode(sweep)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(sweep.Inconsistent) > 0 && !*repair {
		os.Exit(3)
	}
}
