package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/database"
	"ledger-service/internal/logger"
	"ledger-service/internal/reporting"
	"ledger-service/internal/repository"
)

func main() {
	log := logger.NewFromEnv()
	defer log.Sync()

	if len(os.Args) < 2 {
		log.Error("Expected subcommand: statement")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "statement":
		if err := runStatement(log, os.Args[2:]); err != nil {
			log.Error("Statement export failed: %v", err)
			os.Exit(1)
		}
	default:
		log.Error("Unknown command %q", os.Args[1])
		os.Exit(1)
	}
}

func runStatement(log *logger.Logger, args []string) error {
	statementCmd := flag.NewFlagSet("statement", flag.ExitOnError)
	accountID := statementCmd.String("account", "", "Account ID (required)")
	limit := statementCmd.Int("limit", 500, "Maximum number of transactions, newest first")
	out := statementCmd.String("out", "", "Output file, defaults to stdout")

	if err := statementCmd.Parse(args); err != nil {
		return err
	}
	if *accountID == "" {
		return fmt.Errorf("--account flag is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	store := repository.NewPostgresStore(db, log)

	account, err := store.Accounts().GetByID(ctx, *accountID)
	if err != nil {
		return err
	}

	transactions, err := store.Transactions().ListByAccount(ctx, account.ID, *limit)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *out, err)
		}
		defer file.Close()
		w = file
	}

	if err := reporting.WriteStatement(w, account, transactions); err != nil {
		return err
	}

	log.Info("Statement exported - account: %s, transactions: %d", account.ID, len(transactions))
	return nil
}
