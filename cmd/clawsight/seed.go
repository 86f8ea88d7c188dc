package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo account with default caps",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	accountStore := account.NewStore(pool)

	// Check if seed has already run.
	existing, _, err := accountStore.List(ctx, account.ListParams{Limit: 1})
	if err != nil {
		return fmt.Errorf("checking existing accounts: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("accounts already exist, skipping seed")
		return nil
	}

	apiKey, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generating api key: %w", err)
	}

	acct, err := accountStore.Create(ctx, account.CreateAccountInput{
		Name:         "demo-agent",
		APIKeyHash:   apiKey.Hash,
		APIKeyPrefix: apiKey.Prefix,
		DailyCap:     cfg.Caps.DefaultDaily,
		MonthlyCap:   cfg.Caps.DefaultMonthly,
	})
	if err != nil {
		return fmt.Errorf("creating demo account: %w", err)
	}

	slog.Info("created demo account", "id", acct.ID, "name", acct.Name)
	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Account:   %s (%s)\n", acct.Name, acct.ID)
	fmt.Printf("Caps:      %.2f USDC/day, %.2f USDC/month\n", acct.DailyCap, acct.MonthlyCap)
	fmt.Printf("API Key:   %s\n", plaintext)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST -H 'Authorization: Bearer %s' -H 'Content-Type: application/json' \\\n", plaintext)
	fmt.Printf("    -d '{\"status\":\"ok\"}' http://localhost:8080/api/v1/heartbeat\n")

	return nil
}
