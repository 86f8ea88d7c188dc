package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/BrainsyETH/clawsight/internal/config"
	"github.com/BrainsyETH/clawsight/internal/configsync"
	"github.com/BrainsyETH/clawsight/internal/heartbeat"
	"github.com/BrainsyETH/clawsight/internal/protocol"
	"github.com/BrainsyETH/clawsight/internal/queue"
	"github.com/BrainsyETH/clawsight/internal/transport"
	"github.com/BrainsyETH/clawsight/internal/wallet"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

// baseChainID is the chain the agent signs payment transfers for.
const baseChainID = 8453

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the local ClawSight agent",
	Long:  "Runs the agent-side loops: event spool tailing and batched sync, heartbeat with spend monitoring, and skill-config sync against the control plane.",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Agent.APIKey == "" {
		return errors.New("agent.api_key is required (or set CLAWSIGHT_API_KEY)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer, err := loadSigner(ctx, cfg, logger)
	if err != nil {
		return err
	}

	client := transport.New(cfg.Agent.ServerURL, cfg.Agent.APIKey, transport.Options{
		Signer: signer,
		PayMax: cfg.Agent.PayMax,
		Logger: logger,
	})

	q := queue.New(cfg.Agent.QueueSize, cfg.Agent.BatchSize)
	flusher := queue.NewFlusher(q, client, cfg.Agent.BatchSize, cfg.Agent.FlushInterval, logger)

	syncer := configsync.New(
		filepath.Join(cfg.Agent.ConfigDir, "skills.json"),
		client, cfg.Agent.PollInterval, logger,
	)

	// Paid work pauses here, ahead of the server's hard enforcement. The
	// observable failure mode is an idle agent, not a wall of 402s.
	hb := heartbeat.New(client, cfg.Agent.HeartbeatInterval, func(exceeded bool, resp protocol.HeartbeatResponse) {
		if exceeded {
			flusher.Pause()
			syncer.Pause()
			logger.Warn("pausing paid operations until spend drops below cap",
				"warning", resp.Warning)
			return
		}
		flusher.Resume()
		syncer.Resume()
		logger.Info("spend back under cap, resuming paid operations")
	}, logger)
	hb.SetStatus("ok")

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("agent task stopped", "task", name, "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		flusher.Run(ctx)
	}()
	run("heartbeat", hb.Run)
	run("config-watch", syncer.WatchLocal)
	run("config-poll", syncer.Poll)
	if cfg.Agent.EventLog != "" {
		tailer := queue.NewTailer(cfg.Agent.EventLog, q, logger)
		run("event-tailer", tailer.Run)
	} else {
		logger.Info("agent.event_log not set, no event spool will be tailed")
	}

	logger.Info("agent started",
		"server", cfg.Agent.ServerURL,
		"queue_size", cfg.Agent.QueueSize,
		"heartbeat_interval", cfg.Agent.HeartbeatInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancel()
	wg.Wait()
	return nil
}

// loadSigner unlocks the wallet keystore when auto-pay is enabled. Without a
// signer the agent still runs; payment-required responses simply surface as
// errors.
func loadSigner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (wallet.Signer, error) {
	if !cfg.Agent.AutoPay {
		return nil, nil
	}
	if cfg.Agent.WalletKeystore == "" || cfg.Agent.WalletPassword == "" {
		logger.Warn("auto_pay enabled but wallet keystore or password missing, payments disabled")
		return nil, nil
	}

	key, err := wallet.LoadKey(cfg.Agent.WalletKeystore, cfg.Agent.WalletPassword)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.Billing.ChainRPCURL)
	if err != nil {
		return nil, err
	}

	signer := wallet.NewKeySigner(key, cfg.Billing.TokenAddress, baseChainID, eth, logger)
	logger.Info("wallet unlocked for auto-pay",
		"address", signer.Address(), "pay_max", cfg.Agent.PayMax)
	return signer, nil
}
