package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/api"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/config"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/idempotency"
	"github.com/BrainsyETH/clawsight/internal/kvstore"
	"github.com/BrainsyETH/clawsight/internal/ledger"
	"github.com/BrainsyETH/clawsight/internal/metrics"
	"github.com/BrainsyETH/clawsight/internal/nonce"
	"github.com/BrainsyETH/clawsight/internal/payment"
	"github.com/BrainsyETH/clawsight/internal/ratelimit"
	"github.com/BrainsyETH/clawsight/internal/skills"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ClawSight control plane",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	// Expiring key-value store: Redis when configured, in-process otherwise.
	var kv kvstore.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		defer client.Close()
		kv = kvstore.NewRedis(client)
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	} else {
		mem := kvstore.NewMemory()
		mem.StartJanitor(ctx, time.Minute)
		kv = mem
	}

	accountStore := account.NewStore(pool)
	ledgerStore := ledger.NewStore(pool)
	skillService := skills.NewService(skills.NewStore(pool))
	keys := idempotency.NewStore(pool)
	capChecker := account.NewCapChecker(accountStore, ledgerStore, logger)

	// Proof verification is structural-only until a chain RPC URL is set.
	var receipts payment.ReceiptFetcher
	if cfg.Billing.ChainRPCURL != "" {
		eth, err := ethclient.DialContext(ctx, cfg.Billing.ChainRPCURL)
		if err != nil {
			return err
		}
		defer eth.Close()
		receipts = eth
		slog.Info("connected to chain rpc", "url", cfg.Billing.ChainRPCURL)
	} else {
		slog.Warn("no chain rpc configured, payment proofs are verified structurally only")
	}
	verifier := payment.NewVerifier(receipts, payment.VerifierConfig{
		TokenAddress: cfg.Billing.TokenAddress,
		Chain:        cfg.Billing.Chain,
		Strict:       cfg.Billing.StrictVerify,
		RPCTimeout:   cfg.Billing.RPCTimeout,
	}, logger)

	if cfg.Billing.CollectionAddress == "" {
		slog.Error("billing.collection_address is not set; all paid operations will be refused")
	}

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	})

	billingGate := gate.New(capChecker, ledgerStore, verifier, cfg.Billing.CollectionAddress, logger)
	billingGate.SetMetrics(m)

	router := api.NewRouter(api.RouterDeps{
		Accounts:       accountStore,
		Ledger:         ledgerStore,
		Skills:         skillService,
		Gate:           billingGate,
		Caps:           capChecker,
		Keys:           keys,
		Auth:           auth.NewService(account.NewAuthAdapter(accountStore)),
		Sessions:       auth.NewSessionStore(kv, cfg.Auth.SessionTTL),
		Nonces:         nonce.NewIssuer(kv, cfg.Auth.NonceTTL),
		Limiter:        ratelimit.New(kv, cfg.RateLimit.Default, cfg.RateLimit.Window),
		IPLimiter:      ratelimit.New(kv, cfg.RateLimit.PerIP, cfg.RateLimit.Window),
		Metrics:        m,
		AdminKey:       cfg.Auth.AdminKey,
		MaxCap:         cfg.Caps.Max,
		PingDB:         pool.Ping,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
