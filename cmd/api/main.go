package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korilabs/coin-ledger/internal/api"
	"github.com/korilabs/coin-ledger/internal/auth"
	"github.com/korilabs/coin-ledger/internal/chain"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/db"
	"github.com/korilabs/coin-ledger/internal/logger"
	"github.com/korilabs/coin-ledger/internal/metrics"
	"github.com/korilabs/coin-ledger/internal/middleware"
	"github.com/korilabs/coin-ledger/internal/oracle"
	"github.com/korilabs/coin-ledger/internal/repository/postgres"
	"github.com/korilabs/coin-ledger/internal/scheduler"
	"github.com/korilabs/coin-ledger/internal/services"
	"github.com/korilabs/coin-ledger/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(4)
	defer wp.Stop()

	var priceOracle oracle.PriceOracle = oracle.NewStatic(oracle.DefaultPrices())
	if cfg.RedisAddr != "" {
		rdb, err := oracle.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn("redis unavailable, rates uncached", "err", err)
		} else {
			defer rdb.Close()
			priceOracle = oracle.NewCached(priceOracle, rdb, time.Duration(cfg.OracleCacheTTLSec)*time.Second)
		}
	}

	chainClient := chain.NewGateway(cfg.ChainGatewayURL)

	ledgerSvc := services.NewLedgerService(repos.Atomic, repos.Wallets)
	transferSvc := services.NewTransferService(cfg, repos.Atomic, repos.Transfers, repos.Users, repos.Currencies, ledgerSvc, priceOracle, chainClient, nil)
	referralSvc := services.NewReferralService(cfg, repos.Referrals, repos.Users, transferSvc)
	miningSvc := services.NewMiningService(cfg, repos.Atomic, repos.DailyMining, repos.Users, repos.Currencies, ledgerSvc, referralSvc, wp, nil)
	tracker := services.NewConfirmTracker(cfg, repos.Atomic, repos.Transfers, ledgerSvc, chainClient)

	sched := scheduler.New(tracker, referralSvc)
	if err := sched.Start(); err != nil {
		log.Error("scheduler", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	metrics.Init()

	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 15*time.Minute)
	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Auth:      middleware.NewAuthMiddleware(tm, cfg.Env),
		Ledger:    ledgerSvc,
		Transfers: transferSvc,
		Mining:    miningSvc,
		Referrals: referralSvc,
		Tracker:   tracker,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
