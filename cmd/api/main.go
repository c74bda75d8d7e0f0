package main

import (
	"context"

	"github.com/redis/go-redis/v9"

	"changas/allocation"
	"changas/auth"
	"changas/bankcrypto"
	"changas/commission"
	"changas/config"
	"changas/contract"
	"changas/db"
	"changas/dispute"
	"changas/gateway"
	"changas/ledger"
	"changas/logger"
	"changas/membership"
	"changas/notify"
	"changas/withdrawal"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		boot := logger.Get()
		boot.Fatal().Err(err).Msg("load configuration")
	}

	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: !cfg.Production(),
	})

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()

	encryptor, err := bankcrypto.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap bank encryptor")
	}

	notifier := notify.NewLogNotifier(log)

	commissionRepo := commission.NewRepository(pool)
	commissionSvc := commission.NewService(commissionRepo, commissionRepo)
	memberships := membership.NewRepository(pool)
	splitter := allocation.NewSplitter(pool)
	ledgerRepo := ledger.NewRepository()

	contracts := contract.NewService(pool, commissionSvc, memberships, splitter, ledgerRepo, notifier, log)
	disputes := dispute.NewService(pool, contracts, notifier, log)
	withdrawals := withdrawal.NewService(pool, encryptor, ledgerRepo, notifier, log)
	payments := gateway.NewService(pool, gateway.NewPGStore(), contracts, gateway.NewRedisDeduper(redisClient), log)
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	log.Info().
		Str("env", cfg.Env).
		Bool("contracts", contracts != nil).
		Bool("disputes", disputes != nil).
		Bool("withdrawals", withdrawals != nil).
		Bool("payments", payments != nil).
		Bool("auth", authSvc != nil).
		Msg("settlement engine ready")
}
