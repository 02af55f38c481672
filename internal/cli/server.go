package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attempt-ledger-service/internal/app"
	"attempt-ledger-service/internal/auth"
	"attempt-ledger-service/internal/config"
	"attempt-ledger-service/internal/domain"
	"attempt-ledger-service/internal/infra/memory"
	pgstore "attempt-ledger-service/internal/infra/postgres"
	redisstore "attempt-ledger-service/internal/infra/redis"
	"attempt-ledger-service/internal/logger"
	"attempt-ledger-service/internal/metrics"
	transport "attempt-ledger-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt ledger server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured")
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer log.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var db *bun.DB
	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		db = openBun(cfg.Postgres.URL)
		defer db.Close()
		if err := migrateDB(ctx, db, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var attemptStore app.AttemptRepository
	var rewardStore app.RewardRepository
	switch {
	case db != nil:
		attemptStore = pgstore.NewAttemptStore(db)
		rewardStore = pgstore.NewRewardStore(db)
		log.Info("using postgres storage")
	case redisClient != nil:
		attemptStore = memory.NewAttemptStore()
		rewardStore = redisstore.NewRewardStore(redisClient)
		log.Info("using redis reward storage; attempts are kept in memory")
	default:
		attemptStore = memory.NewAttemptStore()
		rewardStore = memory.NewRewardStore()
		log.Warn("no storage configured; using in-memory stores")
	}

	var loader memory.ProfileLoader = memory.NewProfileDirectory(sampleProfiles())
	if pool != nil {
		loader = pgstore.NewProfileLoader(pool)
	}
	profileTTL := config.TTLDuration(cfg.Profiles.TTL, 10*time.Minute)
	var profiles app.ProfileLookup
	if redisClient != nil {
		profiles = redisstore.NewProfileCache(redisClient, loader, config.TTLDuration(cfg.Redis.TTL, profileTTL))
	} else {
		profiles = memory.NewProfileCache(loader, profileTTL)
	}

	m := metrics.New()
	boards := app.NewLeaderboardService(attemptStore, profiles, log.Named("leaderboard"))
	attempts := app.NewAttemptService(attemptStore, boards, m)
	ledger := app.NewRewardLedger(rewardStore, cfg.Reward.MaxRetries, log.Named("rewards"), m)
	handler := transport.NewHandler(attempts, boards, ledger, auth.NewTokenVerifier(cfg.Auth.JWTSecret), m, log.Named("http"))

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     handler.Routes(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: leaderboard websocket streams are long lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("starting attempt ledger service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleProfiles seeds the profile directory when no postgres is configured.
func sampleProfiles() map[string]domain.UserSummary {
	return map[string]domain.UserSummary{
		"user-1": {UserID: "user-1", DisplayName: "Ada"},
		"user-2": {UserID: "user-2", DisplayName: "Grace"},
	}
}
