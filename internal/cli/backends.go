package cli

import (
	"context"
	"log"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/config"
	"quiz-session-sync/internal/infra/memory"
	"quiz-session-sync/internal/infra/postgres"
	redisinfra "quiz-session-sync/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
)

// catalogSource feeds both the question bank and the theme picker.
type catalogSource interface {
	memory.QuestionLoader
	app.CategoryCatalog
}

type sessionBackend interface {
	app.SessionStore
	app.SnapshotReader
}

// backends are the storage and transport adapters selected by config: Postgres for durable rows,
// Redis for the question cache and pub/sub, memory for anything not configured.
type backends struct {
	store    sessionBackend
	catalog  catalogSource
	bank     app.QuestionBank
	bus      app.Bus
	attempts app.AttemptStore

	pool  *pgxpool.Pool
	redis *redis.Client
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.store = postgres.NewSessionStore(pool)
		b.catalog = postgres.NewCatalog(pool)
		b.attempts = postgres.NewAttemptStore(pool)
	} else {
		log.Printf("postgres not configured, using in-memory sessions and the sample catalog")
		b.store = memory.NewSessionStore()
		b.catalog = sampleCatalog()
		b.attempts = memory.NewAttemptStore()
	}

	questionTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	presenceTTL := config.TTLDuration(cfg.Realtime.PresenceTTL, 45*time.Second)
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, err
		}
		b.bank = redisinfra.NewQuestionBank(b.redis, b.catalog, config.TTLDuration(cfg.Redis.TTL, questionTTL))
		b.bus = redisinfra.NewBus(b.redis, presenceTTL)
	} else {
		b.bank = memory.NewQuestionBank(b.catalog, questionTTL)
		b.bus = memory.NewBus(presenceTTL)
	}
	return b, nil
}

func (b *backends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
