package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"quiz-session-sync/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches categories and questions from a backing store (e.g., Postgres).
type QuestionLoader interface {
	ResolveCategory(ctx context.Context, slug string) (domain.Category, error)
	LoadQuestions(ctx context.Context, categoryID string) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionBank caches question pools in Redis and falls back to a loader on cache miss.
// Pools are stored as:     SET quiz:category:{categoryID}:pool {json []Question}
// Questions are stored as: SET quiz:question:{questionID} {json Question}
type QuestionBank struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) ResolveCategory(ctx context.Context, slug string) (domain.Category, error) {
	return b.loader.ResolveCategory(ctx, slug)
}

func (b *QuestionBank) DrawQuestions(ctx context.Context, categoryID string, count int) ([]domain.Question, error) {
	pool, err := b.pool(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	return domain.DrawQuestions(pool, count, b.shuffle)
}

func (b *QuestionBank) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	key := questionKey(questionID)
	var q domain.Question
	if ok := b.getJSON(ctx, key, &q); ok {
		return q, nil
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		q, err := b.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}
		if raw, err := json.Marshal(q); err == nil {
			_ = b.client.Set(ctx, key, raw, b.ttlWithJitter()).Err()
		}
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (b *QuestionBank) pool(ctx context.Context, categoryID string) ([]domain.Question, error) {
	key := poolKey(categoryID)
	var pool []domain.Question
	if ok := b.getJSON(ctx, key, &pool); ok {
		return pool, nil
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var cached []domain.Question
		if ok := b.getJSON(ctx, key, &cached); ok {
			return cached, nil
		}

		questions, err := b.loader.LoadQuestions(ctx, categoryID)
		if err != nil {
			return nil, err
		}

		ttl := b.ttlWithJitter()
		pipe := b.client.Pipeline()
		if raw, err := json.Marshal(questions); err == nil {
			pipe.Set(ctx, key, raw, ttl)
		}
		for _, q := range questions {
			if raw, err := json.Marshal(q); err == nil {
				pipe.Set(ctx, questionKey(q.ID), raw, ttl)
			}
		}
		_, _ = pipe.Exec(ctx)
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// getJSON reports a cache hit. Cache failures are treated as misses.
func (b *QuestionBank) getJSON(ctx context.Context, key string, dst interface{}) bool {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("question cache read %s failed: %v", key, err)
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (b *QuestionBank) shuffle(n int, swap func(i, j int)) {
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	b.rnd.Shuffle(n, swap)
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

func poolKey(categoryID string) string {
	return "quiz:category:" + categoryID + ":pool"
}

func questionKey(questionID string) string {
	return "quiz:question:" + questionID
}
