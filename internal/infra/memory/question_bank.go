package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quiz-session-sync/internal/domain"

	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches categories and questions from a backing store (e.g., Postgres).
type QuestionLoader interface {
	ResolveCategory(ctx context.Context, slug string) (domain.Category, error)
	LoadQuestions(ctx context.Context, categoryID string) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionBank caches each category's active question pool with TTL to avoid repeated DB hits.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu        sync.RWMutex
	pools     map[string]cachedPool
	questions map[string]cachedQuestion
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader:    loader,
		ttl:       ttl,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		pools:     make(map[string]cachedPool),
		questions: make(map[string]cachedQuestion),
	}
}

func (b *QuestionBank) ResolveCategory(ctx context.Context, slug string) (domain.Category, error) {
	return b.loader.ResolveCategory(ctx, slug)
}

// DrawQuestions returns count usable questions from the category pool in random order.
func (b *QuestionBank) DrawQuestions(ctx context.Context, categoryID string, count int) ([]domain.Question, error) {
	pool, err := b.pool(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	return domain.DrawQuestions(pool, count, b.shuffle)
}

func (b *QuestionBank) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	now := b.clock()
	b.mu.RLock()
	if entry, ok := b.questions[questionID]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.question, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do("question:"+questionID, func() (interface{}, error) {
		q, err := b.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}
		b.mu.Lock()
		b.questions[questionID] = cachedQuestion{question: q, expiresAt: b.clock().Add(b.ttlWithJitter())}
		b.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (b *QuestionBank) pool(ctx context.Context, categoryID string) ([]domain.Question, error) {
	now := b.clock()

	b.mu.RLock()
	if entry, ok := b.pools[categoryID]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do("pool:"+categoryID, func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if entry, ok := b.pools[categoryID]; ok && entry.expiresAt.After(now) {
			b.mu.RUnlock()
			return entry.questions, nil
		}
		b.mu.RUnlock()

		questions, err := b.loader.LoadQuestions(ctx, categoryID)
		if err != nil {
			return nil, err
		}

		expiresAt := now.Add(b.ttlWithJitter())
		b.mu.Lock()
		b.pools[categoryID] = cachedPool{questions: questions, expiresAt: expiresAt}
		for _, q := range questions {
			b.questions[q.ID] = cachedQuestion{question: q, expiresAt: expiresAt}
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers shuffle in place; never hand out the cached slice.
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
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
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
