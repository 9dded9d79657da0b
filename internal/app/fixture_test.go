package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
	"quiz-session-sync/internal/infra/memory"
)

type fixture struct {
	store       *memory.SessionStore
	bus         *memory.Bus
	catalog     *memory.StaticCatalog
	bank        *memory.QuestionBank
	clock       *fakeClock
	coordinator *app.SessionCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewSessionStore(),
		bus:     memory.NewBus(time.Minute),
		catalog: testCatalog(),
		clock:   newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.bank = memory.NewQuestionBank(f.catalog, time.Minute)
	f.coordinator = app.NewSessionCoordinator(f.store, f.bank, f.bus, app.CoordinatorOptions{
		JoinCodeTTL: time.Hour,
		Now:         f.clock.Now,
	})
	return f
}

// create makes a session hosted by "host" with count questions.
func (f *fixture) create(t *testing.T, mode domain.Mode, count int) app.CreateSessionResult {
	t.Helper()
	created, err := f.coordinator.CreateSession(context.Background(), app.CreateSessionInput{
		Mode:            mode,
		CategorySlug:    "quran",
		Settings:        domain.SettingsInput{QuestionCount: intPtr(count)},
		HostUserID:      "host",
		HostDisplayName: "Host",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return created
}

func (f *fixture) join(t *testing.T, code, userID string) app.JoinSessionResult {
	t.Helper()
	joined, err := f.coordinator.JoinSessionByCode(context.Background(), code, userID, userID)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return joined
}

// answerFor returns the correct answer for the session's question at index.
func (f *fixture) answerFor(t *testing.T, sessionID string, index int) string {
	t.Helper()
	session, err := f.store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	q, err := f.catalog.LoadQuestion(context.Background(), session.QuestionIDs[index])
	if err != nil {
		t.Fatalf("load question: %v", err)
	}
	return q.CorrectAnswer
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testCatalog has six usable quran questions, one unusable, two prophets questions and a disabled
// fiqh category.
func testCatalog() *memory.StaticCatalog {
	categories := []domain.Category{
		{ID: "cat-quran", Slug: "quran", Name: "Quran", LocalizedNames: map[string]string{"fr": "Coran"}, Enabled: true, MinQuestionCount: 3, SortOrder: 1},
		{ID: "cat-prophets", Slug: "prophets", Name: "Prophets", LocalizedNames: map[string]string{"fr": "Prophètes"}, Enabled: true, MinQuestionCount: 1, SortOrder: 1},
		{ID: "cat-fiqh", Slug: "fiqh", Name: "Fiqh", Enabled: false, MinQuestionCount: 1, SortOrder: 0},
	}
	var questions []domain.Question
	for i := 1; i <= 6; i++ {
		questions = append(questions, domain.Question{
			ID:            fmt.Sprintf("qr-%d", i),
			CategoryID:    "cat-quran",
			Text:          fmt.Sprintf("Question %d", i),
			Options:       []string{fmt.Sprintf("right-%d", i), "wrong"},
			CorrectAnswer: fmt.Sprintf("right-%d", i),
			Translations:  map[string]domain.Translation{"fr": {CorrectAnswer: fmt.Sprintf("juste-%d", i)}},
			Active:        true,
		})
	}
	questions = append(questions,
		domain.Question{ID: "qr-broken", CategoryID: "cat-quran", Text: "no options", Options: []string{"x"}, CorrectAnswer: "x", Active: true},
		domain.Question{ID: "pr-1", CategoryID: "cat-prophets", Text: "Ark?", Options: []string{"Nuh", "Musa"}, CorrectAnswer: "Nuh", Active: true},
		domain.Question{ID: "pr-2", CategoryID: "cat-prophets", Text: "Whale?", Options: []string{"Yunus", "Musa"}, CorrectAnswer: "Yunus", Active: true},
		domain.Question{ID: "fq-1", CategoryID: "cat-fiqh", Text: "Hidden", Options: []string{"a", "b"}, CorrectAnswer: "a", Active: true},
	)
	return memory.NewStaticCatalog(categories, questions)
}

func intPtr(v int) *int { return &v }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
