package app

import (
	"context"
	"time"

	"quiz-session-sync/internal/domain"
)

// SessionStore is the persistent relational store that owns sessions, players and answers.
// Implementations serialize conflicting writes per session.
type SessionStore interface {
	// CreateSession inserts the session and its host player atomically. A join code collision
	// returns domain.ErrStorageConflict.
	CreateSession(ctx context.Context, session domain.Session, host domain.Player) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	FindSessionByCode(ctx context.Context, code string) (domain.Session, error)
	// UpdateSession runs tr against the latest row while holding it exclusively and persists the
	// result when tr reports a change.
	UpdateSession(ctx context.Context, sessionID string, now time.Time, tr domain.Transition) (domain.Session, bool, error)
	// Snapshot is a consistent read of the session, its players by seat and its answers by index.
	Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)

	// AddPlayer seats player at the next free seat order. Capacity is enforced by the store.
	AddPlayer(ctx context.Context, player domain.Player, capacity int) (domain.Player, error)
	GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error)
	FindPlayerByUser(ctx context.Context, sessionID, userID string) (domain.Player, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	// IncrementScore adds one to the player's score with a conditional update and returns the new score.
	IncrementScore(ctx context.Context, sessionID, playerID string, now time.Time) (int, error)
	// DecrementLifeline spends one lifeline only when the counter is positive.
	DecrementLifeline(ctx context.Context, sessionID, playerID string, kind domain.LifelineType, now time.Time) (domain.Player, error)

	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
	GetAnswer(ctx context.Context, sessionID, playerID string, questionIndex int) (domain.Answer, error)
	// InsertAnswer relies on the (session, player, question_index) unique constraint and returns
	// domain.ErrStorageConflict when the row already exists. The write is checked against the
	// session under the same lock, so an answer for a question that is no longer current returns
	// domain.ErrStaleQuestion and leaves no row.
	InsertAnswer(ctx context.Context, answer domain.Answer) error
}

// AnswerRequest carries everything needed to record one answer. IsCorrect has already been
// computed from the question bank.
type AnswerRequest struct {
	SessionID      string
	UserID         string
	QuestionIndex  int
	QuestionID     string
	SelectedAnswer string
	IsCorrect      bool
	ResponseMs     *int
	AnswerID       string
	Now            time.Time
}

// AtomicAnswerStore records an answer in one serialized step: validate session state and index,
// find the player, insert once, and increment the score when the insert won and was correct.
type AtomicAnswerStore interface {
	RecordAnswer(ctx context.Context, req AnswerRequest) (domain.SubmitResult, error)
}

// QuestionBank draws and looks up questions.
type QuestionBank interface {
	ResolveCategory(ctx context.Context, slug string) (domain.Category, error)
	DrawQuestions(ctx context.Context, categoryID string, count int) ([]domain.Question, error)
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// CategoryCatalog exposes what the theme picker needs.
type CategoryCatalog interface {
	EnabledCategories(ctx context.Context) ([]domain.Category, error)
	// ActiveQuestionCounts counts active questions per category across the category's quizzes.
	ActiveQuestionCounts(ctx context.Context, categoryIDs []string) (map[string]int, error)
}

// Bus is the per-session publish/subscribe transport. Delivery is at most once per connection.
type Bus interface {
	Publish(ctx context.Context, change domain.Change) error
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
	Track(ctx context.Context, sessionID string, presence domain.Presence) error
	Untrack(ctx context.Context, sessionID, userID string) error
	Presence(ctx context.Context, sessionID string) ([]domain.Presence, error)
}

// Subscription is a live stream of changes. The channel closes when the connection drops.
type Subscription interface {
	Changes() <-chan domain.Change
	Close() error
}

// KeyValueStore is durable device-local storage that survives restarts.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AttemptStore is the server-side attempt history.
type AttemptStore interface {
	// UpsertAttempt is idempotent on (local_session_id, user_id).
	UpsertAttempt(ctx context.Context, record domain.AttemptRecord) error
}

// Identity reports the authenticated account on this device, if any.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context) (string, bool)

func (f IdentityFunc) CurrentUserID(ctx context.Context) (string, bool) { return f(ctx) }

// StaticIdentity is an Identity for a fixed user; empty means signed out.
func StaticIdentity(userID string) Identity {
	return IdentityFunc(func(context.Context) (string, bool) { return userID, userID != "" })
}
