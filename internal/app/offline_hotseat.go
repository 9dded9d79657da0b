package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"quiz-session-sync/internal/domain"

	"github.com/google/uuid"
)

// OfflineSessionKeyPrefix prefixes the storage key of every saved hot-seat session.
const OfflineSessionKeyPrefix = "offline:session:"

// OfflineHotseatInput describes a local pass-and-play game.
type OfflineHotseatInput struct {
	CategorySlug string
	Settings     domain.SettingsInput
	PlayerNames  []string
	Language     string
}

// OfflineHotseatEngine plays a whole session on one device. Every mutation is persisted before it
// returns so a restarted process resumes from the last completed turn.
type OfflineHotseatEngine struct {
	kv       KeyValueStore
	bank     QuestionBank
	queue    *OfflineSyncQueue
	defaults domain.Settings
	now      func() time.Time

	mu sync.Mutex
}

func NewOfflineHotseatEngine(kv KeyValueStore, bank QuestionBank, queue *OfflineSyncQueue, defaults domain.Settings, now func() time.Time) *OfflineHotseatEngine {
	if defaults == (domain.Settings{}) {
		defaults = domain.DefaultSettings
	}
	if now == nil {
		now = time.Now
	}
	return &OfflineHotseatEngine{kv: kv, bank: bank, queue: queue, defaults: defaults, now: now}
}

// Create draws every question up front and seats 2 to 8 players in the given order.
// The session starts in progress with seat 1 to play.
func (e *OfflineHotseatEngine) Create(ctx context.Context, in OfflineHotseatInput) (domain.OfflineHotseatSession, error) {
	names := make([]string, 0, domain.MaxPlayers)
	for _, name := range in.PlayerNames {
		if len(names) == domain.MaxPlayers {
			break
		}
		names = append(names, displayNameOr(name, fmt.Sprintf("Player %d", len(names)+1)))
	}
	if len(names) < 2 {
		return domain.OfflineHotseatSession{}, domain.ErrNotEnoughPlayers
	}

	settings := domain.NormalizeSettings(in.Settings, e.defaults)
	slug := domain.NormalizeCategorySlug(in.CategorySlug)
	category, err := e.bank.ResolveCategory(ctx, slug)
	if err != nil {
		return domain.OfflineHotseatSession{}, err
	}
	questions, err := e.bank.DrawQuestions(ctx, category.ID, settings.QuestionCount)
	if err != nil {
		return domain.OfflineHotseatSession{}, err
	}
	if len(questions) < settings.QuestionCount {
		return domain.OfflineHotseatSession{}, domain.ErrInsufficientQuestions
	}
	if in.Language != "" {
		for i := range questions {
			questions[i] = questions[i].Localize(in.Language)
		}
	}

	now := e.now()
	id := "local-" + uuid.NewString()
	players := make([]domain.OfflineHotseatPlayer, len(names))
	for i, name := range names {
		players[i] = domain.OfflineHotseatPlayer{
			ID:          fmt.Sprintf("%s-seat-%d", id, i+1),
			DisplayName: name,
			SeatOrder:   i + 1,
		}
	}
	session := domain.OfflineHotseatSession{
		ID:                id,
		Mode:              domain.ModeHotseat,
		State:             domain.StateInProgress,
		CategorySlug:      slug,
		CategoryID:        category.ID,
		Settings:          settings,
		Questions:         questions[:settings.QuestionCount],
		Players:           players,
		Answers:           []domain.OfflineHotseatAnswer{},
		CurrentSeatOrder:  1,
		QuestionStartedAt: now,
		StartedAt:         now,
		UpdatedAt:         now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.save(ctx, session); err != nil {
		return domain.OfflineHotseatSession{}, err
	}
	log.Printf("offline hotseat %s created players=%d questions=%d", id, len(players), len(session.Questions))
	return session, nil
}

// SubmitAnswer scores the current seat's answer and passes the turn.
func (e *OfflineHotseatEngine) SubmitAnswer(ctx context.Context, sessionID, selected string, responseMs int) (domain.OfflineHotseatSession, error) {
	return e.playTurn(ctx, sessionID, selected, responseMs)
}

// SkipTurn records a non-answer for the current seat, used when the local timer runs out.
func (e *OfflineHotseatEngine) SkipTurn(ctx context.Context, sessionID string) (domain.OfflineHotseatSession, error) {
	return e.playTurn(ctx, sessionID, "", 0)
}

func (e *OfflineHotseatEngine) playTurn(ctx context.Context, sessionID, selected string, responseMs int) (domain.OfflineHotseatSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := e.load(ctx, sessionID)
	if err != nil {
		return domain.OfflineHotseatSession{}, err
	}
	if session.State != domain.StateInProgress {
		return session, domain.ErrInvalidTransition
	}
	question, ok := session.CurrentQuestion()
	if !ok {
		return session, domain.ErrQuestionNotFound
	}
	player, ok := session.CurrentPlayer()
	if !ok {
		return session, domain.ErrPlayerNotInSession
	}

	now := e.now()
	correct := question.Accepts(selected)
	if correct {
		player.Score++
	}
	session.Answers = append(session.Answers, domain.OfflineHotseatAnswer{
		PlayerID:       player.ID,
		QuestionIndex:  session.CurrentQuestionIndex,
		QuestionID:     question.ID,
		SelectedAnswer: strings.TrimSpace(selected),
		IsCorrect:      correct,
		ResponseMs:     max(0, responseMs),
		AnsweredAt:     now,
	})
	session.UpdatedAt = now

	finished := e.passTurn(&session, now)
	// The summary is queued before the finished state is saved. A failure leaves the last turn
	// playable, and a replayed turn replaces the queued item under the same local id.
	if finished && e.queue != nil {
		if err := e.queue.Enqueue(ctx, session.Summarize()); err != nil {
			return domain.OfflineHotseatSession{}, fmt.Errorf("queue offline attempt: %w", err)
		}
	}
	if err := e.save(ctx, session); err != nil {
		return domain.OfflineHotseatSession{}, err
	}
	if finished {
		log.Printf("offline hotseat %s finished answers=%d", session.ID, len(session.Answers))
	}
	return session, nil
}

// passTurn moves to the next seat, or to the next question after the last seat. It reports whether
// the session just finished.
func (e *OfflineHotseatEngine) passTurn(s *domain.OfflineHotseatSession, now time.Time) bool {
	lastSeat := 0
	for _, p := range s.Players {
		lastSeat = max(lastSeat, p.SeatOrder)
	}
	if s.CurrentSeatOrder < lastSeat {
		s.CurrentSeatOrder++
		return false
	}
	if s.CurrentQuestionIndex >= len(s.Questions)-1 {
		s.State = domain.StateFinished
		s.FinishedAt = &now
		return true
	}
	s.CurrentQuestionIndex++
	s.CurrentSeatOrder = 1
	s.QuestionStartedAt = now
	return false
}

// Load returns a persisted session, e.g. to resume after a restart.
func (e *OfflineHotseatEngine) Load(ctx context.Context, sessionID string) (domain.OfflineHotseatSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(ctx, sessionID)
}

// Remove discards a session after sync or abandonment.
func (e *OfflineHotseatEngine) Remove(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kv.Delete(ctx, OfflineSessionKeyPrefix+sessionID)
}

func (e *OfflineHotseatEngine) load(ctx context.Context, sessionID string) (domain.OfflineHotseatSession, error) {
	raw, ok, err := e.kv.Get(ctx, OfflineSessionKeyPrefix+sessionID)
	if err != nil {
		return domain.OfflineHotseatSession{}, fmt.Errorf("read offline session: %w", err)
	}
	if !ok {
		return domain.OfflineHotseatSession{}, domain.ErrSessionNotFound
	}
	var session domain.OfflineHotseatSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.OfflineHotseatSession{}, fmt.Errorf("decode offline session: %w", err)
	}
	return session, nil
}

func (e *OfflineHotseatEngine) save(ctx context.Context, session domain.OfflineHotseatSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode offline session: %w", err)
	}
	if err := e.kv.Set(ctx, OfflineSessionKeyPrefix+session.ID, raw); err != nil {
		return fmt.Errorf("write offline session: %w", err)
	}
	return nil
}
