package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"quiz-session-sync/internal/domain"

	"github.com/google/uuid"
)

const (
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6
	joinCodeAttempts = 5
)

// CoordinatorOptions tunes a SessionCoordinator. Zero values fall back to defaults.
type CoordinatorOptions struct {
	Defaults    domain.Settings
	JoinCodeTTL time.Duration
	Now         func() time.Time
	// JoinCodes generates join codes; defaults to a random 6-character code.
	JoinCodes func() (string, error)
}

// SessionCoordinator owns the session lifecycle and its read models.
type SessionCoordinator struct {
	store       SessionStore
	bank        QuestionBank
	bus         Bus
	defaults    domain.Settings
	joinCodeTTL time.Duration
	now         func() time.Time
	newCode     func() (string, error)
}

// NewSessionCoordinator wires a coordinator. bus may be nil when no realtime fan-out is needed.
func NewSessionCoordinator(store SessionStore, bank QuestionBank, bus Bus, opts CoordinatorOptions) *SessionCoordinator {
	c := &SessionCoordinator{
		store:       store,
		bank:        bank,
		bus:         bus,
		defaults:    opts.Defaults,
		joinCodeTTL: opts.JoinCodeTTL,
		now:         opts.Now,
		newCode:     generateJoinCode,
	}
	if c.defaults == (domain.Settings{}) {
		c.defaults = domain.DefaultSettings
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.JoinCodes != nil {
		c.newCode = opts.JoinCodes
	}
	return c
}

// CreateSessionInput describes a new online session.
type CreateSessionInput struct {
	Mode            domain.Mode
	CategorySlug    string
	Settings        domain.SettingsInput
	HostUserID      string
	HostDisplayName string
}

// CreateSessionResult is returned to the host.
type CreateSessionResult struct {
	SessionID string          `json:"sessionId"`
	JoinCode  string          `json:"joinCode,omitempty"`
	PlayerID  string          `json:"playerId"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

// JoinSessionResult is returned to a joining player.
type JoinSessionResult struct {
	SessionID string          `json:"sessionId"`
	PlayerID  string          `json:"playerId"`
	Mode      domain.Mode     `json:"mode"`
	State     domain.State    `json:"state"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

// CreateSession draws the questions and creates the session with its host seated first.
func (c *SessionCoordinator) CreateSession(ctx context.Context, in CreateSessionInput) (CreateSessionResult, error) {
	switch in.Mode {
	case domain.ModeSolo, domain.ModeDuo, domain.ModeGroup:
	default:
		return CreateSessionResult{}, domain.ErrInvalidMode
	}
	if in.HostUserID == "" {
		return CreateSessionResult{}, domain.ErrNotAuthenticated
	}

	settings := domain.NormalizeSettings(in.Settings, c.defaults)
	category, err := c.bank.ResolveCategory(ctx, domain.NormalizeCategorySlug(in.CategorySlug))
	if err != nil {
		return CreateSessionResult{}, err
	}
	questions, err := c.bank.DrawQuestions(ctx, category.ID, settings.QuestionCount)
	if err != nil {
		return CreateSessionResult{}, err
	}
	if len(questions) < settings.QuestionCount {
		return CreateSessionResult{}, domain.ErrInsufficientQuestions
	}

	now := c.now()
	session := domain.Session{
		ID:          uuid.NewString(),
		Mode:        in.Mode,
		State:       domain.StateLobby,
		HostUserID:  in.HostUserID,
		CategoryID:  category.ID,
		QuestionIDs: domain.QuestionIDs(questions[:settings.QuestionCount]),
		Settings:    settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	host := newPlayer(session, in.HostUserID, displayNameOr(in.HostDisplayName, "Host"), now)
	host.SeatOrder = 1

	for attempt := 0; ; attempt++ {
		if in.Mode.HasJoinCode() {
			if session.JoinCode, err = c.newCode(); err != nil {
				return CreateSessionResult{}, err
			}
		}
		err = c.store.CreateSession(ctx, session, host)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrStorageConflict) || attempt+1 >= joinCodeAttempts {
			return CreateSessionResult{}, fmt.Errorf("create session: %w", err)
		}
	}
	log.Printf("session created id=%s mode=%s category=%s questions=%d", session.ID, session.Mode, category.Slug, len(session.QuestionIDs))
	c.publish(ctx, domain.ChangeSession, session.ID, &session)

	snapshot, err := c.store.Snapshot(ctx, session.ID)
	if err != nil {
		return CreateSessionResult{}, err
	}
	return CreateSessionResult{
		SessionID: session.ID,
		JoinCode:  session.JoinCode,
		PlayerID:  host.ID,
		Snapshot:  snapshot,
	}, nil
}

// JoinSessionByCode seats the caller in a lobby. An account that already holds a seat gets it back.
func (c *SessionCoordinator) JoinSessionByCode(ctx context.Context, code, userID, displayName string) (JoinSessionResult, error) {
	if userID == "" {
		return JoinSessionResult{}, domain.ErrNotAuthenticated
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return JoinSessionResult{}, domain.ErrSessionNotFound
	}
	session, err := c.store.FindSessionByCode(ctx, code)
	if err != nil {
		return JoinSessionResult{}, err
	}
	if c.joinCodeTTL > 0 && c.now().After(session.CreatedAt.Add(c.joinCodeTTL)) {
		return JoinSessionResult{}, domain.ErrSessionNotFound
	}

	player, err := c.store.FindPlayerByUser(ctx, session.ID, userID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPlayerNotInSession):
		if session.State != domain.StateLobby {
			return JoinSessionResult{}, domain.ErrSessionNotJoinable
		}
		fresh := newPlayer(session, userID, displayName, c.now())
		player, err = c.store.AddPlayer(ctx, fresh, session.Mode.Capacity())
		if err != nil {
			return JoinSessionResult{}, err
		}
		log.Printf("player joined session=%s player=%s seat=%d", session.ID, player.ID, player.SeatOrder)
		c.publish(ctx, domain.ChangePlayers, session.ID, nil)
	default:
		return JoinSessionResult{}, err
	}

	snapshot, err := c.store.Snapshot(ctx, session.ID)
	if err != nil {
		return JoinSessionResult{}, err
	}
	return JoinSessionResult{
		SessionID: session.ID,
		PlayerID:  player.ID,
		Mode:      snapshot.Session.Mode,
		State:     snapshot.Session.State,
		Snapshot:  snapshot,
	}, nil
}

// StartSession moves the lobby to question 0.
func (c *SessionCoordinator) StartSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, _, err := c.transition(ctx, sessionID, domain.Start)
	return session, err
}

// AdvanceQuestion moves to the next question, finishing after the last one. Repeated calls past
// the end leave the session finished.
func (c *SessionCoordinator) AdvanceQuestion(ctx context.Context, sessionID string) (domain.Session, error) {
	session, _, err := c.transition(ctx, sessionID, domain.Advance)
	return session, err
}

// RequestAdvance is how timers ask for pacing: it advances only if fromIndex is still current
// and reports whether it did.
func (c *SessionCoordinator) RequestAdvance(ctx context.Context, sessionID string, fromIndex int) (domain.Session, bool, error) {
	return c.transition(ctx, sessionID, domain.AdvanceFrom(fromIndex))
}

// FinishSession ends the session regardless of index. Idempotent.
func (c *SessionCoordinator) FinishSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, _, err := c.transition(ctx, sessionID, domain.Finish)
	return session, err
}

// CancelSession aborts a session that has not finished.
func (c *SessionCoordinator) CancelSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, _, err := c.transition(ctx, sessionID, domain.Cancel)
	return session, err
}

// GetSessionSnapshot is the consistent read used for hydration and recovery.
func (c *SessionCoordinator) GetSessionSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	return c.store.Snapshot(ctx, sessionID)
}

// Leaderboard ranks the session's players.
func (c *SessionCoordinator) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	players, err := c.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return domain.Rank(players), nil
}

func (c *SessionCoordinator) transition(ctx context.Context, sessionID string, tr domain.Transition) (domain.Session, bool, error) {
	session, changed, err := c.store.UpdateSession(ctx, sessionID, c.now(), tr)
	if err != nil {
		return domain.Session{}, false, err
	}
	if changed {
		log.Printf("session %s state=%s index=%d", session.ID, session.State, session.CurrentQuestionIndex)
		c.publish(ctx, domain.ChangeSession, session.ID, &session)
	}
	return session, changed, nil
}

func (c *SessionCoordinator) publish(ctx context.Context, kind domain.ChangeKind, sessionID string, session *domain.Session) {
	publishChange(ctx, c.bus, domain.Change{Kind: kind, SessionID: sessionID, Session: session, At: c.now()})
}

// publishChange is best effort: subscribers recover missed deltas from snapshots.
func publishChange(ctx context.Context, bus Bus, change domain.Change) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, change); err != nil {
		log.Printf("publish %s change for session %s failed: %v", change.Kind, change.SessionID, err)
	}
}

func newPlayer(session domain.Session, userID, displayName string, now time.Time) domain.Player {
	return domain.Player{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		UserID:      userID,
		DisplayName: displayNameOr(displayName, "Player"),
		Status:      domain.PlayerJoined,
		JokersLeft:  session.Settings.Jokers,
		HelpsLeft:   session.Settings.Helps,
		JoinedAt:    now,
		UpdatedAt:   now,
	}
}

func displayNameOr(name, fallback string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fallback
}

func generateJoinCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < joinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		b.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
