package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
)

func seedSession(t *testing.T, store *SessionStore, mode domain.Mode) domain.Session {
	t.Helper()
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	session := domain.Session{
		ID:          "s1",
		Mode:        mode,
		State:       domain.StateLobby,
		HostUserID:  "host",
		JoinCode:    "ABC234",
		QuestionIDs: []string{"q1", "q2"},
		Settings:    domain.Settings{QuestionCount: 2, ResponseTime: 30, Jokers: 1, Helps: 2},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	host := domain.Player{ID: "p1", UserID: "host", DisplayName: "Host", JokersLeft: 1, HelpsLeft: 2}
	if err := store.CreateSession(context.Background(), session, host); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestSessionStoreJoinCodeIsUnique(t *testing.T) {
	store := NewSessionStore()
	seedSession(t, store, domain.ModeGroup)

	other := domain.Session{ID: "s2", Mode: domain.ModeGroup, State: domain.StateLobby, JoinCode: "ABC234"}
	err := store.CreateSession(context.Background(), other, domain.Player{ID: "p9", UserID: "u9"})
	if !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("expected conflict on duplicate join code, got %v", err)
	}

	found, err := store.FindSessionByCode(context.Background(), "ABC234")
	if err != nil || found.ID != "s1" {
		t.Fatalf("expected s1 by code, got %v %v", found.ID, err)
	}
}

func TestSessionStoreSeatsAndCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	seedSession(t, store, domain.ModeDuo)

	guest, err := store.AddPlayer(ctx, domain.Player{ID: "p2", SessionID: "s1", UserID: "guest"}, 2)
	if err != nil {
		t.Fatalf("add player: %v", err)
	}
	if guest.SeatOrder != 2 {
		t.Fatalf("expected seat 2, got %d", guest.SeatOrder)
	}
	again, err := store.AddPlayer(ctx, domain.Player{ID: "p3", SessionID: "s1", UserID: "guest"}, 2)
	if err != nil || again.ID != "p2" {
		t.Fatalf("expected existing seat for same user, got %+v %v", again, err)
	}
	if _, err := store.AddPlayer(ctx, domain.Player{ID: "p4", SessionID: "s1", UserID: "third"}, 2); !errors.Is(err, domain.ErrSessionFull) {
		t.Fatalf("expected session full, got %v", err)
	}
}

func TestSessionStoreAnswerUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	seedSession(t, store, domain.ModeSolo)

	answer := domain.Answer{ID: "a1", SessionID: "s1", PlayerID: "p1", QuestionID: "q1", QuestionIndex: 0}
	if err := store.InsertAnswer(ctx, answer); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question in lobby, got %v", err)
	}
	if _, _, err := store.UpdateSession(ctx, "s1", time.Now(), domain.Start); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.InsertAnswer(ctx, answer); err != nil {
		t.Fatalf("insert answer: %v", err)
	}
	answer.ID = "a2"
	if err := store.InsertAnswer(ctx, answer); !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, _, err := store.UpdateSession(ctx, "s1", time.Now(), domain.Advance); err != nil {
		t.Fatalf("advance: %v", err)
	}
	late := domain.Answer{ID: "a3", SessionID: "s1", PlayerID: "p2", QuestionID: "q1", QuestionIndex: 0}
	if err := store.InsertAnswer(ctx, late); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question after advance, got %v", err)
	}
	answers, _ := store.ListAnswers(ctx, "s1")
	if len(answers) != 1 || answers[0].ID != "a1" {
		t.Fatalf("expected only the first answer, got %+v", answers)
	}
}

func TestSessionStoreRecordAnswerRevalidates(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	seedSession(t, store, domain.ModeSolo)
	now := time.Now()

	req := app.AnswerRequest{SessionID: "s1", UserID: "host", QuestionIndex: 0, QuestionID: "q1", IsCorrect: true, AnswerID: "a1", Now: now}
	if _, err := store.RecordAnswer(ctx, req); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question in lobby, got %v", err)
	}

	if _, _, err := store.UpdateSession(ctx, "s1", now, domain.Start); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := store.RecordAnswer(ctx, req)
	if err != nil || first.AlreadyAnswered || first.Score != 1 {
		t.Fatalf("unexpected first result %+v %v", first, err)
	}
	req.AnswerID = "a2"
	req.IsCorrect = false
	second, err := store.RecordAnswer(ctx, req)
	if err != nil || !second.AlreadyAnswered || !second.IsCorrect || second.Score != 1 {
		t.Fatalf("expected recorded result, got %+v %v", second, err)
	}
}

func TestSessionStoreLifelineFloor(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	seedSession(t, store, domain.ModeSolo)

	p, err := store.DecrementLifeline(ctx, "s1", "p1", domain.LifelineJoker, time.Now())
	if err != nil || p.JokersLeft != 0 {
		t.Fatalf("expected joker spent, got %+v %v", p, err)
	}
	if _, err := store.DecrementLifeline(ctx, "s1", "p1", domain.LifelineJoker, time.Now()); !errors.Is(err, domain.ErrNoLifelinesLeft) {
		t.Fatalf("expected no lifelines left, got %v", err)
	}
}

func TestSessionStoreTransitionIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	seedSession(t, store, domain.ModeSolo)

	if _, _, err := store.UpdateSession(ctx, "s1", time.Now(), domain.Advance); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from lobby, got %v", err)
	}
	got, _ := store.GetSession(ctx, "s1")
	if got.State != domain.StateLobby {
		t.Fatalf("failed transition must not persist, got %s", got.State)
	}
	got.QuestionIDs[0] = "mutated"
	again, _ := store.GetSession(ctx, "s1")
	if again.QuestionIDs[0] != "q1" {
		t.Fatalf("store leaked internal slice")
	}
}
