package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
	"quiz-session-sync/internal/infra/memory"
)

func newHotseat(t *testing.T) (*app.OfflineHotseatEngine, *app.OfflineSyncQueue, domain.OfflineHotseatSession) {
	t.Helper()
	kv := memory.NewKVStore()
	queue := app.NewOfflineSyncQueue(kv, memory.NewAttemptStore(), app.StaticIdentity(""))
	bank := memory.NewQuestionBank(sampleCatalog(), time.Minute)
	engine := app.NewOfflineHotseatEngine(kv, bank, queue, domain.DefaultSettings, nil)
	one := 1
	session, err := engine.Create(context.Background(), app.OfflineHotseatInput{
		CategorySlug: "prophets",
		Settings:     domain.SettingsInput{QuestionCount: &one},
		PlayerNames:  []string{"Ana", "Bilal"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return engine, queue, session
}

func TestPlayHotseatToCompletion(t *testing.T) {
	engine, queue, session := newHotseat(t)
	var out bytes.Buffer

	if err := playHotseat(context.Background(), engine, session, strings.NewReader("skip\n9\n"), &out); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !strings.Contains(out.String(), "final scores:") || !strings.Contains(out.String(), "Bilal: 0") {
		t.Fatalf("unexpected transcript:\n%s", out.String())
	}
	if size, _ := queue.Size(context.Background()); size != 1 {
		t.Fatalf("expected the finished game queued, got %d", size)
	}
}

func TestPlayHotseatStopsWhenInputCloses(t *testing.T) {
	engine, queue, session := newHotseat(t)
	var out bytes.Buffer

	if err := playHotseat(context.Background(), engine, session, strings.NewReader("skip\n"), &out); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !strings.Contains(out.String(), "--resume "+session.ID) {
		t.Fatalf("expected a resume hint, got:\n%s", out.String())
	}
	resumed, err := engine.Load(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resumed.CurrentSeatOrder != 2 || resumed.State != domain.StateInProgress {
		t.Fatalf("expected seat 2 to play next, got %+v", resumed)
	}
	if size, _ := queue.Size(context.Background()); size != 0 {
		t.Fatalf("expected nothing queued mid-game, got %d", size)
	}
}
