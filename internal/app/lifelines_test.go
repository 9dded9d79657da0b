package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"

	"golang.org/x/sync/errgroup"
)

func TestConsumeLifelineNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.coordinator.CreateSession(ctx, app.CreateSessionInput{
		Mode:         domain.ModeSolo,
		CategorySlug: "quran",
		Settings:     domain.SettingsInput{QuestionCount: intPtr(2), Jokers: intPtr(2)},
		HostUserID:   "host",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ledger := app.NewLifelineLedger(f.store, f.bus, f.clock.Now)

	var ok, empty atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := ledger.ConsumeLifeline(ctx, created.SessionID, created.PlayerID, domain.LifelineJoker)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrNoLifelinesLeft):
				empty.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok.Load() != 2 || empty.Load() != 8 {
		t.Fatalf("expected 2 successes and 8 refusals, got %d and %d", ok.Load(), empty.Load())
	}

	balance, err := ledger.ConsumeLifeline(ctx, created.SessionID, created.PlayerID, domain.LifelineHelp)
	if err != nil || balance.JokersLeft != 0 || balance.HelpsLeft != 0 {
		t.Fatalf("unexpected balance %+v err=%v", balance, err)
	}
	if _, err := ledger.ConsumeLifeline(ctx, created.SessionID, created.PlayerID, "hint"); !errors.Is(err, domain.ErrInvalidLifeline) {
		t.Fatalf("expected invalid lifeline, got %v", err)
	}
	if _, err := ledger.ConsumeLifeline(ctx, created.SessionID, "nobody", domain.LifelineHelp); !errors.Is(err, domain.ErrPlayerNotInSession) {
		t.Fatalf("expected player not in session, got %v", err)
	}
}
