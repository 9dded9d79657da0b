package app

import (
	"context"
	"time"

	"quiz-session-sync/internal/domain"
)

// LifelineLedger spends jokers and helps.
type LifelineLedger struct {
	store SessionStore
	bus   Bus
	now   func() time.Time
}

func NewLifelineLedger(store SessionStore, bus Bus, now func() time.Time) *LifelineLedger {
	if now == nil {
		now = time.Now
	}
	return &LifelineLedger{store: store, bus: bus, now: now}
}

// ConsumeLifeline decrements one counter. The store guards the decrement so concurrent taps
// cannot spend the last lifeline twice.
func (l *LifelineLedger) ConsumeLifeline(ctx context.Context, sessionID, playerID string, kind domain.LifelineType) (domain.LifelineBalance, error) {
	if kind != domain.LifelineJoker && kind != domain.LifelineHelp {
		return domain.LifelineBalance{}, domain.ErrInvalidLifeline
	}
	now := l.now()
	player, err := l.store.DecrementLifeline(ctx, sessionID, playerID, kind, now)
	if err != nil {
		return domain.LifelineBalance{}, err
	}
	publishChange(ctx, l.bus, domain.Change{Kind: domain.ChangePlayers, SessionID: sessionID, At: now})
	return domain.LifelineBalance{
		PlayerID:   player.ID,
		JokersLeft: max(0, player.JokersLeft),
		HelpsLeft:  max(0, player.HelpsLeft),
	}, nil
}
