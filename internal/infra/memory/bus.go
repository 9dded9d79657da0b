package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
)

// Bus is an in-process app.Bus. Slow subscribers lose their oldest pending change rather than
// blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	now         func() time.Time
	presenceTTL time.Duration
	subscribers map[string]map[*subscription]struct{}
	presence    map[string]map[string]domain.Presence
}

func NewBus(presenceTTL time.Duration) *Bus {
	return &Bus{
		now:         time.Now,
		presenceTTL: presenceTTL,
		subscribers: make(map[string]map[*subscription]struct{}),
		presence:    make(map[string]map[string]domain.Presence),
	}
}

// WithClock is used in tests for deterministic presence expiry.
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

var _ app.Bus = (*Bus)(nil)

type subscription struct {
	bus       *Bus
	sessionID string
	ch        chan domain.Change
	once      sync.Once
}

func (s *subscription) Changes() <-chan domain.Change { return s.ch }

func (s *subscription) Close() error {
	s.bus.mu.Lock()
	s.bus.removeLocked(s)
	s.bus.mu.Unlock()
	return nil
}

func (b *Bus) Subscribe(_ context.Context, sessionID string) (app.Subscription, error) {
	sub := &subscription{bus: b, sessionID: sessionID, ch: make(chan domain.Change, 16)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[*subscription]struct{})
	}
	b.subscribers[sessionID][sub] = struct{}{}
	return sub, nil
}

func (b *Bus) Publish(_ context.Context, change domain.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers[change.SessionID] {
		select {
		case sub.ch <- change:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- change
		}
	}
	return nil
}

// Disconnect drops every live subscription of a session as a broken connection would.
func (b *Bus) Disconnect(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers[sessionID] {
		b.removeLocked(sub)
	}
}

// Subscribers reports live subscriptions for a session.
func (b *Bus) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

func (b *Bus) removeLocked(sub *subscription) {
	subs := b.subscribers[sub.sessionID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subscribers, sub.sessionID)
	}
	sub.once.Do(func() { close(sub.ch) })
}

func (b *Bus) Track(ctx context.Context, sessionID string, p domain.Presence) error {
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = b.now()
	}
	b.mu.Lock()
	if b.presence[sessionID] == nil {
		b.presence[sessionID] = make(map[string]domain.Presence)
	}
	b.presence[sessionID][p.UserID] = p
	b.mu.Unlock()
	return b.Publish(ctx, domain.Change{Kind: domain.ChangePresence, SessionID: sessionID, At: p.LastSeenAt})
}

func (b *Bus) Untrack(ctx context.Context, sessionID, userID string) error {
	b.mu.Lock()
	delete(b.presence[sessionID], userID)
	if len(b.presence[sessionID]) == 0 {
		delete(b.presence, sessionID)
	}
	b.mu.Unlock()
	return b.Publish(ctx, domain.Change{Kind: domain.ChangePresence, SessionID: sessionID, At: b.now()})
}

// Presence lists participants whose heartbeat is within the presence TTL, ordered by user id.
func (b *Bus) Presence(_ context.Context, sessionID string) ([]domain.Presence, error) {
	now := b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Presence, 0, len(b.presence[sessionID]))
	for _, p := range b.presence[sessionID] {
		if b.presenceTTL > 0 && now.Sub(p.LastSeenAt) > b.presenceTTL {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
