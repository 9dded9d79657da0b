package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Bus fans session changes out across server instances with Redis pub/sub.
// Changes are published as:  PUBLISH quiz:session:{id}:changes {json Change}
// Presence is stored as:     HSET quiz:session:{id}:presence {userID} {json Presence}
type Bus struct {
	client      *redis.Client
	presenceTTL time.Duration
	now         func() time.Time
}

func NewBus(client *redis.Client, presenceTTL time.Duration) *Bus {
	return &Bus{client: client, presenceTTL: presenceTTL, now: time.Now}
}

var _ app.Bus = (*Bus)(nil)

func (b *Bus) Publish(ctx context.Context, change domain.Change) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, changesKey(change.SessionID), raw).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed so no change published after it returns
// is missed.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (app.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, changesKey(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := &subscription{pubsub: pubsub, ch: make(chan domain.Change, 16)}
	go sub.pump()
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	ch     chan domain.Change
	once   sync.Once
}

func (s *subscription) Changes() <-chan domain.Change { return s.ch }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.pubsub.Close() })
	return err
}

// pump forwards messages until the pubsub closes. go-redis reconnects and resubscribes on its own,
// so a subscribe confirmation after the one consumed in Subscribe means the connection dropped
// and changes may have been lost; the stream is ended so the consumer resubscribes and refreshes.
func (s *subscription) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.ChannelWithSubscriptions() {
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				log.Printf("change stream %s resubscribed after a dropped connection", m.Channel)
				_ = s.Close()
				return
			}
		case *redis.Message:
			var change domain.Change
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				log.Printf("drop malformed change on %s: %v", m.Channel, err)
				continue
			}
			select {
			case s.ch <- change:
			default:
				select {
				case <-s.ch:
				default:
				}
				s.ch <- change
			}
		}
	}
}

func (b *Bus) Track(ctx context.Context, sessionID string, p domain.Presence) error {
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = b.now()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	key := presenceKey(sessionID)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, p.UserID, raw)
	if b.presenceTTL > 0 {
		pipe.Expire(ctx, key, 2*b.presenceTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	return b.Publish(ctx, domain.Change{Kind: domain.ChangePresence, SessionID: sessionID, At: p.LastSeenAt})
}

func (b *Bus) Untrack(ctx context.Context, sessionID, userID string) error {
	if err := b.client.HDel(ctx, presenceKey(sessionID), userID).Err(); err != nil {
		return fmt.Errorf("untrack presence: %w", err)
	}
	return b.Publish(ctx, domain.Change{Kind: domain.ChangePresence, SessionID: sessionID, At: b.now()})
}

// Presence lists heartbeats younger than the presence TTL, ordered by user id.
func (b *Bus) Presence(ctx context.Context, sessionID string) ([]domain.Presence, error) {
	entries, err := b.client.HGetAll(ctx, presenceKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	now := b.now()
	out := make([]domain.Presence, 0, len(entries))
	for _, raw := range entries {
		var p domain.Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		if b.presenceTTL > 0 && now.Sub(p.LastSeenAt) > b.presenceTTL {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func changesKey(sessionID string) string {
	return "quiz:session:" + sessionID + ":changes"
}

func presenceKey(sessionID string) string {
	return "quiz:session:" + sessionID + ":presence"
}
