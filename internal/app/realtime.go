package app

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"quiz-session-sync/internal/domain"

	"golang.org/x/sync/singleflight"
)

// SnapshotReader is the read side used to hydrate and repair a local view.
type SnapshotReader interface {
	Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// RealtimeOptions tunes subscriptions.
type RealtimeOptions struct {
	Heartbeat        time.Duration
	ReconnectBackoff time.Duration
	MaxBackoff       time.Duration
	Now              func() time.Time
}

// RealtimeSyncClient keeps local session views current from the bus.
type RealtimeSyncClient struct {
	bus    Bus
	reader SnapshotReader
	opts   RealtimeOptions
}

func NewRealtimeSyncClient(bus Bus, reader SnapshotReader, opts RealtimeOptions) *RealtimeSyncClient {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.ReconnectBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RealtimeSyncClient{bus: bus, reader: reader, opts: opts}
}

// View is the cached local copy of a session. Stale is set while the feed cannot vouch for it,
// e.g. after a dropped connection and before the next successful refresh.
type View struct {
	Snapshot    domain.Snapshot   `json:"snapshot"`
	Presence    []domain.Presence `json:"presence"`
	RefreshedAt time.Time         `json:"refreshedAt"`
	Stale       bool              `json:"stale"`
}

// SessionFeed is one live subscription. Register handlers on its emitters, then Start it.
type SessionFeed struct {
	client    *RealtimeSyncClient
	sessionID string
	self      *domain.Presence

	Session   Emitter[domain.Session]
	Players   Emitter[[]domain.Player]
	Answers   Emitter[[]domain.Answer]
	Presence  Emitter[[]domain.Presence]
	Errors    Emitter[error]
	Connected Emitter[bool]

	mu   sync.RWMutex
	view View

	sf        singleflight.Group
	repairing atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Feed prepares a subscription for sessionID. self, when set, is heartbeated on the presence channel.
func (c *RealtimeSyncClient) Feed(sessionID string, self *domain.Presence) *SessionFeed {
	f := &SessionFeed{client: c, sessionID: sessionID}
	if self != nil {
		p := *self
		f.self = &p
	}
	f.view.Stale = true
	return f
}

// Start subscribes, hydrates the view from a full snapshot and begins consuming deltas.
// The initial snapshot must succeed; later failures are reported on Errors.
func (f *SessionFeed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	sub, err := f.client.bus.Subscribe(runCtx, f.sessionID)
	if err != nil {
		cancel()
		return err
	}
	if err := f.Refresh(runCtx); err != nil {
		_ = sub.Close()
		cancel()
		return err
	}
	f.cancel = cancel
	f.Connected.Emit(true)

	f.wg.Add(1)
	go f.consume(runCtx, sub)
	if f.self != nil {
		f.beat(runCtx)
		f.wg.Add(1)
		go f.heartbeat(runCtx)
	}
	return nil
}

// Close tears down the data subscription and the presence heartbeat and waits for both.
func (f *SessionFeed) Close() {
	f.closeOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.wg.Wait()
	})
}

// View returns a copy of the cached state.
func (f *SessionFeed) View() View {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v := f.view
	v.Snapshot.Players = append([]domain.Player(nil), f.view.Snapshot.Players...)
	v.Snapshot.Answers = append([]domain.Answer(nil), f.view.Snapshot.Answers...)
	v.Presence = append([]domain.Presence(nil), f.view.Presence...)
	return v
}

// Refresh replaces the view with a full snapshot. Concurrent calls share one read. A snapshot
// whose session is older than the cached one keeps the cached session.
func (f *SessionFeed) Refresh(ctx context.Context) error {
	result, err, _ := f.sf.Do("snapshot", func() (interface{}, error) {
		return f.client.reader.Snapshot(ctx, f.sessionID)
	})
	if err != nil {
		f.markStale()
		return err
	}
	snapshot := result.(domain.Snapshot)
	presence, perr := f.client.bus.Presence(ctx, f.sessionID)

	f.mu.Lock()
	sessionFresh := !snapshot.Session.UpdatedAt.Before(f.view.Snapshot.Session.UpdatedAt)
	if !sessionFresh {
		snapshot.Session = f.view.Snapshot.Session
	}
	f.view.Snapshot = snapshot
	if perr == nil {
		f.view.Presence = presence
	}
	f.view.RefreshedAt = f.client.opts.Now()
	f.view.Stale = false
	f.mu.Unlock()

	if sessionFresh {
		f.Session.Emit(snapshot.Session)
	}
	f.Players.Emit(snapshot.Players)
	f.Answers.Emit(snapshot.Answers)
	if perr == nil {
		f.Presence.Emit(presence)
	} else {
		f.Errors.Emit(perr)
	}
	return nil
}

func (f *SessionFeed) consume(ctx context.Context, sub Subscription) {
	defer f.wg.Done()
	backoff := f.client.opts.ReconnectBackoff
	for {
		f.drain(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}

		// Deltas may have been lost with the connection.
		f.markStale()
		f.Connected.Emit(false)
		log.Printf("realtime feed for session %s dropped, reconnecting", f.sessionID)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := f.client.bus.Subscribe(ctx, f.sessionID)
			if err != nil {
				f.Errors.Emit(err)
				backoff = min(backoff*2, f.client.opts.MaxBackoff)
				continue
			}
			sub = next
			backoff = f.client.opts.ReconnectBackoff
			if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
				f.Errors.Emit(err)
				f.scheduleRepair(ctx)
			}
			f.Connected.Emit(true)
			break
		}
	}
}

// drain applies changes until the subscription ends. Bursts are coalesced so each stream is
// re-fetched at most once per burst.
func (f *SessionFeed) drain(ctx context.Context, sub Subscription) {
	changes := sub.Changes()
	for {
		var first domain.Change
		var ok bool
		select {
		case <-ctx.Done():
			return
		case first, ok = <-changes:
			if !ok {
				return
			}
		}

		pending := map[domain.ChangeKind]bool{first.Kind: true}
		latestSession := first.Session
	burst:
		for {
			select {
			case next, ok := <-changes:
				if !ok {
					break burst
				}
				pending[next.Kind] = true
				if next.Session != nil {
					latestSession = next.Session
				}
			default:
				break burst
			}
		}
		f.apply(ctx, pending, latestSession)
	}
}

func (f *SessionFeed) apply(ctx context.Context, pending map[domain.ChangeKind]bool, payload *domain.Session) {
	if pending[domain.ChangeSession] {
		f.applySession(ctx, payload)
	}
	if pending[domain.ChangePlayers] {
		players, err := f.client.reader.ListPlayers(ctx, f.sessionID)
		if f.report(ctx, err) {
			f.mu.Lock()
			f.view.Snapshot.Players = players
			f.mu.Unlock()
			f.Players.Emit(players)
		}
	}
	if pending[domain.ChangeAnswers] {
		answers, err := f.client.reader.ListAnswers(ctx, f.sessionID)
		if f.report(ctx, err) {
			f.mu.Lock()
			f.view.Snapshot.Answers = answers
			f.mu.Unlock()
			f.Answers.Emit(answers)
		}
	}
	if pending[domain.ChangePresence] {
		presence, err := f.client.bus.Presence(ctx, f.sessionID)
		if f.report(ctx, err) {
			f.mu.Lock()
			f.view.Presence = presence
			f.mu.Unlock()
			f.Presence.Emit(presence)
		}
	}
}

// applySession trusts a well-formed payload for this session and re-fetches otherwise.
func (f *SessionFeed) applySession(ctx context.Context, payload *domain.Session) {
	var session domain.Session
	if payload != nil && payload.ID == f.sessionID && payload.State != "" {
		session = *payload
	} else {
		fetched, err := f.client.reader.GetSession(ctx, f.sessionID)
		if !f.report(ctx, err) {
			return
		}
		session = fetched
	}

	f.mu.Lock()
	if session.UpdatedAt.Before(f.view.Snapshot.Session.UpdatedAt) {
		f.mu.Unlock()
		return
	}
	f.view.Snapshot.Session = session
	f.mu.Unlock()
	f.Session.Emit(session)
}

func (f *SessionFeed) report(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	if ctx.Err() == nil {
		f.markStale()
		f.Errors.Emit(err)
		f.scheduleRepair(ctx)
	}
	return false
}

// scheduleRepair retries a full snapshot refresh with backoff until one succeeds or the feed
// closes. At most one repair runs at a time.
func (f *SessionFeed) scheduleRepair(ctx context.Context) {
	if !f.repairing.CompareAndSwap(false, true) {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.repairing.Store(false)
		backoff := f.client.opts.ReconnectBackoff
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			err := f.Refresh(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			f.Errors.Emit(err)
			backoff = min(backoff*2, f.client.opts.MaxBackoff)
		}
	}()
}

func (f *SessionFeed) markStale() {
	f.mu.Lock()
	f.view.Stale = true
	f.mu.Unlock()
}

func (f *SessionFeed) heartbeat(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.client.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			untrackCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := f.client.bus.Untrack(untrackCtx, f.sessionID, f.self.UserID); err != nil {
				log.Printf("untrack %s from session %s failed: %v", f.self.UserID, f.sessionID, err)
			}
			cancel()
			return
		case <-ticker.C:
			f.beat(ctx)
		}
	}
}

func (f *SessionFeed) beat(ctx context.Context) {
	p := *f.self
	p.LastSeenAt = f.client.opts.Now()
	if err := f.client.bus.Track(ctx, f.sessionID, p); err != nil && ctx.Err() == nil {
		f.Errors.Emit(err)
	}
}
