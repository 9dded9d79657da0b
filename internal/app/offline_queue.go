package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"quiz-session-sync/internal/domain"

	"golang.org/x/sync/errgroup"
)

const (
	offlineQueueKey     = "offline:sync-queue:v1"
	defaultSyncParallel = 4
)

// OfflineSyncQueue is the device outbox of finished offline attempts. An item leaves the queue
// only after the server confirmed its upsert.
type OfflineSyncQueue struct {
	kv       KeyValueStore
	attempts AttemptStore
	identity Identity
	parallel int

	mu     sync.Mutex
	syncMu sync.Mutex
}

func NewOfflineSyncQueue(kv KeyValueStore, attempts AttemptStore, identity Identity) *OfflineSyncQueue {
	return &OfflineSyncQueue{kv: kv, attempts: attempts, identity: identity, parallel: defaultSyncParallel}
}

// WithParallelism bounds concurrent upserts during Sync.
func (q *OfflineSyncQueue) WithParallelism(n int) *OfflineSyncQueue {
	q.parallel = max(1, n)
	return q
}

// Enqueue appends item. An item already queued under the same local session id is replaced.
func (q *OfflineSyncQueue) Enqueue(ctx context.Context, item domain.OfflineAttemptQueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range items {
		if items[i].LocalSessionID == item.LocalSessionID {
			items[i] = item
			replaced = true
		}
	}
	if !replaced {
		items = append(items, item)
	}
	return q.save(ctx, items)
}

// Items returns the queued items in insertion order.
func (q *OfflineSyncQueue) Items(ctx context.Context) ([]domain.OfflineAttemptQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

func (q *OfflineSyncQueue) Size(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	return len(items), err
}

// Sync uploads every queued item for the signed-in account. Without an identity nothing is
// attempted and every item is reported as remaining. Failed upserts stay queued.
func (q *OfflineSyncQueue) Sync(ctx context.Context) (domain.SyncResult, error) {
	q.syncMu.Lock()
	defer q.syncMu.Unlock()

	pending, err := q.Items(ctx)
	if err != nil {
		return domain.SyncResult{}, err
	}
	userID, ok := q.identity.CurrentUserID(ctx)
	if !ok || userID == "" {
		return domain.SyncResult{Remaining: len(pending)}, nil
	}
	if len(pending) == 0 {
		return domain.SyncResult{}, nil
	}

	confirmed := make([]bool, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.parallel)
	for i, item := range pending {
		i, item := i, item
		g.Go(func() error {
			if err := q.attempts.UpsertAttempt(gctx, item.Record(userID)); err != nil {
				log.Printf("offline sync of %s failed: %v", item.LocalSessionID, err)
				return nil
			}
			confirmed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	done := make(map[string]bool, len(pending))
	synced := 0
	for i, ok := range confirmed {
		if ok {
			done[pending[i].LocalSessionID] = true
			synced++
		}
	}

	// Re-read so items enqueued during the upload survive.
	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := q.load(ctx)
	if err != nil {
		return domain.SyncResult{}, err
	}
	kept := current[:0]
	for _, item := range current {
		if !done[item.LocalSessionID] {
			kept = append(kept, item)
		}
	}
	if synced > 0 {
		if err := q.save(ctx, kept); err != nil {
			return domain.SyncResult{}, err
		}
	}
	return domain.SyncResult{Processed: len(pending), Synced: synced, Remaining: len(kept)}, nil
}

func (q *OfflineSyncQueue) load(ctx context.Context) ([]domain.OfflineAttemptQueueItem, error) {
	raw, ok, err := q.kv.Get(ctx, offlineQueueKey)
	if err != nil {
		return nil, fmt.Errorf("read offline queue: %w", err)
	}
	if !ok || len(raw) == 0 {
		return []domain.OfflineAttemptQueueItem{}, nil
	}
	var items []domain.OfflineAttemptQueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	return items, nil
}

func (q *OfflineSyncQueue) save(ctx context.Context, items []domain.OfflineAttemptQueueItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := q.kv.Set(ctx, offlineQueueKey, raw); err != nil {
		return fmt.Errorf("write offline queue: %w", err)
	}
	return nil
}
