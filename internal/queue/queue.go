// Package queue implements a durable outbox for operations that failed during
// a connectivity gap. Items are retried with exponential backoff up to a cap;
// the whole queue is rewritten to the local cache on every mutation.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-journal-go/internal/ports"
)

// StorageKey is the fixed cache key holding the serialized queue.
const StorageKey = "offline-queue"

// Item is one queued operation.
type Item struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

// SendFunc attempts to deliver one payload.
type SendFunc func(ctx context.Context, payload json.RawMessage) error

// TerminalFunc is notified when an item exhausts its retry budget and is
// dropped from the queue.
type TerminalFunc func(item Item, lastErr error)

// OfflineQueue is the outbox. State is process-local; durability comes from
// rewriting the backing cache entry on every mutation.
type OfflineQueue struct {
	mu       sync.Mutex
	items    []Item
	lastTry  map[string]time.Time
	online   bool
	cache    ports.Cache
	clock    ports.Clock
	logger   *zap.Logger
	send     SendFunc
	terminal TerminalFunc

	maxRetryCount int
	retryDelay    time.Duration
}

// New builds a queue backed by cache and loads any previously persisted items.
func New(cache ports.Cache, clock ports.Clock, logger *zap.Logger, maxRetryCount int, retryDelay time.Duration) (*OfflineQueue, error) {
	if clock == nil {
		clock = ports.RealClock{}
	}
	q := &OfflineQueue{
		lastTry:       make(map[string]time.Time),
		online:        true,
		cache:         cache,
		clock:         clock,
		logger:        logger,
		maxRetryCount: maxRetryCount,
		retryDelay:    retryDelay,
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// SetSender installs the delivery function used by Drain.
func (q *OfflineQueue) SetSender(send SendFunc) { q.send = send }

// SetTerminalHandler installs the callback for items dropped after the cap.
func (q *OfflineQueue) SetTerminalHandler(fn TerminalFunc) { q.terminal = fn }

// Enqueue adds a failed operation's payload to the outbox.
func (q *OfflineQueue) Enqueue(payload any) (Item, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("encode queue payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := Item{
		ID:        uuid.NewString(),
		Payload:   raw,
		Timestamp: q.clock.Now(),
	}
	q.items = append(q.items, item)
	if err := q.persistLocked(); err != nil {
		return Item{}, err
	}
	q.logger.Info("Queued operation for offline retry", zap.String("id", item.ID))
	return item, nil
}

// Len reports the number of pending items.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SetOnline records connectivity. Regaining connectivity drains the queue.
func (q *OfflineQueue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	wasOffline := !q.online
	q.online = online
	q.mu.Unlock()

	if online && wasOffline {
		q.logger.Info("Connectivity restored, draining offline queue")
		q.Drain(ctx)
	}
}

// Drain attempts delivery of every due item. An item is due once
// retryDelay × 2^retryCount has elapsed since its last failure. Success
// removes the item; failure bumps its retry count; exceeding the cap removes
// the item and surfaces a terminal failure.
func (q *OfflineQueue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.send == nil || !q.online {
		q.mu.Unlock()
		return
	}
	pending := make([]Item, len(q.items))
	copy(pending, q.items)
	q.mu.Unlock()

	for _, item := range pending {
		if !q.due(item) {
			continue
		}

		err := q.send(ctx, item.Payload)
		if err == nil {
			q.remove(item.ID)
			q.logger.Info("Delivered queued operation", zap.String("id", item.ID))
			continue
		}

		q.mu.Lock()
		q.lastTry[item.ID] = q.clock.Now()
		dropped := false
		var droppedItem Item
		for i := range q.items {
			if q.items[i].ID != item.ID {
				continue
			}
			q.items[i].RetryCount++
			if q.items[i].RetryCount > q.maxRetryCount {
				droppedItem = q.items[i]
				q.items = append(q.items[:i], q.items[i+1:]...)
				dropped = true
			}
			break
		}
		persistErr := q.persistLocked()
		q.mu.Unlock()

		if persistErr != nil {
			q.logger.Error("Failed to persist offline queue", zap.Error(persistErr))
		}
		if dropped {
			q.logger.Error("Dropping queued operation after retry cap",
				zap.String("id", droppedItem.ID),
				zap.Int("retry_count", droppedItem.RetryCount),
				zap.Error(err),
			)
			if q.terminal != nil {
				q.terminal(droppedItem, err)
			}
		} else {
			q.logger.Warn("Queued operation failed, will retry",
				zap.String("id", item.ID),
				zap.Error(err),
			)
		}
	}
}

func (q *OfflineQueue) due(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	last, tried := q.lastTry[item.ID]
	if !tried {
		return true
	}
	delay := q.retryDelay * (1 << item.RetryCount)
	return !q.clock.Now().Before(last.Add(delay))
}

func (q *OfflineQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.lastTry, id)
	if err := q.persistLocked(); err != nil {
		q.logger.Error("Failed to persist offline queue", zap.Error(err))
	}
}

func (q *OfflineQueue) load() error {
	raw, err := q.cache.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("load offline queue: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &q.items); err != nil {
		// A corrupt cache entry must not wedge startup.
		q.logger.Warn("Discarding unreadable offline queue entry", zap.Error(err))
		q.items = nil
	}
	return nil
}

func (q *OfflineQueue) persistLocked() error {
	raw, err := json.Marshal(q.items)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := q.cache.Put(StorageKey, raw); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrPersistence, err)
	}
	return nil
}
