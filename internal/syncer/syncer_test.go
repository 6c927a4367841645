package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"trade-journal-go/internal/httpclient"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/ports"
	"trade-journal-go/internal/queue"
	"trade-journal-go/internal/ratelimit"
	"trade-journal-go/internal/storage"
)

// memCache is an in-memory ports.Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func validCreds() Credentials {
	return Credentials{Login: "12345", Password: "secret", Server: "Broker-Demo"}
}

// newTestOrchestrator wires an orchestrator against the given broker and
// persistence handlers, with fast retries and no sliding-window limiter.
func newTestOrchestrator(t *testing.T, brokerHandler, persistHandler http.Handler) (*Orchestrator, *storage.TradeStore, *queue.OfflineQueue, func()) {
	t.Helper()

	brokerSrv := httptest.NewServer(brokerHandler)
	persistSrv := httptest.NewServer(persistHandler)

	log := zap.NewNop()
	broker := httpclient.New(brokerSrv.URL, log, httpclient.WithRetry(2, time.Millisecond))
	persist := httpclient.New(persistSrv.URL, log, httpclient.WithRetry(2, time.Millisecond))

	store, err := storage.NewTradeStore(nil)
	assert.NoError(t, err)

	outbox, err := queue.New(newMemCache(), nil, log, 3, time.Millisecond)
	assert.NoError(t, err)

	o := New(broker, persist, store, nil, outbox, log, 2*time.Second)
	return o, store, outbox, func() {
		brokerSrv.Close()
		persistSrv.Close()
	}
}

func okPersistHandler(calls *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		_, _ = w.Write([]byte(`{"success": true}`))
	})
}

func TestCredentialsValidate(t *testing.T) {
	cases := []struct {
		name  string
		creds Credentials
		ok    bool
	}{
		{"Valid", Credentials{Login: "12345", Password: "abcd", Server: "S"}, true},
		{"MissingServer", Credentials{Login: "12345", Password: "abcd"}, false},
		{"ShortLogin", Credentials{Login: "1234", Password: "abcd", Server: "S"}, false},
		{"NonNumericLogin", Credentials{Login: "abcde", Password: "abcd", Server: "S"}, false},
		{"ShortPassword", Credentials{Login: "12345", Password: "abc", Server: "S"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.creds.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ports.ErrValidation)
			}
		})
	}
}

func TestSyncBrokerAccount(t *testing.T) {
	t.Run("ValidationFailureSkipsNetwork", func(t *testing.T) {
		// Arrange
		var brokerCalls int32
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&brokerCalls, 1)
		})
		o, _, _, cleanup := newTestOrchestrator(t, broker, okPersistHandler(nil))
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), Credentials{Login: "bad"}, models.SyncWindow{})

		// Assert
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
		assert.Equal(t, int32(0), atomic.LoadInt32(&brokerCalls))
	})

	t.Run("HappyPath", func(t *testing.T) {
		// Arrange
		var persistCalls int32
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/sync", r.URL.Path)
			var payload map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "12345", payload["login"])
			assert.Equal(t, "Broker-Demo", payload["server"])

			_, _ = w.Write([]byte(`{
				"success": true,
				"account": {"login": "12345", "balance": 1000},
				"trades": [
					{"deal_id": 1, "symbol": "eurusd", "type": 0, "profit": "10.5"},
					{"deal_id": 2, "symbol": "gbpusd", "type": 1, "profit": -3}
				]
			}`))
		})
		o, store, outbox, cleanup := newTestOrchestrator(t, broker, okPersistHandler(&persistCalls))
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.True(t, result.Success)
		assert.Empty(t, result.Warning)
		assert.Equal(t, 2, result.TotalTrades)
		assert.Equal(t, 2, result.NewTrades)
		assert.Equal(t, 0, result.UpdatedTrades)
		assert.Equal(t, int32(1), atomic.LoadInt32(&persistCalls))
		assert.Equal(t, 0, outbox.Len())

		trade, ok := store.Get("1")
		assert.True(t, ok)
		assert.Equal(t, "EURUSD", trade.Symbol)
		assert.Equal(t, models.OutcomeWin, trade.Outcome)
	})

	t.Run("DealsAlias", func(t *testing.T) {
		// Arrange: some bridges report the list under "deals".
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"success": true,
				"deals": [{"ticket": "d-9", "symbol": "XAUUSD", "profit": 7}]
			}`))
		})
		o, store, _, cleanup := newTestOrchestrator(t, broker, okPersistHandler(nil))
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.NewTrades)
		assert.True(t, store.Has("d-9"))
	})

	t.Run("SecondSyncUpdates", func(t *testing.T) {
		// Arrange
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"success": true,
				"trades": [{"deal_id": "d-1", "symbol": "EURUSD", "profit": 5}]
			}`))
		})
		o, store, _, cleanup := newTestOrchestrator(t, broker, okPersistHandler(nil))
		defer cleanup()

		// Act
		first := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})
		second := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.Equal(t, 1, first.NewTrades)
		assert.Equal(t, 0, second.NewTrades)
		assert.Equal(t, 1, second.UpdatedTrades)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("PersistsCanonicalTrades", func(t *testing.T) {
		// Arrange: records without any id alias. The persisted batch must
		// carry the store-assigned ids, not the raw pre-canonical records.
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"success": true,
				"trades": [
					{"symbol": "EURUSD", "profit": 5},
					{"symbol": "EURUSD", "profit": 5}
				]
			}`))
		})
		var mu sync.Mutex
		var persisted []models.Trade
		persist := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Trades []models.Trade `json:"trades"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			persisted = body.Trades
			mu.Unlock()
			_, _ = w.Write([]byte(`{"success": true}`))
		})
		o, store, _, cleanup := newTestOrchestrator(t, broker, persist)
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.NewTrades)
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, persisted, 2)
		assert.NotEmpty(t, persisted[0].ID)
		assert.NotEmpty(t, persisted[1].ID)
		assert.NotEqual(t, persisted[0].ID, persisted[1].ID)
		for _, trade := range persisted {
			assert.True(t, store.Has(trade.ID))
		}
	})

	t.Run("PersistsMergedTradeOnUpdate", func(t *testing.T) {
		// Arrange: the second sync carries a partial record for a known id.
		// The persisted trade must be the merged form, fields from the first
		// sync intact.
		var syncs int32
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&syncs, 1) == 1 {
				_, _ = w.Write([]byte(`{
					"success": true,
					"trades": [{"deal_id": "d-1", "symbol": "GBPJPY", "profit": 5}]
				}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"success": true,
				"trades": [{"deal_id": "d-1", "profit": -8}]
			}`))
		})
		var mu sync.Mutex
		var persisted []models.Trade
		persist := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Trades []models.Trade `json:"trades"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			persisted = body.Trades
			mu.Unlock()
			_, _ = w.Write([]byte(`{"success": true}`))
		})
		o, _, _, cleanup := newTestOrchestrator(t, broker, persist)
		defer cleanup()

		// Act
		first := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})
		second := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.True(t, first.Success)
		assert.Equal(t, 1, second.UpdatedTrades)
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, persisted, 1)
		assert.Equal(t, "GBPJPY", persisted[0].Symbol)
		assert.Equal(t, -8.0, persisted[0].PnL)
		assert.Equal(t, models.OutcomeLoss, persisted[0].Outcome)
	})

	t.Run("BrokerReportedFailure", func(t *testing.T) {
		// Arrange
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success": false, "error": "invalid account"}`))
		})
		o, _, outbox, cleanup := newTestOrchestrator(t, broker, okPersistHandler(nil))
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert: an explicit broker rejection is not a connectivity gap, so
		// nothing is queued.
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "invalid account")
		assert.Equal(t, 0, outbox.Len())
	})

	t.Run("PersistenceDegradesToLocal", func(t *testing.T) {
		// Arrange
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"success": true,
				"trades": [{"deal_id": "d-1", "symbol": "EURUSD", "profit": 5}]
			}`))
		})
		var persistUp atomic.Bool
		var persisted int32
		persist := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !persistUp.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			atomic.AddInt32(&persisted, 1)
			_, _ = w.Write([]byte(`{"success": true}`))
		})
		o, store, outbox, cleanup := newTestOrchestrator(t, broker, persist)
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert: broker answered, so the sync still succeeds with a warning
		// and the batch sits on the offline queue.
		assert.True(t, result.Success)
		assert.Contains(t, result.Warning, "trades held locally")
		assert.Equal(t, 1, store.Len())
		assert.Equal(t, 1, outbox.Len())

		// Act: the store comes back and the queue drains.
		persistUp.Store(true)
		time.Sleep(5 * time.Millisecond)
		outbox.Drain(context.Background())

		// Assert
		assert.Equal(t, int32(1), atomic.LoadInt32(&persisted))
		assert.Equal(t, 0, outbox.Len())
	})

	t.Run("BrokerOutageQueuesSync", func(t *testing.T) {
		// Arrange: the bridge is unreachable at first.
		var brokerUp atomic.Bool
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !brokerUp.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{
				"success": true,
				"trades": [{"deal_id": "d-1", "symbol": "EURUSD", "profit": 5}]
			}`))
		})
		o, store, outbox, cleanup := newTestOrchestrator(t, broker, okPersistHandler(nil))
		defer cleanup()

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert: the sync failed but was queued for redelivery.
		assert.False(t, result.Success)
		assert.Equal(t, 1, outbox.Len())
		assert.Equal(t, 0, store.Len())

		// Act: connectivity returns; the queued sync re-runs end to end.
		brokerUp.Store(true)
		outbox.Drain(context.Background())

		// Assert
		assert.Equal(t, 0, outbox.Len())
		assert.Equal(t, 1, store.Len())
	})

	t.Run("QueuedSyncFailureDoesNotRequeue", func(t *testing.T) {
		// Arrange: the bridge never comes back. The queue item must carry the
		// whole retry budget itself instead of spawning fresh entries.
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		o, _, outbox, cleanup := newTestOrchestrator(t, broker, okPersistHandler(nil))
		defer cleanup()

		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})
		assert.False(t, result.Success)
		assert.Equal(t, 1, outbox.Len())

		// Act
		time.Sleep(5 * time.Millisecond)
		outbox.Drain(context.Background())

		// Assert
		assert.Equal(t, 1, outbox.Len())
	})

	t.Run("RateLimited", func(t *testing.T) {
		// Arrange
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success": true, "trades": []}`))
		})
		brokerSrv := httptest.NewServer(broker)
		defer brokerSrv.Close()

		log := zap.NewNop()
		client := httpclient.New(brokerSrv.URL, log)
		store, err := storage.NewTradeStore(nil)
		assert.NoError(t, err)
		limiter := ratelimit.New(2, time.Minute, nil)
		o := New(client, client, store, limiter, nil, log, time.Second)

		// Act
		first := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})
		second := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})
		third := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.True(t, first.Success)
		assert.True(t, second.Success)
		assert.False(t, third.Success)
		assert.Contains(t, third.Error, "rate limit")
	})

	t.Run("Timeout", func(t *testing.T) {
		// Arrange
		broker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"success": true}`))
		})
		brokerSrv := httptest.NewServer(broker)
		defer brokerSrv.Close()

		log := zap.NewNop()
		client := httpclient.New(brokerSrv.URL, log)
		store, err := storage.NewTradeStore(nil)
		assert.NoError(t, err)
		o := New(client, client, store, nil, nil, log, 20*time.Millisecond)

		// Act
		result := o.SyncBrokerAccount(context.Background(), validCreds(), models.SyncWindow{})

		// Assert
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, ports.ErrTimeout.Error())
	})
}
