// Package syncer coordinates a broker round trip: fetch, validate, normalize,
// persist-or-degrade. The broker bridge is the source of truth; once it has
// answered successfully, a persistence failure downgrades to the local cache
// instead of failing the sync.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"trade-journal-go/internal/httpclient"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/normalize"
	"trade-journal-go/internal/ports"
	"trade-journal-go/internal/queue"
	"trade-journal-go/internal/ratelimit"
	"trade-journal-go/internal/storage"
)

// Credentials identify a broker account on its bridge.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

var loginPattern = regexp.MustCompile(`^\d{5,}$`)

// Validate checks the credential fields before any network call.
func (c Credentials) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("%w: server is required", ports.ErrValidation)
	}
	if !loginPattern.MatchString(c.Login) {
		return fmt.Errorf("%w: login must be at least 5 digits", ports.ErrValidation)
	}
	if len(c.Password) < 4 {
		return fmt.Errorf("%w: password must be at least 4 characters", ports.ErrValidation)
	}
	return nil
}

// brokerEnvelope is the bridge response. The trade list arrives under either
// "trades" or "deals" depending on the broker.
type brokerEnvelope struct {
	Success bool             `json:"success"`
	Account map[string]any   `json:"account"`
	Trades  []map[string]any `json:"trades"`
	Deals   []map[string]any `json:"deals"`
	Error   string           `json:"error"`
}

type persistEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// queuedOp is the envelope stored on the offline queue; Kind selects the
// redelivery path.
type queuedOp struct {
	Kind string          `json:"kind"` // "persist" or "sync"
	Body json.RawMessage `json:"body"`
}

type persistPayload struct {
	Account map[string]any `json:"account"`
	Trades  []models.Trade `json:"trades"`
}

type syncPayload struct {
	Credentials Credentials `json:"credentials"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
}

// Orchestrator runs sync invocations. It issues at most one in-flight broker
// call and one in-flight persistence call per invocation.
type Orchestrator struct {
	broker  *httpclient.Client
	persist *httpclient.Client
	store   *storage.TradeStore
	limiter *ratelimit.Limiter
	outbox  *queue.OfflineQueue
	logger  *zap.Logger
	timeout time.Duration
}

// New wires an orchestrator and installs it as the offline queue's sender.
func New(
	broker *httpclient.Client,
	persist *httpclient.Client,
	store *storage.TradeStore,
	limiter *ratelimit.Limiter,
	outbox *queue.OfflineQueue,
	logger *zap.Logger,
	timeout time.Duration,
) *Orchestrator {
	o := &Orchestrator{
		broker:  broker,
		persist: persist,
		store:   store,
		limiter: limiter,
		outbox:  outbox,
		logger:  logger,
		timeout: timeout,
	}
	if outbox != nil {
		outbox.SetSender(o.deliver)
	}
	return o
}

// SyncBrokerAccount runs one sync: pre-flight validation, a bounded-timeout
// broker call, normalization, and persistence with local degrade.
func (o *Orchestrator) SyncBrokerAccount(ctx context.Context, creds Credentials, window models.SyncWindow) models.SyncResult {
	job := &models.SyncJob{
		AccountRef: creds.Login,
		Window:     window,
		Status:     models.SyncPending,
	}
	return o.run(ctx, job, creds, false)
}

func (o *Orchestrator) run(ctx context.Context, job *models.SyncJob, creds Credentials, fromQueue bool) models.SyncResult {
	if err := creds.Validate(); err != nil {
		job.Transition(models.SyncFailed)
		job.LastError = err.Error()
		return models.SyncResult{Success: false, Error: err.Error()}
	}

	if o.limiter != nil && !o.limiter.Allow(ratelimit.Key("sync", creds.Login)) {
		err := fmt.Errorf("%w for account %s", ports.ErrRateLimited, creds.Login)
		job.Transition(models.SyncFailed)
		job.LastError = err.Error()
		return models.SyncResult{Success: false, Error: err.Error()}
	}

	job.Transition(models.SyncRunning)

	brokerCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	payload := map[string]any{
		"login":    creds.Login,
		"password": creds.Password,
		"server":   creds.Server,
	}
	if !job.Window.From.IsZero() {
		payload["from_ts"] = job.Window.From.UTC().Format(time.RFC3339)
	}
	if !job.Window.To.IsZero() {
		payload["to_ts"] = job.Window.To.UTC().Format(time.RFC3339)
	}

	var envelope brokerEnvelope
	if err := o.broker.PostJSON(brokerCtx, "/sync", payload, &envelope); err != nil {
		return o.fail(job, creds, err, fromQueue)
	}

	if !envelope.Success {
		err := fmt.Errorf("%w: broker reported failure: %s", ports.ErrProtocol, envelope.Error)
		job.Transition(models.SyncFailed)
		job.LastError = err.Error()
		return models.SyncResult{Success: false, Error: err.Error()}
	}

	records := envelope.Trades
	if len(records) == 0 {
		records = envelope.Deals
	}

	var trades []models.Trade
	newCount, updatedCount := 0, 0
	for _, raw := range records {
		rec, err := normalize.Decode(raw)
		if err != nil {
			// Decode only rejects non-objects; such entries are skipped,
			// never fatal for the batch.
			o.logger.Warn("Skipping malformed broker record", zap.Error(err))
			continue
		}
		// The store hands back the canonical trade (id assigned, merged
		// with any existing entry); that is what gets persisted, not the
		// raw partial record.
		stored, inserted, upsertErr := o.store.UpsertRecord(rec)
		if upsertErr != nil {
			o.logger.Warn("Local cache write failed", zap.Error(upsertErr))
		}
		if inserted {
			newCount++
		} else {
			updatedCount++
		}
		trades = append(trades, stored)
	}

	result := models.SyncResult{
		Success:       true,
		TotalTrades:   len(records),
		NewTrades:     newCount,
		UpdatedTrades: updatedCount,
	}

	if warn := o.persistTrades(ctx, envelope.Account, trades); warn != "" {
		result.Warning = warn
	}

	job.Transition(models.SyncCompleted)
	o.logger.Info("Sync completed",
		zap.String("account", creds.Login),
		zap.Int("total", result.TotalTrades),
		zap.Int("new", result.NewTrades),
		zap.Int("updated", result.UpdatedTrades),
	)
	return result
}

// persistTrades pushes the normalized batch to the durable store. A failure
// is non-fatal: the trades already live in the local store, so the sync is
// still a success with a warning, and the payload goes on the offline queue.
func (o *Orchestrator) persistTrades(ctx context.Context, account map[string]any, trades []models.Trade) string {
	if len(trades) == 0 {
		return ""
	}

	persistCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body := persistPayload{Account: account, Trades: trades}
	var envelope persistEnvelope
	err := o.persist.PostJSON(persistCtx, "/trades", body, &envelope)
	if err == nil && !envelope.Success {
		err = fmt.Errorf("%w: store reported failure: %s", ports.ErrPersistence, envelope.Error)
	}
	if err == nil {
		return ""
	}

	o.logger.Warn("Persistence degraded to local cache", zap.Error(err))
	o.enqueue("persist", body)
	return fmt.Sprintf("trades held locally, persistence unavailable: %v", err)
}

// fail records a terminal broker failure. Network-class failures are queued
// for redelivery once connectivity returns; the sync itself reports failure.
func (o *Orchestrator) fail(job *models.SyncJob, creds Credentials, err error, fromQueue bool) models.SyncResult {
	job.Transition(models.SyncFailed)
	job.LastError = err.Error()

	if errors.Is(err, ports.ErrTimeout) {
		o.logger.Error("Broker request took too long", zap.String("account", creds.Login), zap.Error(err))
	} else {
		o.logger.Error("Broker sync failed", zap.String("account", creds.Login), zap.Error(err))
	}

	// A queued re-run is already tracked by its queue item; only a fresh
	// failure starts a new outbox entry.
	if !fromQueue && (errors.Is(err, ports.ErrNetwork) || errors.Is(err, ports.ErrTimeout) || errors.Is(err, ports.ErrRetryExhausted)) {
		body := syncPayload{Credentials: creds}
		if !job.Window.From.IsZero() {
			body.From = job.Window.From.UTC().Format(time.RFC3339)
		}
		if !job.Window.To.IsZero() {
			body.To = job.Window.To.UTC().Format(time.RFC3339)
		}
		o.enqueue("sync", body)
	}

	return models.SyncResult{Success: false, Error: err.Error()}
}

func (o *Orchestrator) enqueue(kind string, body any) {
	if o.outbox == nil {
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		o.logger.Error("Failed to encode queued operation", zap.Error(err))
		return
	}
	if _, err := o.outbox.Enqueue(queuedOp{Kind: kind, Body: raw}); err != nil {
		o.logger.Error("Failed to enqueue operation", zap.Error(err))
	}
}

// deliver is the offline queue's send function: it redelivers persistence
// payloads and re-runs queued syncs.
func (o *Orchestrator) deliver(ctx context.Context, payload json.RawMessage) error {
	var op queuedOp
	if err := json.Unmarshal(payload, &op); err != nil {
		return fmt.Errorf("decode queued operation: %w", err)
	}

	switch op.Kind {
	case "persist":
		var body persistPayload
		if err := json.Unmarshal(op.Body, &body); err != nil {
			return fmt.Errorf("decode persist payload: %w", err)
		}
		persistCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		var envelope persistEnvelope
		if err := o.persist.PostJSON(persistCtx, "/trades", body, &envelope); err != nil {
			return err
		}
		if !envelope.Success {
			return fmt.Errorf("%w: store reported failure: %s", ports.ErrPersistence, envelope.Error)
		}
		return nil
	case "sync":
		var body syncPayload
		if err := json.Unmarshal(op.Body, &body); err != nil {
			return fmt.Errorf("decode sync payload: %w", err)
		}
		window := models.SyncWindow{}
		if body.From != "" {
			window.From, _ = time.Parse(time.RFC3339, body.From)
		}
		if body.To != "" {
			window.To, _ = time.Parse(time.RFC3339, body.To)
		}
		job := &models.SyncJob{
			AccountRef: body.Credentials.Login,
			Window:     window,
			Status:     models.SyncPending,
		}
		result := o.run(ctx, job, body.Credentials, true)
		if !result.Success {
			return fmt.Errorf("queued sync failed: %s", result.Error)
		}
		return nil
	default:
		return fmt.Errorf("unknown queued operation kind %q", op.Kind)
	}
}
