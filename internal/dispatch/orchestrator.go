package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/internal/provider"
	"notifyhub/internal/repository"
	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/outbox"
	"notifyhub/pkg/retry"
	"notifyhub/pkg/trace"
)

const (
	// ErrorCodeUnknown is recorded when a dispatch failure carries no
	// more specific code.
	ErrorCodeUnknown     = "UNKNOWN_ERROR"
	ErrorCodeCircuitOpen = "CIRCUIT_OPEN"
)

// batchRetryDelays is the fixed schedule of the outer batch retry loop.
// It is deliberately coarser than the per-call backoff of the retry
// executor: it recovers from batch-level failures surfaced as results
// rather than errors.
var batchRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// SendRequest asks for one notification to be fanned out to a recipient
// batch on a single channel.
type SendRequest struct {
	Notification *model.Notification
	RecipientIDs []uuid.UUID
	Channel      model.Channel
	// IdempotencyKey is assigned once per logical batch and reused across
	// batch retry attempts so an idempotent provider can collapse
	// duplicate sends.
	IdempotencyKey string
	attempt        int
}

// Orchestrator fans notifications out to recipients through the external
// provider, with circuit-breaker and retry protection, and records one
// delivery outcome per recipient.
type Orchestrator struct {
	db               *pgxpool.Pool
	deliveries       repository.DeliveryStore
	notifications    repository.NotificationStore
	provider         provider.Client
	breakers         *circuitbreaker.Registry
	retryExec        *retry.Executor
	outboxRepo       *outbox.Repository
	logger           *zap.Logger
	maxBatchAttempts int
	maxRecordRetries int
}

func NewOrchestrator(
	db *pgxpool.Pool,
	deliveries repository.DeliveryStore,
	notifications repository.NotificationStore,
	providerClient provider.Client,
	breakers *circuitbreaker.Registry,
	retryExec *retry.Executor,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:               db,
		deliveries:       deliveries,
		notifications:    notifications,
		provider:         providerClient,
		breakers:         breakers,
		retryExec:        retryExec,
		outboxRepo:       outbox.NewRepository(db),
		logger:           log,
		maxBatchAttempts: 3,
		maxRecordRetries: 3,
	}
}

func (o *Orchestrator) WithMaxBatchAttempts(n int) *Orchestrator {
	if n > 0 {
		o.maxBatchAttempts = n
	}
	return o
}

// WithMaxRecordRetries caps how often a failed record may be redispatched.
// A record's retryCount equals the batch attempt index that produced it, so
// the cap bounds the outer retry loop to maxRecordRetries+1 attempts.
func (o *Orchestrator) WithMaxRecordRetries(n int) *Orchestrator {
	if n >= 0 {
		o.maxRecordRetries = n
	}
	return o
}

// SendNotifications dispatches one batch. The provider call is
// all-or-nothing for the batch; per-recipient record persistence runs
// concurrently and one recipient's failure never blocks another's.
// Dispatch failures are recorded as data, not returned as errors: the
// caller always gets a complete per-recipient result set.
func (o *Orchestrator) SendNotifications(ctx context.Context, req SendRequest) ([]model.DeliveryResult, error) {
	if req.Notification == nil {
		return nil, fmt.Errorf("notification is required")
	}
	if len(req.RecipientIDs) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	n := req.Notification
	log := logger.WithTrace(ctx, o.logger).With(
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", string(req.Channel)),
		zap.Int("recipients", len(req.RecipientIDs)),
	)

	// The payload is built once; only the recipient list varies.
	payload := provider.Payload{
		Title:     n.Title,
		Body:      n.Body,
		Type:      n.Type,
		Priority:  string(n.Priority),
		Data:      n.Data,
		Timestamp: time.Now(),
	}
	workflowID := provider.WorkflowID(n.Type, req.Channel)

	log.Info("Dispatching notification batch", zap.String("workflow", workflowID))

	resp, err := o.triggerWorkflow(ctx, provider.TriggerRequest{
		WorkflowID:     workflowID,
		Recipients:     req.RecipientIDs,
		Payload:        payload,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		log.Error("Provider dispatch failed", zap.Error(err))
		metrics.IncrementDispatchBatch(string(req.Channel), "failed")
		results := o.recordBatchFailure(ctx, req, err)
		o.emitBatchFailed(ctx, req, err)
		return results, nil
	}

	log.Info("Provider dispatch succeeded", zap.String("delivery_id", resp.DeliveryID))
	metrics.IncrementDispatchBatch(string(req.Channel), "success")
	results := o.recordBatchSuccess(ctx, req, resp.DeliveryID)
	o.emitBatchSent(ctx, req, resp.DeliveryID)
	return results, nil
}

// triggerWorkflow runs the provider call under the retry executor, with
// every individual attempt passing through the circuit breaker so the
// breaker's timeout bounds a single call. A fast-failing open circuit is
// tagged non-retryable so it never consumes the retry budget.
func (o *Orchestrator) triggerWorkflow(ctx context.Context, req provider.TriggerRequest) (*provider.TriggerResponse, error) {
	return retry.DoValue(ctx, o.retryExec, "provider.trigger_workflow",
		func(ctx context.Context) (*provider.TriggerResponse, error) {
			var resp *provider.TriggerResponse
			err := o.breakers.Execute(ctx, provider.DependencyKey, func(ctx context.Context) error {
				r, callErr := o.provider.TriggerWorkflow(ctx, req)
				if callErr != nil {
					return callErr
				}
				resp = r
				return nil
			})
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				return nil, retry.NonRetryable(err)
			}
			if err != nil {
				return nil, err
			}
			return resp, nil
		})
}

// recordBatchSuccess creates one sent record per recipient, concurrently.
func (o *Orchestrator) recordBatchSuccess(ctx context.Context, req SendRequest, deliveryID string) []model.DeliveryResult {
	now := time.Now()
	results := make([]model.DeliveryResult, len(req.RecipientIDs))

	var wg sync.WaitGroup
	for i, recipientID := range req.RecipientIDs {
		wg.Add(1)
		go func(i int, recipientID uuid.UUID) {
			defer wg.Done()

			rec := o.newRecord(req, recipientID)
			rec.Status = model.DeliverySent
			rec.SentAt = &now
			rec.DeliveryID = deliveryID

			results[i] = o.persistRecord(ctx, req, rec, "")
			results[i].DeliveryID = deliveryID
		}(i, recipientID)
	}
	wg.Wait()

	return results
}

// recordBatchFailure creates one failed record per recipient.
func (o *Orchestrator) recordBatchFailure(ctx context.Context, req SendRequest, dispatchErr error) []model.DeliveryResult {
	results := make([]model.DeliveryResult, len(req.RecipientIDs))
	code := errorCode(dispatchErr)

	var wg sync.WaitGroup
	for i, recipientID := range req.RecipientIDs {
		wg.Add(1)
		go func(i int, recipientID uuid.UUID) {
			defer wg.Done()

			rec := o.newRecord(req, recipientID)
			rec.Status = model.DeliveryFailed
			rec.ErrorMessage = dispatchErr.Error()
			rec.ErrorCode = code

			results[i] = o.persistRecord(ctx, req, rec, dispatchErr.Error())
			results[i].Success = false
			if results[i].Error == "" {
				results[i].Error = dispatchErr.Error()
			}
		}(i, recipientID)
	}
	wg.Wait()

	return results
}

// newRecord builds the per-recipient record. The id is derived
// deterministically from (notification, recipient, channel) so batch
// retries upsert the same row instead of duplicating it.
func (o *Orchestrator) newRecord(req SendRequest, recipientID uuid.UUID) *model.DeliveryRecord {
	n := req.Notification
	return &model.DeliveryRecord{
		ID:             uuid.NewSHA1(n.ID, []byte(recipientID.String()+":"+string(req.Channel))),
		RecipientID:    recipientID,
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           n.Body,
		Type:           n.Type,
		Priority:       n.Priority,
		Channel:        req.Channel,
		Data:           n.Data,
		RetryCount:     req.attempt,
	}
}

// persistRecord saves one recipient's record and marks the aggregate's
// per-recipient delivery. A persistence failure is surfaced in that
// recipient's result only.
func (o *Orchestrator) persistRecord(ctx context.Context, req SendRequest, rec *model.DeliveryRecord, dispatchErr string) model.DeliveryResult {
	log := logger.WithTrace(ctx, o.logger)

	if err := o.deliveries.Save(ctx, rec); err != nil {
		log.Error("Failed to persist delivery record",
			zap.String("record_id", rec.ID.String()),
			zap.String("recipient_id", rec.RecipientID.String()),
			zap.Error(err),
		)
		return model.DeliveryResult{
			RecipientID: rec.RecipientID,
			RecordID:    rec.ID,
			Success:     false,
			Error:       err.Error(),
		}
	}

	mark := model.RecipientDelivery{
		NotificationID: rec.NotificationID,
		RecipientID:    rec.RecipientID,
		Channel:        rec.Channel,
		Sent:           rec.Status == model.DeliverySent,
		Error:          dispatchErr,
	}
	if err := o.notifications.MarkRecipientDelivery(ctx, mark); err != nil {
		// The record is the authoritative delivery state; the aggregate
		// mark is best-effort.
		log.Warn("Failed to mark recipient delivery on aggregate",
			zap.String("notification_id", rec.NotificationID.String()),
			zap.String("recipient_id", rec.RecipientID.String()),
			zap.Error(err),
		)
	}

	return model.DeliveryResult{
		RecipientID: rec.RecipientID,
		RecordID:    rec.ID,
		Success:     rec.Status == model.DeliverySent,
		Error:       rec.ErrorMessage,
	}
}

// SendNotificationsWithRetry retries the whole batch on any recipient's
// logical failure, up to maxBatchAttempts with fixed 1s/5s/15s delays.
// A failed record is redispatched at most maxRecordRetries times, so the
// attempt budget is the smaller of the two limits.
func (o *Orchestrator) SendNotificationsWithRetry(ctx context.Context, req SendRequest) ([]model.DeliveryResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	log := logger.WithTrace(ctx, o.logger)

	attempts := o.maxBatchAttempts
	if attempts > o.maxRecordRetries+1 {
		attempts = o.maxRecordRetries + 1
	}

	var results []model.DeliveryResult
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		req.attempt = attempt
		results, err = o.SendNotifications(ctx, req)
		if err != nil {
			return nil, err
		}
		if AllSuccessful(results) {
			return results, nil
		}

		if attempt == attempts-1 {
			break
		}

		delay := batchRetryDelays[min(attempt, len(batchRetryDelays)-1)]
		log.Warn("Batch had unsuccessful results, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return results, ctx.Err()
		case <-timer.C:
		}
	}

	return results, nil
}

// UpdateDeliveryStatus applies a provider delivery-webhook outcome to all
// records sharing the batch delivery id.
func (o *Orchestrator) UpdateDeliveryStatus(ctx context.Context, deliveryID string, status model.DeliveryStatus, errorMessage string) error {
	if status != model.DeliveryDelivered && status != model.DeliveryFailed {
		return fmt.Errorf("%w: webhook status %q", model.ErrInvalidTransition, status)
	}

	updated, err := o.deliveries.UpdateByDeliveryID(ctx, deliveryID, status, errorMessage)
	if err != nil {
		return err
	}
	if updated == 0 {
		// Either the delivery id was never recorded or every record already
		// passed the transition, as on a redelivered webhook.
		return fmt.Errorf("delivery %s matched no records: %w", deliveryID, model.ErrNotFound)
	}

	logger.WithTrace(ctx, o.logger).Info("Applied delivery status update",
		zap.String("delivery_id", deliveryID),
		zap.String("status", string(status)),
		zap.Int64("updated", updated),
	)
	return nil
}

// emitBatchSent writes a notification.sent domain event through the outbox.
func (o *Orchestrator) emitBatchSent(ctx context.Context, req SendRequest, deliveryID string) {
	payload := mqcontracts.NotificationSentPayload{
		NotificationID: req.Notification.ID,
		Channel:        string(req.Channel),
		DeliveryID:     deliveryID,
		RecipientCount: len(req.RecipientIDs),
		SentAt:         time.Now(),
		TraceID:        trace.FromContext(ctx),
	}
	o.insertOutboxEvent(ctx, req.Notification.ID, mqcontracts.RoutingKeyNotificationSent, payload)
}

// emitBatchFailed writes a notification.failed domain event through the outbox.
func (o *Orchestrator) emitBatchFailed(ctx context.Context, req SendRequest, dispatchErr error) {
	payload := mqcontracts.NotificationFailedPayload{
		NotificationID: req.Notification.ID,
		Channel:        string(req.Channel),
		Error:          dispatchErr.Error(),
		ErrorCode:      errorCode(dispatchErr),
		RecipientCount: len(req.RecipientIDs),
		TraceID:        trace.FromContext(ctx),
	}
	o.insertOutboxEvent(ctx, req.Notification.ID, mqcontracts.RoutingKeyNotificationFail, payload)
}

func (o *Orchestrator) insertOutboxEvent(ctx context.Context, notificationID uuid.UUID, routingKey string, payload any) {
	log := logger.WithTrace(ctx, o.logger)

	tx, err := o.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin outbox transaction", zap.Error(err))
		return
	}
	defer tx.Rollback(ctx)

	aggregateID := notificationID.String()
	if err := outbox.InsertEventInTx(ctx, tx, o.outboxRepo, "notification", &aggregateID, routingKey, payload); err != nil {
		log.Error("Failed to insert outbox event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("Failed to commit outbox event", zap.Error(err))
	}
}

// AllSuccessful reports whether every per-recipient result in a batch
// succeeded. Dispatch failures travel as data in the result set, so callers
// deciding the aggregate outcome must check this, not just the error.
func AllSuccessful(results []model.DeliveryResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// errorCode maps a dispatch error to the code stored on failed records.
func errorCode(err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return ErrorCodeCircuitOpen
	}
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("HTTP_%d", httpErr.StatusCode)
	}
	return ErrorCodeUnknown
}
