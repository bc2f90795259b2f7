package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	contractsmq "notifyhub/contracts/mq"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

const (
	dispatchHandlerName = "dispatch_requested"

	// maxHandlerRetries caps MQ redeliveries before a message is treated
	// as poisoned and routed to the DLQ.
	maxHandlerRetries = 5
)

// DLQPublisher routes poisoned messages to the dead letter exchange.
type DLQPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// DispatchRequestedHandler consumes notification.dispatch.requested events
// and drives the fan-out orchestrator. A handler error requeues the message;
// messages that keep failing are moved to the DLQ so the queue never wedges.
type DispatchRequestedHandler struct {
	orchestrator  *dispatch.Orchestrator
	notifications repository.NotificationStore
	deduper       *util.Deduper
	retryCounter  *util.RetryCounter
	publisher     DLQPublisher
	logger        *zap.Logger
}

func NewDispatchRequestedHandler(
	orchestrator *dispatch.Orchestrator,
	notifications repository.NotificationStore,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	publisher DLQPublisher,
	log *zap.Logger,
) *DispatchRequestedHandler {
	return &DispatchRequestedHandler{
		orchestrator:  orchestrator,
		notifications: notifications,
		deduper:       deduper,
		retryCounter:  retryCounter,
		publisher:     publisher,
		logger:        log,
	}
}

func (h *DispatchRequestedHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var payload contractsmq.NotificationDispatchRequestedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.deadLetter(ctx, data, fmt.Sprintf("malformed payload: %v", err))
		return nil
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger)

	eventKey := fmt.Sprintf("%s:%s", payload.NotificationID, payload.Channel)

	channel := model.Channel(payload.Channel)
	switch channel {
	case model.ChannelPush, model.ChannelEmail, model.ChannelSMS, model.ChannelInApp:
	default:
		h.deadLetter(ctx, data, fmt.Sprintf("unknown channel %q", payload.Channel))
		return nil
	}

	notification, err := h.notifications.GetByID(ctx, payload.NotificationID)
	if errors.Is(err, model.ErrNotFound) {
		h.deadLetter(ctx, data, fmt.Sprintf("notification %s not found", payload.NotificationID))
		return nil
	}
	if err != nil {
		return h.retryOrDeadLetter(ctx, data, eventKey, err)
	}

	recipients := payload.RecipientIDs
	if len(recipients) == 0 {
		recipients = notification.Target.UserIDs
	}
	if len(recipients) == 0 {
		log.Warn("Dispatch request has no recipients, dropping",
			zap.String("notification_id", payload.NotificationID.String()),
		)
		return nil
	}

	// Dedup only once the message is known processable, so transient
	// failures above can still be requeued and retried.
	if !h.deduper.AcquireOnce(ctx, dispatchHandlerName, eventKey) {
		return nil
	}

	if err := h.notifications.UpdateStatus(ctx, notification.ID, model.NotificationSending); err != nil {
		log.Warn("Failed to mark notification sending",
			zap.String("notification_id", notification.ID.String()),
			zap.Error(err),
		)
	}

	results, err := h.orchestrator.SendNotificationsWithRetry(ctx, dispatch.SendRequest{
		Notification:   notification,
		RecipientIDs:   recipients,
		Channel:        channel,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", payload.NotificationID, payload.Channel, payload.RequestedAt.Unix()),
	})
	if err != nil {
		// The orchestrator has already persisted failed records and
		// emitted the failure event. Record the terminal state and ack.
		log.Error("Dispatch exhausted retries",
			zap.String("notification_id", notification.ID.String()),
			zap.String("channel", string(channel)),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		h.updateAggregateStatus(ctx, notification.ID, model.NotificationFailed)
		return nil
	}

	// Dispatch failures surface as unsuccessful results with a nil error,
	// so the aggregate outcome is decided by the result set.
	status := model.NotificationSent
	if !dispatch.AllSuccessful(results) {
		log.Warn("Dispatch finished with failed recipients, marking notification failed",
			zap.String("notification_id", notification.ID.String()),
			zap.String("channel", string(channel)),
			zap.Int("recipients", len(results)),
		)
		status = model.NotificationFailed
	}
	h.updateAggregateStatus(ctx, notification.ID, status)
	if err := h.retryCounter.Reset(ctx, util.FormatRetryKey(dispatchHandlerName, eventKey)); err != nil {
		log.Debug("Failed to reset retry counter", zap.String("event_key", eventKey), zap.Error(err))
	}

	log.Info("Dispatch request processed",
		zap.String("notification_id", notification.ID.String()),
		zap.String("channel", string(channel)),
		zap.String("status", string(status)),
		zap.Int("recipients", len(results)),
	)
	return nil
}

// retryOrDeadLetter requeues a transiently failing message until the retry
// budget is exhausted, then dead-letters it.
func (h *DispatchRequestedHandler) retryOrDeadLetter(ctx context.Context, data json.RawMessage, eventKey string, cause error) error {
	count, err := h.retryCounter.IncrementAndGet(ctx, util.FormatRetryKey(dispatchHandlerName, eventKey))
	if err != nil {
		// Counter unavailable: requeue, the TTL-bounded counter will
		// catch up once redis recovers.
		logger.WithTrace(ctx, h.logger).Warn("Retry counter unavailable",
			zap.String("event_key", eventKey),
			zap.Error(err),
		)
		return cause
	}

	if count >= maxHandlerRetries {
		h.deadLetter(ctx, data, fmt.Sprintf("retries exhausted (%d): %v", count, cause))
		return nil
	}

	return cause
}

func (h *DispatchRequestedHandler) deadLetter(ctx context.Context, data json.RawMessage, reason string) {
	logger.WithTrace(ctx, h.logger).Error("Dead-lettering dispatch request",
		zap.String("reason", reason),
	)
	if err := h.publisher.PublishToDLQ(contractsmq.RoutingKeyDispatchRequested, data, reason); err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to publish to DLQ",
			zap.String("routing_key", contractsmq.RoutingKeyDispatchRequested),
			zap.Error(err),
		)
	}
}

func (h *DispatchRequestedHandler) updateAggregateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus) {
	if err := h.notifications.UpdateStatus(ctx, id, status); err != nil {
		logger.WithTrace(ctx, h.logger).Warn("Failed to update notification status",
			zap.String("notification_id", id.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
