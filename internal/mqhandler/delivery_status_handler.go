package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	contractsmq "notifyhub/contracts/mq"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/model"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

const deliveryStatusHandlerName = "delivery_status"

// DeliveryStatusHandler consumes provider delivery-webhook callbacks that the
// inbound gateway bridges onto the MQ, and folds them into per-recipient
// delivery state. No dedup lock here: the status write is guarded by the
// transition table, so redelivering the same webhook is a no-op.
type DeliveryStatusHandler struct {
	orchestrator *dispatch.Orchestrator
	retryCounter *util.RetryCounter
	publisher    DLQPublisher
	logger       *zap.Logger
}

func NewDeliveryStatusHandler(
	orchestrator *dispatch.Orchestrator,
	retryCounter *util.RetryCounter,
	publisher DLQPublisher,
	log *zap.Logger,
) *DeliveryStatusHandler {
	return &DeliveryStatusHandler{
		orchestrator: orchestrator,
		retryCounter: retryCounter,
		publisher:    publisher,
		logger:       log,
	}
}

func (h *DeliveryStatusHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var payload contractsmq.DeliveryStatusUpdatedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.deadLetter(ctx, data, fmt.Sprintf("malformed payload: %v", err))
		return nil
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger)

	status := model.DeliveryStatus(payload.Status)
	if status != model.DeliveryDelivered && status != model.DeliveryFailed {
		h.deadLetter(ctx, data, fmt.Sprintf("unsupported webhook status %q", payload.Status))
		return nil
	}
	if payload.DeliveryID == "" {
		h.deadLetter(ctx, data, "missing delivery_id")
		return nil
	}

	eventKey := fmt.Sprintf("%s:%s:%d", payload.DeliveryID, payload.Status, payload.OccurredAt.Unix())

	err := h.orchestrator.UpdateDeliveryStatus(ctx, payload.DeliveryID, status, payload.ErrorMessage)
	if errors.Is(err, model.ErrNotFound) {
		// Webhook for a delivery this engine never recorded, or a redelivery
		// the transition guard already absorbed. Acking keeps a stray
		// provider callback from poisoning the queue.
		log.Warn("Webhook matched no delivery records, dropping",
			zap.String("delivery_id", payload.DeliveryID),
			zap.String("status", payload.Status),
		)
		return nil
	}
	if err != nil {
		return h.retryOrDeadLetter(ctx, data, eventKey, err)
	}

	log.Info("Delivery status applied",
		zap.String("delivery_id", payload.DeliveryID),
		zap.String("status", payload.Status),
	)
	return nil
}

func (h *DeliveryStatusHandler) retryOrDeadLetter(ctx context.Context, data json.RawMessage, eventKey string, cause error) error {
	count, err := h.retryCounter.IncrementAndGet(ctx, util.FormatRetryKey(deliveryStatusHandlerName, eventKey))
	if err != nil {
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

func (h *DeliveryStatusHandler) deadLetter(ctx context.Context, data json.RawMessage, reason string) {
	logger.WithTrace(ctx, h.logger).Error("Dead-lettering delivery status update",
		zap.String("reason", reason),
	)
	if err := h.publisher.PublishToDLQ(contractsmq.RoutingKeyDeliveryStatus, data, reason); err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to publish to DLQ",
			zap.String("routing_key", contractsmq.RoutingKeyDeliveryStatus),
			zap.Error(err),
		)
	}
}
