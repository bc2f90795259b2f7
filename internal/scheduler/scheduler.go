package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	contractsmq "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/outbox"
	"notifyhub/pkg/trace"
)

const (
	sweepSpec  = "* * * * *"
	sweepLimit = 100

	replaySpec  = "*/5 * * * *"
	replayLimit = 50
)

// Scheduler sweeps scheduled notifications that have come due and hands them
// to the dispatch pipeline. Each due notification is flipped to sending and
// its per-channel dispatch-requested events are written in the same
// transaction, so a crash mid-sweep never emits without marking or vice versa.
type Scheduler struct {
	db            *pgxpool.Pool
	notifications repository.NotificationStore
	outboxRepo    *outbox.Repository
	replay        *outbox.ReplayService
	cron          *cron.Cron
	logger        *zap.Logger
}

func NewScheduler(
	db *pgxpool.Pool,
	notifications repository.NotificationStore,
	outboxRepo *outbox.Repository,
	log *zap.Logger,
) *Scheduler {
	return &Scheduler{
		db:            db,
		notifications: notifications,
		outboxRepo:    outboxRepo,
		cron:          cron.New(),
		logger:        log,
	}
}

// WithReplay enables the periodic replay of outbox events that exhausted
// their publish retries.
func (s *Scheduler) WithReplay(replay *outbox.ReplayService) *Scheduler {
	s.replay = replay
	return s
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		ctx = trace.WithContext(ctx, trace.GenerateTraceID())
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	if s.replay != nil {
		_, err = s.cron.AddFunc(replaySpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
			defer cancel()
			ctx = trace.WithContext(ctx, trace.GenerateTraceID())
			s.replayFailed(ctx)
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.String("spec", sweepSpec))
	return nil
}

// replayFailed gives permanently failed outbox events another chance once
// the MQ has recovered.
func (s *Scheduler) replayFailed(ctx context.Context) {
	replayed, err := s.replay.ReplayFailedEvents(ctx, replayLimit)
	if err != nil {
		s.logger.Error("Failed to replay outbox events", zap.Error(err))
		return
	}
	if replayed > 0 {
		s.logger.Info("Replayed failed outbox events", zap.Int("count", replayed))
	}
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
}

// Sweep dispatches every scheduled notification whose scheduled_at has
// passed. Exported so it can be triggered outside the cron loop.
func (s *Scheduler) Sweep(ctx context.Context) {
	log := logger.WithTrace(ctx, s.logger)

	due, err := s.notifications.ListDueScheduled(ctx, time.Now(), sweepLimit)
	if err != nil {
		log.Error("Failed to list due scheduled notifications", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	dispatched := 0
	for _, n := range due {
		if err := s.dispatchOne(ctx, n); err != nil {
			log.Error("Failed to dispatch scheduled notification",
				zap.String("notification_id", n.ID.String()),
				zap.Error(err),
			)
			continue
		}
		dispatched++
	}

	log.Info("Scheduled sweep complete",
		zap.Int("due", len(due)),
		zap.Int("dispatched", dispatched),
	)
}

func (s *Scheduler) dispatchOne(ctx context.Context, n *model.Notification) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Guard on the current status so concurrent sweeps cannot dispatch
	// the same notification twice.
	tag, err := tx.Exec(ctx,
		`UPDATE notifications SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		model.NotificationSending, n.ID, model.NotificationScheduled,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	aggregateID := n.ID.String()
	now := time.Now()
	for _, channel := range n.Channels {
		payload := contractsmq.NotificationDispatchRequestedPayload{
			NotificationID: n.ID,
			RecipientIDs:   n.Target.UserIDs,
			Channel:        string(channel),
			TraceID:        trace.FromContext(ctx),
			RequestedAt:    now,
		}
		if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "notification", &aggregateID,
			contractsmq.RoutingKeyDispatchRequested, payload); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
