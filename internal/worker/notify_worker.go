package worker

import (
	"context"
	"encoding/json"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NotifyWorker consumes notification events and hands them to the delivery
// channel (push, email, chat — external concerns; here we log the handoff).
type NotifyWorker struct {
	consumer *broker.Consumer
	logger   *zap.Logger
}

// NewNotifyWorker creates a new notification worker
func NewNotifyWorker(consumer *broker.Consumer) *NotifyWorker {
	return &NotifyWorker{
		consumer: consumer,
		logger:   util.GetLogger(),
	}
}

// Start starts consuming notification events
func (w *NotifyWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var event models.NotificationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			w.logger.Error("Failed to unmarshal notification event", zap.Error(err))
			return nil
		}

		w.logger.Info("Delivering notification",
			zap.String("event_id", event.EventID),
			zap.Int64("user_id", event.UserID),
			zap.String("type", event.Type),
			zap.Int64("order_id", event.OrderID))
		return nil
	})
}

// Stop stops the worker
func (w *NotifyWorker) Stop() error {
	return w.consumer.Close()
}
