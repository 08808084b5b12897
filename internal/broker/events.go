package broker

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher is the notification collaborator: it publishes user-facing
// notifications as Kafka events. Callers treat it as fire-and-forget.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Notify publishes a notification event for a user. Failures are returned so
// the caller can log them; they must never abort the triggering operation.
func (ep *EventPublisher) Notify(ctx context.Context, userID int64, notifyType, message string, orderID int64) error {
	event := &models.NotificationEvent{
		EventID:   uuid.New().String(),
		UserID:    userID,
		Type:      notifyType,
		Message:   message,
		OrderID:   orderID,
		Timestamp: time.Now(),
	}

	key := fmt.Sprintf("user-%d", userID)
	return ep.producer.PublishEvent(ctx, key, event)
}
