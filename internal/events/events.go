// Package events publishes settlement lifecycle events after their database
// transaction commits. Delivery is best effort: a failed publish is logged and
// never rolls back money movement.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypePaymentRecorded     = "payment.recorded"
	TypeSplitsSettled       = "splits.settled"
	TypeSplitsFailed        = "splits.failed"
	TypeFundsReleased       = "wallet.funds_released"
	TypeWithdrawalSubmitted = "withdrawal.submitted"
	TypeWithdrawalApproved  = "withdrawal.approved"
	TypeWithdrawalRejected  = "withdrawal.rejected"
	TypeWithdrawalCompleted = "withdrawal.completed"
	TypeWithdrawalFailed    = "withdrawal.failed"
	TypeBalanceMismatch     = "wallet.balance_mismatch"
)

// Event is the envelope written to every sink.
type Event struct {
	Type       string            `json:"event_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	UserID     *uuid.UUID        `json:"user_id,omitempty"`
	Amount     domain.Money      `json:"amount"`
	Status     string            `json:"status,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Key partitions events by entity so one entity's events stay ordered.
func (e Event) Key() []byte {
	return []byte(e.EntityID.String())
}

func (e Event) encode() ([]byte, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Multi fans out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// PublishTimeout bounds a single Emit.
var PublishTimeout = 2 * time.Second

// Emit publishes and logs instead of returning the error. The publish keeps the
// caller's values but not its cancellation and is bounded by PublishTimeout.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()
	if err := p.Publish(ctx, event); err != nil {
		zap.L().Warn("event publish failed",
			zap.String("event_type", event.Type),
			zap.String("entity_id", event.EntityID.String()),
			zap.Error(err),
		)
	}
}
