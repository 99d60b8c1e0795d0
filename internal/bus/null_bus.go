package bus

import (
	"context"
	"log"

	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}

	return &NullBus{
		logger: logger,
	}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishCaseEvent drops the event
func (nb *NullBus) PublishCaseEvent(ctx context.Context, msg CaseEventMessage) error {
	return nil
}

// SubscribeCaseEvents fails: there is nothing to follow without Redis
func (nb *NullBus) SubscribeCaseEvents(ctx context.Context, caseGUID string) (helium.Subscription, error) {
	return nil, ErrDisabled
}

// ReadCaseEvents blocks until the context is cancelled
func (nb *NullBus) ReadCaseEvents(ctx context.Context, caseGUID, group, consumer string, handler func(ctx context.Context, msg CaseEventMessage) error) error {
	nb.logger.Printf("Would read case %s events as %s:%s (Redis disabled)", caseGUID, group, consumer)
	<-ctx.Done()
	return ctx.Err()
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context, caseGUID string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
