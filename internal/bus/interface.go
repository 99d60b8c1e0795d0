package bus

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// ErrDisabled is returned by NullBus for operations that need Redis.
var ErrDisabled = errors.New("event bus disabled (no redis url)")

// Bus relays raw case events between console instances
type Bus interface {
	// PublishCaseEvent appends an event to the stream of its case
	PublishCaseEvent(ctx context.Context, msg CaseEventMessage) error

	// SubscribeCaseEvents follows the stream of a case from now on
	SubscribeCaseEvents(ctx context.Context, caseGUID string) (helium.Subscription, error)

	// ReadCaseEvents reads the stream of a case through a consumer group
	ReadCaseEvents(ctx context.Context, caseGUID, group, consumer string, handler func(ctx context.Context, msg CaseEventMessage) error) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context, caseGUID string) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty, returns a NullBus
func NewBus(redisURL string, logger *log.Logger) (Bus, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger), nil
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err != nil {
		return nil, err
	}
	return redisBus, nil
}
