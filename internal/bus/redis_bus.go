package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/go-redis/redis/v8"
)

// DefaultMaxLen bounds the number of events kept per case stream.
const DefaultMaxLen = 10000

// RedisBus provides Redis Streams-based relaying of case events
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
	maxLen int64
	block  time.Duration
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// CaseEventMessage is a raw case event as relayed on the bus
type CaseEventMessage struct {
	ID        string `json:"id,omitempty"`
	CaseGUID  string `json:"case_guid"`
	Category  string `json:"category"`
	RawJSON   string `json:"raw_json"`
	Timestamp int64  `json:"timestamp"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// StreamKey is the Redis key holding the events of a case.
func StreamKey(caseGUID string) string {
	return "helium:case:" + caseGUID + ":events"
}

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{
		client: client,
		logger: logger,
		maxLen: DefaultMaxLen,
		block:  time.Second,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishCaseEvent appends an event to the stream of its case
func (rb *RedisBus) PublishCaseEvent(ctx context.Context, msg CaseEventMessage) error {
	if msg.CaseGUID == "" {
		return errors.New("case event without case guid")
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	fields := map[string]interface{}{
		"case_guid": msg.CaseGUID,
		"category":  msg.Category,
		"raw_json":  msg.RawJSON,
		"timestamp": msg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(msg.CaseGUID),
		MaxLen: rb.maxLen,
		Values: fields,
	})

	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish case event: %w", err)
	}
	return nil
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	// Try to create the consumer group, ignore error if it already exists
	result := rb.client.XGroupCreateMkStream(ctx, stream, group, "0")
	if err := result.Err(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
		}
	}

	rb.logger.Printf("Consumer group %s ready for stream %s", group, stream)
	return nil
}

// ReadStream reads messages from a stream using consumer groups
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	// Ensure consumer group exists
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Printf("Starting stream reader for %s (group: %s, consumer: %s)", stream, group, consumer)

	for {
		select {
		case <-ctx.Done():
			rb.logger.Printf("Stream reader for %s stopping due to context cancellation", stream)
			return ctx.Err()
		default:
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    rb.block,
		})

		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				// No messages available, continue
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rb.logger.Printf("Error reading from stream %s: %v", stream, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, s := range result.Val() {
			for _, message := range s.Messages {
				streamMsg := toStreamMessage(message)

				if err := handler(ctx, streamMsg); err != nil {
					rb.logger.Printf("Error processing message %s: %v", message.ID, err)
					continue
				}

				if err := rb.client.XAck(ctx, s.Stream, group, message.ID).Err(); err != nil {
					rb.logger.Printf("Error acknowledging message %s: %v", message.ID, err)
				}
			}
		}
	}
}

// ReadCaseEvents reads the stream of a case through a consumer group
func (rb *RedisBus) ReadCaseEvents(ctx context.Context, caseGUID, group, consumer string, handler func(ctx context.Context, msg CaseEventMessage) error) error {
	streamHandler := func(ctx context.Context, message StreamMessage) error {
		return handler(ctx, toCaseEvent(message))
	}
	return rb.ReadStream(ctx, StreamKey(caseGUID), group, consumer, streamHandler)
}

// SubscribeCaseEvents follows the stream of a case, starting after its
// current last entry.
func (rb *RedisBus) SubscribeCaseEvents(ctx context.Context, caseGUID string) (helium.Subscription, error) {
	stream := StreamKey(caseGUID)
	last := "0"
	entries, err := rb.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	if len(entries) > 0 {
		last = entries[0].ID
	}
	return rb.SubscribeCaseEventsFrom(ctx, caseGUID, last), nil
}

// SubscribeCaseEventsFrom follows the stream of a case from the entry after lastID.
func (rb *RedisBus) SubscribeCaseEventsFrom(ctx context.Context, caseGUID, lastID string) *Subscription {
	sctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		msgs:   make(chan []byte, 64),
		cancel: cancel,
	}
	go sub.run(sctx, rb, StreamKey(caseGUID), lastID)
	return sub
}

// Subscription is a live read of one case stream. It implements helium.Subscription.
type Subscription struct {
	msgs   chan []byte
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (s *Subscription) run(ctx context.Context, rb *RedisBus, stream, lastID string) {
	defer close(s.msgs)
	for ctx.Err() == nil {
		res, err := rb.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   100,
			Block:   rb.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = fmt.Errorf("failed to read stream %s: %w", stream, err)
				s.mu.Unlock()
			}
			return
		}
		for _, st := range res {
			for _, m := range st.Messages {
				lastID = m.ID
				raw, _ := m.Values["raw_json"].(string)
				if raw == "" {
					continue
				}
				select {
				case s.msgs <- []byte(raw):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Messages delivers raw event payloads in stream order.
func (s *Subscription) Messages() <-chan []byte { return s.msgs }

// Err reports a read failure; it is nil after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops following the stream.
func (s *Subscription) Close() error {
	s.cancel()
	return nil
}

func toStreamMessage(message redis.XMessage) StreamMessage {
	streamMsg := StreamMessage{
		ID:     message.ID,
		Fields: make(map[string]string),
	}

	// Convert fields to string map
	for key, value := range message.Values {
		if strValue, ok := value.(string); ok {
			streamMsg.Fields[key] = strValue
		}
	}
	return streamMsg
}

func toCaseEvent(message StreamMessage) CaseEventMessage {
	msg := CaseEventMessage{
		ID:       message.ID,
		CaseGUID: message.Fields["case_guid"],
		Category: message.Fields["category"],
		RawJSON:  message.Fields["raw_json"],
	}
	if timestamp := message.Fields["timestamp"]; timestamp != "" {
		if ts, err := parseTimestamp(timestamp); err == nil {
			msg.Timestamp = ts
		}
	}
	return msg
}

// parseTimestamp parses a timestamp string to epoch milliseconds
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().UnixMilli(), nil
	}

	// Try numeric epoch (seconds or milliseconds)
	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		// Heuristic: fewer than 13 digits means seconds
		if n < 1_000_000_000_000 {
			return n * 1000, nil
		}
		return n, nil
	}

	if ts, ok := helium.ParseTimestamp(timestamp); ok {
		return ts.UnixMilli(), nil
	}

	return time.Now().UnixMilli(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the stream of a case
func (rb *RedisBus) GetStats(ctx context.Context, caseGUID string) (map[string]interface{}, error) {
	stream := StreamKey(caseGUID)
	stats := map[string]interface{}{
		"type":   "redis",
		"stream": stream,
	}

	length, err := rb.client.XLen(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get length of %s: %w", stream, err)
	}
	stats["length"] = length

	if groups, err := rb.client.XInfoGroups(ctx, stream).Result(); err == nil {
		stats["consumer_groups"] = len(groups)
	}

	return stats, nil
}

// CleanupOldMessages trims the stream of a case to maxLen entries
func (rb *RedisBus) CleanupOldMessages(ctx context.Context, caseGUID string, maxLen int64) error {
	stream := StreamKey(caseGUID)
	result := rb.client.XTrimMaxLen(ctx, stream, maxLen)
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to trim stream %s: %w", stream, err)
	}

	rb.logger.Printf("Trimmed stream %s to max length %d", stream, maxLen)
	return nil
}
