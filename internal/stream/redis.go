// Package stream provides the Redis Streams intake path: producers
// enqueue raw items on the intake stream and the consumer group runs
// them through the pipeline.
package stream

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/chittycc/chittyrouter/pkg/logger"
)

const (
	// StreamIntake is the default stream carrying raw inbound items.
	StreamIntake = "chitty:intake"

	// claimIdle is how long a pending message may sit with another
	// consumer before it is claimed for redelivery.
	claimIdle = time.Minute
)

// Options bound the consumer group reads. Zero values take the
// defaults below.
type Options struct {
	Stream     string
	Group      string
	BatchSize  int
	BlockMS    int
	MaxRetries int
}

type RedisStream struct {
	client     *redis.Client
	stream     string
	group      string
	batchSize  int64
	block      time.Duration
	maxRetries int64
	log        *logger.Logger
}

func NewRedisStream(client *redis.Client, opts Options) *RedisStream {
	if opts.Stream == "" {
		opts.Stream = StreamIntake
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.BlockMS <= 0 {
		opts.BlockMS = 5000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &RedisStream{
		client:     client,
		stream:     opts.Stream,
		group:      opts.Group,
		batchSize:  int64(opts.BatchSize),
		block:      time.Duration(opts.BlockMS) * time.Millisecond,
		maxRetries: int64(opts.MaxRetries),
		log:        logger.Default().WithField("component", "stream"),
	}
}

// Stream returns the configured stream key.
func (s *RedisStream) Stream() string {
	return s.stream
}

func (s *RedisStream) CreateGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume reads the group until ctx is done. A handler error leaves the
// message unacked; it is reclaimed after claimIdle and discarded once
// its delivery count exceeds the retry budget.
func (s *RedisStream) Consume(ctx context.Context, consumer string, handler func(id string, data []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.claimStale(ctx, consumer, handler)

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{s.stream, ">"},
			Count:    s.batchSize,
			Block:    s.block,
		}).Result()

		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("stream read error")
			}
			continue
		}

		for _, str := range streams {
			s.handleBatch(ctx, str.Messages, handler)
		}
	}
}

// claimStale takes over pending messages idle past claimIdle. Messages
// whose delivery count exceeds the retry budget are acked away.
func (s *RedisStream) claimStale(ctx context.Context, consumer string, handler func(id string, data []byte) error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   claimIdle,
		Start:  "-",
		End:    "+",
		Count:  s.batchSize,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.RetryCount > s.maxRetries {
			s.log.WithFields(map[string]any{
				"message_id": p.ID,
				"deliveries": p.RetryCount,
			}).Warn("message exceeded retry budget, discarding")
			s.client.XAck(ctx, s.stream, s.group, p.ID)
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return
	}

	msgs, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  claimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return
	}
	s.handleBatch(ctx, msgs, handler)
}

func (s *RedisStream) handleBatch(ctx context.Context, msgs []redis.XMessage, handler func(id string, data []byte) error) {
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			s.client.XAck(ctx, s.stream, s.group, msg.ID)
			continue
		}

		if err := handler(msg.ID, []byte(data)); err != nil {
			s.log.WithError(err).WithField("message_id", msg.ID).
				Warn("stream handler error, message left pending")
			continue
		}

		s.client.XAck(ctx, s.stream, s.group, msg.ID)
	}
}

func (s *RedisStream) Ack(ctx context.Context, id string) error {
	return s.client.XAck(ctx, s.stream, s.group, id).Err()
}

func (s *RedisStream) Pending(ctx context.Context) (int64, error) {
	info, err := s.client.XPending(ctx, s.stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
