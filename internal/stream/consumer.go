package stream

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/chittycc/chittyrouter/core/service/normalize"
	"github.com/chittycc/chittyrouter/core/service/pipeline"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// Consumer drains the intake stream through the pipeline.
type Consumer struct {
	stream   *RedisStream
	pipeline *pipeline.Coordinator
	name     string
	log      *logger.Logger
}

func NewConsumer(stream *RedisStream, p *pipeline.Coordinator, name string) *Consumer {
	return &Consumer{
		stream:   stream,
		pipeline: p,
		name:     name,
		log:      logger.Default().WithField("component", "stream-consumer"),
	}
}

// Start creates the consumer group and consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) {
	if err := c.stream.CreateGroup(ctx); err != nil {
		c.log.WithError(err).Warn("failed to create group for %s", c.stream.Stream())
	}

	go c.consume(ctx)
}

func (c *Consumer) consume(ctx context.Context) {
	c.stream.Consume(ctx, c.name, func(id string, data []byte) error {
		var job IntakeJob
		if err := json.Unmarshal(data, &job); err != nil {
			// Poison message; acking it beats redelivering forever.
			c.log.WithError(err).WithField("message_id", id).
				Warn("unparseable intake job, discarding")
			return nil
		}

		in := &normalize.Input{
			DeclaredKind: job.Kind,
			Source:       job.Source,
			ContentType:  job.ContentType,
			Filename:     job.Filename,
			Payload:      job.Payload,
			ReceivedAt:   job.ReceivedAt,
		}

		res, err := c.pipeline.Process(ctx, in)
		if err != nil {
			if appErr := apperr.AsAppError(err); appErr.Code == apperr.CodeInputInvalid {
				// Permanent: redelivery cannot fix a bad input.
				c.log.WithError(err).WithField("message_id", id).
					Warn("invalid intake job, discarding")
				return nil
			}
			return err
		}

		if res.Dropped {
			c.log.WithFields(map[string]any{
				"message_id": id,
				"reason":     res.DropReason,
			}).Debug("queued intake dropped by policy")
		}
		return nil
	})
}
