package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Producer enqueues raw intake items. It has no caller inside the
// gateway; host platforms embed it to feed the consumer-mode stream
// out of process.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

// IntakeJob is one queued inbound item. Payload is base64-encoded on
// the wire by the JSON codec.
type IntakeJob struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind,omitempty"`
	Source      string    `json:"source,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Payload     []byte    `json:"payload"`
	ReceivedAt  time.Time `json:"received_at"`
}

// PublishIntake enqueues one raw item for asynchronous processing.
func (p *Producer) PublishIntake(ctx context.Context, kind, source, contentType, filename string, payload []byte) (string, error) {
	job := &IntakeJob{
		ID:          uuid.New().String(),
		Kind:        kind,
		Source:      source,
		ContentType: contentType,
		Filename:    filename,
		Payload:     payload,
		ReceivedAt:  time.Now().UTC(),
	}
	return p.stream.Publish(ctx, job)
}
