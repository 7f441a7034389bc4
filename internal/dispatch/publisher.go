package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"threescale-authorizer/internal/domain"
)

// payloadField is the stream entry field holding the encoded Message.
const payloadField = "message"

// Publisher hands reporting work to the async channel.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// StreamPublisher appends messages to a Redis stream read by a consumer group.
type StreamPublisher struct {
	rdb     redis.Cmdable
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewStreamPublisher returns a publisher for stream. maxLen > 0 trims the stream
// approximately to that many entries.
func NewStreamPublisher(rdb redis.Cmdable, stream string, maxLen int64, timeout time.Duration) *StreamPublisher {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: maxLen, timeout: timeout}
}

func (p *StreamPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return &domain.DispatchError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{payloadField: string(payload)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return &domain.DispatchError{Err: err}
	}
	return nil
}

var _ Publisher = (*StreamPublisher)(nil)
