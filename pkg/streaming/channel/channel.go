package channel

import (
	"context"

	"github.com/cascadedb/cascade/pkg/streaming"
)

// DefaultDepth is the channel depth used when a fragment's plan does not
// specify one.
const DefaultDepth = 16

// Channel is a bounded point-to-point link between one upstream actor and
// one downstream actor. Send blocks when the channel is full, the
// cooperative backpressure mechanism: a slow downstream actor stalls its
// upstream's Send rather than the channel dropping or unboundedly growing.
type Channel struct {
	messages chan streaming.Message
}

// New creates a channel with the given buffer depth.
func New(depth int) *Channel {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Channel{messages: make(chan streaming.Message, depth)}
}

// Send blocks until the message is queued or ctx is done.
func (c *Channel) Send(ctx context.Context, msg streaming.Message) error {
	select {
	case c.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a message is available or ctx is done.
func (c *Channel) Recv(ctx context.Context) (streaming.Message, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case <-ctx.Done():
		return streaming.Message{}, ctx.Err()
	}
}

// Reader adapts a Channel to the executor.Operator interface so an actor
// can pull its input the same way it pulls from any other upstream.
type Reader struct {
	Ch *Channel
}

// Next implements executor.Operator.
func (r *Reader) Next(ctx context.Context) (streaming.Message, error) {
	return r.Ch.Recv(ctx)
}
