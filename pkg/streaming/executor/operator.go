package executor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/streaming"
)

// Operator is the common shape every streaming operator implements:
// pulling the next message from its upstream(s), doing its own work, and
// returning the message it wants forwarded. Next returns io.EOF-free;
// an upstream that is simply exhausted (e.g. a bounded backfill source)
// returns (Message{}, nil) with no fields set, which callers treat as
// "nothing to forward this call, try again" rather than stream end —
// Cascade's streams are long-lived and only stop via ctx cancellation.
type Operator interface {
	Next(ctx context.Context) (streaming.Message, error)
}

// Func adapts a plain function to an Operator, for simple sources in
// tests and for wiring a channel receiver (pkg/streaming/channel) in as
// an operator's upstream without a dedicated type.
type Func func(ctx context.Context) (streaming.Message, error)

func (f Func) Next(ctx context.Context) (streaming.Message, error) { return f(ctx) }
