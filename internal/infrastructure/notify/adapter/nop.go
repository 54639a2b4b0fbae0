package adapter

import (
	"context"

	"flowgate/internal/infrastructure/notify/port"
)

// NopSink discards all events. Used when no broker is configured.
type NopSink struct{}

var _ port.Sink = (*NopSink)(nil)

func NewNopSink() *NopSink { return &NopSink{} }

func (NopSink) Publish(ctx context.Context, evt port.Event) {}

func (NopSink) Close() error { return nil }
