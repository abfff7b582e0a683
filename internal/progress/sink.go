package progress

import "context"

// Sink consumes batches of events. Consume may be called with a deadline
// and Close is called once when the hub shuts down.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. A nil *Hub is a valid no-op Emitter.
type Emitter interface {
	Emit(evt Event)
}
