package session

import (
	"context"
	"sync"

	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
)

// InProcess is a ConnectionAdapter that serves canned or generated event
// sequences without a transport, for tests and local embedding. It is safe
// for concurrent use: each Connect call gets its own fresh channel pair even
// when Script is shared.
type InProcess struct {
	// Script, when set, is called once per Connect to produce the events to
	// emit for that call. It takes precedence over Events.
	Script func(messages []message.ModelMessage, data any) ([]event.Event, error)
	// Events is a fixed sequence emitted by every Connect call when Script
	// is nil.
	Events []event.Event

	mu    sync.Mutex
	calls [][]message.ModelMessage
}

// Connect implements ConnectionAdapter.
func (a *InProcess) Connect(ctx context.Context, messages []message.ModelMessage, data any) (<-chan event.Event, <-chan error) {
	a.mu.Lock()
	a.calls = append(a.calls, messages)
	a.mu.Unlock()

	events := make(chan event.Event, len(a.Events)+1)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		seq := a.Events
		if a.Script != nil {
			var err error
			seq, err = a.Script(messages, data)
			if err != nil {
				errs <- err
				return
			}
		}
		for _, e := range seq {
			select {
			case events <- e:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return events, errs
}

// Calls returns the message slices passed to every Connect call so far, in
// order.
func (a *InProcess) Calls() [][]message.ModelMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]message.ModelMessage(nil), a.calls...)
}
