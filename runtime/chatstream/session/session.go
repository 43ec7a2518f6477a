// Package session implements the default Session Adapter: a
// single-subscriber async queue sitting in front of a ConnectionAdapter. It
// owns no durable state; one Session carries every turn of a conversation,
// delivering to a single current subscriber at a time.
package session

import (
	"context"
	"sync"

	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
)

// ConnectionAdapter opens one event stream per call to Connect. Connect must
// honor ctx cancellation, surfacing it as ctx.Err() from the returned error
// channel, and must report protocol or transport failures through the error
// channel rather than panicking.
type ConnectionAdapter interface {
	Connect(ctx context.Context, messages []message.ModelMessage, data any) (<-chan event.Event, <-chan error)
}

// Session wraps a ConnectionAdapter with a single-subscriber queue. Send
// pushes every event the adapter produces to whichever Subscribe call is
// current at the time of the push; Subscribe always observes chunks
// buffered since the last call to Subscribe, never chunks destined for an
// earlier, now-detached subscriber.
type Session struct {
	adapter ConnectionAdapter

	mu    sync.Mutex
	queue *queue
}

// New returns a Session driven by adapter.
func New(adapter ConnectionAdapter) *Session {
	return &Session{adapter: adapter, queue: newQueue()}
}

// queue is the shared active buffer plus active waiter for one subscription
// generation. Pushing a chunk delivers it to a blocked Next call if one is
// waiting, otherwise appends it to buf for the next Next call to drain.
type queue struct {
	mu   sync.Mutex
	buf  []event.Event
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(e event.Event) {
	q.mu.Lock()
	q.buf = append(q.buf, e)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) next(ctx context.Context) (event.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			e := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return e, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Subscribe replaces the session's active queue synchronously, handing the
// new queue any chunks buffered since the prior subscriber attached, and
// detaching that prior subscriber from all future pushes. The returned
// channel is closed when ctx is canceled.
func (s *Session) Subscribe(ctx context.Context) <-chan event.Event {
	s.mu.Lock()
	prev := s.queue
	next := newQueue()
	prev.mu.Lock()
	next.buf = prev.buf
	prev.buf = nil
	prev.mu.Unlock()
	s.queue = next
	s.mu.Unlock()

	out := make(chan event.Event)
	go func() {
		defer close(out)
		for {
			e, ok := next.next(ctx)
			if !ok {
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Send opens a connection via the adapter and pushes every event it
// produces to the session's current subscriber, buffering for a future
// subscriber if none is attached yet. If the adapter reports an error, a
// synthesized RUN_ERROR is pushed before Send returns the error. If the
// connection ends without ever pushing a RUN_FINISHED or RUN_ERROR, a
// synthesized RUN_FINISHED with finishReason "stop" is pushed.
func (s *Session) Send(ctx context.Context, messages []message.ModelMessage, data any) error {
	events, errs := s.adapter.Connect(ctx, messages, data)

	sawTerminal := false
	for e := range events {
		if e.Type() == event.RunFinished || e.Type() == event.RunError {
			sawTerminal = true
		}
		s.push(e)
	}

	if err := <-errs; err != nil {
		s.push(event.NewRunError(err.Error(), ""))
		return err
	}

	if !sawTerminal {
		s.push(event.NewRunFinished("stop"))
	}
	return nil
}

func (s *Session) push(e event.Event) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	q.push(e)
}
