// Package transport adapts a byte stream carrying framed event payloads
// into a channel of decoded events. It supports the two framings used by
// the reference server implementations of this protocol: Server-Sent
// Events ("data: <json>\n\n", terminated by a literal "[DONE]" payload) and
// newline-delimited JSON. Framing negotiation and retry are out of scope;
// callers pick the framing that matches their connection up front.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"goa.design/chatstream/runtime/chatstream/event"
)

// Framing identifies how a byte stream delimits individual event payloads.
type Framing int

const (
	// FramingSSE expects "data: <json>" lines separated by blank lines, and
	// a terminal "data: [DONE]" line.
	FramingSSE Framing = iota
	// FramingNDJSON expects one JSON object per line.
	FramingNDJSON
)

// doneSentinel is the literal SSE payload that marks end of stream.
const doneSentinel = "[DONE]"

// Read decodes events from r according to framing, sending each onto the
// returned channel in arrival order. The channel is closed when r is
// exhausted, the SSE "[DONE]" sentinel arrives, ctx is canceled, or reading
// r fails; a read failure or cancellation is reported via the second return
// value once the channel is drained. Read never panics on malformed input:
// payloads that fail to decode, or decode to an unknown event type, are
// dropped and the stream continues.
func Read(ctx context.Context, r io.Reader, framing Framing) (<-chan event.Event, <-chan error) {
	events := make(chan event.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		var err error
		switch framing {
		case FramingSSE:
			err = readSSE(ctx, r, events)
		case FramingNDJSON:
			err = readNDJSON(ctx, r, events)
		default:
			err = fmt.Errorf("transport: unknown framing %d", framing)
		}
		if err != nil {
			errs <- err
		}
	}()

	return events, errs
}

func readNDJSON(ctx context.Context, r io.Reader, out chan<- event.Event) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !emit(ctx, out, line) {
			return ctx.Err()
		}
	}
	return sc.Err()
}

func readSSE(ctx context.Context, r io.Reader, out chan<- event.Event) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		data, isData := strings.CutPrefix(line, "data:")
		if !isData {
			// Comments, event: lines, and blank separators carry no event.
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneSentinel {
			return nil
		}
		if data == "" {
			continue
		}
		if !emit(ctx, out, data) {
			return ctx.Err()
		}
	}
	return sc.Err()
}

func emit(ctx context.Context, out chan<- event.Event, raw string) bool {
	decoded, err := event.UnmarshalJSON([]byte(raw))
	if err != nil || decoded == nil {
		// Unknown or malformed payloads are dropped rather than failing the
		// whole stream; AdapterProtocolViolation is the caller's concern to
		// raise from higher up if it cares.
		return ctx.Err() == nil
	}
	select {
	case out <- decoded:
		return true
	case <-ctx.Done():
		return false
	}
}

// WriteSSE frames a single event as an SSE "data:" line onto w, matching
// the framing Read(FramingSSE) expects.
func WriteSSE(w io.Writer, e event.Event) error {
	raw, err := event.MarshalJSON(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}

// WriteSSEDone writes the terminal SSE sentinel line.
func WriteSSEDone(w io.Writer) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
	return err
}

// WriteNDJSON frames a single event as one line of newline-delimited JSON.
func WriteNDJSON(w io.Writer, e event.Event) error {
	raw, err := event.MarshalJSON(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}
