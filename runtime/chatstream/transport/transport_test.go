package transport_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/transport"
)

func drain(t *testing.T, events <-chan event.Event, errs <-chan error) []event.Event {
	t.Helper()
	var got []event.Event
	for e := range events {
		got = append(got, e)
	}
	require.NoError(t, <-errs)
	return got
}

func TestReadSSESkipsCommentsAndStopsAtDone(t *testing.T) {
	body := strings.Join([]string{
		`: comment`,
		`data: {"type":"TEXT_MESSAGE_START","messageId":"m1","role":"assistant"}`,
		``,
		`data: {"type":"TEXT_MESSAGE_END","messageId":"m1"}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	events, errs := transport.Read(context.Background(), strings.NewReader(body), transport.FramingSSE)
	got := drain(t, events, errs)
	require.Len(t, got, 2)
	require.Equal(t, event.TextMessageStart, got[0].Type())
	require.Equal(t, event.TextMessageEnd, got[1].Type())
}

func TestReadNDJSON(t *testing.T) {
	body := strings.Join([]string{
		`{"type":"RUN_FINISHED","finishReason":"stop"}`,
		``,
	}, "\n")

	events, errs := transport.Read(context.Background(), strings.NewReader(body), transport.FramingNDJSON)
	got := drain(t, events, errs)
	require.Len(t, got, 1)
	require.Equal(t, event.RunFinished, got[0].Type())
}

func TestWriteSSERoundTripsThroughRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, transport.WriteSSE(&buf, event.NewTextMessageContent("m1", "hi")))
	require.NoError(t, transport.WriteSSEDone(&buf))

	events, errs := transport.Read(context.Background(), &buf, transport.FramingSSE)
	got := drain(t, events, errs)
	require.Len(t, got, 1)
	require.Equal(t, event.TextMessageContent, got[0].Type())
}

func TestReadIgnoresUnknownEventType(t *testing.T) {
	body := `data: {"type":"FUTURE_EVENT","foo":"bar"}` + "\n\ndata: [DONE]\n\n"
	events, errs := transport.Read(context.Background(), strings.NewReader(body), transport.FramingSSE)
	got := drain(t, events, errs)
	require.Empty(t, got)
}
