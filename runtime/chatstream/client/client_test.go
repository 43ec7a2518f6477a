package client_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/chatstream/runtime/chatstream/client"
	"goa.design/chatstream/runtime/chatstream/emission"
	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
	"goa.design/chatstream/runtime/chatstream/processor"
	"goa.design/chatstream/runtime/chatstream/session"
)

func textRun(msgID string, chunks ...string) []event.Event {
	events := []event.Event{event.NewTextMessageStart(msgID, "assistant")}
	for _, chunk := range chunks {
		events = append(events, event.NewTextMessageContent(msgID, chunk))
	}
	return append(events, event.NewRunFinished("stop"))
}

func newTestClient(t *testing.T, adapter session.ConnectionAdapter, opts client.Options) *client.Client {
	t.Helper()
	opts.Session = session.New(adapter)
	c, err := client.New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSendTextStreamsAssistantReply(t *testing.T) {
	adapter := &session.InProcess{Events: textRun("m1", "Hel", "lo")}

	var mu sync.Mutex
	var statuses []client.Status
	c := newTestClient(t, adapter, client.Options{
		OnStatusChange: func(s client.Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})

	require.NoError(t, c.SendText(context.Background(), "hi"))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, message.RoleUser, msgs[0].Role)
	require.Equal(t, message.RoleAssistant, msgs[1].Role)
	require.Equal(t, []message.Part{message.TextPart{Content: "Hello"}}, msgs[1].Parts)

	require.False(t, c.Loading())
	require.Equal(t, client.StatusReady, c.Status())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []client.Status{client.StatusSubmitted, client.StatusStreaming, client.StatusReady}, statuses)
}

func TestSendMergesConversationIDIntoData(t *testing.T) {
	var gotData any
	adapter := &session.InProcess{
		Script: func(_ []message.ModelMessage, data any) ([]event.Event, error) {
			gotData = data
			return textRun("m1", "ok"), nil
		},
	}
	c := newTestClient(t, adapter, client.Options{
		ConversationID: "conv-1",
		BaseData:       map[string]any{"model": "base", "temp": 1},
	})

	require.NoError(t, c.SendMessage(context.Background(), map[string]any{"model": "override"}, message.TextPart{Content: "hi"}))

	payload, ok := gotData.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "conv-1", payload["conversationId"])
	require.Equal(t, "override", payload["model"])
	require.Equal(t, 1, payload["temp"])
}

func TestClientToolDispatchAndAutoContinue(t *testing.T) {
	toolInput, err := event.NewCustom(event.CustomToolInputAvailable, event.ToolInputAvailableData{
		ToolCallID: "t1",
		ToolName:   "write_file",
		Input:      json.RawMessage(`{"path":"x"}`),
	})
	require.NoError(t, err)

	var calls atomic.Int32
	adapter := &session.InProcess{
		Script: func(_ []message.ModelMessage, _ any) ([]event.Event, error) {
			if calls.Add(1) == 1 {
				return []event.Event{
					event.NewToolCallStart("t1", "write_file"),
					event.NewToolCallArgs("t1", `{"path":"x"}`),
					event.NewToolCallEnd("t1"),
					toolInput,
					event.NewRunFinished("tool-calls"),
				}, nil
			}
			return textRun("m2", "wrote it"), nil
		},
	}

	tools := client.NewToolSet()
	var executed atomic.Bool
	require.NoError(t, tools.Register("write_file", nil, func(_ context.Context, input json.RawMessage) (any, error) {
		executed.Store(true)
		return map[string]any{"ok": true}, nil
	}))

	c := newTestClient(t, adapter, client.Options{Tools: tools})
	require.NoError(t, c.SendText(context.Background(), "write the file"))

	require.True(t, executed.Load())
	require.Equal(t, int32(2), calls.Load(), "auto-continue should start a second stream")

	msgs := c.Messages()
	require.Len(t, msgs, 3)

	var tc message.ToolCallPart
	var tr message.ToolResultPart
	for _, p := range msgs[1].Parts {
		switch v := p.(type) {
		case message.ToolCallPart:
			tc = v
		case message.ToolResultPart:
			tr = v
		}
	}
	require.Equal(t, message.ToolCallInputComplete, tc.State)
	require.Equal(t, map[string]any{"ok": true}, tc.Output)
	require.Equal(t, message.ToolResultComplete, tr.State)
	require.Equal(t, "t1", tr.ToolCallID)

	require.Equal(t, []message.Part{message.TextPart{Content: "wrote it"}}, msgs[2].Parts)
}

func TestClientToolFailureStillAutoContinues(t *testing.T) {
	toolInput, err := event.NewCustom(event.CustomToolInputAvailable, event.ToolInputAvailableData{
		ToolCallID: "t1",
		ToolName:   "write_file",
		Input:      json.RawMessage(`{"wrong":"shape"}`),
	})
	require.NoError(t, err)

	var calls atomic.Int32
	adapter := &session.InProcess{
		Script: func(_ []message.ModelMessage, _ any) ([]event.Event, error) {
			if calls.Add(1) == 1 {
				return []event.Event{
					event.NewToolCallStart("t1", "write_file"),
					event.NewToolCallEnd("t1"),
					toolInput,
					event.NewRunFinished("tool-calls"),
				}, nil
			}
			return textRun("m2", "sorry"), nil
		},
	}

	tools := client.NewToolSet()
	schema := []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	require.NoError(t, tools.Register("write_file", schema, func(_ context.Context, _ json.RawMessage) (any, error) {
		t.Fatal("tool must not run on invalid input")
		return nil, nil
	}))

	c := newTestClient(t, adapter, client.Options{Tools: tools})
	require.NoError(t, c.SendText(context.Background(), "write the file"))

	require.Equal(t, int32(2), calls.Load(), "model should get a chance to react to the failure")

	var tr message.ToolResultPart
	for _, p := range c.Messages()[1].Parts {
		if v, ok := p.(message.ToolResultPart); ok {
			tr = v
		}
	}
	require.Equal(t, message.ToolResultError, tr.State)
	require.Contains(t, tr.Error, "invalid input")
}

func TestApprovalResponseTriggersAutoContinue(t *testing.T) {
	approval, err := event.NewCustom(event.CustomApprovalRequested, event.ApprovalRequestedData{
		ToolCallID: "t1",
		ToolName:   "send_email",
		Input:      json.RawMessage(`{"to":"x"}`),
		Approval:   event.ApprovalRef{ID: "a1"},
	})
	require.NoError(t, err)

	var calls atomic.Int32
	adapter := &session.InProcess{
		Script: func(_ []message.ModelMessage, _ any) ([]event.Event, error) {
			if calls.Add(1) == 1 {
				return []event.Event{
					event.NewToolCallStart("t1", "send_email"),
					event.NewToolCallEnd("t1"),
					approval,
					event.NewRunFinished("tool-calls"),
				}, nil
			}
			return textRun("m2", "sent"), nil
		},
	}

	c := newTestClient(t, adapter, client.Options{})

	var approvalID atomic.Value
	c.Processor().OnApprovalRequest(func(req processor.ApprovalRequest) {
		approvalID.Store(req.ApprovalID)
	})

	require.NoError(t, c.SendText(context.Background(), "send the email"))
	require.Equal(t, "a1", approvalID.Load())
	require.Equal(t, int32(1), calls.Load(), "no continuation before the approval is answered")

	tc := c.Messages()[1].Parts[0].(message.ToolCallPart)
	require.Equal(t, message.ToolCallApprovalRequested, tc.State)
	require.Equal(t, "a1", tc.Approval.ID)

	c.AddToolApprovalResponse(context.Background(), "t1", "a1", true)

	require.Equal(t, int32(2), calls.Load())
	tc = c.Messages()[1].Parts[0].(message.ToolCallPart)
	require.Equal(t, message.ToolCallApprovalResponded, tc.State)
	require.NotNil(t, tc.Approval.Approved)
	require.True(t, *tc.Approval.Approved)
	require.Equal(t, []message.Part{message.TextPart{Content: "sent"}}, c.Messages()[2].Parts)
}

// blockingAdapter emits its scripted events, then holds the stream open
// until released or the context is canceled.
type blockingAdapter struct {
	events  []event.Event
	release chan struct{}
}

func (a *blockingAdapter) Connect(ctx context.Context, _ []message.ModelMessage, _ any) (<-chan event.Event, <-chan error) {
	events := make(chan event.Event)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		for _, e := range a.events {
			select {
			case events <- e:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		select {
		case <-a.release:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return events, errs
}

func TestStopCancelsInFlightStream(t *testing.T) {
	adapter := &blockingAdapter{
		events: []event.Event{
			event.NewTextMessageStart("m1", "assistant"),
			event.NewTextMessageContent("m1", "partial"),
		},
		release: make(chan struct{}),
	}
	c := newTestClient(t, adapter, client.Options{})

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "hi") }()

	require.Eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 2 && len(msgs[1].Parts) == 1
	}, time.Second, time.Millisecond)

	c.Stop()
	require.NoError(t, <-done)
	require.False(t, c.Loading())
	require.Equal(t, client.StatusReady, c.Status())

	// Stragglers from the cancelled stream must not mutate the
	// conversation.
	before := c.Messages()
	close(adapter.release)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, before, c.Messages())
}

func TestReloadReplacesAssistantReply(t *testing.T) {
	var calls atomic.Int32
	adapter := &session.InProcess{
		Script: func(_ []message.ModelMessage, _ any) ([]event.Event, error) {
			if calls.Add(1) == 1 {
				return textRun("m1", "first"), nil
			}
			return textRun("m2", "second"), nil
		},
	}
	c := newTestClient(t, adapter, client.Options{})

	require.NoError(t, c.SendText(context.Background(), "hi"))
	require.Equal(t, message.TextPart{Content: "first"}, c.Messages()[1].Parts[0])

	require.NoError(t, c.Reload(context.Background()))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, message.RoleUser, msgs[0].Role)
	require.Equal(t, message.TextPart{Content: "second"}, msgs[1].Parts[0])
}

func TestRunErrorSetsErrorStatus(t *testing.T) {
	adapter := &session.InProcess{Events: []event.Event{
		event.NewTextMessageStart("m1", "assistant"),
		event.NewRunError("upstream exploded", "bad_gateway"),
	}}
	c := newTestClient(t, adapter, client.Options{})

	require.NoError(t, c.SendText(context.Background(), "hi"))
	require.Equal(t, client.StatusError, c.Status())
	require.False(t, c.Loading())
}

func TestWhitespaceOnlyReplyIsPruned(t *testing.T) {
	adapter := &session.InProcess{Events: textRun("m1", "\n")}
	c := newTestClient(t, adapter, client.Options{})

	require.NoError(t, c.SendText(context.Background(), "hi"))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, message.RoleUser, msgs[0].Role)
}

func TestSendMessageDuringStreamIsQueued(t *testing.T) {
	adapter := &blockingAdapter{
		events: []event.Event{
			event.NewTextMessageStart("m1", "assistant"),
			event.NewTextMessageContent("m1", "thinking..."),
		},
		release: make(chan struct{}),
	}
	c := newTestClient(t, adapter, client.Options{})

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "hi") }()

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, time.Millisecond)

	// Queued while streaming; must not run until the live stream ends.
	require.NoError(t, c.SendText(context.Background(), "and another thing"))
	require.Len(t, c.Messages(), 2)

	close(adapter.release)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		for _, m := range c.Messages() {
			if m.Role != message.RoleUser || len(m.Parts) != 1 {
				continue
			}
			if tp, ok := m.Parts[0].(message.TextPart); ok && tp.Content == "and another thing" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestTextEmissionOptionBatchesUpdates(t *testing.T) {
	adapter := &session.InProcess{Events: []event.Event{
		event.NewTextMessageStart("m1", "assistant"),
		event.NewTextMessageContent("m1", "One. "),
		event.NewTextMessageContent("m1", "Tw"),
		event.NewTextMessageContent("m1", "o"),
		event.NewRunFinished("stop"),
	}}
	c := newTestClient(t, adapter, client.Options{
		TextEmission: func() emission.Strategy { return emission.NewSentenceBoundary() },
	})

	var mu sync.Mutex
	var deltas []string
	c.Processor().OnTextUpdate(func(u processor.TextUpdate) {
		mu.Lock()
		deltas = append(deltas, u.Delta)
		mu.Unlock()
	})

	require.NoError(t, c.SendText(context.Background(), "hi"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"One. ", "Two"}, deltas)
	require.Equal(t, []message.Part{message.TextPart{Content: "One. Two"}}, c.Messages()[1].Parts)
}
