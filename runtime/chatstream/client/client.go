// Package client implements the ChatClient: the session orchestrator that
// wraps a StreamProcessor and a Session to manage message submission, the
// background subscription loop, cancellation, reload, and automatic
// continuation after tool results.
//
// A Client serializes all processor access behind its own mutex: the
// subscription loop, submission path, and tool-execution goroutines never
// touch the processor concurrently. Callers receive conversation snapshots
// through the processor's OnMessagesChange hook or via Messages.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/chatstream/runtime/chatstream/emission"
	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
	"goa.design/chatstream/runtime/chatstream/processor"
	"goa.design/chatstream/runtime/chatstream/telemetry"
)

// Status is the client's submission state machine. Transitions are
// ready -> submitted -> streaming -> ready, or -> error when a run fails.
type Status string

const (
	// StatusReady means no stream is in flight.
	StatusReady Status = "ready"
	// StatusSubmitted means a request has been sent but no event has been
	// observed yet.
	StatusSubmitted Status = "submitted"
	// StatusStreaming means events are being consumed.
	StatusStreaming Status = "streaming"
	// StatusError means the last run ended with a transport or adapter
	// error. A new submission clears it.
	StatusError Status = "error"
)

// Session is the long-lived subscribe/send channel the client drives. The
// default implementation is session.Session; tests may substitute fakes.
type Session interface {
	Subscribe(ctx context.Context) <-chan event.Event
	Send(ctx context.Context, messages []message.ModelMessage, data any) error
}

type (
	// Options configures a Client.
	Options struct {
		// Session carries events between the client and the model adapter.
		// Required.
		Session Session
		// Tools holds the client-executed tools dispatched on
		// "tool-input-available" events. Optional.
		Tools *ToolSet
		// BaseData is merged into the data payload of every Send, under
		// any per-call data.
		BaseData map[string]any
		// ConversationID identifies this conversation in Send payloads.
		// Defaults to a fresh UUID.
		ConversationID string
		// OnStatusChange is invoked on every Status transition.
		OnStatusChange func(Status)
		// DisableAutoContinue turns off the automatic follow-up stream
		// normally started once all tool calls have results.
		DisableAutoContinue bool
		// TextEmission produces the emission strategy applied to each
		// streamed message, gating how often text reaches subscribers.
		// Defaults to immediate emission.
		TextEmission func() emission.Strategy
		// Logger, Metrics and Tracer instrument the client lifecycle. They
		// default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Client owns one conversation: a processor, a session, and the
	// submission state machine around them.
	Client struct {
		proc *processor.Processor
		sess Session

		tools          *ToolSet
		baseData       map[string]any
		conversationID string
		onStatusChange func(Status)
		autoContinue   bool

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		mu         sync.Mutex
		status     Status
		loading    bool
		streaming  bool
		gen        uint64
		latch      chan struct{}
		sendCancel context.CancelFunc
		subCancel  context.CancelFunc
		subStarted bool

		// queued holds actions that arrived while a stream was live; they
		// drain in order after finalization.
		queued []func(ctx context.Context)

		continuationPending bool
		pendingTools        sync.WaitGroup
	}
)

// ErrSessionRequired is returned by New when no Session is configured.
var ErrSessionRequired = errors.New("client: session is required")

// errRunFailed marks the stream span failed when the protocol reported a
// RUN_ERROR; the detailed error reaches the host via the processor's
// OnError hook.
var errRunFailed = errors.New("run finished with error")

// New constructs a Client around a fresh StreamProcessor.
func New(opts Options) (*Client, error) {
	if opts.Session == nil {
		return nil, ErrSessionRequired
	}
	id := opts.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	var popts []processor.Option
	if opts.TextEmission != nil {
		popts = append(popts, processor.WithTextEmission(opts.TextEmission))
	}
	c := &Client{
		proc:           processor.New(popts...),
		sess:           opts.Session,
		tools:          opts.Tools,
		baseData:       opts.BaseData,
		conversationID: id,
		onStatusChange: opts.OnStatusChange,
		autoContinue:   !opts.DisableAutoContinue,
		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
		status:         StatusReady,
	}
	c.proc.OnToolCall(c.dispatchClientTool)
	return c, nil
}

// Processor exposes the underlying StreamProcessor so hosts can register
// lifecycle listeners (OnMessagesChange, OnTextUpdate, and so on). Mutating
// operations must go through the Client, which serializes them against the
// subscription loop.
func (c *Client) Processor() *processor.Processor { return c.proc }

// ConversationID returns the id merged into every Send payload.
func (c *Client) ConversationID() string { return c.conversationID }

// Status returns the current submission state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Loading reports whether a stream is in flight.
func (c *Client) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Messages returns a snapshot of the conversation.
func (c *Client) Messages() []message.UIMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc.GetMessages()
}

// SetMessages replaces the conversation, typically when restoring a saved
// session. It is queued if a stream is live.
func (c *Client) SetMessages(msgs []message.UIMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		c.queued = append(c.queued, func(context.Context) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.proc.SetMessages(msgs)
		})
		return
	}
	c.proc.SetMessages(msgs)
}

// SendMessage appends a user message and streams the model's response. If a
// stream is already live the submission is queued and runs after the
// current stream finalizes.
func (c *Client) SendMessage(ctx context.Context, data map[string]any, parts ...message.Part) error {
	c.mu.Lock()
	if c.streaming {
		c.queued = append(c.queued, func(ctx context.Context) {
			_ = c.SendMessage(ctx, data, parts...)
		})
		c.mu.Unlock()
		return nil
	}
	c.proc.AddUserMessage(parts...)
	c.mu.Unlock()
	return c.StreamResponse(ctx, data)
}

// SendText is shorthand for SendMessage with a single TextPart.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.SendMessage(ctx, nil, message.TextPart{Content: text})
}

// StreamResponse sends the current conversation to the adapter and consumes
// the resulting event stream to completion, including any client tool
// executions it requests. It returns once the stream has finalized, or
// silently if a newer stream superseded this one.
func (c *Client) StreamResponse(ctx context.Context, data map[string]any) error {
	c.ensureSubscription()

	ctx, span := c.tracer.StartStream(ctx, c.conversationID)
	defer span.End()
	started := time.Now()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	latch := make(chan struct{})
	c.latch = latch
	c.streaming = true
	c.loading = true
	c.setStatusLocked(StatusSubmitted)
	c.proc.PrepareAssistantMessage()
	sendCtx, cancel := context.WithCancel(ctx)
	c.sendCancel = cancel
	msgs := c.proc.ToModelMessages()
	payload := c.mergeData(data)
	c.mu.Unlock()

	c.logger.Debug(ctx, "stream response", "conversation_id", c.conversationID, "messages", len(msgs))
	c.metrics.RecordStreamStart(ctx)

	sendErr := c.sess.Send(sendCtx, msgs, payload)
	cancel()

	// The session pushed a terminal event (or synthesized one); wait for
	// the subscription loop to process it, then for any client tool
	// executions it spawned.
	select {
	case <-latch:
	case <-ctx.Done():
	}
	c.pendingTools.Wait()

	c.mu.Lock()
	if gen != c.gen {
		// Superseded by Stop or a newer stream; the owner of the current
		// generation controls loading and status now.
		c.mu.Unlock()
		c.metrics.RecordStreamEnd(ctx, time.Since(started), "superseded")
		return nil
	}
	res := c.proc.FinalizeStream(ctx)
	queued := c.queued
	c.queued = nil
	c.streaming = false
	c.loading = false
	switch {
	case res.HasError:
		c.setStatusLocked(StatusError)
	case sendErr != nil && !errors.Is(sendErr, context.Canceled):
		c.setStatusLocked(StatusError)
	default:
		c.setStatusLocked(StatusReady)
	}
	c.mu.Unlock()

	outcome := "ok"
	if res.HasError || (sendErr != nil && !errors.Is(sendErr, context.Canceled)) {
		outcome = "error"
	}
	c.metrics.RecordStreamEnd(ctx, time.Since(started), outcome)
	if res.HasError {
		span.RecordError(errRunFailed)
	}
	if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		span.RecordError(sendErr)
		c.logger.Error(ctx, "stream send failed", "conversation_id", c.conversationID, "err", sendErr.Error())
		return sendErr
	}

	// Suppress continuation while the queue drains so a queued tool result
	// cannot start a follow-up stream before later queued actions apply.
	c.mu.Lock()
	suppressed := c.continuationPending
	c.continuationPending = true
	c.mu.Unlock()
	for _, fn := range queued {
		fn(ctx)
	}
	c.mu.Lock()
	c.continuationPending = suppressed
	c.mu.Unlock()

	c.maybeAutoContinue(ctx)
	return nil
}

// AddToolResult records a client tool's output against an existing tool
// call. During a live stream the update is queued and applied after
// finalization; otherwise it applies immediately and may trigger an
// auto-continuation.
func (c *Client) AddToolResult(ctx context.Context, toolCallID, content string, state message.ToolResultState, errText string) {
	c.mu.Lock()
	if c.streaming {
		c.queued = append(c.queued, func(ctx context.Context) {
			c.AddToolResult(ctx, toolCallID, content, state, errText)
		})
		c.mu.Unlock()
		return
	}
	c.proc.AddToolResult(toolCallID, content, state, errText)
	c.mu.Unlock()
	c.maybeAutoContinue(ctx)
}

// AddToolApprovalResponse records the user's answer to a pending approval.
// Like AddToolResult it is queued while a stream is live and may trigger an
// auto-continuation once applied.
func (c *Client) AddToolApprovalResponse(ctx context.Context, toolCallID, approvalID string, approved bool) {
	c.mu.Lock()
	if c.streaming {
		c.queued = append(c.queued, func(ctx context.Context) {
			c.AddToolApprovalResponse(ctx, toolCallID, approvalID, approved)
		})
		c.mu.Unlock()
		return
	}
	c.proc.AddToolApprovalResponse(toolCallID, approvalID, approved)
	c.mu.Unlock()
	c.maybeAutoContinue(ctx)
}

// Stop aborts the in-flight stream, if any. Cancellation is not an error:
// status returns to ready and the superseded StreamResponse call exits
// without finalizing.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.sendCancel != nil {
		c.sendCancel()
		c.sendCancel = nil
	}
	if c.latch != nil {
		close(c.latch)
		c.latch = nil
	}
	c.streaming = false
	c.loading = false
	c.queued = nil
	c.setStatusLocked(StatusReady)
}

// Reload aborts any live stream, removes every message after the last user
// message, and streams a fresh response to it.
func (c *Client) Reload(ctx context.Context) error {
	c.Stop()
	c.mu.Lock()
	var lastUserID string
	for _, m := range c.proc.GetMessages() {
		if m.Role == message.RoleUser {
			lastUserID = m.ID
		}
	}
	if lastUserID == "" {
		c.mu.Unlock()
		return errors.New("client: no user message to reload from")
	}
	c.proc.RemoveMessagesAfter(lastUserID)
	c.mu.Unlock()
	return c.StreamResponse(ctx, nil)
}

// Close tears down the subscription loop. The client is not reusable
// afterwards.
func (c *Client) Close() {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subCancel != nil {
		c.subCancel()
		c.subCancel = nil
	}
}

// ensureSubscription starts the background loop that drains session events
// into the processor. Started at most once per client.
func (c *Client) ensureSubscription() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subStarted {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.subCancel = cancel
	ch := c.sess.Subscribe(ctx)
	go c.subscriptionLoop(ctx, ch)
	c.subStarted = true
}

func (c *Client) subscriptionLoop(ctx context.Context, ch <-chan event.Event) {
	for e := range ch {
		c.mu.Lock()
		if !c.streaming {
			// A stopped or superseded stream's stragglers (including the
			// RUN_ERROR synthesized for an aborted send) are dropped so a
			// cancelled stream never mutates the conversation again.
			c.mu.Unlock()
			continue
		}
		c.proc.ProcessChunk(ctx, e)
		terminal := e.Type() == event.RunFinished || e.Type() == event.RunError
		if !terminal && c.status == StatusSubmitted {
			c.setStatusLocked(StatusStreaming)
		}
		var latch chan struct{}
		if terminal {
			latch = c.latch
			c.latch = nil
		}
		c.mu.Unlock()
		if latch != nil {
			close(latch)
		}
	}
}

// dispatchClientTool runs a client tool in its own goroutine and enqueues
// its result. It is registered as the processor's OnToolCall listener, so
// it runs synchronously within ProcessChunk: the WaitGroup increment is
// therefore always visible to StreamResponse before the terminal event
// releases the latch.
func (c *Client) dispatchClientTool(req processor.ToolCallRequest) {
	c.pendingTools.Add(1)
	go func() {
		defer c.pendingTools.Done()
		ctx := context.Background()
		if c.tools == nil {
			c.AddToolResult(ctx, req.ToolCallID, "", message.ToolResultError, "no client tools registered")
			return
		}
		started := time.Now()
		out, err := c.tools.Execute(ctx, req.ToolName, req.Input)
		c.metrics.RecordToolExecution(ctx, req.ToolName, time.Since(started), err)
		if err != nil {
			c.logger.Warn(ctx, "client tool failed", "tool", req.ToolName, "err", err.Error())
			c.AddToolResult(ctx, req.ToolCallID, "", message.ToolResultError, err.Error())
			return
		}
		content, err := json.Marshal(out)
		if err != nil {
			c.AddToolResult(ctx, req.ToolCallID, "", message.ToolResultError, err.Error())
			return
		}
		c.AddToolResult(ctx, req.ToolCallID, string(content), message.ToolResultComplete, "")
	}()
}

// maybeAutoContinue starts a follow-up stream when the conversation ends on
// a tool result and every tool call has resolved, so the model can react to
// the results. Guarded against re-entry from its own StreamResponse.
func (c *Client) maybeAutoContinue(ctx context.Context) {
	if !c.autoContinue {
		return
	}
	for {
		c.mu.Lock()
		if c.streaming || c.continuationPending || !c.endsOnToolResultLocked() || !c.proc.AreAllToolsComplete() {
			c.mu.Unlock()
			return
		}
		c.continuationPending = true
		c.mu.Unlock()

		c.logger.Debug(ctx, "auto-continue", "conversation_id", c.conversationID)
		err := c.StreamResponse(ctx, nil)
		c.mu.Lock()
		c.continuationPending = false
		c.mu.Unlock()
		if err != nil {
			c.logger.Error(ctx, "auto-continue failed", "conversation_id", c.conversationID, "err", err.Error())
			return
		}
	}
}

// endsOnToolResultLocked reports whether the conversation's last part is
// something the model should get a turn to react to: a tool result, or a
// tool call whose approval gate has just been answered.
func (c *Client) endsOnToolResultLocked() bool {
	msgs := c.proc.GetMessages()
	if len(msgs) == 0 {
		return false
	}
	parts := msgs[len(msgs)-1].Parts
	if len(parts) == 0 {
		return false
	}
	switch last := parts[len(parts)-1].(type) {
	case message.ToolResultPart:
		return true
	case message.ToolCallPart:
		return last.State == message.ToolCallApprovalResponded
	default:
		return false
	}
}

func (c *Client) mergeData(data map[string]any) map[string]any {
	merged := make(map[string]any, len(c.baseData)+len(data)+1)
	for k, v := range c.baseData {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	merged["conversationId"] = c.conversationID
	return merged
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.onStatusChange != nil {
		c.onStatusChange(s)
	}
}
