// Package processor implements the StreamProcessor: the deterministic state
// machine that turns an ordered sequence of protocol events into a
// structured conversation of UIMessages. ProcessChunk is synchronous and
// never returns an error; protocol violations are tolerated locally per the
// adapter contract, never surfaced as a failure of the call.
package processor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"goa.design/chatstream/runtime/chatstream/emission"
	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
	"goa.design/chatstream/runtime/chatstream/mutate"
	"goa.design/chatstream/runtime/chatstream/partialjson"
	"goa.design/chatstream/runtime/chatstream/recording"
)

type (
	// TextUpdate is the payload of onTextUpdate/onThinkingUpdate.
	TextUpdate struct {
		MessageID string
		// Delta is the text released by the event (or flush) that
		// triggered this update.
		Delta string
		// Content is the current segment's text flushed so far, including
		// Delta. With a buffering emission strategy it trails the raw
		// accumulation until the next flush.
		Content string
	}

	// ToolCallStateChange is the payload of onToolCallStateChange.
	ToolCallStateChange struct {
		MessageID  string
		ToolCallID string
		State      message.ToolCallState
		Arguments  string
	}

	// ToolCallRequest is the payload of onToolCall, fired for client tools
	// whose arguments are complete and ready to execute.
	ToolCallRequest struct {
		ToolCallID string
		ToolName   string
		Input      json.RawMessage
	}

	// ApprovalRequest is the payload of onApprovalRequest.
	ApprovalRequest struct {
		ToolCallID string
		ToolName   string
		Input      json.RawMessage
		ApprovalID string
	}

	// ProcessorResult is the outcome of a finalized stream.
	ProcessorResult struct {
		Messages     []message.UIMessage
		FinishReason string
		HasError     bool
	}
)

// messageStreamState is the per-message accumulation state the processor
// maintains while a message is being built.
type messageStreamState struct {
	role               message.Role
	totalTextContent   int
	currentSegmentText string
	// lastEmittedText is the portion of currentSegmentText already flushed
	// to the message's parts; it trails by whatever the emission strategy
	// still buffers.
	lastEmittedText            string
	thinkingContent            string
	emission                   emission.Strategy
	toolCalls                  map[string]*internalToolCall
	toolCallOrder              []string
	hasToolCallsSinceTextStart bool
	isComplete                 bool
}

type internalToolCall struct {
	id     string
	name   string
	state  message.ToolCallState
	parser *partialjson.Parser
}

func newMessageStreamState(role message.Role, strategy emission.Strategy) *messageStreamState {
	return &messageStreamState{role: role, emission: strategy, toolCalls: make(map[string]*internalToolCall)}
}

// Processor is the StreamProcessor. A zero value is not usable; construct
// with New.
type Processor struct {
	messages      []message.UIMessage
	messageStates map[string]*messageStreamState

	activeMessageIDs []string
	toolCallToMessage map[string]string

	pendingManualMessageID    string
	currentAssistantMessageID string

	finishReason string
	hasError     bool
	isDone       bool

	rec   recording.Store
	recID string

	newEmission func() emission.Strategy

	onMessagesChangeBus      *listenerBus[[]message.UIMessage]
	onStreamStartBus         *listenerBus[struct{}]
	onStreamEndBus           *listenerBus[ProcessorResult]
	onErrorBus               *listenerBus[error]
	onTextUpdateBus          *listenerBus[TextUpdate]
	onThinkingUpdateBus      *listenerBus[TextUpdate]
	onToolCallStateChangeBus *listenerBus[ToolCallStateChange]
	onToolCallBus            *listenerBus[ToolCallRequest]
	onApprovalRequestBus     *listenerBus[ApprovalRequest]
}

// Option configures a Processor.
type Option func(*Processor)

// WithTextEmission sets the factory producing the per-message emission
// strategy that gates how often streamed text reaches subscribers. The
// default releases every delta immediately.
func WithTextEmission(factory func() emission.Strategy) Option {
	return func(p *Processor) {
		if factory != nil {
			p.newEmission = factory
		}
	}
}

// New returns an empty Processor.
func New(opts ...Option) *Processor {
	p := &Processor{
		messageStates:     make(map[string]*messageStreamState),
		toolCallToMessage: make(map[string]string),
		newEmission:       func() emission.Strategy { return emission.NewImmediate() },

		onMessagesChangeBus:      newListenerBus[[]message.UIMessage](),
		onStreamStartBus:         newListenerBus[struct{}](),
		onStreamEndBus:           newListenerBus[ProcessorResult](),
		onErrorBus:               newListenerBus[error](),
		onTextUpdateBus:          newListenerBus[TextUpdate](),
		onThinkingUpdateBus:      newListenerBus[TextUpdate](),
		onToolCallStateChangeBus: newListenerBus[ToolCallStateChange](),
		onToolCallBus:            newListenerBus[ToolCallRequest](),
		onApprovalRequestBus:     newListenerBus[ApprovalRequest](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnMessagesChange registers a listener called whenever the conversation
// changes: a message is added or removed, or a message's parts change.
func (p *Processor) OnMessagesChange(fn func([]message.UIMessage)) *subscription {
	return p.onMessagesChangeBus.Subscribe(fn)
}

// OnStreamStart registers a listener called by PrepareAssistantMessage.
func (p *Processor) OnStreamStart(fn func(struct{})) *subscription {
	return p.onStreamStartBus.Subscribe(fn)
}

// OnStreamEnd registers a listener called by FinalizeStream.
func (p *Processor) OnStreamEnd(fn func(ProcessorResult)) *subscription {
	return p.onStreamEndBus.Subscribe(fn)
}

// OnError registers a listener called when a RUN_ERROR event is processed.
func (p *Processor) OnError(fn func(error)) *subscription {
	return p.onErrorBus.Subscribe(fn)
}

// OnTextUpdate registers a listener called whenever the message's emission
// strategy releases text (on every delta with the default immediate
// strategy).
func (p *Processor) OnTextUpdate(fn func(TextUpdate)) *subscription {
	return p.onTextUpdateBus.Subscribe(fn)
}

// OnThinkingUpdate registers a listener called on every thinking delta.
func (p *Processor) OnThinkingUpdate(fn func(TextUpdate)) *subscription {
	return p.onThinkingUpdateBus.Subscribe(fn)
}

// OnToolCallStateChange registers a listener called on every tool-call
// state transition.
func (p *Processor) OnToolCallStateChange(fn func(ToolCallStateChange)) *subscription {
	return p.onToolCallStateChangeBus.Subscribe(fn)
}

// OnToolCall registers a listener called when a client tool's input becomes
// available for execution.
func (p *Processor) OnToolCall(fn func(ToolCallRequest)) *subscription {
	return p.onToolCallBus.Subscribe(fn)
}

// OnApprovalRequest registers a listener called when a tool call requires
// user approval.
func (p *Processor) OnApprovalRequest(fn func(ApprovalRequest)) *subscription {
	return p.onApprovalRequestBus.Subscribe(fn)
}

// SetMessages replaces the conversation wholesale and rebuilds the
// toolCallToMessage index from the new contents; it is the only place that
// index is rebuilt outside of normal streaming.
func (p *Processor) SetMessages(msgs []message.UIMessage) {
	p.messages = append([]message.UIMessage(nil), msgs...)
	p.messageStates = make(map[string]*messageStreamState)
	p.toolCallToMessage = make(map[string]string)
	p.activeMessageIDs = nil
	p.pendingManualMessageID = ""
	p.currentAssistantMessageID = ""
	for _, m := range p.messages {
		for _, part := range m.Parts {
			if tc, ok := part.(message.ToolCallPart); ok {
				p.toolCallToMessage[tc.ID] = m.ID
			}
		}
	}
	p.emitMessagesChange()
}

// AddUserMessage appends a new user message with the given parts and
// returns it.
func (p *Processor) AddUserMessage(parts ...message.Part) message.UIMessage {
	m := message.UIMessage{ID: newMessageID(), Role: message.RoleUser, Parts: append([]message.Part(nil), parts...), CreatedAt: time.Now()}
	p.messages = append(p.messages, m)
	p.emitMessagesChange()
	return m
}

// PrepareAssistantMessage reserves an id for the assistant message about to
// be streamed without creating a UIMessage yet, so an auto-continuation
// that produces no content never flickers an empty bubble into view. It
// also resets the per-stream terminal flags left over from any prior
// stream.
func (p *Processor) PrepareAssistantMessage() string {
	p.pendingManualMessageID = newMessageID()
	p.currentAssistantMessageID = ""
	p.finishReason = ""
	p.hasError = false
	p.isDone = false
	p.onStreamStartBus.Publish(struct{}{})
	return p.pendingManualMessageID
}

// AddToolResult records a client tool's output or error against an
// existing tool call. It is a no-op if toolCallID is unknown.
func (p *Processor) AddToolResult(toolCallID, content string, state message.ToolResultState, errMsg string) {
	msgID, ok := p.toolCallToMessage[toolCallID]
	if !ok {
		return
	}
	idx := p.findMessage(msgID)
	if idx < 0 {
		return
	}
	var output any
	if state == message.ToolResultComplete && content != "" {
		_ = json.Unmarshal([]byte(content), &output)
	}
	parts := p.messages[idx].Parts
	if output != nil {
		parts = mutate.UpdateToolCallWithOutput(parts, toolCallID, output)
	}
	parts = mutate.UpdateToolResultPart(parts, toolCallID, content, state, errMsg)
	p.messages[idx].Parts = parts
	p.emitMessagesChange()
}

// AddToolApprovalResponse records the user's answer to a pending approval.
// An unknown toolCallID or a mismatched approvalID is a no-op.
func (p *Processor) AddToolApprovalResponse(toolCallID, approvalID string, approved bool) {
	msgID, ok := p.toolCallToMessage[toolCallID]
	if !ok {
		return
	}
	idx := p.findMessage(msgID)
	if idx < 0 {
		return
	}
	next := mutate.UpdateToolCallApprovalResponse(p.messages[idx].Parts, toolCallID, approvalID, approved)
	if sameParts(next, p.messages[idx].Parts) {
		return
	}
	p.messages[idx].Parts = next
	p.onToolCallStateChangeBus.Publish(ToolCallStateChange{
		MessageID:  msgID,
		ToolCallID: toolCallID,
		State:      message.ToolCallApprovalResponded,
	})
	p.emitMessagesChange()
}

// ToModelMessages converts the conversation into the wire shape sent back
// to a language-model provider: ThinkingParts are dropped, and each
// ToolResultPart spawns a separate role=tool message.
func ToModelMessages(msgs []message.UIMessage) []message.ModelMessage {
	var out []message.ModelMessage
	for _, m := range msgs {
		mm := message.ModelMessage{Role: m.Role}
		var textBuilder strings.Builder
		var toolResults []message.ModelMessage
		for _, part := range m.Parts {
			switch v := part.(type) {
			case message.TextPart:
				textBuilder.WriteString(v.Content)
			case message.ThinkingPart:
				// dropped
			case message.ToolCallPart:
				mm.ToolCalls = append(mm.ToolCalls, message.ModelToolCall{ID: v.ID, Name: v.Name, Arguments: v.Arguments})
			case message.ToolResultPart:
				toolResults = append(toolResults, message.ModelMessage{Role: "tool", ToolCallID: v.ToolCallID, Content: v.Content})
			case message.ContentPart:
				mm.Parts = append(mm.Parts, message.ModelContentPart{Kind: v.Kind, Source: v.Source})
			}
		}
		mm.Content = textBuilder.String()
		out = append(out, mm)
		out = append(out, toolResults...)
	}
	return out
}

// ToModelMessages is the instance method counterpart operating on the
// processor's current conversation.
func (p *Processor) ToModelMessages() []message.ModelMessage {
	return ToModelMessages(p.messages)
}

// GetMessages returns a snapshot of the current conversation. The returned
// slice and its messages' Parts slices are never mutated in place by the
// processor; later changes always produce new slices, so callers may retain
// this snapshot safely.
func (p *Processor) GetMessages() []message.UIMessage {
	return append([]message.UIMessage(nil), p.messages...)
}

// AreAllToolsComplete reports whether every known tool call across every
// message has reached input-complete and, if it required approval, has
// reached approval-responded.
func (p *Processor) AreAllToolsComplete() bool {
	for _, m := range p.messages {
		for _, part := range m.Parts {
			tc, ok := part.(message.ToolCallPart)
			if !ok {
				continue
			}
			if tc.State != message.ToolCallInputComplete && tc.State != message.ToolCallApprovalResponded {
				return false
			}
			if tc.Approval != nil && tc.Approval.NeedsApproval && tc.Approval.Approved == nil {
				return false
			}
		}
	}
	return true
}

// RemoveMessagesAfter truncates the conversation to everything up to and
// including messageID, dropping all later messages. It is used by reload to
// discard an assistant's in-flight reply while keeping the user's prompt.
func (p *Processor) RemoveMessagesAfter(messageID string) {
	idx := p.findMessage(messageID)
	if idx < 0 {
		return
	}
	p.messages = p.messages[:idx+1]
	p.emitMessagesChange()
}

// ClearMessages empties the conversation and its per-message stream state.
// The finish reason, error flag and any recording are kept; Reset clears
// those too.
func (p *Processor) ClearMessages() {
	p.SetMessages(nil)
}

// Reset clears the conversation and any recording in progress, returning
// the processor to its constructed state.
func (p *Processor) Reset() {
	p.ClearMessages()
	p.rec = nil
	p.recID = ""
	p.finishReason = ""
	p.hasError = false
	p.isDone = false
}

// StartRecording enables capture of every event passed to ProcessChunk
// under recordingID, so the run can later be replayed with Replay.
func (p *Processor) StartRecording(store recording.Store, recordingID string) {
	p.rec = store
	p.recID = recordingID
}

// GetRecording returns the recording captured so far, if recording is
// enabled.
func (p *Processor) GetRecording(ctx context.Context) (recording.Recording, error) {
	if p.rec == nil {
		return recording.Recording{}, recording.ErrNotFound
	}
	return p.rec.Get(ctx, p.recID)
}

// Process iterates events, calling ProcessChunk for each in order, until
// the channel closes or ctx is canceled.
func (p *Processor) Process(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			p.ProcessChunk(ctx, e)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessChunk applies a single event to the conversation. It is
// synchronous, never suspends, and never returns an error: protocol
// violations (unknown types, orphan args, duplicate starts) are tolerated
// and simply dropped.
func (p *Processor) ProcessChunk(ctx context.Context, e event.Event) {
	if p.rec != nil {
		_ = p.rec.Append(ctx, p.recID, recording.Entry{Event: e, At: e.Time()})
	}

	switch v := e.(type) {
	case *event.TextMessageStartEvent:
		p.handleTextMessageStart(v)
	case *event.TextMessageContentEvent:
		p.handleTextMessageContent(v)
	case *event.TextMessageEndEvent:
		p.handleTextMessageEnd(v)
	case *event.ToolCallStartEvent:
		p.handleToolCallStart(v)
	case *event.ToolCallArgsEvent:
		p.handleToolCallArgs(v)
	case *event.ToolCallEndEvent:
		p.handleToolCallEnd(v)
	case *event.StepFinishedEvent:
		p.handleStepFinished(v)
	case *event.RunFinishedEvent:
		p.handleRunFinished(v)
	case *event.RunErrorEvent:
		p.handleRunError(v)
	case *event.MessagesSnapshotEvent:
		p.handleMessagesSnapshot(v)
	case *event.CustomEvent:
		p.handleCustom(v)
	}
}

func (p *Processor) handleTextMessageStart(e *event.TextMessageStartEvent) {
	if p.pendingManualMessageID != "" && p.pendingManualMessageID != e.MessageID {
		p.rebind(p.pendingManualMessageID, e.MessageID)
	}
	p.ensureAssistantMessage(e.MessageID, message.Role(e.Role))
	p.pendingManualMessageID = ""
}

func (p *Processor) handleTextMessageContent(e *event.TextMessageContentEvent) {
	id := p.ensureAssistantMessage(e.MessageID, message.RoleAssistant)
	state := p.messageStates[id]
	if state.hasToolCallsSinceTextStart {
		state.currentSegmentText = ""
		state.lastEmittedText = ""
		state.hasToolCallsSinceTextStart = false
	}

	appended, next := reconcile(state.currentSegmentText, e.Delta, e.Content)
	if appended == "" {
		return
	}
	state.currentSegmentText = next
	state.totalTextContent += len(appended)

	emit, ok := state.emission.Feed(appended)
	if !ok {
		return
	}
	p.appendText(id, state, emit)
}

// appendText flushes released text into the message's parts and notifies
// subscribers.
func (p *Processor) appendText(id string, state *messageStreamState, text string) {
	idx := p.findMessage(id)
	if idx < 0 {
		return
	}
	state.lastEmittedText += text
	p.messages[idx].Parts = mutate.UpdateTextPart(p.messages[idx].Parts, text)
	p.onTextUpdateBus.Publish(TextUpdate{MessageID: id, Delta: text, Content: state.lastEmittedText})
	p.emitMessagesChange()
}

// flushPendingText forces out any text the message's emission strategy
// still buffers. Called at segment boundaries and stream end so part
// ordering and final content never depend on the strategy.
func (p *Processor) flushPendingText(id string) {
	state, ok := p.messageStates[id]
	if !ok {
		return
	}
	if emit, ok := state.emission.Flush(); ok {
		p.appendText(id, state, emit)
	}
}

func (p *Processor) handleTextMessageEnd(e *event.TextMessageEndEvent) {
	id := e.MessageID
	if id == "" {
		id = p.currentAssistantMessageID
	}
	p.flushPendingText(id)
	p.completeMessageToolCalls(id)
	if st, ok := p.messageStates[id]; ok {
		st.isComplete = true
	}
	p.deactivate(id)
}

func (p *Processor) handleStepFinished(e *event.StepFinishedEvent) {
	id := p.ensureAssistantMessage(e.MessageID, message.RoleAssistant)
	p.flushPendingText(id)
	state := p.messageStates[id]

	appended, next := reconcile(state.thinkingContent, e.Delta, e.Content)
	if appended == "" {
		return
	}
	state.thinkingContent = next

	idx := p.findMessage(id)
	p.messages[idx].Parts = mutate.UpdateThinkingPart(p.messages[idx].Parts, appended)
	p.onThinkingUpdateBus.Publish(TextUpdate{MessageID: id, Delta: appended, Content: next})
	p.emitMessagesChange()
}

func (p *Processor) handleToolCallStart(e *event.ToolCallStartEvent) {
	if _, exists := p.toolCallToMessage[e.ToolCallID]; exists {
		return
	}
	msgID := e.ParentMessageID
	if msgID == "" {
		msgID = p.ensureAssistantMessage("", message.RoleAssistant)
	} else {
		msgID = p.ensureAssistantMessage(msgID, message.RoleAssistant)
	}
	// A message closed by TEXT_MESSAGE_END becomes active again so the
	// terminal safety net still completes this call.
	p.activeMessageIDs = appendUnique(p.activeMessageIDs, msgID)
	p.flushPendingText(msgID)
	state := p.messageStates[msgID]
	state.hasToolCallsSinceTextStart = true
	state.toolCallOrder = append(state.toolCallOrder, e.ToolCallID)
	state.toolCalls[e.ToolCallID] = &internalToolCall{id: e.ToolCallID, name: e.ToolName, state: message.ToolCallAwaitingInput, parser: partialjson.New()}
	p.toolCallToMessage[e.ToolCallID] = msgID

	idx := p.findMessage(msgID)
	p.messages[idx].Parts = mutate.StartToolCallPart(p.messages[idx].Parts, e.ToolCallID, e.ToolName)
	p.onToolCallStateChangeBus.Publish(ToolCallStateChange{MessageID: msgID, ToolCallID: e.ToolCallID, State: message.ToolCallAwaitingInput})
	p.emitMessagesChange()
}

func (p *Processor) handleToolCallArgs(e *event.ToolCallArgsEvent) {
	msgID, ok := p.toolCallToMessage[e.ToolCallID]
	if !ok {
		return
	}
	state, ok := p.messageStates[msgID]
	if !ok {
		return
	}
	tc, ok := state.toolCalls[e.ToolCallID]
	if !ok {
		return
	}
	idx := p.findMessage(msgID)
	p.messages[idx].Parts = mutate.UpdateToolCallPart(p.messages[idx].Parts, e.ToolCallID, e.Delta)
	if e.Delta != "" && tc.state == message.ToolCallAwaitingInput {
		tc.state = message.ToolCallInputStreaming
		p.onToolCallStateChangeBus.Publish(ToolCallStateChange{MessageID: msgID, ToolCallID: e.ToolCallID, State: tc.state})
	}
	if cp, ok := p.findToolCall(idx, e.ToolCallID); ok {
		tc.parser.Parse(cp.Arguments)
	}
	p.emitMessagesChange()
}

func (p *Processor) handleToolCallEnd(e *event.ToolCallEndEvent) {
	msgID, ok := p.toolCallToMessage[e.ToolCallID]
	if !ok {
		return
	}
	state, ok := p.messageStates[msgID]
	if !ok {
		return
	}
	tc, ok := state.toolCalls[e.ToolCallID]
	if !ok {
		return
	}
	idx := p.findMessage(msgID)

	var finalArgs *string
	if len(e.Input) > 0 {
		s := string(e.Input)
		finalArgs = &s
	}
	p.messages[idx].Parts = mutate.CompleteToolCallPart(p.messages[idx].Parts, e.ToolCallID, finalArgs)
	if tc.state != message.ToolCallInputComplete {
		tc.state = message.ToolCallInputComplete
		p.onToolCallStateChangeBus.Publish(ToolCallStateChange{MessageID: msgID, ToolCallID: e.ToolCallID, State: tc.state})
	}

	if len(e.Result) > 0 {
		var output any
		_ = json.Unmarshal(e.Result, &output)
		p.messages[idx].Parts = mutate.UpdateToolCallWithOutput(p.messages[idx].Parts, e.ToolCallID, output)
		p.messages[idx].Parts = mutate.UpdateToolResultPart(p.messages[idx].Parts, e.ToolCallID, string(e.Result), message.ToolResultComplete, "")
	}
	p.emitMessagesChange()
}

func (p *Processor) handleRunFinished(e *event.RunFinishedEvent) {
	p.finishReason = e.FinishReason
	for _, id := range p.activeMessageIDs {
		p.flushPendingText(id)
	}
	p.completeAllToolCalls()
	p.isDone = true
	for _, id := range p.activeMessageIDs {
		if st, ok := p.messageStates[id]; ok {
			st.isComplete = true
		}
	}
	p.activeMessageIDs = nil
}

func (p *Processor) handleRunError(e *event.RunErrorEvent) {
	p.hasError = true
	for _, id := range p.activeMessageIDs {
		p.flushPendingText(id)
	}
	p.completeAllToolCalls()
	p.isDone = true
	p.activeMessageIDs = nil
	p.onErrorBus.Publish(&RunError{Message: e.Error.Message, Code: e.Error.Code})
}

func (p *Processor) handleMessagesSnapshot(e *event.MessagesSnapshotEvent) {
	var raw []json.RawMessage
	if err := json.Unmarshal(e.Messages, &raw); err != nil {
		return
	}
	msgs := make([]message.UIMessage, 0, len(raw))
	for _, r := range raw {
		m, err := message.UnmarshalUIMessage(r)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	p.SetMessages(msgs)
}

func (p *Processor) handleCustom(e *event.CustomEvent) {
	switch e.Name {
	case event.CustomToolInputAvailable:
		var data event.ToolInputAvailableData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		p.onToolCallBus.Publish(ToolCallRequest{ToolCallID: data.ToolCallID, ToolName: data.ToolName, Input: data.Input})
	case event.CustomApprovalRequested:
		var data event.ApprovalRequestedData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		msgID, ok := p.toolCallToMessage[data.ToolCallID]
		if !ok {
			return
		}
		idx := p.findMessage(msgID)
		p.messages[idx].Parts = mutate.UpdateToolCallApproval(p.messages[idx].Parts, data.ToolCallID, data.Approval.ID)
		p.onToolCallStateChangeBus.Publish(ToolCallStateChange{MessageID: msgID, ToolCallID: data.ToolCallID, State: message.ToolCallApprovalRequested})
		p.onApprovalRequestBus.Publish(ApprovalRequest{ToolCallID: data.ToolCallID, ToolName: data.ToolName, Input: data.Input, ApprovalID: data.Approval.ID})
		p.emitMessagesChange()
	}
}

// FinalizeStream force-completes any stragglers, prunes a whitespace-only
// trailing assistant message, and returns the outcome of the stream.
func (p *Processor) FinalizeStream(ctx context.Context) ProcessorResult {
	for _, id := range p.activeMessageIDs {
		p.flushPendingText(id)
	}
	p.completeAllToolCalls()
	p.pruneWhitespaceOnlyTrailingMessage()
	p.activeMessageIDs = nil
	p.isDone = true

	result := ProcessorResult{
		Messages:     p.GetMessages(),
		FinishReason: p.finishReason,
		HasError:     p.hasError,
	}
	if p.rec != nil {
		_ = p.rec.Finalize(ctx, p.recID, result.Messages)
	}
	p.onStreamEndBus.Publish(result)
	return result
}

// Replay feeds a previously captured recording through a fresh Processor
// and returns the resulting ProcessorResult, for verifying deterministic
// reproduction of a run.
func Replay(ctx context.Context, rec recording.Recording) ProcessorResult {
	p := New()
	for _, entry := range rec.Entries {
		p.ProcessChunk(ctx, entry.Event)
	}
	return p.FinalizeStream(ctx)
}

// completeAllToolCalls force-transitions every tool call not already at
// input-complete to that state, across every active message. It is the
// safety net invoked by RUN_FINISHED and FinalizeStream so a truncated
// stream never leaves a ToolCallPart stuck mid-stream.
func (p *Processor) completeAllToolCalls() {
	for _, id := range p.activeMessageIDs {
		p.completeMessageToolCalls(id)
	}
}

func (p *Processor) completeMessageToolCalls(msgID string) {
	state, ok := p.messageStates[msgID]
	if !ok {
		return
	}
	idx := p.findMessage(msgID)
	if idx < 0 {
		return
	}
	for _, id := range state.toolCallOrder {
		tc := state.toolCalls[id]
		if tc == nil || tc.state == message.ToolCallInputComplete {
			continue
		}
		p.messages[idx].Parts = mutate.CompleteToolCallPart(p.messages[idx].Parts, id, nil)
		tc.state = message.ToolCallInputComplete
		p.onToolCallStateChangeBus.Publish(ToolCallStateChange{MessageID: msgID, ToolCallID: id, State: tc.state})
	}
}

func (p *Processor) pruneWhitespaceOnlyTrailingMessage() {
	if p.hasError || len(p.messages) == 0 {
		return
	}
	last := p.messages[len(p.messages)-1]
	if last.Role != message.RoleAssistant || len(last.Parts) == 0 {
		return
	}
	for _, part := range last.Parts {
		tp, ok := part.(message.TextPart)
		if !ok || strings.TrimSpace(tp.Content) != "" {
			return
		}
	}
	p.messages = p.messages[:len(p.messages)-1]
	delete(p.messageStates, last.ID)
	p.emitMessagesChange()
}

func (p *Processor) ensureAssistantMessage(explicitID string, role message.Role) string {
	id := explicitID
	if id == "" {
		id = p.currentAssistantMessageID
	}
	if id == "" {
		id = p.pendingManualMessageID
	}
	if id == "" {
		id = newMessageID()
	}
	if role == "" {
		role = message.RoleAssistant
	}
	if p.findMessage(id) < 0 {
		p.messages = append(p.messages, message.UIMessage{ID: id, Role: role, CreatedAt: time.Now()})
		p.messageStates[id] = newMessageStreamState(role, p.newEmission())
		p.activeMessageIDs = appendUnique(p.activeMessageIDs, id)
		p.emitMessagesChange()
	} else if _, ok := p.messageStates[id]; !ok {
		// The message came in through a snapshot; give it fresh stream
		// state so follow-up events can target it.
		p.messageStates[id] = newMessageStreamState(role, p.newEmission())
		p.activeMessageIDs = appendUnique(p.activeMessageIDs, id)
	}
	p.currentAssistantMessageID = id
	return id
}

func (p *Processor) rebind(oldID, newID string) {
	if idx := p.findMessage(oldID); idx >= 0 {
		p.messages[idx].ID = newID
	}
	if st, ok := p.messageStates[oldID]; ok {
		delete(p.messageStates, oldID)
		p.messageStates[newID] = st
	}
	for tc, mid := range p.toolCallToMessage {
		if mid == oldID {
			p.toolCallToMessage[tc] = newID
		}
	}
	for i, mid := range p.activeMessageIDs {
		if mid == oldID {
			p.activeMessageIDs[i] = newID
		}
	}
	if p.currentAssistantMessageID == oldID {
		p.currentAssistantMessageID = newID
	}
}

func (p *Processor) deactivate(id string) {
	for i, mid := range p.activeMessageIDs {
		if mid == id {
			p.activeMessageIDs = append(p.activeMessageIDs[:i], p.activeMessageIDs[i+1:]...)
			return
		}
	}
}

func (p *Processor) findMessage(id string) int {
	for i, m := range p.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (p *Processor) findToolCall(msgIdx int, toolCallID string) (message.ToolCallPart, bool) {
	for _, part := range p.messages[msgIdx].Parts {
		if tc, ok := part.(message.ToolCallPart); ok && tc.ID == toolCallID {
			return tc, true
		}
	}
	return message.ToolCallPart{}, false
}

func (p *Processor) emitMessagesChange() {
	p.onMessagesChangeBus.Publish(p.GetMessages())
}

// reconcile implements the delta-vs-content reconciliation rule shared by
// text and thinking updates: a non-empty delta is appended verbatim;
// otherwise content is treated as a prefix-consistent accumulation when
// possible, and appended as a safety net otherwise.
func reconcile(current, delta, content string) (appended, next string) {
	if delta != "" {
		return delta, current + delta
	}
	if content == "" {
		return "", current
	}
	if strings.HasPrefix(content, current) {
		return content[len(current):], content
	}
	if strings.HasPrefix(current, content) {
		return "", current
	}
	return content, current + content
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// sameParts reports whether a and b are the same parts slice. The mutate
// functions return their input slice when they change nothing, so identity
// is enough; comparing parts by value would panic on a ToolCallPart whose
// Output holds a map.
func sameParts(a, b []message.Part) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

func newMessageID() string {
	return uuid.NewString()
}

// RunError is the error type published by onError, carrying the protocol's
// structured error detail.
type RunError struct {
	Message string
	Code    string
}

func (e *RunError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
