// Package event defines the wire event schema consumed by the StreamProcessor.
//
// Events are a discriminated union tagged by Type(). An adapter (the
// transport-specific glue that talks to a language-model provider) produces
// an ordered sequence of these events; the processor package turns that
// sequence into a structured conversation. The schema is intentionally
// transport-agnostic: SSE, NDJSON, and in-process iterables all carry the
// same Event values, encoded or not.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the concrete shape of an Event's payload.
type Type string

const (
	// TextMessageStart opens (or re-opens) a text segment on a message.
	TextMessageStart Type = "TEXT_MESSAGE_START"
	// TextMessageContent carries an incremental or full-accumulation text update.
	TextMessageContent Type = "TEXT_MESSAGE_CONTENT"
	// TextMessageEnd flushes pending text and force-completes open tool calls
	// on the named message.
	TextMessageEnd Type = "TEXT_MESSAGE_END"
	// ToolCallStart opens a tool call. Adapters MUST emit this before any
	// ToolCallArgs/ToolCallEnd for the same id.
	ToolCallStart Type = "TOOL_CALL_START"
	// ToolCallArgs appends a fragment to a tool call's argument string.
	ToolCallArgs Type = "TOOL_CALL_ARGS"
	// ToolCallEnd finalizes a tool call's arguments and optionally carries a
	// server-computed result.
	ToolCallEnd Type = "TOOL_CALL_END"
	// StepFinished carries a thinking/reasoning delta or completed blob.
	StepFinished Type = "STEP_FINISHED"
	// RunFinished is a terminal event recording why the run stopped.
	RunFinished Type = "RUN_FINISHED"
	// RunError is a terminal event carrying an adapter or transport error.
	RunError Type = "RUN_ERROR"
	// MessagesSnapshot authoritatively replaces the conversation, used by
	// durable sessions resuming a prior state.
	MessagesSnapshot Type = "MESSAGES_SNAPSHOT"
	// Custom carries out-of-band semantics identified by Name, such as the
	// reserved "tool-input-available" and "approval-requested" names.
	Custom Type = "CUSTOM"
)

// Reserved CUSTOM event names.
const (
	// CustomToolInputAvailable signals that a client-executed tool call's
	// arguments are complete and the host should run it and report a result.
	CustomToolInputAvailable = "tool-input-available"
	// CustomApprovalRequested signals that a tool call requires explicit user
	// approval before the host (or model) may proceed.
	CustomApprovalRequested = "approval-requested"
)

type (
	// Event is the common interface implemented by every concrete event. It
	// lets the processor dispatch on Type() without depending on every
	// concrete struct, and lets adapters produce a uniform stream.
	Event interface {
		// Type returns the discriminator for this event.
		Type() Type
		// Time returns when the adapter observed or produced the event.
		Time() time.Time
	}

	// base carries the fields shared by every event variant.
	base struct {
		t  Type
		at time.Time
	}

	// TextMessageStartEvent opens a text segment on messageID for role.
	TextMessageStartEvent struct {
		base
		MessageID string `json:"messageId"`
		Role      string `json:"role"`
	}

	// TextMessageContentEvent carries a text increment. Delta is preferred;
	// Content is a full-accumulation fallback for adapters that cannot emit
	// deltas.
	TextMessageContentEvent struct {
		base
		MessageID string `json:"messageId"`
		Delta     string `json:"delta,omitempty"`
		Content   string `json:"content,omitempty"`
	}

	// TextMessageEndEvent flushes pending text and force-completes any open
	// tool calls belonging to the message.
	TextMessageEndEvent struct {
		base
		MessageID string `json:"messageId"`
	}

	// ToolCallStartEvent opens a tool call. ParentMessageID associates the
	// call with the assistant message that requested it when known; Index
	// is a positional hint some adapters supply for ordering in the UI.
	ToolCallStartEvent struct {
		base
		ToolCallID      string `json:"toolCallId"`
		ToolName        string `json:"toolName"`
		ParentMessageID string `json:"parentMessageId,omitempty"`
		Index           *int   `json:"index,omitempty"`
	}

	// ToolCallArgsEvent appends Delta to the accumulated argument string for
	// ToolCallID.
	ToolCallArgsEvent struct {
		base
		ToolCallID string `json:"toolCallId"`
		Delta      string `json:"delta"`
	}

	// ToolCallEndEvent finalizes a tool call's arguments. When Input is
	// non-nil it overrides the accumulated/parsed argument string. When
	// Result is non-nil, the processor synthesizes a ToolResultPart and sets
	// the ToolCallPart's output.
	ToolCallEndEvent struct {
		base
		ToolCallID string          `json:"toolCallId"`
		Input      json.RawMessage `json:"input,omitempty"`
		Result     json.RawMessage `json:"result,omitempty"`
	}

	// StepFinishedEvent carries a reasoning delta (preferred) or a completed
	// blob (Content) for the single open ThinkingPart of MessageID.
	StepFinishedEvent struct {
		base
		MessageID string `json:"messageId,omitempty"`
		Delta     string `json:"delta,omitempty"`
		Content   string `json:"content,omitempty"`
	}

	// RunFinishedEvent terminates a run successfully from the protocol's
	// point of view; FinishReason may still describe an abnormal stop such
	// as "length" or "content-filter".
	RunFinishedEvent struct {
		base
		FinishReason string `json:"finishReason"`
	}

	// RunErrorEvent terminates a run with a transport or adapter error.
	RunErrorEvent struct {
		base
		Error RunErrorDetail `json:"error"`
	}

	// RunErrorDetail describes a terminal run error.
	RunErrorDetail struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	}

	// MessagesSnapshotEvent authoritatively replaces the conversation. The
	// payload is kept as raw JSON here so this package does not import the
	// message package; the processor decodes it into its own message type.
	MessagesSnapshotEvent struct {
		base
		Messages json.RawMessage `json:"messages"`
	}

	// CustomEvent carries out-of-band semantics. Name identifies the
	// semantics; Data is interpreted by the processor according to Name.
	CustomEvent struct {
		base
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	}
)

func (b base) Type() Type      { return b.t }
func (b base) Time() time.Time { return b.at }

func newBase(t Type) base { return base{t: t, at: time.Now()} }

// NewTextMessageStart constructs a TEXT_MESSAGE_START event.
func NewTextMessageStart(messageID, role string) *TextMessageStartEvent {
	return &TextMessageStartEvent{base: newBase(TextMessageStart), MessageID: messageID, Role: role}
}

// NewTextMessageContent constructs a TEXT_MESSAGE_CONTENT event carrying a delta.
func NewTextMessageContent(messageID, delta string) *TextMessageContentEvent {
	return &TextMessageContentEvent{base: newBase(TextMessageContent), MessageID: messageID, Delta: delta}
}

// NewTextMessageEnd constructs a TEXT_MESSAGE_END event.
func NewTextMessageEnd(messageID string) *TextMessageEndEvent {
	return &TextMessageEndEvent{base: newBase(TextMessageEnd), MessageID: messageID}
}

// NewToolCallStart constructs a TOOL_CALL_START event.
func NewToolCallStart(toolCallID, toolName string) *ToolCallStartEvent {
	return &ToolCallStartEvent{base: newBase(ToolCallStart), ToolCallID: toolCallID, ToolName: toolName}
}

// NewToolCallArgs constructs a TOOL_CALL_ARGS event.
func NewToolCallArgs(toolCallID, delta string) *ToolCallArgsEvent {
	return &ToolCallArgsEvent{base: newBase(ToolCallArgs), ToolCallID: toolCallID, Delta: delta}
}

// NewToolCallEnd constructs a TOOL_CALL_END event.
func NewToolCallEnd(toolCallID string) *ToolCallEndEvent {
	return &ToolCallEndEvent{base: newBase(ToolCallEnd), ToolCallID: toolCallID}
}

// NewRunFinished constructs a RUN_FINISHED event.
func NewRunFinished(finishReason string) *RunFinishedEvent {
	return &RunFinishedEvent{base: newBase(RunFinished), FinishReason: finishReason}
}

// NewRunError constructs a RUN_ERROR event.
func NewRunError(message, code string) *RunErrorEvent {
	return &RunErrorEvent{base: newBase(RunError), Error: RunErrorDetail{Message: message, Code: code}}
}

// NewCustom constructs a CUSTOM event with a pre-encoded JSON payload.
func NewCustom(name string, data any) (*CustomEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode custom event %q data: %w", name, err)
	}
	return &CustomEvent{base: newBase(Custom), Name: name, Data: raw}, nil
}

// ToolInputAvailableData is the payload shape for the reserved
// "tool-input-available" CUSTOM event name.
type ToolInputAvailableData struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

// ApprovalRequestedData is the payload shape for the reserved
// "approval-requested" CUSTOM event name.
type ApprovalRequestedData struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
	Approval   ApprovalRef     `json:"approval"`
}

// ApprovalRef identifies the approval gate attached to a tool call.
type ApprovalRef struct {
	ID string `json:"id"`
}

// MarshalJSON renders the event with its Type as an envelope discriminator,
// matching the wire shape described for SSE/NDJSON transports: a flat JSON
// object with a "type" field plus the variant's own fields.
func MarshalJSON(e Event) ([]byte, error) {
	type envelope struct {
		Type Type `json:"type"`
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(envelope{Type: e.Type()})
	if err != nil {
		return nil, err
	}
	return mergeObjects(head, body)
}

// mergeObjects shallow-merges two JSON object encodings, with values in b
// taking precedence over a on key collision.
func mergeObjects(a, b []byte) ([]byte, error) {
	var am, bm map[string]json.RawMessage
	if err := json.Unmarshal(a, &am); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &bm); err != nil {
		return nil, err
	}
	for k, v := range bm {
		am[k] = v
	}
	return json.Marshal(am)
}

// UnmarshalJSON decodes a single wire-encoded event envelope into its
// concrete Event type. Unknown types return (nil, nil): the processor's
// policy is to ignore unknown event types rather than fail the stream.
func UnmarshalJSON(raw []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	switch head.Type {
	case TextMessageStart:
		var e TextMessageStartEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(TextMessageStart)
		return &e, nil
	case TextMessageContent:
		var e TextMessageContentEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(TextMessageContent)
		return &e, nil
	case TextMessageEnd:
		var e TextMessageEndEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(TextMessageEnd)
		return &e, nil
	case ToolCallStart:
		var e ToolCallStartEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(ToolCallStart)
		return &e, nil
	case ToolCallArgs:
		var e ToolCallArgsEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(ToolCallArgs)
		return &e, nil
	case ToolCallEnd:
		var e ToolCallEndEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(ToolCallEnd)
		return &e, nil
	case StepFinished:
		var e StepFinishedEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(StepFinished)
		return &e, nil
	case RunFinished:
		var e RunFinishedEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(RunFinished)
		return &e, nil
	case RunError:
		var e RunErrorEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(RunError)
		return &e, nil
	case MessagesSnapshot:
		var e MessagesSnapshotEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(MessagesSnapshot)
		return &e, nil
	case Custom:
		var e CustomEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		e.base = newBase(Custom)
		return &e, nil
	default:
		return nil, nil
	}
}
