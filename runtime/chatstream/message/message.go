// Package message defines the client-visible conversation model: UIMessage
// and its MessagePart variants, plus the ModelMessage shape produced by
// ToModelMessages for transmission back to a language-model provider.
//
// Parts are tagged records dispatched by a Kind discriminator, mirroring the
// provider-message encoding used elsewhere in this module. There is no
// inheritance: every variant is a plain struct implementing the Part marker
// method.
package message

import "time"

// Role identifies the speaker of a UIMessage.
type Role string

const (
	// RoleUser identifies messages added via AddUserMessage.
	RoleUser Role = "user"
	// RoleAssistant identifies messages produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem identifies system messages, passed through unchanged.
	RoleSystem Role = "system"
)

// ToolCallState is the lifecycle state of a ToolCallPart. States are
// comparable with Regressed to detect regressions; see Regressed.
type ToolCallState string

const (
	// ToolCallAwaitingInput means TOOL_CALL_START arrived but no argument
	// delta has been observed yet.
	ToolCallAwaitingInput ToolCallState = "awaiting-input"
	// ToolCallInputStreaming means at least one non-empty argument delta has
	// been appended.
	ToolCallInputStreaming ToolCallState = "input-streaming"
	// ToolCallInputComplete means the arguments are final, either via
	// TOOL_CALL_END or a force-completion safety net.
	ToolCallInputComplete ToolCallState = "input-complete"
	// ToolCallApprovalRequested means the call is gated on user approval.
	ToolCallApprovalRequested ToolCallState = "approval-requested"
	// ToolCallApprovalResponded means the user has answered the approval gate.
	ToolCallApprovalResponded ToolCallState = "approval-responded"
)

// toolCallRank orders ToolCallState for monotonicity checks. Approval states
// form a separate track from the input-completion track: a call may be
// input-complete yet still carry an unresolved approval, so the two tracks
// are compared independently by Regressed.
var toolCallRank = map[ToolCallState]int{
	ToolCallAwaitingInput:     0,
	ToolCallInputStreaming:    1,
	ToolCallInputComplete:     2,
	ToolCallApprovalRequested: 0,
	ToolCallApprovalResponded: 1,
}

var approvalTrack = map[ToolCallState]bool{
	ToolCallApprovalRequested: true,
	ToolCallApprovalResponded: true,
}

// Regressed reports whether moving from prev to next would violate the
// monotonic state-advance invariant for the track the two states belong to.
// States on different tracks (input-completion vs. approval) never regress
// against each other.
func Regressed(prev, next ToolCallState) bool {
	if approvalTrack[prev] != approvalTrack[next] {
		return false
	}
	return toolCallRank[next] < toolCallRank[prev]
}

// ToolResultState is the lifecycle state of a ToolResultPart.
type ToolResultState string

const (
	// ToolResultStreaming means the result is still being produced.
	ToolResultStreaming ToolResultState = "streaming"
	// ToolResultComplete means the result is final and error-free.
	ToolResultComplete ToolResultState = "complete"
	// ToolResultError means the tool invocation failed.
	ToolResultError ToolResultState = "error"
)

type (
	// UIMessage is an ordered, addressable unit of the conversation as seen
	// by the host application. Parts are mutated only by the StreamProcessor
	// during ProcessChunk, or by AddToolResult/AddToolApprovalResponse.
	UIMessage struct {
		ID        string
		Role      Role
		Parts     []Part
		CreatedAt time.Time
	}

	// Part is the marker interface implemented by every MessagePart variant.
	Part interface {
		isPart()
	}

	// TextPart is model or user prose.
	TextPart struct {
		Content string
	}

	// ThinkingPart is model reasoning. It is UI-only: ToModelMessages never
	// emits it back to the provider.
	ThinkingPart struct {
		Content string
	}

	// Approval describes the approval gate attached to a ToolCallPart.
	Approval struct {
		ID            string
		NeedsApproval bool
		// Approved is nil until AddToolApprovalResponse is called for this
		// approval's ID.
		Approved *bool
	}

	// ToolCallPart tracks a single model-requested tool invocation by ID.
	// Arguments accumulates the raw (possibly partial) JSON argument string;
	// use a partialjson.Parser for a best-effort preview while streaming.
	ToolCallPart struct {
		ID        string
		Name      string
		Arguments string
		State     ToolCallState
		Approval  *Approval
		// Output carries the tool's result value once known, whether from a
		// server-supplied TOOL_CALL_END.result or a client tool execution.
		Output any
	}

	// ToolResultPart is the result of executing a tool call, keyed by the
	// call's ID. It is a distinct part (rather than a field on
	// ToolCallPart) because the model round-trip requires a result record
	// addressable on its own.
	ToolResultPart struct {
		ToolCallID string
		Content    string
		State      ToolResultState
		Error      string
	}

	// ContentSourceType identifies how a ContentPart's value should be
	// interpreted.
	ContentSourceType string

	// ContentSource is the payload carried by a ContentPart.
	ContentSource struct {
		Type     ContentSourceType
		Value    string
		MimeType string
	}

	// ContentKind identifies the media kind of a ContentPart.
	ContentKind string

	// ContentPart passes multimodal input through opaquely; the processor
	// never interprets Source, it only preserves ordering.
	ContentPart struct {
		Kind   ContentKind
		Source ContentSource
	}
)

// Content source/kind constants.
const (
	ContentSourceURL  ContentSourceType = "url"
	ContentSourceData ContentSourceType = "data"

	ContentKindText     ContentKind = "text"
	ContentKindImage    ContentKind = "image"
	ContentKindAudio    ContentKind = "audio"
	ContentKindVideo    ContentKind = "video"
	ContentKindDocument ContentKind = "document"
)

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}
func (ContentPart) isPart()    {}

type (
	// ModelMessage is the wire shape sent back to a language-model provider
	// by ToModelMessages. It deliberately excludes ThinkingPart: thinking is
	// UI-only per invariant.
	ModelMessage struct {
		Role    Role
		Content string
		Parts   []ModelContentPart
		// ToolCalls carries tool invocations requested by an assistant
		// message being replayed back to the model.
		ToolCalls []ModelToolCall
		// ToolCallID and Content together form a role="tool" message; see
		// ToModelMessages for how ToolResultParts spawn these.
		ToolCallID string
	}

	// ModelContentPart is a provider-facing multimodal content fragment,
	// mirroring ContentPart without the UI-only variants.
	ModelContentPart struct {
		Kind   ContentKind
		Source ContentSource
	}

	// ModelToolCall is the provider-facing shape of a ToolCallPart.
	ModelToolCall struct {
		ID        string
		Name      string
		Arguments string
	}
)
