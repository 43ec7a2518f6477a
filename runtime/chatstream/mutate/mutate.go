// Package mutate provides pure, total functions for updating the Parts of a
// UIMessage in response to a single incoming event. Every function here
// takes a parts slice and returns a new slice; the input is never modified
// in place, so callers can safely retain references to prior snapshots.
//
// Functions are idempotent with respect to their own fields: calling
// UpdateToolCallWithOutput twice with the same output leaves the resulting
// parts unchanged on the second call.
package mutate

import "goa.design/chatstream/runtime/chatstream/message"

// UpdateTextPart appends delta to the message's text. If the last part is
// already a TextPart, its content is extended in place; otherwise a new
// TextPart is appended. This is what keeps consecutive TEXT_MESSAGE_CONTENT
// deltas coalesced into a single part instead of one part per chunk.
func UpdateTextPart(parts []message.Part, delta string) []message.Part {
	if len(parts) > 0 {
		if tp, ok := parts[len(parts)-1].(message.TextPart); ok {
			out := cloneParts(parts)
			out[len(out)-1] = message.TextPart{Content: tp.Content + delta}
			return out
		}
	}
	return append(cloneParts(parts), message.TextPart{Content: delta})
}

// UpdateThinkingPart appends delta to the message's reasoning, extending the
// last part in place when it is a ThinkingPart, mirroring UpdateTextPart.
func UpdateThinkingPart(parts []message.Part, delta string) []message.Part {
	if len(parts) > 0 {
		if tp, ok := parts[len(parts)-1].(message.ThinkingPart); ok {
			out := cloneParts(parts)
			out[len(out)-1] = message.ThinkingPart{Content: tp.Content + delta}
			return out
		}
	}
	return append(cloneParts(parts), message.ThinkingPart{Content: delta})
}

// StartToolCallPart appends a new ToolCallPart in the awaiting-input state.
// A pre-existing part with the same id is left untouched and no duplicate is
// added, making the operation idempotent against replayed START events.
func StartToolCallPart(parts []message.Part, id, name string) []message.Part {
	if findToolCall(parts, id) >= 0 {
		return parts
	}
	return append(cloneParts(parts), message.ToolCallPart{
		ID:    id,
		Name:  name,
		State: message.ToolCallAwaitingInput,
	})
}

// UpdateToolCallPart appends delta to the named tool call's accumulated
// argument string and advances its state to input-streaming. Unknown ids are
// a no-op: the caller is responsible for ensuring StartToolCallPart ran
// first.
func UpdateToolCallPart(parts []message.Part, id, delta string) []message.Part {
	i := findToolCall(parts, id)
	if i < 0 {
		return parts
	}
	out := cloneParts(parts)
	tc := out[i].(message.ToolCallPart)
	tc.Arguments += delta
	if delta != "" && tc.State == message.ToolCallAwaitingInput {
		tc.State = message.ToolCallInputStreaming
	}
	out[i] = tc
	return out
}

// CompleteToolCallPart marks a tool call's arguments final, optionally
// replacing the accumulated argument string with an authoritative final
// value (TOOL_CALL_END carries the full arguments in some adapters). A call
// already at input-complete is left untouched.
func CompleteToolCallPart(parts []message.Part, id string, finalArguments *string) []message.Part {
	i := findToolCall(parts, id)
	if i < 0 {
		return parts
	}
	out := cloneParts(parts)
	tc := out[i].(message.ToolCallPart)
	if tc.State == message.ToolCallInputComplete {
		return parts
	}
	if finalArguments != nil {
		tc.Arguments = *finalArguments
	}
	tc.State = message.ToolCallInputComplete
	out[i] = tc
	return out
}

// UpdateToolCallWithOutput records a tool's output (or error) on its call
// part. It does not change the call's input-completion state; a result may
// arrive for a call that is concurrently awaiting approval.
func UpdateToolCallWithOutput(parts []message.Part, id string, output any) []message.Part {
	i := findToolCall(parts, id)
	if i < 0 {
		return parts
	}
	out := cloneParts(parts)
	tc := out[i].(message.ToolCallPart)
	tc.Output = output
	out[i] = tc
	return out
}

// UpdateToolCallApproval attaches an approval gate to a tool call and moves
// it to approval-requested. Calling it again with the same approval id is a
// no-op once a response has already been recorded, so a duplicate request
// never clobbers an answered approval.
func UpdateToolCallApproval(parts []message.Part, id, approvalID string) []message.Part {
	i := findToolCall(parts, id)
	if i < 0 {
		return parts
	}
	out := cloneParts(parts)
	tc := out[i].(message.ToolCallPart)
	if tc.Approval != nil && tc.Approval.ID == approvalID && tc.Approval.Approved != nil {
		return parts
	}
	tc.Approval = &message.Approval{ID: approvalID, NeedsApproval: true}
	tc.State = message.ToolCallApprovalRequested
	out[i] = tc
	return out
}

// UpdateToolCallApprovalResponse records the user's answer to a pending
// approval and moves the call to approval-responded. A call with no pending
// approval, or whose approval id does not match, is left untouched.
func UpdateToolCallApprovalResponse(parts []message.Part, id, approvalID string, approved bool) []message.Part {
	i := findToolCall(parts, id)
	if i < 0 {
		return parts
	}
	tc := parts[i].(message.ToolCallPart)
	if tc.Approval == nil || tc.Approval.ID != approvalID {
		return parts
	}
	out := cloneParts(parts)
	tc = out[i].(message.ToolCallPart)
	approvedCopy := approved
	tc.Approval = &message.Approval{ID: approvalID, NeedsApproval: true, Approved: &approvedCopy}
	tc.State = message.ToolCallApprovalResponded
	out[i] = tc
	return out
}

// UpdateToolResultPart sets or replaces the ToolResultPart for toolCallID. A
// matching part already present is overwritten in place; otherwise a new
// part is appended immediately after its ToolCallPart when one is found, or
// at the end of the message otherwise.
func UpdateToolResultPart(parts []message.Part, toolCallID, content string, state message.ToolResultState, errMsg string) []message.Part {
	next := message.ToolResultPart{ToolCallID: toolCallID, Content: content, State: state, Error: errMsg}
	for i, p := range parts {
		if rp, ok := p.(message.ToolResultPart); ok && rp.ToolCallID == toolCallID {
			out := cloneParts(parts)
			out[i] = next
			return out
		}
	}
	insertAt := len(parts)
	if i := findToolCall(parts, toolCallID); i >= 0 {
		insertAt = i + 1
	}
	out := make([]message.Part, 0, len(parts)+1)
	out = append(out, parts[:insertAt]...)
	out = append(out, next)
	out = append(out, parts[insertAt:]...)
	return out
}

func findToolCall(parts []message.Part, id string) int {
	for i, p := range parts {
		if tc, ok := p.(message.ToolCallPart); ok && tc.ID == id {
			return i
		}
	}
	return -1
}

func cloneParts(parts []message.Part) []message.Part {
	out := make([]message.Part, len(parts))
	copy(out, parts)
	return out
}
