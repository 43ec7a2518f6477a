package mutate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/chatstream/runtime/chatstream/message"
	"goa.design/chatstream/runtime/chatstream/mutate"
)

func TestUpdateTextPartExtendsLastPartInPlace(t *testing.T) {
	var parts []message.Part
	parts = mutate.UpdateTextPart(parts, "Hel")
	parts = mutate.UpdateTextPart(parts, "lo")

	require.Len(t, parts, 1)
	require.Equal(t, message.TextPart{Content: "Hello"}, parts[0])
}

func TestUpdateTextPartStartsNewPartAfterNonTextPart(t *testing.T) {
	parts := []message.Part{message.TextPart{Content: "a"}}
	parts = mutate.StartToolCallPart(parts, "t1", "search")
	parts = mutate.UpdateTextPart(parts, "b")

	require.Len(t, parts, 3)
	require.Equal(t, message.TextPart{Content: "a"}, parts[0])
	require.Equal(t, message.TextPart{Content: "b"}, parts[2])
}

func TestUpdateTextPartDoesNotMutateInput(t *testing.T) {
	orig := []message.Part{message.TextPart{Content: "a"}}
	next := mutate.UpdateTextPart(orig, "b")

	require.Equal(t, message.TextPart{Content: "a"}, orig[0])
	require.Equal(t, message.TextPart{Content: "ab"}, next[0])
}

func TestToolCallLifecycle(t *testing.T) {
	var parts []message.Part
	parts = mutate.StartToolCallPart(parts, "t1", "search")
	require.Equal(t, message.ToolCallAwaitingInput, parts[0].(message.ToolCallPart).State)

	parts = mutate.UpdateToolCallPart(parts, "t1", `{"q":`)
	parts = mutate.UpdateToolCallPart(parts, "t1", `"go"}`)
	tc := parts[0].(message.ToolCallPart)
	require.Equal(t, message.ToolCallInputStreaming, tc.State)
	require.Equal(t, `{"q":"go"}`, tc.Arguments)

	parts = mutate.CompleteToolCallPart(parts, "t1", nil)
	require.Equal(t, message.ToolCallInputComplete, parts[0].(message.ToolCallPart).State)

	// Completing again is a no-op.
	again := mutate.CompleteToolCallPart(parts, "t1", nil)
	require.Equal(t, parts, again)
}

func TestUpdateToolCallApprovalResponseRequiresMatchingID(t *testing.T) {
	var parts []message.Part
	parts = mutate.StartToolCallPart(parts, "t1", "delete_file")
	parts = mutate.UpdateToolCallApproval(parts, "t1", "a1")
	require.Equal(t, message.ToolCallApprovalRequested, parts[0].(message.ToolCallPart).State)

	unchanged := mutate.UpdateToolCallApprovalResponse(parts, "t1", "wrong", true)
	require.Equal(t, parts, unchanged)

	responded := mutate.UpdateToolCallApprovalResponse(parts, "t1", "a1", true)
	tc := responded[0].(message.ToolCallPart)
	require.Equal(t, message.ToolCallApprovalResponded, tc.State)
	require.NotNil(t, tc.Approval.Approved)
	require.True(t, *tc.Approval.Approved)
}

func TestUpdateToolResultPartInsertsAfterCallThenReplaces(t *testing.T) {
	var parts []message.Part
	parts = mutate.StartToolCallPart(parts, "t1", "search")
	parts = append(parts, message.TextPart{Content: "after"})

	parts = mutate.UpdateToolResultPart(parts, "t1", "partial", message.ToolResultStreaming, "")
	require.Len(t, parts, 3)
	require.Equal(t, message.ToolResultPart{ToolCallID: "t1", Content: "partial", State: message.ToolResultStreaming}, parts[1])

	parts = mutate.UpdateToolResultPart(parts, "t1", "42", message.ToolResultComplete, "")
	require.Len(t, parts, 3)
	require.Equal(t, message.ToolResultPart{ToolCallID: "t1", Content: "42", State: message.ToolResultComplete}, parts[1])
}
