package processor_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
	"goa.design/chatstream/runtime/chatstream/processor"
)

// eventsFromSeeds maps a slice of small integers onto a syntactically valid
// event stream: tool ids are opened before use, and the stream always ends
// with RUN_FINISHED. This keeps the generator within the adapter contract
// while still exercising arbitrary interleavings.
func eventsFromSeeds(seeds []int) []event.Event {
	var events []event.Event
	var open []string
	nextTool := 0
	for _, seed := range seeds {
		switch seed % 8 {
		case 0:
			events = append(events, event.NewTextMessageStart("m1", "assistant"))
		case 1:
			events = append(events, event.NewTextMessageContent("m1", "text "))
		case 2:
			events = append(events, &event.StepFinishedEvent{MessageID: "m1", Delta: "think "})
		case 3:
			id := fmt.Sprintf("t%d", nextTool)
			nextTool++
			open = append(open, id)
			events = append(events, event.NewToolCallStart(id, "tool"))
		case 4:
			if len(open) > 0 {
				events = append(events, event.NewToolCallArgs(open[len(open)-1], `{"n":`))
			}
		case 5:
			if len(open) > 0 {
				id := open[len(open)-1]
				open = open[:len(open)-1]
				events = append(events, event.NewToolCallEnd(id))
			}
		case 6:
			events = append(events, event.NewTextMessageContent("m1", "more"))
		case 7:
			events = append(events, event.NewTextMessageEnd("m1"))
		}
	}
	return append(events, event.NewRunFinished("stop"))
}

func TestPartOrderingInvariantHoldsForArbitraryStreams(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no adjacent text parts, results follow their calls", prop.ForAll(
		func(seeds []int) bool {
			p := processor.New()
			ctx := context.Background()
			for _, e := range eventsFromSeeds(seeds) {
				p.ProcessChunk(ctx, e)
			}
			res := p.FinalizeStream(ctx)

			for _, m := range res.Messages {
				seenCalls := map[string]bool{}
				for i, part := range m.Parts {
					switch v := part.(type) {
					case message.TextPart:
						if i > 0 {
							if _, ok := m.Parts[i-1].(message.TextPart); ok {
								return false
							}
						}
					case message.ToolCallPart:
						seenCalls[v.ID] = true
					case message.ToolResultPart:
						if !seenCalls[v.ToolCallID] {
							return false
						}
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.Property("every tool call is input-complete after finalization", prop.ForAll(
		func(seeds []int) bool {
			p := processor.New()
			ctx := context.Background()
			for _, e := range eventsFromSeeds(seeds) {
				p.ProcessChunk(ctx, e)
			}
			res := p.FinalizeStream(ctx)

			for _, m := range res.Messages {
				for _, part := range m.Parts {
					if tc, ok := part.(message.ToolCallPart); ok {
						if tc.State != message.ToolCallInputComplete {
							return false
						}
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.Property("tool call states never regress", prop.ForAll(
		func(seeds []int) bool {
			p := processor.New()
			last := map[string]message.ToolCallState{}
			ok := true
			p.OnToolCallStateChange(func(c processor.ToolCallStateChange) {
				if prev, seen := last[c.ToolCallID]; seen && message.Regressed(prev, c.State) {
					ok = false
				}
				last[c.ToolCallID] = c.State
			})
			ctx := context.Background()
			for _, e := range eventsFromSeeds(seeds) {
				p.ProcessChunk(ctx, e)
			}
			p.FinalizeStream(ctx)
			return ok
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}

func TestTextAccumulationMatchesEmittedDeltas(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("concatenated deltas equal final text content", prop.ForAll(
		func(chunks []string) bool {
			p := processor.New()
			ctx := context.Background()
			var want string
			var emitted string
			p.OnTextUpdate(func(u processor.TextUpdate) {
				emitted += u.Delta
			})
			p.ProcessChunk(ctx, event.NewTextMessageStart("m1", "assistant"))
			for _, chunk := range chunks {
				want += chunk
				p.ProcessChunk(ctx, event.NewTextMessageContent("m1", chunk))
			}
			p.ProcessChunk(ctx, event.NewRunFinished("stop"))
			res := p.FinalizeStream(ctx)

			var got string
			for _, m := range res.Messages {
				for _, part := range m.Parts {
					if tp, ok := part.(message.TextPart); ok {
						got += tp.Content
					}
				}
			}
			if len(res.Messages) == 0 {
				// Whitespace-only accumulations are pruned at finalization.
				return emitted == want
			}
			return got == want && emitted == want
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
