package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/chatstream/runtime/chatstream/event"
)

func TestRoundTripTextMessageContent(t *testing.T) {
	e := event.NewTextMessageContent("m1", "Hel")
	raw, err := event.MarshalJSON(e)
	require.NoError(t, err)

	decoded, err := event.UnmarshalJSON(raw)
	require.NoError(t, err)
	require.IsType(t, &event.TextMessageContentEvent{}, decoded)

	got := decoded.(*event.TextMessageContentEvent)
	require.Equal(t, "m1", got.MessageID)
	require.Equal(t, "Hel", got.Delta)
	require.Equal(t, event.TextMessageContent, got.Type())
}

func TestUnmarshalUnknownTypeIsIgnored(t *testing.T) {
	decoded, err := event.UnmarshalJSON([]byte(`{"type":"SOMETHING_FUTURE","foo":"bar"}`))
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestCustomEventPayload(t *testing.T) {
	e, err := event.NewCustom(event.CustomToolInputAvailable, event.ToolInputAvailableData{
		ToolCallID: "t1",
		ToolName:   "write_file",
	})
	require.NoError(t, err)
	require.Equal(t, event.Custom, e.Type())

	var data event.ToolInputAvailableData
	require.NoError(t, json.Unmarshal(e.Data, &data))
	require.Equal(t, "t1", data.ToolCallID)
}
