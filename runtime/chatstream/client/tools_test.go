package client_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/chatstream/runtime/chatstream/client"
)

func TestToolSetValidatesInputAgainstSchema(t *testing.T) {
	ts := client.NewToolSet()
	schema := []byte(`{"type":"object","required":["q"],"properties":{"q":{"type":"string"}}}`)
	require.NoError(t, ts.Register("search", schema, func(_ context.Context, input json.RawMessage) (any, error) {
		var in struct {
			Q string `json:"q"`
		}
		require.NoError(t, json.Unmarshal(input, &in))
		return map[string]any{"hits": 1, "q": in.Q}, nil
	}))

	out, err := ts.Execute(context.Background(), "search", json.RawMessage(`{"q":"go"}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"hits": 1, "q": "go"}, out)

	_, err = ts.Execute(context.Background(), "search", json.RawMessage(`{"limit":3}`))
	require.ErrorContains(t, err, "invalid input")
}

func TestToolSetRejectsUnknownTool(t *testing.T) {
	ts := client.NewToolSet()
	_, err := ts.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	require.ErrorContains(t, err, "unknown tool")
}

func TestToolSetRegisterValidation(t *testing.T) {
	ts := client.NewToolSet()
	require.Error(t, ts.Register("", nil, func(context.Context, json.RawMessage) (any, error) { return nil, nil }))
	require.Error(t, ts.Register("x", nil, nil))
	require.Error(t, ts.Register("x", []byte(`{not json`), func(context.Context, json.RawMessage) (any, error) { return nil, nil }))
}
