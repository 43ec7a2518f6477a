// Package message defines JSON helpers for marshaling message parts. This
// file emits discriminated unions for TextPart, ThinkingPart, ToolCallPart,
// ToolResultPart, and ContentPart so decode logic can recover the concrete
// types from a Kind field.
package message

import "encoding/json"

// Kind discriminates the wire encoding of a Part.
type Kind string

const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool-call"
	KindToolResult Kind = "tool-result"
	KindContent    Kind = "content"
)

type wireApproval struct {
	ID            string `json:"id"`
	NeedsApproval bool   `json:"needsApproval"`
	Approved      *bool  `json:"approved,omitempty"`
}

type wirePart struct {
	Kind Kind `json:"kind"`

	// text, thinking
	Content string `json:"content,omitempty"`

	// tool-call
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	State     string          `json:"state,omitempty"`
	Approval  *wireApproval   `json:"approval,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`

	// tool-result
	ToolCallID string `json:"toolCallId,omitempty"`
	Error      string `json:"error,omitempty"`

	// content
	SourceType ContentSourceType `json:"sourceType,omitempty"`
	SourceVal  string            `json:"sourceValue,omitempty"`
	MimeType   string            `json:"mimeType,omitempty"`
}

// encodePart converts a Part into its wire representation.
func encodePart(p Part) (wirePart, error) {
	switch v := p.(type) {
	case TextPart:
		return wirePart{Kind: KindText, Content: v.Content}, nil
	case ThinkingPart:
		return wirePart{Kind: KindThinking, Content: v.Content}, nil
	case ToolCallPart:
		w := wirePart{
			Kind:      KindToolCall,
			ID:        v.ID,
			Name:      v.Name,
			Arguments: v.Arguments,
			State:     string(v.State),
		}
		if v.Approval != nil {
			w.Approval = &wireApproval{
				ID:            v.Approval.ID,
				NeedsApproval: v.Approval.NeedsApproval,
				Approved:      v.Approval.Approved,
			}
		}
		if v.Output != nil {
			raw, err := json.Marshal(v.Output)
			if err != nil {
				return wirePart{}, err
			}
			w.Output = raw
		}
		return w, nil
	case ToolResultPart:
		return wirePart{
			Kind:       KindToolResult,
			ToolCallID: v.ToolCallID,
			Content:    v.Content,
			State:      string(v.State),
			Error:      v.Error,
		}, nil
	case ContentPart:
		return wirePart{
			Kind:       KindContent,
			Content:    string(v.Kind),
			SourceType: v.Source.Type,
			SourceVal:  v.Source.Value,
			MimeType:   v.Source.MimeType,
		}, nil
	default:
		return wirePart{}, errUnknownPartType
	}
}

// MarshalPart encodes p as a discriminated-union JSON object.
func MarshalPart(p Part) ([]byte, error) {
	w, err := encodePart(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

type wireMessage struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Parts     []wirePart `json:"parts"`
	CreatedAt string     `json:"createdAt"`
}

// MarshalUIMessage encodes m, including all of its parts, as JSON.
func MarshalUIMessage(m UIMessage) ([]byte, error) {
	w := wireMessage{ID: m.ID, Role: m.Role, CreatedAt: m.CreatedAt.Format(timeLayout)}
	for _, p := range m.Parts {
		wp, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		w.Parts = append(w.Parts, wp)
	}
	return json.Marshal(w)
}

const timeLayout = "2006-01-02T15:04:05.000Z"
