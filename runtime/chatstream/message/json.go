// Package message defines JSON helpers for unmarshaling message parts. This
// file focuses on decoding and discriminating concrete part types based on
// the Kind field.
package message

import (
	"encoding/json"
	"errors"
	"time"
)

var errUnknownPartType = errors.New("message: unknown part type")

// UnmarshalPart decodes raw into the concrete Part variant named by its Kind
// field. An unrecognized Kind is an error: unlike event decoding, a part
// kind has no legacy-compat fallback path.
func UnmarshalPart(raw []byte) (Part, error) {
	var w wirePart
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return decodePart(w)
}

func decodePart(w wirePart) (Part, error) {
	switch w.Kind {
	case KindText:
		return TextPart{Content: w.Content}, nil
	case KindThinking:
		return ThinkingPart{Content: w.Content}, nil
	case KindToolCall:
		tc := ToolCallPart{
			ID:        w.ID,
			Name:      w.Name,
			Arguments: w.Arguments,
			State:     ToolCallState(w.State),
		}
		if w.Approval != nil {
			tc.Approval = &Approval{
				ID:            w.Approval.ID,
				NeedsApproval: w.Approval.NeedsApproval,
				Approved:      w.Approval.Approved,
			}
		}
		if len(w.Output) > 0 {
			var out any
			if err := json.Unmarshal(w.Output, &out); err != nil {
				return nil, err
			}
			tc.Output = out
		}
		return tc, nil
	case KindToolResult:
		return ToolResultPart{
			ToolCallID: w.ToolCallID,
			Content:    w.Content,
			State:      ToolResultState(w.State),
			Error:      w.Error,
		}, nil
	case KindContent:
		return ContentPart{
			Kind: ContentKind(w.Content),
			Source: ContentSource{
				Type:     w.SourceType,
				Value:    w.SourceVal,
				MimeType: w.MimeType,
			},
		}, nil
	default:
		return nil, errUnknownPartType
	}
}

// UnmarshalUIMessage decodes raw into a UIMessage, including all of its
// parts.
func UnmarshalUIMessage(raw []byte) (UIMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return UIMessage{}, err
	}
	m := UIMessage{ID: w.ID, Role: w.Role}
	if w.CreatedAt != "" {
		t, err := time.Parse(timeLayout, w.CreatedAt)
		if err != nil {
			return UIMessage{}, err
		}
		m.CreatedAt = t
	}
	for _, wp := range w.Parts {
		p, err := decodePart(wp)
		if err != nil {
			return UIMessage{}, err
		}
		m.Parts = append(m.Parts, p)
	}
	return m, nil
}
