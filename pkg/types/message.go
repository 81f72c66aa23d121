// Package types defines the shared data model for the kodu task core.
package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one API-format turn. This is what gets sent back to
// the model; the human-facing view lives in DisplayMessage.
type ConversationMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
	Ts      int64          `json:"ts,omitempty"`
}

// MarshalJSON keeps the content blocks in wire form.
func (m ConversationMessage) MarshalJSON() ([]byte, error) {
	blocks := make([]json.RawMessage, 0, len(m.Content))
	for _, b := range m.Content {
		data, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, data)
	}
	type alias struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
		Ts      int64             `json:"ts,omitempty"`
	}
	return json.Marshal(alias{Role: m.Role, Content: blocks, Ts: m.Ts})
}

// UnmarshalJSON decodes content blocks through the tagged union.
func (m *ConversationMessage) UnmarshalJSON(data []byte) error {
	var aux struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
		Ts      int64             `json:"ts,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Role = aux.Role
	m.Ts = aux.Ts
	m.Content = nil
	for _, raw := range aux.Content {
		block, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, block)
	}
	return nil
}

// ContentBlock is the closed union of message content kinds.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is plain assistant or user text.
type TextBlock struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (b *TextBlock) BlockType() string { return "text" }

// NewTextBlock builds a text block with the type tag set.
func NewTextBlock(text string) *TextBlock {
	return &TextBlock{Type: "text", Text: text}
}

// ToolUseBlock is a model-requested tool invocation.
type ToolUseBlock struct {
	Type  string         `json:"type"` // always "tool_use"
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (b *ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock pairs a tool_use with its outcome in the following user turn.
type ToolResultBlock struct {
	Type      string `json:"type"` // always "tool_result"
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (b *ToolResultBlock) BlockType() string { return "tool_result" }

// ImageBlock carries base64 image data.
type ImageBlock struct {
	Type string `json:"type"` // always "image"
	Data string `json:"data"`
}

func (b *ImageBlock) BlockType() string { return "image" }

// MarshalContentBlock serializes a block, stamping its type tag.
func MarshalContentBlock(b ContentBlock) (json.RawMessage, error) {
	switch blk := b.(type) {
	case *TextBlock:
		blk.Type = "text"
	case *ToolUseBlock:
		blk.Type = "tool_use"
	case *ToolResultBlock:
		blk.Type = "tool_result"
	case *ImageBlock:
		blk.Type = "image"
	default:
		return nil, fmt.Errorf("unknown content block %T", b)
	}
	return json.Marshal(b)
}

// UnmarshalContentBlock decodes a block by its type tag.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}

	switch tag.Type {
	case "text":
		var b TextBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "tool_use":
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "tool_result":
		var b ToolResultBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "image":
		var b ImageBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", tag.Type)
	}
}

// FirstText returns the first text block of a message, if any.
func (m *ConversationMessage) FirstText() (*TextBlock, bool) {
	for _, b := range m.Content {
		if t, ok := b.(*TextBlock); ok {
			return t, true
		}
	}
	return nil, false
}

// ToolUses returns all tool_use blocks of a message.
func (m *ConversationMessage) ToolUses() []*ToolUseBlock {
	var uses []*ToolUseBlock
	for _, b := range m.Content {
		if u, ok := b.(*ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}
