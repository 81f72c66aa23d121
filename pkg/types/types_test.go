package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentBlockRoundTrip(t *testing.T) {
	msg := ConversationMessage{
		Role: RoleAssistant,
		Ts:   1700000000000,
		Content: []ContentBlock{
			NewTextBlock("Let me read that file."),
			&ToolUseBlock{ID: "toolu_01", Name: "read_file", Input: map[string]any{"path": "main.go"}},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ConversationMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded.Content, 2)
	text, ok := decoded.Content[0].(*TextBlock)
	require.True(t, ok)
	assert.Equal(t, "Let me read that file.", text.Text)

	use, ok := decoded.Content[1].(*ToolUseBlock)
	require.True(t, ok)
	assert.Equal(t, "toolu_01", use.ID)
	assert.Equal(t, "read_file", use.Name)
	assert.Equal(t, "main.go", use.Input["path"])
}

func TestUnmarshalContentBlockUnknownType(t *testing.T) {
	_, err := UnmarshalContentBlock([]byte(`{"type":"video","data":"x"}`))
	assert.Error(t, err)
}

func TestToolResultPairing(t *testing.T) {
	result := &ToolResultBlock{ToolUseID: "toolu_01", Content: "<success>ok</success>"}
	raw, err := MarshalContentBlock(result)
	require.NoError(t, err)

	block, err := UnmarshalContentBlock(raw)
	require.NoError(t, err)

	decoded, ok := block.(*ToolResultBlock)
	require.True(t, ok)
	assert.Equal(t, "toolu_01", decoded.ToolUseID)
	assert.False(t, decoded.IsError)
}

func TestToolUsesHelper(t *testing.T) {
	msg := ConversationMessage{
		Role: RoleAssistant,
		Content: []ContentBlock{
			NewTextBlock("working"),
			&ToolUseBlock{ID: "a", Name: "read_file"},
			&ToolUseBlock{ID: "b", Name: "execute_command"},
		},
	}
	uses := msg.ToolUses()
	require.Len(t, uses, 2)
	assert.Equal(t, "a", uses[0].ID)
	assert.Equal(t, "b", uses[1].ID)
}
