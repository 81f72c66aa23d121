package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalFrameKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind FrameKind
	}{
		{"health", `{"code":0,"body":{}}`, KindHealth},
		{"final", `{"code":1,"body":{"internal":{"inputTokens":10,"outputTokens":20,"cost":0.01}}}`, KindFinal},
		{"partial", `{"code":2,"body":{"text":"hello"}}`, KindPartial},
		{"tool boundary", `{"code":3,"body":{"tool":{"type":"tool_use","id":"t1","name":"read_file","input":{}}}}`, KindToolBoundary},
		{"error", `{"code":-1,"body":{"status":500,"msg":"boom"}}`, KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := UnmarshalFrame([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, f.Kind())
		})
	}
}

func TestUnmarshalFrameUnknownCode(t *testing.T) {
	_, err := UnmarshalFrame([]byte(`{"code":42,"body":{}}`))
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	in := &ErrorFrame{Status: 402, Msg: "payment required"}
	data, err := MarshalFrame(in)
	require.NoError(t, err)

	out, err := UnmarshalFrame(data)
	require.NoError(t, err)

	errFrame, ok := out.(*ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, 402, errFrame.Status)
	assert.Equal(t, "payment required", errFrame.Msg)
}

func TestPartialFrameBody(t *testing.T) {
	f, err := UnmarshalFrame([]byte(`{"code":2,"body":{"text":"delta"}}`))
	require.NoError(t, err)

	partial, ok := f.(*PartialFrame)
	require.True(t, ok)
	assert.Equal(t, "delta", partial.Text)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(&FinalFrame{}))
	assert.True(t, IsTerminal(&ErrorFrame{}))
	assert.False(t, IsTerminal(HealthFrame{}))
	assert.False(t, IsTerminal(&PartialFrame{}))
	assert.False(t, IsTerminal(&ToolBoundaryFrame{}))
}
