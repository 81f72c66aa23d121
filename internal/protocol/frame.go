// Package protocol defines the decoded frame protocol of the model stream.
//
// The wire carries frames tagged with small integer codes. At this boundary
// they become a closed sum type so every consumer matches exhaustively on
// FrameKind instead of raw codes.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kodu-ai/kodu/pkg/types"
)

// FrameKind enumerates the frame variants.
type FrameKind int

const (
	// KindHealth is a liveness heartbeat.
	KindHealth FrameKind = iota
	// KindFinal carries the complete assistant message and usage counts.
	KindFinal
	// KindPartial carries an incremental text delta.
	KindPartial
	// KindToolBoundary marks a detected tool invocation mid-stream.
	KindToolBoundary
	// KindError carries an HTTP-style status and message.
	KindError
)

// Wire codes for each kind.
const (
	codeHealth       = 0
	codeFinal        = 1
	codePartial      = 2
	codeToolBoundary = 3
	codeError        = -1
)

// Frame is one decoded unit of the model's streaming response protocol.
type Frame interface {
	Kind() FrameKind
}

// HealthFrame is a keepalive; carries no body.
type HealthFrame struct{}

func (HealthFrame) Kind() FrameKind { return KindHealth }

// Usage holds token accounting reported with the final frame.
type Usage struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	Cost                     float64 `json:"cost"`
}

// FinalFrame ends a successful request.
type FinalFrame struct {
	Message       *types.ConversationMessage `json:"anthropic"`
	Usage         Usage                      `json:"internal"`
	CreditBalance *float64                   `json:"userCredits,omitempty"`
}

func (*FinalFrame) Kind() FrameKind { return KindFinal }

// PartialFrame carries a plain-text fragment.
type PartialFrame struct {
	Text string `json:"text"`
}

func (*PartialFrame) Kind() FrameKind { return KindPartial }

// ToolBoundaryFrame carries the structured tool-call block detected in the
// stream.
type ToolBoundaryFrame struct {
	ToolUse *types.ToolUseBlock `json:"tool"`
}

func (*ToolBoundaryFrame) Kind() FrameKind { return KindToolBoundary }

// ErrorFrame ends a failed request.
type ErrorFrame struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

func (*ErrorFrame) Kind() FrameKind { return KindError }

// IsTerminal reports whether the frame ends the request (final or error).
func IsTerminal(f Frame) bool {
	switch f.Kind() {
	case KindFinal, KindError:
		return true
	default:
		return false
	}
}

// wireFrame is the raw {code, body} envelope.
type wireFrame struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

// UnmarshalFrame decodes a wire envelope into the frame sum type.
func UnmarshalFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch w.Code {
	case codeHealth:
		return HealthFrame{}, nil
	case codeFinal:
		var f FinalFrame
		if err := json.Unmarshal(w.Body, &f); err != nil {
			return nil, fmt.Errorf("decode final frame: %w", err)
		}
		return &f, nil
	case codePartial:
		var f PartialFrame
		if err := json.Unmarshal(w.Body, &f); err != nil {
			return nil, fmt.Errorf("decode partial frame: %w", err)
		}
		return &f, nil
	case codeToolBoundary:
		var f ToolBoundaryFrame
		if err := json.Unmarshal(w.Body, &f); err != nil {
			return nil, fmt.Errorf("decode tool boundary frame: %w", err)
		}
		return &f, nil
	case codeError:
		var f ErrorFrame
		if err := json.Unmarshal(w.Body, &f); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unknown frame code %d", w.Code)
	}
}

// MarshalFrame encodes a frame back into its wire envelope.
func MarshalFrame(f Frame) ([]byte, error) {
	var code int
	switch f.Kind() {
	case KindHealth:
		code = codeHealth
	case KindFinal:
		code = codeFinal
	case KindPartial:
		code = codePartial
	case KindToolBoundary:
		code = codeToolBoundary
	case KindError:
		code = codeError
	default:
		return nil, fmt.Errorf("unknown frame kind %d", f.Kind())
	}

	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireFrame{Code: code, Body: body})
}
