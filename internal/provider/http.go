package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/kodu-ai/kodu/internal/protocol"
	"github.com/kodu-ai/kodu/internal/stream"
	"github.com/kodu-ai/kodu/pkg/types"
)

// HTTPManager talks to a model-serving endpoint that streams newline-delimited
// frame envelopes ({"code": n, "body": {...}}).
type HTTPManager struct {
	url    string
	apiKey string
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPManager creates a manager for one endpoint.
func NewHTTPManager(url, apiKey string) *HTTPManager {
	return &HTTPManager{url: url, apiKey: apiKey, client: &http.Client{}}
}

// CreateMessageStream opens one streaming request. The returned stream yields
// decoded frames until the response body ends.
func (m *HTTPManager) CreateMessageStream(ctx context.Context, history []types.ConversationMessage) (stream.FrameStream, error) {
	payload, err := json.Marshal(map[string]any{"messages": history})
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, body)
	}

	return &httpFrameStream{body: resp.Body, scanner: newFrameScanner(resp.Body)}, nil
}

// AbortRequest cancels the in-flight request, if any.
func (m *HTTPManager) AbortRequest() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CreateUserReadableRequest summarizes the outgoing request for display.
func (m *HTTPManager) CreateUserReadableRequest(history []types.ConversationMessage) string {
	if len(history) == 0 {
		return "empty request"
	}
	last := history[len(history)-1]
	if text, ok := last.FirstText(); ok {
		const max = 200
		if len(text.Text) > max {
			return text.Text[:max] + "…"
		}
		return text.Text
	}
	return fmt.Sprintf("request with %d turns", len(history))
}

type httpFrameStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

// Recv decodes the next frame line. io.EOF marks a cleanly exhausted stream.
func (s *httpFrameStream) Recv() (protocol.Frame, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return protocol.UnmarshalFrame(line)
	}
	s.body.Close()
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
