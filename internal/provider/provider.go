// Package provider defines the contract the task executor uses to talk to a
// model-serving backend. The executor never sees the wire encoding, only the
// decoded frame stream.
package provider

import (
	"context"

	"github.com/kodu-ai/kodu/internal/stream"
	"github.com/kodu-ai/kodu/pkg/types"
)

// ApiManager is the model collaborator. CreateMessageStream opens one request
// and yields decoded frames until the stream is exhausted; AbortRequest tears
// down the in-flight request, after which the stream returns promptly.
type ApiManager interface {
	CreateMessageStream(ctx context.Context, history []types.ConversationMessage) (stream.FrameStream, error)
	AbortRequest()
	// CreateUserReadableRequest summarizes the outgoing request for the
	// api_req_started display message.
	CreateUserReadableRequest(history []types.ConversationMessage) string
}
