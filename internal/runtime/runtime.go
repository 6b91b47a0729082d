// ABOUTME: Runtime abstraction over the model backend that generates replies
// ABOUTME: Defines the request/reply contract and the transient vs terminal error split

package runtime

import (
	"context"
	"errors"
)

// ErrRuntimeUnavailable indicates a transient backend failure. Callers may
// retry with backoff; if retries are exhausted the turn's debit must be
// compensated.
var ErrRuntimeUnavailable = errors.New("runtime unavailable")

// ErrRuntimeRejected indicates the backend refused the request. Terminal
// for the turn: the model was invoked, so the debit stands.
var ErrRuntimeRejected = errors.New("runtime rejected request")

// Turn is one prior exchange in the conversation history.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Request carries everything the backend needs to produce a reply.
type Request struct {
	SystemPrompt string
	History      []Turn
	UserText     string
}

// Runtime generates an assistant reply for a conversation turn. The call
// blocks until the backend responds or ctx expires; implementations must
// honor ctx cancellation.
type Runtime interface {
	Generate(ctx context.Context, req Request) (string, error)
}
