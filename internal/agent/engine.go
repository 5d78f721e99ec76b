// Package agent defines the reply-generation contract between the channel
// core and the model backend, plus the default Gemini-backed engine.
package agent

import (
	"context"
	"time"
)

// ReplyRef points a request at the message it replies to.
type ReplyRef struct {
	ShortID  string
	MsgID    string
	CliMsgID string
	Preview  string
}

// Request is the canonical envelope built per accepted inbound message.
type Request struct {
	AccountID         string
	ConversationLabel string
	ThreadID          string
	IsGroup           bool

	SenderID   string
	SenderName string

	// Body is the text shown to the model; CommandBody is the
	// post-mention-stripping form used for control-command matching.
	Body        string
	CommandBody string

	WasMentioned      bool
	CommandAuthorized bool

	ReplyTo *ReplyRef

	MediaPaths []string
	MediaURLs  []string

	// History holds formatted transcript lines, oldest first, produced by
	// the same formatter as the live message.
	History []string

	Timestamp time.Time
}

// Chunk is one streamed piece of a reply.
type Chunk struct {
	Text       string
	MediaPaths []string
	MediaURLs  []string
}

// Engine generates a reply for a request, emitting chunks as they become
// available. Implementations must stop promptly when emit returns an error
// or the context is cancelled.
type Engine interface {
	Generate(ctx context.Context, req *Request, emit func(Chunk) error) error
}
