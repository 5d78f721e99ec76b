// Package zalocli drives the external Zalo CLI: one-shot commands with
// timeout and cancellation, and the long-lived raw listen stream.
package zalocli

import "errors"

// RawEvent is one JSON object emitted by the listen stream. Field names vary
// across CLI versions; the normalizer resolves them.
type RawEvent map[string]any

// Result captures one finished CLI invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SelfInfo is the account's own backend identity, resolved once per session.
type SelfInfo struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// EffectiveID returns whichever id field the CLI populated.
func (s SelfInfo) EffectiveID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.UserID
}

// SendResult is the parsed outcome of an outbound send/edit/react command.
// The CLI's exit codes are noisy; in-band markers are authoritative.
type SendResult struct {
	MsgID    string `json:"msgId"`
	CliMsgID string `json:"cliMsgId"`
	Success  bool   `json:"success"`
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
}

// RecentRow is one row of the `msg recent` query.
type RecentRow struct {
	MsgID    string `json:"msgId"`
	CliMsgID string `json:"cliMsgId"`
	SenderID string `json:"senderId"`
	TS       int64  `json:"ts"`
	Content  string `json:"content"`
}

var (
	// ErrListenerClosed is returned by Listen when the CLI reports the
	// backend closed the listener session.
	ErrListenerClosed = errors.New("listener closed by backend")

	// ErrIdleTimeout is returned by Listen when no activity was observed for
	// the configured idle window.
	ErrIdleTimeout = errors.New("listen stream idle timeout")

	// ErrNotReady is returned by WaitReady when the CLI never reported a
	// healthy auth status before the startup deadline.
	ErrNotReady = errors.New("transport not ready before deadline")
)
