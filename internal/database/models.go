package database

import "time"

// Message is one archived conversation message. The archive backs history
// backfill when the transport's recent-message query is unavailable and
// records bot replies for session continuity.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	AccountID  string    `db:"account_id"`
	ThreadID   string    `db:"thread_id"`
	SenderID   string    `db:"sender_id"`
	SenderName string    `db:"sender_name"`
	IsGroup    bool      `db:"is_group"`
	Content    string    `db:"content"`
	MsgID      string    `db:"msg_id"`
	CliMsgID   string    `db:"cli_msg_id"`
	Timestamp  time.Time `db:"timestamp"`
}

// PairingApproval records a DM pairing code issued to an unknown sender.
// The row doubles as the approval once an operator flips the approved flag;
// its presence makes code issuance idempotent per sender.
type PairingApproval struct {
	ID        uint      `db:"id"`
	AccountID string    `db:"account_id"`
	SenderID  string    `db:"sender_id"`
	Code      string    `db:"code"`
	Approved  bool      `db:"approved"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
