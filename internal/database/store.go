package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new archive record.
	SaveMessage(ctx context.Context, message *Message) error

	// RecentMessages retrieves the most recent 'limit' messages for a thread,
	// oldest first, excluding the row whose msg_id equals excludeMsgID.
	RecentMessages(ctx context.Context, accountID, threadID string, limit int, excludeMsgID string) ([]*Message, error)

	// PruneMessages deletes archive rows older than the cutoff, returning the
	// number of rows removed.
	PruneMessages(ctx context.Context, olderThan time.Time) (int64, error)

	// LastMessageTime returns the newest archived message timestamp for an
	// account, or the zero time when the archive holds nothing for it.
	LastMessageTime(ctx context.Context, accountID string) (time.Time, error)

	// GetPairing returns the pairing row for a sender, or nil when none exists.
	GetPairing(ctx context.Context, accountID, senderID string) (*PairingApproval, error)

	// SavePairing inserts a new pairing code row. It is the caller's job to
	// check GetPairing first; a duplicate sender violates the unique index.
	SavePairing(ctx context.Context, p *PairingApproval) error

	// PendingPairings lists unapproved pairing rows for operator review.
	PendingPairings(ctx context.Context, accountID string) ([]*PairingApproval, error)

	// ApprovePairing flips the approved flag for a sender's pairing code.
	// The code must match the issued one.
	ApprovePairing(ctx context.Context, accountID, senderID, code string) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

const (
	saveAttempts   = 3
	saveRetryDelay = 100 * time.Millisecond
)

// isBusy reports whether err is a transient sqlite lock contention error.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage inserts a new archive record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.AccountID == "" || message.ThreadID == "" {
		return fmt.Errorf("message must have account_id and thread_id")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (account_id, thread_id, sender_id, sender_name, is_group, content, msg_id, cli_msg_id, timestamp, created_at)
        VALUES (:account_id, :thread_id, :sender_id, :sender_name, :is_group, :content, :msg_id, :cli_msg_id, :timestamp, :created_at);
    `
	var result sql.Result
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		result, err = s.db.NamedExecContext(ctx, query, message)
		if err == nil || !isBusy(err) || ctx.Err() != nil {
			break
		}
		s.logger.WarnContext(ctx, "Archive write hit a busy database, retrying",
			"thread_id", message.ThreadID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * saveRetryDelay):
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"account_id", message.AccountID, "thread_id", message.ThreadID, "error", err)
		return fmt.Errorf("failed to save message (account %s, thread %s): %w",
			message.AccountID, message.ThreadID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		message.ID = uint(id) //nolint:gosec
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"thread_id", message.ThreadID, "error", err)
	}

	return nil
}

// RecentMessages retrieves the most recent messages for a thread, oldest first.
func (s *sqlxStore) RecentMessages(ctx context.Context, accountID, threadID string, limit int, excludeMsgID string) ([]*Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
        SELECT * FROM messages
        WHERE account_id = ? AND thread_id = ? AND (? = '' OR msg_id != ?)
        ORDER BY timestamp DESC, id DESC
        LIMIT ?;
    `
	var rows []*Message
	if err := s.db.SelectContext(ctx, &rows, query, accountID, threadID, excludeMsgID, excludeMsgID, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent messages (thread %s): %w", threadID, err)
	}

	// Reverse to chronological order for transcript assembly.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// PruneMessages deletes archive rows older than the cutoff.
func (s *sqlxStore) PruneMessages(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?;`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not determine pruned row count", "error", err)
		return 0, nil
	}
	return n, nil
}

// LastMessageTime returns the newest archived message timestamp for an account.
func (s *sqlxStore) LastMessageTime(ctx context.Context, accountID string) (time.Time, error) {
	var ts time.Time
	err := s.db.GetContext(ctx, &ts,
		`SELECT timestamp FROM messages WHERE account_id = ? ORDER BY timestamp DESC LIMIT 1;`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to query last message time (account %s): %w", accountID, err)
	}
	return ts, nil
}

// GetPairing returns the pairing row for a sender, or nil when none exists.
func (s *sqlxStore) GetPairing(ctx context.Context, accountID, senderID string) (*PairingApproval, error) {
	var p PairingApproval
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM pairing_approvals WHERE account_id = ? AND sender_id = ?;`, accountID, senderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query pairing (sender %s): %w", senderID, err)
	}
	return &p, nil
}

// SavePairing inserts a new pairing code row.
func (s *sqlxStore) SavePairing(ctx context.Context, p *PairingApproval) error {
	if p == nil {
		return fmt.Errorf("cannot save nil pairing")
	}
	if p.AccountID == "" || p.SenderID == "" || p.Code == "" {
		return fmt.Errorf("pairing must have account_id, sender_id and code")
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
        INSERT INTO pairing_approvals (account_id, sender_id, code, approved, created_at, updated_at)
        VALUES (:account_id, :sender_id, :code, :approved, :created_at, :updated_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to save pairing (sender %s): %w", p.SenderID, err)
	}
	return nil
}

// PendingPairings lists unapproved pairing rows for operator review.
func (s *sqlxStore) PendingPairings(ctx context.Context, accountID string) ([]*PairingApproval, error) {
	var rows []*PairingApproval
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM pairing_approvals WHERE account_id = ? AND approved = 0 ORDER BY created_at;`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending pairings: %w", err)
	}
	return rows, nil
}

// ApprovePairing flips the approved flag for a sender's pairing code.
func (s *sqlxStore) ApprovePairing(ctx context.Context, accountID, senderID, code string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pairing_approvals SET approved = 1, updated_at = ? WHERE account_id = ? AND sender_id = ? AND code = ?;`,
		time.Now().UTC(), accountID, senderID, code)
	if err != nil {
		return fmt.Errorf("failed to approve pairing (sender %s): %w", senderID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no pairing found for sender %s with code %s", senderID, code)
	}
	return nil
}

// RunSQLMaintenance performs VACUUM and ANALYZE on the database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Running SQL maintenance (VACUUM, ANALYZE)...")
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE;"); err != nil {
		return fmt.Errorf("failed to run ANALYZE: %w", err)
	}
	s.logger.InfoContext(ctx, "SQL maintenance finished.")
	return nil
}
