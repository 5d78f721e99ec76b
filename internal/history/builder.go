package history

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"zalobridge/internal/access"
	"zalobridge/internal/agent"
	"zalobridge/internal/config"
	"zalobridge/internal/database"
	"zalobridge/internal/msgref"
	"zalobridge/internal/normalize"
	"zalobridge/internal/zalocli"
)

// hardHistoryCeiling caps the adaptively widened backfill window.
const hardHistoryCeiling = 50

// RecentQuerier is the transport's recent-message query surface.
type RecentQuerier interface {
	Recent(ctx context.Context, threadID string, count int, group bool) ([]zalocli.RecentRow, error)
}

// ArchiveReader is the archive fallback for history backfill.
type ArchiveReader interface {
	RecentMessages(ctx context.Context, accountID, threadID string, limit int, excludeMsgID string) ([]*database.Message, error)
}

// Builder assembles the agent request envelope for one accepted message.
type Builder struct {
	client  RecentQuerier
	archive ArchiveReader
	pending *PendingBuffer
	refs    *msgref.Tracker
	logger  *slog.Logger
}

// NewBuilder creates a builder. client and archive may be nil; backfill
// degrades gracefully to whatever sources remain.
func NewBuilder(client RecentQuerier, archive ArchiveReader, pending *PendingBuffer, refs *msgref.Tracker, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		client:  client,
		archive: archive,
		pending: pending,
		refs:    refs,
		logger:  logger.With("component", "context_builder"),
	}
}

// Build formats the canonical envelope, injecting history backfill per the
// account's limits. Pending withheld messages are consumed here and cleared.
func (b *Builder) Build(ctx context.Context, cfg *config.Resolved, msg *normalize.InboundMessage, v access.Verdict) *agent.Request {
	req := &agent.Request{
		AccountID:         cfg.AccountID,
		ConversationLabel: ConversationLabel(msg.ThreadID, msg.SenderName, msg.IsGroup),
		ThreadID:          msg.ThreadID,
		IsGroup:           msg.IsGroup,
		SenderID:          msg.SenderID,
		SenderName:        senderLabel(msg),
		Body:              msg.Text,
		CommandBody:       v.CommandBody,
		WasMentioned:      v.WasMentioned,
		CommandAuthorized: v.CommandAuthorized,
		MediaPaths:        msg.MediaPaths,
		MediaURLs:         msg.MediaURLs,
		Timestamp:         timestampOf(msg),
	}

	if msg.Quote != nil {
		req.ReplyTo = b.replyRef(cfg.AccountID, msg)
	}

	if msg.IsGroup && cfg.HistoryLimit > 0 {
		req.History = b.backfill(ctx, cfg, msg)
	}

	return req
}

// AdaptiveLimit widens the base history window for context-sensitive turns:
// short bodies, reference-word turns, and quoted replies.
func AdaptiveLimit(base int, body string, hasQuote bool, hintMaxLen int, refWords []string) int {
	if base <= 0 {
		return 0
	}
	if !contextSensitive(body, hasQuote, hintMaxLen, refWords) {
		return base
	}
	widened := base * 3
	if alt := base + 6; alt > widened {
		widened = alt
	}
	if widened > hardHistoryCeiling {
		widened = hardHistoryCeiling
	}
	return widened
}

func contextSensitive(body string, hasQuote bool, hintMaxLen int, refWords []string) bool {
	if hasQuote {
		return true
	}
	trimmed := strings.TrimSpace(body)
	if len(trimmed) <= hintMaxLen {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, w := range refWords {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func (b *Builder) backfill(ctx context.Context, cfg *config.Resolved, msg *normalize.InboundMessage) []string {
	limit := AdaptiveLimit(cfg.HistoryLimit, msg.Text, msg.Quote != nil,
		cfg.HistoryContextHintMaxLen, cfg.HistoryReferenceWords)

	// Locally accumulated withheld messages take priority; they are exactly
	// the turns the transport query may not attribute correctly.
	if b.pending != nil {
		if entries := b.pending.Drain(cfg.AccountID, msg.ThreadID); len(entries) > 0 {
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				lines = append(lines, FormatLine(e.Sender, e.Body, normalize.TimestampMS(e.Timestamp),
					len(e.MediaPaths)+len(e.MediaURLs)))
			}
			if len(lines) > limit {
				lines = lines[len(lines)-limit:]
			}
			return lines
		}
	}

	if b.client != nil {
		rows, err := b.client.Recent(ctx, msg.ThreadID, limit+1, msg.IsGroup)
		if err == nil {
			return formatRecentRows(rows, msg.MsgID, limit)
		}
		b.logger.DebugContext(ctx, "Transport history query failed, falling back to archive",
			"thread_id", msg.ThreadID, "error", err)
	}

	if b.archive != nil {
		stored, err := b.archive.RecentMessages(ctx, cfg.AccountID, msg.ThreadID, limit, msg.MsgID)
		if err != nil {
			b.logger.DebugContext(ctx, "Archive history query failed", "thread_id", msg.ThreadID, "error", err)
			return nil
		}
		lines := make([]string, 0, len(stored))
		for _, m := range stored {
			lines = append(lines, FormatLine(m.SenderName, m.Content, m.Timestamp.UnixMilli(), 0))
		}
		return lines
	}

	return nil
}

func formatRecentRows(rows []zalocli.RecentRow, excludeMsgID string, limit int) []string {
	filtered := rows[:0]
	for _, r := range rows {
		if excludeMsgID != "" && r.MsgID == excludeMsgID {
			continue
		}
		filtered = append(filtered, r)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].TS < filtered[j].TS })

	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	lines := make([]string, 0, len(filtered))
	for _, r := range filtered {
		lines = append(lines, FormatLine(r.SenderID, r.Content, normalize.TimestampMS(r.TS), 0))
	}
	return lines
}

func (b *Builder) replyRef(accountID string, msg *normalize.InboundMessage) *agent.ReplyRef {
	q := msg.Quote
	ref := &agent.ReplyRef{
		MsgID:    q.MsgID,
		CliMsgID: q.CliMsgID,
		Preview:  q.Text,
	}

	if b.refs != nil {
		if pair, ok := b.refs.Resolve(accountID, q.MsgID); ok && pair.Complete() {
			ref.MsgID = pair.MsgID
			ref.CliMsgID = pair.CliMsgID
		}
		if tracked := b.refs.Remember(msgref.Ref{
			AccountID: accountID,
			ThreadID:  msg.ThreadID,
			IsGroup:   msg.IsGroup,
			MsgID:     ref.MsgID,
			CliMsgID:  ref.CliMsgID,
			Preview:   q.Text,
		}); tracked != nil {
			ref.ShortID = tracked.ShortID
		}
	}
	return ref
}

func senderLabel(msg *normalize.InboundMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}

func timestampOf(msg *normalize.InboundMessage) time.Time {
	ms := normalize.TimestampMS(msg.Timestamp)
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
