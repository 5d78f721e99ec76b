// Package actions executes the closed set of channel actions the reply
// engine may request: sends, reads, reactions, and message mutations.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zalobridge/internal/config"
	"zalobridge/internal/dedupe"
	"zalobridge/internal/dispatch"
	"zalobridge/internal/history"
	"zalobridge/internal/msgref"
	"zalobridge/internal/normalize"
	"zalobridge/internal/target"
	"zalobridge/internal/zalocli"
)

// Action types form a closed enum; anything else is rejected.
const (
	TypeSend       = "send"
	TypeRead       = "read"
	TypeReact      = "react"
	TypeEdit       = "edit"
	TypeDelete     = "delete"
	TypeUnsend     = "unsend"
	TypePin        = "pin"
	TypeUnpin      = "unpin"
	TypeListPins   = "list-pins"
	TypeMemberInfo = "member-info"
)

const defaultReadCount = 20

// Action is one requested channel operation.
type Action struct {
	Type    string
	Target  string // target grammar string; empty falls back to the context thread
	IsGroup *bool  // explicit direct/group flag, when the caller has one

	Text      string // send/edit body, or the reaction for react
	MessageID string // short id or backend id of the message to act on
	CliMsgID  string // second id half, when the caller already has it
	MediaPath string
	MediaURL  string
	Count     int // read window size

	// Originating-conversation context, used for target and id fallbacks
	// and for the per-group tool policy.
	ContextThreadID string
	ContextIsGroup  bool
	ContextSenderID string
	ContextMsgID    string
	ContextCliMsgID string
}

// Transport is the CLI surface actions execute against.
type Transport interface {
	SendText(ctx context.Context, threadID, text string, group bool) (zalocli.SendResult, error)
	SendMedia(ctx context.Context, threadID, kind, src, caption string, group bool) (zalocli.SendResult, error)
	React(ctx context.Context, msgID, cliMsgID, threadID, reaction string, group bool) (zalocli.SendResult, error)
	Edit(ctx context.Context, msgID, cliMsgID, threadID, newText string, group bool) (zalocli.SendResult, error)
	Delete(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (zalocli.SendResult, error)
	Undo(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (zalocli.SendResult, error)
	Pin(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (zalocli.SendResult, error)
	Unpin(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (zalocli.SendResult, error)
	ListPins(ctx context.Context, threadID string, group bool) (string, error)
	MemberInfo(ctx context.Context, userID string) (string, error)
	Recent(ctx context.Context, threadID string, count int, group bool) ([]zalocli.RecentRow, error)
}

// Executor validates, resolves, and runs actions.
type Executor struct {
	client Transport
	refs   *msgref.Tracker
	guard  *dedupe.Guard
	selfID func() string
	logger *slog.Logger
}

// NewExecutor creates an executor. selfID is queried lazily so the account
// identity may resolve after startup.
func NewExecutor(client Transport, refs *msgref.Tracker, guard *dedupe.Guard, selfID func() string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if selfID == nil {
		selfID = func() string { return "" }
	}
	return &Executor{
		client: client,
		refs:   refs,
		guard:  guard,
		selfID: selfID,
		logger: logger.With("component", "actions"),
	}
}

// Execute runs one action under the account's effective policy. The returned
// string is a user-facing result summary; errors are user-facing too.
func (e *Executor) Execute(ctx context.Context, cfg *config.Resolved, a Action) (string, error) {
	if err := e.authorize(cfg, a.Type); err != nil {
		return "", err
	}

	threadID, group, err := e.resolveThread(a)
	if err != nil {
		return "", err
	}

	if group && !cfg.GroupToolAllowed(threadID, "", a.ContextSenderID, a.Type) {
		return "", fmt.Errorf("action %q is not permitted in this group (groups.%s.tools)", a.Type, threadID)
	}

	switch a.Type {
	case TypeSend:
		return e.doSend(ctx, cfg, a, threadID, group)
	case TypeRead:
		return e.doRead(ctx, a, threadID, group)
	case TypeReact:
		return e.withPair(ctx, cfg.AccountID, a, threadID, group, "reacted", func(p msgref.Pair) (zalocli.SendResult, error) {
			return e.client.React(ctx, p.MsgID, p.CliMsgID, threadID, a.Text, group)
		})
	case TypeEdit:
		if strings.TrimSpace(a.Text) == "" {
			return "", fmt.Errorf("edit requires replacement text")
		}
		return e.withPair(ctx, cfg.AccountID, a, threadID, group, "edited", func(p msgref.Pair) (zalocli.SendResult, error) {
			return e.client.Edit(ctx, p.MsgID, p.CliMsgID, threadID, a.Text, group)
		})
	case TypeDelete:
		return e.withPair(ctx, cfg.AccountID, a, threadID, group, "deleted", func(p msgref.Pair) (zalocli.SendResult, error) {
			return e.client.Delete(ctx, p.MsgID, p.CliMsgID, threadID, group)
		})
	case TypeUnsend:
		return e.withPair(ctx, cfg.AccountID, a, threadID, group, "unsent", func(p msgref.Pair) (zalocli.SendResult, error) {
			return e.client.Undo(ctx, p.MsgID, p.CliMsgID, threadID, group)
		})
	case TypePin:
		return e.withPair(ctx, cfg.AccountID, a, threadID, group, "pinned", func(p msgref.Pair) (zalocli.SendResult, error) {
			return e.client.Pin(ctx, p.MsgID, p.CliMsgID, threadID, group)
		})
	case TypeUnpin:
		return e.withPair(ctx, cfg.AccountID, a, threadID, group, "unpinned", func(p msgref.Pair) (zalocli.SendResult, error) {
			return e.client.Unpin(ctx, p.MsgID, p.CliMsgID, threadID, group)
		})
	case TypeListPins:
		return e.client.ListPins(ctx, threadID, group)
	case TypeMemberInfo:
		return e.client.MemberInfo(ctx, threadID)
	default:
		return "", fmt.Errorf("unknown action %q", a.Type)
	}
}

// authorize enforces the account's action toggles. Only send is ungated;
// reactions and everything touching message history or state are opt-in.
func (e *Executor) authorize(cfg *config.Resolved, actionType string) error {
	switch actionType {
	case TypeSend:
		return nil
	case TypeReact:
		if !cfg.EnableReactions {
			return fmt.Errorf("reactions are disabled for this account (enable_reactions)")
		}
		return nil
	case TypeRead, TypeEdit, TypeDelete, TypeUnsend, TypePin, TypeUnpin, TypeListPins, TypeMemberInfo:
		if !cfg.EnableMessageActions {
			return fmt.Errorf("message actions are disabled for this account (enable_message_actions)")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", actionType)
	}
}

func (e *Executor) resolveThread(a Action) (string, bool, error) {
	if strings.TrimSpace(a.Target) == "" {
		if a.ContextThreadID == "" {
			return "", false, fmt.Errorf("action has no target and no originating conversation")
		}
		return a.ContextThreadID, a.ContextIsGroup, nil
	}

	t, err := target.Parse(a.Target)
	if err != nil {
		return "", false, err
	}
	flag := a.IsGroup
	if flag == nil && t.Kind == target.KindAmbiguous && t.ID == a.ContextThreadID {
		g := a.ContextIsGroup
		flag = &g
	}
	return target.Disambiguate(t, flag)
}

func (e *Executor) doSend(ctx context.Context, cfg *config.Resolved, a Action, threadID string, group bool) (string, error) {
	if a.MediaPath == "" && a.MediaURL == "" && strings.TrimSpace(a.Text) == "" {
		return "", fmt.Errorf("send requires text or media")
	}

	params := dedupe.Params{
		AccountID: cfg.AccountID,
		Target:    threadID,
		Kind:      "text",
		Content:   a.Text,
	}
	send := func(c context.Context) (zalocli.SendResult, error) {
		return e.client.SendText(c, threadID, a.Text, group)
	}

	if src := firstNonEmpty(a.MediaPath, a.MediaURL); src != "" {
		if a.MediaPath != "" {
			if err := dispatch.ValidateMediaPath(a.MediaPath, cfg.MediaAllowedRoots, cfg.MediaMaxMB); err != nil {
				return "", err
			}
		}
		params.Kind = "media"
		params.MediaRef = src
		kind := dispatch.MediaKind(src)
		send = func(c context.Context) (zalocli.SendResult, error) {
			return e.client.SendMedia(c, threadID, kind, src, a.Text, group)
		}
	}

	acq := e.guard.Acquire(params, time.Now())
	if !acq.Acquired {
		return "", fmt.Errorf("duplicate send suppressed (%s)", acq.Reason)
	}
	res, err := send(ctx)
	sent := err == nil && res.Success
	e.guard.Release(acq.Ticket, sent, time.Now())
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	if !res.Success {
		return "", fmt.Errorf("send failed: %s", res.Error)
	}

	ref := e.refs.Remember(msgref.Ref{
		AccountID: cfg.AccountID,
		ThreadID:  threadID,
		IsGroup:   group,
		MsgID:     res.MsgID,
		CliMsgID:  res.CliMsgID,
		Preview:   firstNonEmpty(a.Text, params.MediaRef),
	})
	if ref != nil {
		return fmt.Sprintf("sent (%s)", ref.ShortID), nil
	}
	return "sent", nil
}

func (e *Executor) doRead(ctx context.Context, a Action, threadID string, group bool) (string, error) {
	count := a.Count
	if count <= 0 {
		count = defaultReadCount
	}
	rows, err := e.client.Recent(ctx, threadID, count, group)
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if len(rows) == 0 {
		return "no recent messages", nil
	}

	var b strings.Builder
	for _, r := range rows {
		b.WriteString(history.FormatLine(r.SenderID, r.Content, normalize.TimestampMS(r.TS), 0))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Executor) withPair(ctx context.Context, accountID string, a Action, threadID string, group bool, verb string, op func(msgref.Pair) (zalocli.SendResult, error)) (string, error) {
	pair, err := e.resolvePair(ctx, accountID, a, threadID, group)
	if err != nil {
		return "", err
	}
	res, err := op(pair)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", a.Type, err)
	}
	if !res.Success {
		return "", fmt.Errorf("%s failed: %s", a.Type, res.Error)
	}
	return fmt.Sprintf("message %s", verb), nil
}

// resolvePair finds the dual message id a mutation needs, walking the
// fallback chain: explicit ids, originating-message ids, cached refs for the
// thread, the account-wide latest ref (only when no explicit target was
// given), and finally a live query for the newest self-authored message.
func (e *Executor) resolvePair(ctx context.Context, accountID string, a Action, threadID string, group bool) (msgref.Pair, error) {
	if a.MessageID != "" {
		pair, ok := e.refs.Resolve(accountID, a.MessageID)
		if !ok {
			return msgref.Pair{}, fmt.Errorf("unknown message reference %q", a.MessageID)
		}
		if a.CliMsgID != "" {
			pair.CliMsgID = a.CliMsgID
		}
		if pair.Complete() {
			return pair, nil
		}
		if completed := e.completeFromCache(accountID, pair); completed.Complete() {
			return completed, nil
		}
		return e.completeFromRecent(ctx, accountID, threadID, group, pair)
	}

	if a.ContextMsgID != "" && a.ContextCliMsgID != "" {
		return msgref.Pair{MsgID: a.ContextMsgID, CliMsgID: a.ContextCliMsgID}, nil
	}

	if ref := e.refs.LatestForThread(accountID, threadID); ref != nil {
		p := msgref.Pair{MsgID: ref.MsgID, CliMsgID: ref.CliMsgID}
		if p.Complete() {
			return p, nil
		}
	}

	// Without an explicit target the caller means "the last thing I sent",
	// wherever that was.
	if strings.TrimSpace(a.Target) == "" {
		if ref := e.refs.Latest(accountID); ref != nil {
			p := msgref.Pair{MsgID: ref.MsgID, CliMsgID: ref.CliMsgID}
			if p.Complete() {
				return p, nil
			}
		}
	}

	return e.completeFromRecent(ctx, accountID, threadID, group, msgref.Pair{})
}

// completeFromCache fills a half-resolved pair from cached refs sharing one id.
func (e *Executor) completeFromCache(accountID string, partial msgref.Pair) msgref.Pair {
	known := firstNonEmpty(partial.MsgID, partial.CliMsgID)
	if known == "" {
		return partial
	}
	if pair, ok := e.refs.Resolve(accountID, known); ok && pair.Complete() {
		return pair
	}
	return partial
}

// completeFromRecent queries the live thread for the newest self-authored
// message carrying both ids, and backfills the ref cache with the answer.
func (e *Executor) completeFromRecent(ctx context.Context, accountID, threadID string, group bool, partial msgref.Pair) (msgref.Pair, error) {
	rows, err := e.client.Recent(ctx, threadID, defaultReadCount, group)
	if err != nil {
		return msgref.Pair{}, fmt.Errorf("could not resolve target message: %w", err)
	}

	self := e.selfID()
	var best *zalocli.RecentRow
	for i := range rows {
		r := &rows[i]
		if r.MsgID == "" || r.CliMsgID == "" {
			continue
		}
		if partial.MsgID != "" && r.MsgID != partial.MsgID {
			continue
		}
		if partial.MsgID == "" && self != "" && r.SenderID != self {
			continue
		}
		if best == nil || r.TS > best.TS {
			best = r
		}
	}
	if best == nil {
		return msgref.Pair{}, fmt.Errorf("could not resolve target message: no matching recent message found")
	}

	e.refs.Remember(msgref.Ref{
		AccountID: accountID,
		ThreadID:  threadID,
		IsGroup:   group,
		MsgID:     best.MsgID,
		CliMsgID:  best.CliMsgID,
		Preview:   best.Content,
	})
	return msgref.Pair{MsgID: best.MsgID, CliMsgID: best.CliMsgID}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
