// Package access implements the multi-layer inbound gate: group policy,
// DM pairing/allowlist, control-command authorization, the human-pass
// override, and group mention gating.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"zalobridge/internal/config"
	"zalobridge/internal/database"
	"zalobridge/internal/normalize"
)

// Outcome is the gate's decision for one inbound message.
type Outcome int

const (
	// OutcomeReply proceeds to context building and reply generation.
	OutcomeReply Outcome = iota
	// OutcomeDrop discards the message (policy denial; not an error).
	OutcomeDrop
	// OutcomePairingIssued sent a pairing code; no reply is generated.
	OutcomePairingIssued
	// OutcomeWithheld archives a non-mentioned group message into pending
	// history without replying.
	OutcomeWithheld
	// OutcomeSuppressed ingests the message for context only (human pass).
	OutcomeSuppressed
)

// Verdict carries the gate decision plus the flags downstream stages need.
type Verdict struct {
	Outcome           Outcome
	WasMentioned      bool
	IsCommand         bool
	CommandAuthorized bool
	CommandBody       string
	Reason            string
	MentionWarning    bool
}

// PairingStore is the persistence surface the gate needs for DM pairing.
type PairingStore interface {
	GetPairing(ctx context.Context, accountID, senderID string) (*database.PairingApproval, error)
	SavePairing(ctx context.Context, p *database.PairingApproval) error
}

// CodeSender delivers a pairing code back to the requesting sender. Failures
// are logged, never propagated into the gate decision.
type CodeSender func(ctx context.Context, threadID, text string) error

// Gate evaluates the access state machine for one account.
type Gate struct {
	cfg      *config.Resolved
	store    PairingStore
	sendCode CodeSender
	detector *MentionDetector
	logger   *slog.Logger

	mu        sync.Mutex
	humanPass map[string]bool
	warned    map[string]bool
}

// NewGate creates a gate for one resolved account.
func NewGate(cfg *config.Resolved, store PairingStore, sendCode CodeSender, detector *MentionDetector, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:       cfg,
		store:     store,
		sendCode:  sendCode,
		detector:  detector,
		logger:    logger.With("component", "access_gate", "account", cfg.AccountID),
		humanPass: make(map[string]bool),
		warned:    make(map[string]bool),
	}
}

// Evaluate runs the fixed-order state machine, short-circuiting at the first
// blocking condition: group policy, DM policy, control-command authorization,
// human-pass override, mention gate.
func (g *Gate) Evaluate(ctx context.Context, msg *normalize.InboundMessage) Verdict {
	if msg.IsGroup {
		if v, blocked := g.checkGroupPolicy(ctx, msg); blocked {
			return v
		}
	} else {
		if v, blocked := g.checkDMPolicy(ctx, msg); blocked {
			return v
		}
	}

	mentioned := g.detector.Detect(msg)
	commandBody := g.detector.Strip(msg, mentioned)
	isCmd := IsControlCommand(commandBody)
	cmdAuthorized := isCmd && g.CommandAuthorized(msg)

	if isCmd && msg.IsGroup && !cmdAuthorized {
		g.logger.InfoContext(ctx, "Dropping unauthorized group control command",
			"thread_id", msg.ThreadID, "sender_id", msg.SenderID,
			"hint", "add sender to allow_from or groups.<id>.tools_by_sender")
		return Verdict{Outcome: OutcomeDrop, Reason: "unauthorized control command"}
	}

	base := Verdict{
		WasMentioned:      mentioned,
		IsCommand:         isCmd,
		CommandAuthorized: cmdAuthorized,
		CommandBody:       commandBody,
	}

	if g.HumanPass(msg.ThreadID) && !cmdAuthorized {
		base.Outcome = OutcomeSuppressed
		base.Reason = "human pass active"
		return base
	}

	if msg.IsGroup && g.cfg.RequireMention(msg.ThreadID, msg.ThreadName) {
		if v, blocked := g.checkMentionGate(ctx, msg, base); blocked {
			return v
		} else if v.MentionWarning {
			base.MentionWarning = true
			base.WasMentioned = v.WasMentioned
		}
	}

	base.Outcome = OutcomeReply
	return base
}

func (g *Gate) checkGroupPolicy(ctx context.Context, msg *normalize.InboundMessage) (Verdict, bool) {
	switch g.cfg.GroupPolicy {
	case "disabled":
		return Verdict{Outcome: OutcomeDrop, Reason: "group policy disabled"}, true
	case "open":
		return Verdict{}, false
	}
	if !g.cfg.GroupAllowed(msg.ThreadID, msg.ThreadName) {
		g.logger.DebugContext(ctx, "Group not in allowlist",
			"thread_id", msg.ThreadID,
			"hint", fmt.Sprintf("add groups.%q.allow: true or a wildcard '*' entry", msg.ThreadID))
		return Verdict{Outcome: OutcomeDrop, Reason: "group not allowlisted"}, true
	}
	return Verdict{}, false
}

func (g *Gate) checkDMPolicy(ctx context.Context, msg *normalize.InboundMessage) (Verdict, bool) {
	switch g.cfg.DMPolicy {
	case "disabled":
		return Verdict{Outcome: OutcomeDrop, Reason: "dm policy disabled"}, true
	case "open":
		return Verdict{}, false
	}

	if config.SenderAllowed(g.cfg.AllowFrom, msg.SenderID) {
		return Verdict{}, false
	}
	if approved, _ := g.isApproved(ctx, msg.SenderID); approved {
		return Verdict{}, false
	}

	if g.cfg.DMPolicy == "pairing" {
		g.issuePairingCode(ctx, msg)
		return Verdict{Outcome: OutcomePairingIssued, Reason: "pairing code issued"}, true
	}

	g.logger.DebugContext(ctx, "DM sender not allowlisted",
		"sender_id", msg.SenderID,
		"hint", "add sender to allow_from or switch dm_policy to pairing")
	return Verdict{Outcome: OutcomeDrop, Reason: "dm sender not allowlisted"}, true
}

func (g *Gate) checkMentionGate(ctx context.Context, msg *normalize.InboundMessage, base Verdict) (Verdict, bool) {
	if base.IsCommand && base.CommandAuthorized {
		return base, false
	}
	if base.WasMentioned {
		return base, false
	}

	if !g.detector.CanDetect() {
		switch g.cfg.GroupMentionDetectionFailure {
		case "allow":
			base.WasMentioned = true
			return base, false
		case "allow-with-warning":
			if g.warnOnce(msg.ThreadID) {
				g.logger.WarnContext(ctx, "Mention detection unavailable; proceeding per allow-with-warning",
					"thread_id", msg.ThreadID)
			}
			base.WasMentioned = true
			base.MentionWarning = true
			return base, false
		default: // deny, fail closed
			return Verdict{Outcome: OutcomeDrop, Reason: "mention detection unavailable"}, true
		}
	}

	base.Outcome = OutcomeWithheld
	base.Reason = "not mentioned"
	return base, true
}

// CommandAuthorized reports whether the sender may issue control commands:
// the owner allow-list, for groups additionally the per-group allow-list or
// a tools_by_sender grant on the group entry.
func (g *Gate) CommandAuthorized(msg *normalize.InboundMessage) bool {
	if config.SenderAllowed(g.cfg.AllowFrom, msg.SenderID) {
		return true
	}
	if msg.IsGroup && config.SenderAllowed(g.cfg.GroupAllowFrom, msg.SenderID) {
		return true
	}
	if msg.IsGroup && len(g.cfg.SenderTools(msg.ThreadID, msg.ThreadName, msg.SenderID)) > 0 {
		return true
	}
	return false
}

// HumanPass reports the human-pass flag for a conversation.
func (g *Gate) HumanPass(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.humanPass[threadID]
}

// SetHumanPass toggles the human-pass flag for a conversation.
func (g *Gate) SetHumanPass(threadID string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		g.humanPass[threadID] = true
	} else {
		delete(g.humanPass, threadID)
	}
}

func (g *Gate) isApproved(ctx context.Context, senderID string) (bool, error) {
	if g.store == nil {
		return false, nil
	}
	p, err := g.store.GetPairing(ctx, g.cfg.AccountID, senderID)
	if err != nil {
		g.logger.WarnContext(ctx, "Failed to query pairing approval", "sender_id", senderID, "error", err)
		return false, err
	}
	return p != nil && p.Approved, nil
}

// issuePairingCode issues (idempotently) and delivers a pairing code to an
// unknown DM sender. Repeated requests from the same sender reuse the
// existing code and do not resend it.
func (g *Gate) issuePairingCode(ctx context.Context, msg *normalize.InboundMessage) {
	if g.store == nil {
		return
	}

	existing, err := g.store.GetPairing(ctx, g.cfg.AccountID, msg.SenderID)
	if err != nil {
		g.logger.WarnContext(ctx, "Failed to check existing pairing", "sender_id", msg.SenderID, "error", err)
		return
	}
	if existing != nil {
		g.logger.DebugContext(ctx, "Pairing code already issued", "sender_id", msg.SenderID)
		return
	}

	code := NewPairingCode()
	p := &database.PairingApproval{
		AccountID: g.cfg.AccountID,
		SenderID:  msg.SenderID,
		Code:      code,
	}
	if err := g.store.SavePairing(ctx, p); err != nil {
		g.logger.WarnContext(ctx, "Failed to save pairing code", "sender_id", msg.SenderID, "error", err)
		return
	}

	g.logger.InfoContext(ctx, "Issued pairing code", "sender_id", msg.SenderID, "code", code)
	if g.sendCode != nil {
		text := fmt.Sprintf("Your pairing code is %s. Ask the operator to approve it before I can reply.", code)
		if err := g.sendCode(ctx, msg.ThreadID, text); err != nil {
			g.logger.WarnContext(ctx, "Failed to deliver pairing code", "sender_id", msg.SenderID, "error", err)
		}
	}
}

func (g *Gate) warnOnce(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.warned[threadID] {
		return false
	}
	g.warned[threadID] = true
	return true
}

// NewPairingCode generates a short uppercase pairing code.
func NewPairingCode() string {
	return strings.ToUpper(strings.Split(uuid.NewString(), "-")[0])
}

// Reset clears human-pass and warning state. Intended for tests.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.humanPass = make(map[string]bool)
	g.warned = make(map[string]bool)
}
