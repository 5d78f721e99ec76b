package pipeline

import (
	"context"
	"log/slog"
	"time"

	"zalobridge/internal/access"
	"zalobridge/internal/actions"
	"zalobridge/internal/agent"
	"zalobridge/internal/config"
	"zalobridge/internal/database"
	"zalobridge/internal/dispatch"
	"zalobridge/internal/history"
	"zalobridge/internal/normalize"
	"zalobridge/internal/zalocli"
)

const processTimeout = 3 * time.Minute

// ProcessorDeps carries the collaborators one account processor needs.
type ProcessorDeps struct {
	Cfg        *config.Resolved
	Bridge     *zalocli.Bridge
	Gate       *access.Gate
	Builder    *history.Builder
	Dispatcher *dispatch.Dispatcher
	Executor   *actions.Executor
	Engine     agent.Engine
	Store      database.Store
	Pending    *history.PendingBuffer
	Logger     *slog.Logger
}

// Processor runs the inbound path for one account: normalize, debounce,
// per-conversation ordering, access gating, context building, and delivery.
type Processor struct {
	ctx  context.Context
	deps ProcessorDeps

	debouncer *Debouncer
	lanes     *Lanes
	logger    *slog.Logger
}

// NewProcessor wires the per-account pipeline. ctx bounds all asynchronous
// work spawned from debounce timers and lane goroutines.
func NewProcessor(ctx context.Context, deps ProcessorDeps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		ctx:    ctx,
		deps:   deps,
		lanes:  NewLanes(),
		logger: logger.With("component", "processor", "account", deps.Cfg.AccountID),
	}
	p.debouncer = NewDebouncer(
		time.Duration(deps.Cfg.DebounceMS)*time.Millisecond,
		time.Duration(deps.Cfg.DMDebounceMS)*time.Millisecond,
		p.onTurn, logger)
	return p
}

// HandleRaw ingests one raw transport event. Safe for the monitor's single
// consumer goroutine.
func (p *Processor) HandleRaw(ctx context.Context, raw zalocli.RawEvent) {
	msg := normalize.Normalize(raw, p.deps.Bridge.SelfID())
	if msg == nil {
		return
	}
	msg.AccountID = p.deps.Cfg.AccountID

	p.logger.DebugContext(ctx, "Inbound message",
		"thread_id", msg.ThreadID, "sender_id", msg.SenderID, "is_group", msg.IsGroup,
		"has_media", len(msg.MediaPaths)+len(msg.MediaURLs) > 0)

	p.debouncer.Offer(msg)
}

// Shutdown flushes pending debounce batches and waits for lane drain.
func (p *Processor) Shutdown() {
	p.debouncer.Flush()
	p.lanes.Wait()
	p.debouncer.Stop()
}

func (p *Processor) onTurn(msg *normalize.InboundMessage) {
	key := msg.AccountID + "\x00" + msg.ThreadID
	p.lanes.Enqueue(key, func() {
		if p.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(p.ctx, processTimeout)
		defer cancel()
		p.process(ctx, msg)
	})
}

func (p *Processor) process(ctx context.Context, msg *normalize.InboundMessage) {
	v := p.deps.Gate.Evaluate(ctx, msg)

	switch v.Outcome {
	case access.OutcomeDrop, access.OutcomePairingIssued:
		p.logger.DebugContext(ctx, "Message gated",
			"thread_id", msg.ThreadID, "reason", v.Reason)
		return
	case access.OutcomeWithheld:
		p.archive(ctx, msg)
		p.deps.Pending.Add(msg.AccountID, msg.ThreadID, history.PendingEntry{
			Sender:     senderLabel(msg),
			Body:       msg.Text,
			Timestamp:  msg.Timestamp,
			MessageID:  msg.MsgID,
			MediaPaths: msg.MediaPaths,
			MediaURLs:  msg.MediaURLs,
			MediaTypes: msg.MediaTypes,
		})
		return
	case access.OutcomeSuppressed:
		p.archive(ctx, msg)
		return
	}

	p.archive(ctx, msg)

	if v.IsCommand && v.CommandAuthorized {
		if toggle := access.ParseHumanPass(v.CommandBody); toggle != access.HumanPassNone {
			p.applyHumanPass(ctx, msg, toggle)
			return
		}
		if a, ok := actions.ParseCommand(v.CommandBody); ok && p.deps.Executor != nil {
			p.runAction(ctx, msg, a)
			return
		}
	}

	req := p.deps.Builder.Build(ctx, p.deps.Cfg, msg, v)
	out := p.deps.Dispatcher.Deliver(ctx, p.deps.Cfg, req, p.deps.Engine)

	if len(out.Errors) > 0 {
		p.logger.ErrorContext(ctx, "Reply delivery finished with errors",
			"thread_id", msg.ThreadID, "sent", out.ChunksSent,
			"failed", out.ChunksFailed, "error", out.Errors[0])
		return
	}
	p.logger.InfoContext(ctx, "Reply delivered",
		"thread_id", msg.ThreadID, "chunks", out.ChunksSent, "suppressed", out.Suppressed)
}

// runAction executes an operator action command and reports the result back
// into the originating conversation.
func (p *Processor) runAction(ctx context.Context, msg *normalize.InboundMessage, a actions.Action) {
	a.ContextThreadID = msg.ThreadID
	a.ContextIsGroup = msg.IsGroup
	a.ContextSenderID = msg.SenderID
	if msg.Quote != nil {
		a.ContextMsgID = msg.Quote.MsgID
		a.ContextCliMsgID = msg.Quote.CliMsgID
	}

	result, err := p.deps.Executor.Execute(ctx, p.deps.Cfg, a)
	if err != nil {
		p.logger.WarnContext(ctx, "Action command failed",
			"thread_id", msg.ThreadID, "action", a.Type, "error", err)
		result = err.Error()
	}
	if result == "" {
		return
	}
	req := &agent.Request{
		AccountID: msg.AccountID,
		ThreadID:  msg.ThreadID,
		IsGroup:   msg.IsGroup,
		SenderID:  msg.SenderID,
	}
	p.deps.Dispatcher.Deliver(ctx, p.deps.Cfg, req, staticReply(result))
}

// applyHumanPass toggles the conversation override and confirms to the
// operator. The confirmation bypasses chunking; it is always short.
func (p *Processor) applyHumanPass(ctx context.Context, msg *normalize.InboundMessage, toggle access.HumanPassToggle) {
	on := toggle == access.HumanPassOn
	p.deps.Gate.SetHumanPass(msg.ThreadID, on)

	text := "Human pass is off. I will reply again."
	if on {
		text = "Human pass is on. I will stay quiet until you turn it off."
	}
	p.logger.InfoContext(ctx, "Human pass toggled", "thread_id", msg.ThreadID, "on", on)

	if p.deps.Dispatcher != nil {
		req := &agent.Request{
			AccountID: msg.AccountID,
			ThreadID:  msg.ThreadID,
			IsGroup:   msg.IsGroup,
			SenderID:  msg.SenderID,
		}
		p.deps.Dispatcher.Deliver(ctx, p.deps.Cfg, req, staticReply(text))
	}
}

func (p *Processor) archive(ctx context.Context, msg *normalize.InboundMessage) {
	if p.deps.Store == nil || msg.Text == "" {
		return
	}
	ts := normalize.TimestampMS(msg.Timestamp)
	when := time.Now().UTC()
	if ts > 0 {
		when = time.UnixMilli(ts).UTC()
	}
	err := p.deps.Store.SaveMessage(ctx, &database.Message{
		AccountID:  msg.AccountID,
		ThreadID:   msg.ThreadID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		IsGroup:    msg.IsGroup,
		Content:    msg.Text,
		MsgID:      msg.MsgID,
		CliMsgID:   msg.CliMsgID,
		Timestamp:  when,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to archive inbound message",
			"thread_id", msg.ThreadID, "error", err)
	}
}

func senderLabel(msg *normalize.InboundMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}

// staticReply is a one-chunk engine used for canned confirmations.
type staticReply string

func (s staticReply) Generate(_ context.Context, _ *agent.Request, emit func(agent.Chunk) error) error {
	return emit(agent.Chunk{Text: string(s)})
}
