package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zalobridge/internal/agent"
	"zalobridge/internal/config"
	"zalobridge/internal/database"
	"zalobridge/internal/dedupe"
	"zalobridge/internal/msgref"
	"zalobridge/internal/zalocli"
)

// Sender is the transport surface the dispatcher sends through.
type Sender interface {
	SendText(ctx context.Context, threadID, text string, group bool) (zalocli.SendResult, error)
	SendMedia(ctx context.Context, threadID, kind, src, caption string, group bool) (zalocli.SendResult, error)
	Typing(ctx context.Context, threadID string, group bool) error
}

// Archiver records sent replies for session continuity. May be nil.
type Archiver interface {
	SaveMessage(ctx context.Context, message *database.Message) error
}

// Outcome summarizes one delivery turn.
type Outcome struct {
	SentReply    bool
	ChunksSent   int
	ChunksFailed int
	Suppressed   int
	Errors       []error
}

// Dispatcher delivers generated replies: typing lifecycle, chunking, media,
// per-chunk dedupe, reference tracking, and the failure-notice fallback.
type Dispatcher struct {
	client  Sender
	guard   *dedupe.Guard
	refs    *msgref.Tracker
	archive Archiver
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. archive may be nil.
func NewDispatcher(client Sender, guard *dedupe.Guard, refs *msgref.Tracker, archive Archiver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:  client,
		guard:   guard,
		refs:    refs,
		archive: archive,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Deliver runs the engine for req and sends every emitted chunk. Generation
// failure after a partial delivery still reports SentReply; the failure
// notice only fires when nothing at all went out.
func (d *Dispatcher) Deliver(ctx context.Context, cfg *config.Resolved, req *agent.Request, engine agent.Engine) Outcome {
	var out Outcome

	if err := d.client.Typing(ctx, req.ThreadID, req.IsGroup); err != nil {
		// Typing is best-effort; a failed indicator never aborts the reply,
		// but it counts toward the failure notice when nothing goes out.
		d.logger.DebugContext(ctx, "Typing indicator failed",
			"thread_id", req.ThreadID, "error", err)
		out.Errors = append(out.Errors, fmt.Errorf("typing indicator: %w", err))
	}

	// Sequence increments only when the exact same payload repeats within
	// this turn, so legitimate repetition survives the dedupe guard.
	seen := make(map[string]int)

	genErr := engine.Generate(ctx, req, func(chunk agent.Chunk) error {
		d.deliverChunk(ctx, cfg, req, chunk, seen, &out)
		return ctx.Err()
	})
	if genErr != nil {
		out.Errors = append(out.Errors, fmt.Errorf("reply generation: %w", genErr))
	}

	out.SentReply = out.ChunksSent > 0

	if !out.SentReply && len(out.Errors) > 0 && cfg.SendFailureNotice {
		d.sendFailureNotice(ctx, cfg, req)
	}
	return out
}

func (d *Dispatcher) deliverChunk(ctx context.Context, cfg *config.Resolved, req *agent.Request, chunk agent.Chunk, seen map[string]int, out *Outcome) {
	if len(chunk.MediaPaths) > 0 || len(chunk.MediaURLs) > 0 {
		d.deliverMedia(ctx, cfg, req, chunk, seen, out)
		return
	}

	for _, part := range ChunkText(chunk.Text, cfg.TextChunkLimit, cfg.ChunkMode) {
		d.sendText(ctx, cfg, req, part, seen, out)
	}
}

// deliverMedia sends each media item individually; the chunk's text rides as
// the caption on the first item only.
func (d *Dispatcher) deliverMedia(ctx context.Context, cfg *config.Resolved, req *agent.Request, chunk agent.Chunk, seen map[string]int, out *Outcome) {
	caption := chunk.Text
	if len(caption) > cfg.TextChunkLimit && cfg.TextChunkLimit > 0 {
		// Overflow text goes out as plain chunks after the media.
		parts := ChunkText(caption, cfg.TextChunkLimit, cfg.ChunkMode)
		caption = parts[0]
		defer func() {
			for _, part := range parts[1:] {
				d.sendText(ctx, cfg, req, part, seen, out)
			}
		}()
	}

	first := true
	sendOne := func(src string, local bool) {
		if local {
			if err := ValidateMediaPath(src, cfg.MediaAllowedRoots, cfg.MediaMaxMB); err != nil {
				d.logger.WarnContext(ctx, "Rejecting media by policy", "src", src, "error", err)
				out.ChunksFailed++
				out.Errors = append(out.Errors, err)
				return
			}
		}
		itemCaption := ""
		if first {
			itemCaption = caption
		}
		d.sendMedia(ctx, cfg, req, src, itemCaption, seen, out)
		first = false
	}

	for _, p := range chunk.MediaPaths {
		sendOne(p, true)
	}
	for _, u := range chunk.MediaURLs {
		sendOne(u, false)
	}

	// No media survived policy but there was text: fall back to plain text.
	if first && caption != "" {
		d.sendText(ctx, cfg, req, caption, seen, out)
	}
}

func (d *Dispatcher) sendText(ctx context.Context, cfg *config.Resolved, req *agent.Request, text string, seen map[string]int, out *Outcome) {
	if text == "" {
		return
	}
	params := dedupe.Params{
		AccountID:  cfg.AccountID,
		SessionKey: req.SenderID,
		Target:     req.ThreadID,
		Kind:       "text",
		Sequence:   seen[text],
		Content:    text,
	}
	seen[text]++

	d.sendGuarded(ctx, req, params, out, func(sendCtx context.Context) (zalocli.SendResult, error) {
		return d.client.SendText(sendCtx, req.ThreadID, text, req.IsGroup)
	})
}

func (d *Dispatcher) sendMedia(ctx context.Context, cfg *config.Resolved, req *agent.Request, src, caption string, seen map[string]int, out *Outcome) {
	key := "media\x00" + src + "\x00" + caption
	params := dedupe.Params{
		AccountID:  cfg.AccountID,
		SessionKey: req.SenderID,
		Target:     req.ThreadID,
		Kind:       "media",
		Sequence:   seen[key],
		Content:    caption,
		MediaRef:   src,
	}
	seen[key]++

	kind := MediaKind(src)
	d.sendGuarded(ctx, req, params, out, func(sendCtx context.Context) (zalocli.SendResult, error) {
		return d.client.SendMedia(sendCtx, req.ThreadID, kind, src, caption, req.IsGroup)
	})
}

func (d *Dispatcher) sendGuarded(ctx context.Context, req *agent.Request, params dedupe.Params, out *Outcome, send func(context.Context) (zalocli.SendResult, error)) {
	acq := d.guard.Acquire(params, time.Now())
	if !acq.Acquired {
		d.logger.InfoContext(ctx, "Suppressing duplicate send",
			"thread_id", req.ThreadID, "kind", params.Kind, "reason", acq.Reason)
		out.Suppressed++
		return
	}

	res, err := send(ctx)
	sent := err == nil && res.Success
	d.guard.Release(acq.Ticket, sent, time.Now())

	if !sent {
		out.ChunksFailed++
		if err == nil {
			err = fmt.Errorf("send rejected by cli: %s", res.Error)
		}
		out.Errors = append(out.Errors, err)
		d.logger.ErrorContext(ctx, "Send failed",
			"thread_id", req.ThreadID, "kind", params.Kind, "error", err)
		return
	}

	out.ChunksSent++
	d.trackSent(ctx, req, params, res)
}

// trackSent remembers the sent message's dual ids and archives the reply.
func (d *Dispatcher) trackSent(ctx context.Context, req *agent.Request, params dedupe.Params, res zalocli.SendResult) {
	preview := params.Content
	if preview == "" {
		preview = params.MediaRef
	}
	if d.refs != nil {
		d.refs.Remember(msgref.Ref{
			AccountID: req.AccountID,
			ThreadID:  req.ThreadID,
			IsGroup:   req.IsGroup,
			MsgID:     res.MsgID,
			CliMsgID:  res.CliMsgID,
			Preview:   preview,
		})
	}

	if d.archive != nil && params.Content != "" {
		msg := &database.Message{
			AccountID:  req.AccountID,
			ThreadID:   req.ThreadID,
			SenderID:   "bot",
			SenderName: "bot",
			IsGroup:    req.IsGroup,
			Content:    params.Content,
			MsgID:      res.MsgID,
			CliMsgID:   res.CliMsgID,
			Timestamp:  time.Now().UTC(),
		}
		if err := d.archive.SaveMessage(ctx, msg); err != nil {
			d.logger.WarnContext(ctx, "Failed to archive sent reply",
				"thread_id", req.ThreadID, "error", err)
		}
	}
}

// sendFailureNotice sends the configured notice directly, bypassing chunking
// and dedupe. A failed notice is only logged.
func (d *Dispatcher) sendFailureNotice(ctx context.Context, cfg *config.Resolved, req *agent.Request) {
	res, err := d.client.SendText(ctx, req.ThreadID, cfg.SendFailureMessage, req.IsGroup)
	if err == nil && !res.Success {
		err = fmt.Errorf("cli rejected notice: %s", res.Error)
	}
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to deliver failure notice",
			"thread_id", req.ThreadID, "error", err)
	}
}
