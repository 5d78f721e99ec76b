package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"zalobridge/internal/agent"
	"zalobridge/internal/config"
	"zalobridge/internal/dedupe"
	"zalobridge/internal/dispatch"
	"zalobridge/internal/msgref"
	"zalobridge/internal/zalocli"
)

type sentItem struct {
	kind    string
	text    string
	caption string
}

type fakeSender struct {
	sent      []sentItem
	typingErr error
	failAll   bool
}

func (f *fakeSender) SendText(_ context.Context, _, text string, _ bool) (zalocli.SendResult, error) {
	if f.failAll {
		return zalocli.SendResult{Error: "backend down"}, nil
	}
	f.sent = append(f.sent, sentItem{kind: "text", text: text})
	return zalocli.SendResult{Success: true, MsgID: "m", CliMsgID: "c"}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, _, kind, src, caption string, _ bool) (zalocli.SendResult, error) {
	if f.failAll {
		return zalocli.SendResult{Error: "backend down"}, nil
	}
	f.sent = append(f.sent, sentItem{kind: "media:" + kind, text: src, caption: caption})
	return zalocli.SendResult{Success: true, MsgID: "m", CliMsgID: "c"}, nil
}

func (f *fakeSender) Typing(_ context.Context, _ string, _ bool) error {
	return f.typingErr
}

type chunkEngine []agent.Chunk

func (e chunkEngine) Generate(_ context.Context, _ *agent.Request, emit func(agent.Chunk) error) error {
	for _, c := range e {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

type failingEngine struct{}

func (failingEngine) Generate(context.Context, *agent.Request, func(agent.Chunk) error) error {
	return errors.New("model unavailable")
}

func deliveryCfg() *config.Resolved {
	return &config.Resolved{
		AccountID:          "a1",
		TextChunkLimit:     2000,
		ChunkMode:          "length",
		SendFailureNotice:  true,
		SendFailureMessage: "delivery failed",
	}
}

func newDispatcher(s *fakeSender) *dispatch.Dispatcher {
	guard := dedupe.NewGuard(15*time.Second, nil)
	refs := msgref.NewTracker(0, 0, nil)
	return dispatch.NewDispatcher(s, guard, refs, nil, nil)
}

func req() *agent.Request {
	return &agent.Request{AccountID: "a1", ThreadID: "t1", SenderID: "s1"}
}

func TestDeliver_ChunksLongReply(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := newDispatcher(s)

	long := strings.Repeat("word ", 1000)
	out := d.Deliver(context.Background(), deliveryCfg(), req(), chunkEngine{{Text: long}})

	if !out.SentReply {
		t.Fatalf("SentReply = false, errors: %v", out.Errors)
	}
	if out.ChunksSent != 3 {
		t.Errorf("ChunksSent = %d, want 3", out.ChunksSent)
	}
	for i, item := range s.sent {
		if len(item.text) > 2000 {
			t.Errorf("sent[%d] exceeds limit: %d bytes", i, len(item.text))
		}
	}
}

func TestDeliver_TypingFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	s := &fakeSender{typingErr: errors.New("typing broken")}
	d := newDispatcher(s)

	out := d.Deliver(context.Background(), deliveryCfg(), req(), chunkEngine{{Text: "hi"}})
	if !out.SentReply || out.ChunksSent != 1 {
		t.Errorf("outcome = %+v, want reply delivered despite typing failure", out)
	}
}

func TestDeliver_MediaCaptionOnFirstOnly(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := newDispatcher(s)

	out := d.Deliver(context.Background(), deliveryCfg(), req(), chunkEngine{{
		Text:      "two pictures",
		MediaURLs: []string{"https://x/a.png", "https://x/b.png"},
	}})

	if out.ChunksSent != 2 {
		t.Fatalf("ChunksSent = %d, want 2", out.ChunksSent)
	}
	if s.sent[0].caption != "two pictures" {
		t.Errorf("first caption = %q, want the chunk text", s.sent[0].caption)
	}
	if s.sent[1].caption != "" {
		t.Errorf("second caption = %q, want empty", s.sent[1].caption)
	}
}

func TestDeliver_DuplicateChunksNotSuppressedWithinTurn(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := newDispatcher(s)

	// The engine legitimately repeats itself; sequence numbering must let
	// both copies through.
	out := d.Deliver(context.Background(), deliveryCfg(), req(),
		chunkEngine{{Text: "ok"}, {Text: "ok"}})

	if out.ChunksSent != 2 {
		t.Errorf("ChunksSent = %d, want 2 (suppressed %d)", out.ChunksSent, out.Suppressed)
	}
}

func TestDeliver_RepeatTurnSuppressed(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := newDispatcher(s)
	cfg := deliveryCfg()

	first := d.Deliver(context.Background(), cfg, req(), chunkEngine{{Text: "same reply"}})
	if first.ChunksSent != 1 {
		t.Fatalf("first turn sent %d", first.ChunksSent)
	}

	// Identical content to the same target inside the recent window.
	second := d.Deliver(context.Background(), cfg, req(), chunkEngine{{Text: "same reply"}})
	if second.ChunksSent != 0 || second.Suppressed != 1 {
		t.Errorf("second turn = %+v, want full suppression", second)
	}
}

func TestDeliver_FailureNoticeOnTotalFailure(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := newDispatcher(s)

	out := d.Deliver(context.Background(), deliveryCfg(), req(), failingEngine{})

	if out.SentReply {
		t.Fatalf("SentReply = true for failed generation")
	}
	if len(s.sent) != 1 || s.sent[0].text != "delivery failed" {
		t.Errorf("sent = %+v, want only the failure notice", s.sent)
	}
}

func TestDeliver_TypingFailureWithNoSendsTriggersNotice(t *testing.T) {
	t.Parallel()

	s := &fakeSender{typingErr: errors.New("typing broken")}
	d := newDispatcher(s)

	// Nothing generated and typing failed: the only error in the turn still
	// produces the notice.
	out := d.Deliver(context.Background(), deliveryCfg(), req(), chunkEngine{})

	if out.SentReply {
		t.Fatalf("SentReply = true with no chunks")
	}
	if len(s.sent) != 1 || s.sent[0].text != "delivery failed" {
		t.Errorf("sent = %+v, want only the failure notice", s.sent)
	}
}

func TestDeliver_NoNoticeAfterPartialDelivery(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	guard := dedupe.NewGuard(15*time.Second, nil)
	d := dispatch.NewDispatcher(s, guard, msgref.NewTracker(0, 0, nil), nil, nil)

	// One chunk goes out, then generation dies: no notice expected.
	out := d.Deliver(context.Background(), deliveryCfg(), req(), partialEngine{})

	if !out.SentReply {
		t.Fatalf("SentReply = false after partial delivery")
	}
	for _, item := range s.sent {
		if item.text == "delivery failed" {
			t.Errorf("failure notice sent despite partial delivery")
		}
	}
}

type partialEngine struct{}

func (partialEngine) Generate(_ context.Context, _ *agent.Request, emit func(agent.Chunk) error) error {
	if err := emit(agent.Chunk{Text: "partial answer"}); err != nil {
		return err
	}
	return errors.New("stream cut")
}
