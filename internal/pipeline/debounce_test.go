package pipeline_test

import (
	"sync"
	"testing"
	"time"

	"zalobridge/internal/normalize"
	"zalobridge/internal/pipeline"
)

func turn(text string, ts int64) *normalize.InboundMessage {
	return &normalize.InboundMessage{
		AccountID: "a1", ThreadID: "t1", SenderID: "s1",
		Text: text, Timestamp: ts,
	}
}

func TestMerge_JoinsDistinctBodies(t *testing.T) {
	t.Parallel()

	msgs := []*normalize.InboundMessage{
		turn("first line", 100),
		turn("second line", 200),
		turn("first line", 300), // duplicate collapses
	}
	got := pipeline.Merge(msgs)

	if got.Text != "first line\nsecond line" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Timestamp != 300 {
		t.Errorf("Timestamp = %d, want 300", got.Timestamp)
	}
}

func TestMerge_CommandWinsAlone(t *testing.T) {
	t.Parallel()

	msgs := []*normalize.InboundMessage{
		turn("some chatter", 100),
		turn("/unsend", 200),
	}
	got := pipeline.Merge(msgs)

	if got.Text != "/unsend" {
		t.Errorf("Text = %q, want the command alone", got.Text)
	}
}

func TestMerge_MentionPrefixedCommandWinsAlone(t *testing.T) {
	t.Parallel()

	msgs := []*normalize.InboundMessage{
		turn("hey what do you think", 100),
		turn("@Bot /reset", 200),
	}
	got := pipeline.Merge(msgs)

	if got.Text != "@Bot /reset" {
		t.Errorf("Text = %q, want the mention-prefixed command alone", got.Text)
	}
}

func TestMerge_MediaUnionAndEarliestIDs(t *testing.T) {
	t.Parallel()

	m1 := turn("photo incoming", 100)
	m1.MediaPaths = []string{"/tmp/a.jpg"}
	m1.MsgID, m1.CliMsgID = "m-1", "c-1"
	m2 := turn("and another", 200)
	m2.MediaPaths = []string{"/tmp/b.jpg", "/tmp/a.jpg"}
	m2.MsgID, m2.CliMsgID = "m-2", "c-2"

	got := pipeline.Merge([]*normalize.InboundMessage{m1, m2})

	if len(got.MediaPaths) != 2 {
		t.Errorf("MediaPaths = %v", got.MediaPaths)
	}
	if got.MsgID != "m-1" || got.CliMsgID != "c-1" {
		t.Errorf("ids = (%q, %q), want earliest pair", got.MsgID, got.CliMsgID)
	}
}

func TestMerge_SingleMessagePassesThrough(t *testing.T) {
	t.Parallel()

	m := turn("solo", 100)
	if got := pipeline.Merge([]*normalize.InboundMessage{m}); got != m {
		t.Errorf("single-message merge should return the original")
	}
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var emitted []*normalize.InboundMessage
	d := pipeline.NewDebouncer(30*time.Millisecond, 30*time.Millisecond, func(m *normalize.InboundMessage) {
		mu.Lock()
		emitted = append(emitted, m)
		mu.Unlock()
	}, nil)
	defer d.Stop()

	d.Offer(turn("part one", 100))
	d.Offer(turn("part two", 200))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(emitted)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounce never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("emitted %d turns, want 1", len(emitted))
	}
	if emitted[0].Text != "part one\npart two" {
		t.Errorf("merged Text = %q", emitted[0].Text)
	}
}

func TestDebouncer_CommandBypassFlushesFirst(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var emitted []string
	d := pipeline.NewDebouncer(time.Hour, time.Hour, func(m *normalize.InboundMessage) {
		mu.Lock()
		emitted = append(emitted, m.Text)
		mu.Unlock()
	}, nil)
	defer d.Stop()

	d.Offer(turn("pending chatter", 100))
	d.Offer(turn("/status", 200))
	d.Offer(turn("@Bot /unsend", 300))

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 3 {
		t.Fatalf("emitted = %v, want pending turn then both commands", emitted)
	}
	if emitted[0] != "pending chatter" || emitted[1] != "/status" || emitted[2] != "@Bot /unsend" {
		t.Errorf("order = %v", emitted)
	}
}

func TestDebouncer_DistinctSendersSeparate(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var emitted []string
	d := pipeline.NewDebouncer(20*time.Millisecond, 20*time.Millisecond, func(m *normalize.InboundMessage) {
		mu.Lock()
		emitted = append(emitted, m.SenderID+":"+m.Text)
		mu.Unlock()
	}, nil)
	defer d.Stop()

	a := turn("from alice", 100)
	b := turn("from bob", 100)
	b.SenderID = "s2"
	d.Offer(a)
	d.Offer(b)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 {
		t.Fatalf("emitted %d turns, want 2 (one per sender)", len(emitted))
	}
}

func TestDebouncer_FlushDrainsPending(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var emitted []string
	d := pipeline.NewDebouncer(time.Hour, time.Hour, func(m *normalize.InboundMessage) {
		mu.Lock()
		emitted = append(emitted, m.Text)
		mu.Unlock()
	}, nil)

	d.Offer(turn("waiting", 100))
	d.Flush()
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 || emitted[0] != "waiting" {
		t.Errorf("emitted = %v, want the pending turn", emitted)
	}
}
