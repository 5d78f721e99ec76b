// Package pipeline wires the inbound path: stream supervision, debounced
// coalescing, per-conversation ordering, and the gate-to-reply processing.
package pipeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"zalobridge/internal/access"
	"zalobridge/internal/normalize"
)

// Debouncer coalesces rapid consecutive messages from the same sender in the
// same conversation into one merged turn. Control commands and text-free
// messages bypass the window and flush any pending batch first, preserving
// arrival order.
type Debouncer struct {
	groupWindow time.Duration
	dmWindow    time.Duration
	emit        func(msg *normalize.InboundMessage)
	logger      *slog.Logger

	mu      sync.Mutex
	batches map[string]*batch
	stopped bool
}

type batch struct {
	key   string
	msgs  []*normalize.InboundMessage
	timer *time.Timer
}

// NewDebouncer creates a debouncer; emit receives each flushed turn.
func NewDebouncer(groupWindow, dmWindow time.Duration, emit func(*normalize.InboundMessage), logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		groupWindow: groupWindow,
		dmWindow:    dmWindow,
		emit:        emit,
		logger:      logger.With("component", "debouncer"),
		batches:     make(map[string]*batch),
	}
}

func debounceKey(msg *normalize.InboundMessage) string {
	chatType := "dm"
	if msg.IsGroup {
		chatType = "group"
	}
	return msg.AccountID + "\x00" + chatType + "\x00" + msg.ThreadID + "\x00" + msg.SenderID
}

// Offer routes one normalized message through the debounce window.
func (d *Debouncer) Offer(msg *normalize.InboundMessage) {
	window := d.groupWindow
	if !msg.IsGroup {
		window = d.dmWindow
	}

	bypass := window <= 0 ||
		strings.TrimSpace(msg.Text) == "" ||
		access.IsControlCommand(access.TrimLeadingMention(msg.Text))

	key := debounceKey(msg)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if bypass {
		pending := d.takeLocked(key)
		d.mu.Unlock()
		if pending != nil {
			d.emit(pending)
		}
		d.emit(msg)
		return
	}

	if b, ok := d.batches[key]; ok {
		b.msgs = append(b.msgs, msg)
		b.timer.Reset(window)
		d.mu.Unlock()
		return
	}

	b := &batch{key: key, msgs: []*normalize.InboundMessage{msg}}
	b.timer = time.AfterFunc(window, func() { d.flush(key) })
	d.batches[key] = b
	d.mu.Unlock()
}

func (d *Debouncer) flush(key string) {
	d.mu.Lock()
	merged := d.takeLocked(key)
	d.mu.Unlock()
	if merged != nil {
		d.emit(merged)
	}
}

// takeLocked removes and merges the batch for key. Caller holds the lock.
func (d *Debouncer) takeLocked(key string) *normalize.InboundMessage {
	b, ok := d.batches[key]
	if !ok {
		return nil
	}
	delete(d.batches, key)
	b.timer.Stop()
	return Merge(b.msgs)
}

// Flush synchronously drains every pending batch, for shutdown.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	var merged []*normalize.InboundMessage
	for key := range d.batches {
		if m := d.takeLocked(key); m != nil {
			merged = append(merged, m)
		}
	}
	d.mu.Unlock()

	for _, m := range merged {
		d.emit(m)
	}
}

// Stop drops all pending batches without emitting them.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, b := range d.batches {
		b.timer.Stop()
		delete(d.batches, key)
	}
}

// Merge combines a burst into one turn. Distinct bodies join with newlines,
// except when the newest body is a control command, which then stands alone.
// Media accumulates across the burst; the earliest backend ids and the latest
// timestamp win.
func Merge(msgs []*normalize.InboundMessage) *normalize.InboundMessage {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) == 1 {
		return msgs[0]
	}

	out := *msgs[len(msgs)-1]
	out.MentionSpans = nil // merged body invalidates offsets

	var bodies []string
	seenBody := make(map[string]bool)
	var paths, urls, types, mentionIDs []string
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text != "" && !seenBody[text] {
			seenBody[text] = true
			bodies = append(bodies, text)
		}
		paths = append(paths, m.MediaPaths...)
		urls = append(urls, m.MediaURLs...)
		types = append(types, m.MediaTypes...)
		mentionIDs = append(mentionIDs, m.MentionIDs...)
		if m.Timestamp > out.Timestamp {
			out.Timestamp = m.Timestamp
		}
	}

	if len(bodies) > 0 {
		if last := bodies[len(bodies)-1]; access.IsControlCommand(access.TrimLeadingMention(last)) {
			out.Text = last
		} else {
			out.Text = strings.Join(bodies, "\n")
		}
	}

	out.MediaPaths = dedupStrings(paths)
	out.MediaURLs = dedupStrings(urls)
	out.MediaTypes = dedupStrings(types)
	out.MentionIDs = dedupStrings(mentionIDs)

	// Earliest message that carries ids names the turn for dedupe and
	// history exclusion.
	for _, m := range msgs {
		if m.MsgID != "" || m.CliMsgID != "" {
			out.MsgID = m.MsgID
			out.CliMsgID = m.CliMsgID
			break
		}
	}

	// Latest quote wins.
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Quote != nil {
			out.Quote = msgs[i].Quote
			break
		}
	}

	return &out
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
