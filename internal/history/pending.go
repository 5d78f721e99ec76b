package history

import "sync"

// maxPendingPerThread bounds locally accumulated withheld messages.
const maxPendingPerThread = 50

// PendingEntry is one withheld group message kept for later context.
type PendingEntry struct {
	Sender     string
	Body       string
	Timestamp  int64
	MessageID  string
	MediaPaths []string
	MediaURLs  []string
	MediaTypes []string
}

// PendingBuffer accumulates group messages withheld by mention gating and
// releases them once a mention finally arrives. Entries are cleared on drain.
type PendingBuffer struct {
	mu sync.Mutex
	m  map[string][]PendingEntry // keyed by accountID+"\x00"+threadID
}

// NewPendingBuffer creates an empty buffer.
func NewPendingBuffer() *PendingBuffer {
	return &PendingBuffer{m: make(map[string][]PendingEntry)}
}

func pendingKey(accountID, threadID string) string {
	return accountID + "\x00" + threadID
}

// Add appends a withheld message, evicting the oldest entry at capacity.
func (b *PendingBuffer) Add(accountID, threadID string, e PendingEntry) {
	key := pendingKey(accountID, threadID)

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append(b.m[key], e)
	if len(entries) > maxPendingPerThread {
		entries = entries[len(entries)-maxPendingPerThread:]
	}
	b.m[key] = entries
}

// Drain returns and clears all pending entries for a thread, arrival order.
func (b *PendingBuffer) Drain(accountID, threadID string) []PendingEntry {
	key := pendingKey(accountID, threadID)

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.m[key]
	delete(b.m, key)
	return entries
}

// Len reports the pending count for a thread.
func (b *PendingBuffer) Len(accountID, threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m[pendingKey(accountID, threadID)])
}

// Reset clears all state. Intended for tests.
func (b *PendingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m = make(map[string][]PendingEntry)
}
