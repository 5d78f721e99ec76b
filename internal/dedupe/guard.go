// Package dedupe prevents double-sends of the same logical outbound message
// under concurrent or duplicate triggering.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRecentTTL is the post-send suppression window.
const DefaultRecentTTL = 15 * time.Second

// staleInflightFactor bounds how long an in-flight entry may survive before
// the sweep reaps it as an orphaned lock.
const staleInflightFactor = 4

// Params identifies one logical outbound payload. Sequence distinguishes
// repeated identical content within a single turn; it must increment only
// when the exact same content repeats.
type Params struct {
	AccountID  string
	SessionKey string
	Target     string
	Kind       string // "text" or "media"
	Sequence   int
	Content    string
	MediaRef   string
}

// Ticket is the handle held by an in-flight send attempt.
type Ticket struct {
	ID        string
	signature string
}

// Acquisition is the result of an Acquire call.
type Acquisition struct {
	Acquired bool
	Reason   string // "inflight" or "recent" when not acquired
	Ticket   Ticket
}

type inflightEntry struct {
	ticketID  string
	createdAt time.Time
}

// Guard tracks in-flight and recently-sent signatures. All state is
// process-memory; crash recovery is bounded by the stale-in-flight sweep.
type Guard struct {
	mu       sync.Mutex
	ttl      time.Duration
	inflight map[string]inflightEntry
	recent   map[string]time.Time // signature -> expiry
	logger   *slog.Logger
}

// NewGuard creates a guard with the given recent-suppression TTL.
// A non-positive ttl uses DefaultRecentTTL.
func NewGuard(ttl time.Duration, logger *slog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultRecentTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		ttl:      ttl,
		inflight: make(map[string]inflightEntry),
		recent:   make(map[string]time.Time),
		logger:   logger.With("component", "dedupe_guard"),
	}
}

// Signature computes the content-derived fingerprint for p. The content is
// hashed in full so long chunks sharing a prefix never collide, and the hash
// keeps map keys bounded regardless of chunk size.
func Signature(p Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00", p.AccountID, p.SessionKey, p.Target, p.Kind, p.Sequence)
	h.Write([]byte(p.Content))
	h.Write([]byte{0})
	h.Write([]byte(p.MediaRef))
	return hex.EncodeToString(h.Sum(nil))
}

// Acquire attempts to claim the signature for a send. It fails when an
// identical signature is already in flight or inside the recent-success
// suppression window. Every call also runs the expiry/crash sweep.
func (g *Guard) Acquire(p Params, now time.Time) Acquisition {
	sig := Signature(p)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(now)

	if _, held := g.inflight[sig]; held {
		return Acquisition{Reason: "inflight"}
	}
	if expiry, ok := g.recent[sig]; ok && now.Before(expiry) {
		return Acquisition{Reason: "recent"}
	}

	ticket := Ticket{ID: uuid.NewString(), signature: sig}
	g.inflight[sig] = inflightEntry{ticketID: ticket.ID, createdAt: now}
	return Acquisition{Acquired: true, Ticket: ticket}
}

// Release ends a send attempt. Only a successful send populates the
// recent-suppression window; a failed send is immediately retryable.
func (g *Guard) Release(t Ticket, sent bool, now time.Time) {
	if t.signature == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.inflight[t.signature]; ok && entry.ticketID == t.ID {
		delete(g.inflight, t.signature)
	}
	if sent {
		g.recent[t.signature] = now.Add(g.ttl)
	}
}

// Sweep expires stale recent entries and reaps orphaned in-flight locks.
// It returns the number of entries removed.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(now)
}

func (g *Guard) sweepLocked(now time.Time) int {
	removed := 0
	for sig, expiry := range g.recent {
		if !now.Before(expiry) {
			delete(g.recent, sig)
			removed++
		}
	}
	staleBefore := now.Add(-staleInflightFactor * g.ttl)
	for sig, entry := range g.inflight {
		if entry.createdAt.Before(staleBefore) {
			g.logger.Warn("Reaping stale in-flight dedupe entry", "age", now.Sub(entry.createdAt))
			delete(g.inflight, sig)
			removed++
		}
	}
	return removed
}

// Reset clears all state. Intended for tests.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight = make(map[string]inflightEntry)
	g.recent = make(map[string]time.Time)
}
