// Package msgref remembers short-lived mappings between internal short ids
// and backend message identifiers, so follow-up actions (reply-to, edit,
// react, unsend) can address recent messages without re-deriving backend ids.
package msgref

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultMaxPerAccount bounds cached refs per account.
	DefaultMaxPerAccount = 40
	// DefaultTTL ages out refs that were never referenced again.
	DefaultTTL = 30 * time.Minute

	shortIDPrefix = "zm-"
	previewMaxLen = 80
)

// Ref is one tracked message reference.
type Ref struct {
	ShortID   string
	AccountID string
	ThreadID  string
	IsGroup   bool
	MsgID     string
	CliMsgID  string
	Timestamp time.Time
	Preview   string
}

// Pair is the backend's dual identifier, both halves required together for
// edit, react, delete, and undo.
type Pair struct {
	MsgID    string
	CliMsgID string
}

// Complete reports whether both halves are present.
func (p Pair) Complete() bool { return p.MsgID != "" && p.CliMsgID != "" }

// Tracker is a bounded, newest-first per-account reference cache.
type Tracker struct {
	mu            sync.Mutex
	perAccount    map[string][]*Ref
	maxPerAccount int
	ttl           time.Duration
	logger        *slog.Logger
}

// NewTracker creates a tracker. Non-positive bounds use the defaults.
func NewTracker(maxPerAccount int, ttl time.Duration, logger *slog.Logger) *Tracker {
	if maxPerAccount <= 0 {
		maxPerAccount = DefaultMaxPerAccount
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		perAccount:    make(map[string][]*Ref),
		maxPerAccount: maxPerAccount,
		ttl:           ttl,
		logger:        logger.With("component", "msgref"),
	}
}

// Remember stores a reference and assigns it a short id. It returns nil when
// neither id nor preview is resolvable (nothing worth tracking).
func (t *Tracker) Remember(ref Ref) *Ref {
	if ref.MsgID == "" && ref.CliMsgID == "" && strings.TrimSpace(ref.Preview) == "" {
		return nil
	}
	if ref.Timestamp.IsZero() {
		ref.Timestamp = time.Now().UTC()
	}
	if len(ref.Preview) > previewMaxLen {
		cut := previewMaxLen
		for cut > 0 && !utf8.RuneStart(ref.Preview[cut]) {
			cut--
		}
		ref.Preview = ref.Preview[:cut]
	}
	ref.ShortID = shortIDPrefix + strings.Split(uuid.NewString(), "-")[0]

	t.mu.Lock()
	defer t.mu.Unlock()

	refs := append([]*Ref{&ref}, t.perAccount[ref.AccountID]...)
	if len(refs) > t.maxPerAccount {
		refs = refs[:t.maxPerAccount]
	}
	t.perAccount[ref.AccountID] = refs

	return &ref
}

// Resolve parses a previously-issued short id or a raw backend id back into
// the dual-id pair. A raw backend id found in the cache yields the full pair;
// an unknown raw id yields a partial pair with only MsgID set.
func (t *Tracker) Resolve(accountID, raw string) (Pair, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pair{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ref := range t.perAccount[accountID] {
		if ref.ShortID == raw || ref.MsgID == raw || ref.CliMsgID == raw {
			return Pair{MsgID: ref.MsgID, CliMsgID: ref.CliMsgID}, true
		}
	}

	if strings.HasPrefix(raw, shortIDPrefix) {
		return Pair{}, false
	}
	return Pair{MsgID: raw}, true
}

// LatestForThread returns the newest unexpired ref for a thread, or nil.
func (t *Tracker) LatestForThread(accountID, threadID string) *Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.ttl)
	for _, ref := range t.perAccount[accountID] {
		if ref.ThreadID == threadID && ref.Timestamp.After(cutoff) {
			return ref
		}
	}
	return nil
}

// Latest returns the newest unexpired ref across all threads for an account.
func (t *Tracker) Latest(accountID string) *Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.ttl)
	for _, ref := range t.perAccount[accountID] {
		if ref.Timestamp.After(cutoff) {
			return ref
		}
	}
	return nil
}

// Evict removes aged-out refs across all accounts, returning the count removed.
func (t *Tracker) Evict(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.ttl)
	removed := 0
	for acct, refs := range t.perAccount {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.Timestamp.After(cutoff) {
				kept = append(kept, ref)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(t.perAccount, acct)
		} else {
			t.perAccount[acct] = kept
		}
	}
	return removed
}

// Reset clears all state. Intended for tests.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perAccount = make(map[string][]*Ref)
}
