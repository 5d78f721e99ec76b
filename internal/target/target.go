// Package target parses the conversation target-string grammar shared by
// inbound routing and outbound action addressing.
package target

import (
	"fmt"
	"strings"
)

// Kind classifies a parsed target.
type Kind int

const (
	// KindAmbiguous is a bare identifier whose direct-vs-group nature must be
	// resolved by an explicit flag or contextual chat type.
	KindAmbiguous Kind = iota
	KindUser
	KindGroup
)

// Target is one parsed conversation address.
type Target struct {
	ID   string
	Kind Kind
}

// Parse interprets a target string. Accepted forms: bare id (ambiguous),
// "group:<id>"/"user:<id>", short aliases "g-<id>"/"g:<id>" and
// "u-<id>"/"u:<id>"/"dm:<id>", and the display-label form "Name (<id>)".
// A channel-scoping prefix ("<channel>:") is stripped before interpretation.
func Parse(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("empty target")
	}

	// Display-label form: the id lives in the trailing parentheses.
	if strings.HasSuffix(s, ")") {
		if open := strings.LastIndex(s, "("); open > 0 {
			inner := strings.TrimSpace(s[open+1 : len(s)-1])
			if inner != "" {
				return Parse(inner)
			}
		}
	}

	if rest, ok := cutPrefix(s, "group:"); ok {
		return typed(rest, KindGroup)
	}
	if rest, ok := cutPrefix(s, "user:"); ok {
		return typed(rest, KindUser)
	}
	if rest, ok := cutPrefix(s, "g-"); ok {
		return typed(rest, KindGroup)
	}
	if rest, ok := cutPrefix(s, "g:"); ok {
		return typed(rest, KindGroup)
	}
	if rest, ok := cutPrefix(s, "u-"); ok {
		return typed(rest, KindUser)
	}
	if rest, ok := cutPrefix(s, "u:"); ok {
		return typed(rest, KindUser)
	}
	if rest, ok := cutPrefix(s, "dm:"); ok {
		return typed(rest, KindUser)
	}

	// Any other "<token>:" prefix is a channel scope; strip it once.
	if idx := strings.Index(s, ":"); idx > 0 {
		prefix := s[:idx]
		if isScopeToken(prefix) {
			return Parse(s[idx+1:])
		}
	}

	return Target{ID: s, Kind: KindAmbiguous}, nil
}

// Disambiguate resolves a parsed target against an optional explicit group
// flag. A typed target that conflicts with the flag is an error requiring
// the caller to pick one.
func Disambiguate(t Target, isGroup *bool) (string, bool, error) {
	switch t.Kind {
	case KindGroup:
		if isGroup != nil && !*isGroup {
			return "", false, fmt.Errorf("target %q is typed as group but group flag is false", t.ID)
		}
		return t.ID, true, nil
	case KindUser:
		if isGroup != nil && *isGroup {
			return "", false, fmt.Errorf("target %q is typed as direct but group flag is true", t.ID)
		}
		return t.ID, false, nil
	default:
		if isGroup == nil {
			return "", false, fmt.Errorf("ambiguous target %q: specify group:/user: or a group flag", t.ID)
		}
		return t.ID, *isGroup, nil
	}
}

func typed(id string, kind Kind) (Target, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}, fmt.Errorf("target id missing after type prefix")
	}
	return Target{ID: id, Kind: kind}, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// isScopeToken reports whether a colon prefix looks like a channel scope
// rather than part of the id itself (ids are numeric or opaque hashes).
func isScopeToken(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
