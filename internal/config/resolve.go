package config

import (
	"fmt"
	"strings"
)

// Resolved is the effective policy for one account, produced by merging the
// top-level defaults with the account override layer. It is rebuilt from
// config per monitor loop and treated as immutable by consumers.
type Resolved struct {
	AccountID string
	Profile   string

	DMPolicy    string
	GroupPolicy string

	Groups map[string]GroupConfig

	GroupRequireMention          bool
	GroupMentionDetectionFailure string
	MentionPattern               string
	BotAliases                   []string

	HistoryLimit             int
	HistoryContextHintMaxLen int
	HistoryReferenceWords    []string

	TextChunkLimit int
	ChunkMode      string

	MediaMaxMB        int
	MediaAllowedRoots []string

	SendFailureNotice  bool
	SendFailureMessage string

	AllowFrom      []string
	GroupAllowFrom []string

	DebounceMS   int
	DMDebounceMS int

	EnableMessageActions bool
	EnableReactions      bool
}

// Resolve merges the defaults layer with the named account's override layer.
func (c *Config) Resolve(accountID string) (*Resolved, error) {
	acct, ok := c.Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", accountID)
	}

	d := c.Defaults
	o := acct.Config

	r := &Resolved{
		AccountID: accountID,
		Profile:   acct.Profile,

		DMPolicy:    pickString(o.DMPolicy, d.DMPolicy, DefaultDMPolicy),
		GroupPolicy: pickString(o.GroupPolicy, d.GroupPolicy, DefaultGroupPolicy),

		Groups: mergeGroups(d.Groups, o.Groups),

		GroupRequireMention:          pickBool(o.GroupRequireMention, d.GroupRequireMention, true),
		GroupMentionDetectionFailure: pickString(o.GroupMentionDetectionFailure, d.GroupMentionDetectionFailure, DefaultMentionFailure),
		MentionPattern:               pickString(o.MentionPattern, d.MentionPattern, ""),
		BotAliases:                   pickSlice(o.BotAliases, d.BotAliases),

		HistoryLimit:             pickInt(o.HistoryLimit, d.HistoryLimit, DefaultHistoryLimit),
		HistoryContextHintMaxLen: pickInt(o.HistoryContextHintMaxLen, d.HistoryContextHintMaxLen, DefaultHintMaxLen),
		HistoryReferenceWords:    pickSlice(o.HistoryReferenceWords, d.HistoryReferenceWords),

		TextChunkLimit: pickNonZeroInt(o.TextChunkLimit, d.TextChunkLimit, DefaultTextChunkLimit),
		ChunkMode:      pickString(o.ChunkMode, d.ChunkMode, DefaultChunkMode),

		MediaMaxMB:        pickNonZeroInt(o.MediaMaxMB, d.MediaMaxMB, DefaultMediaMaxMB),
		MediaAllowedRoots: pickSlice(o.MediaAllowedRoots, d.MediaAllowedRoots),

		SendFailureNotice:  pickBool(o.SendFailureNotice, d.SendFailureNotice, DefaultSendFailureNotice),
		SendFailureMessage: pickString(o.SendFailureMessage, d.SendFailureMessage, DefaultSendFailureMessage),

		AllowFrom:      pickSlice(o.AllowFrom, d.AllowFrom),
		GroupAllowFrom: pickSlice(o.GroupAllowFrom, d.GroupAllowFrom),

		DebounceMS:   pickNonZeroInt(o.DebounceMS, d.DebounceMS, DefaultDebounceMS),
		DMDebounceMS: pickNonZeroInt(o.DMDebounceMS, d.DMDebounceMS, DefaultDMDebounceMS),

		EnableMessageActions: pickBool(o.EnableMessageActions, d.EnableMessageActions, false),
		EnableReactions:      pickBool(o.EnableReactions, d.EnableReactions, false),
	}

	if len(r.HistoryReferenceWords) == 0 {
		r.HistoryReferenceWords = DefaultReferenceWords
	}
	if r.TextChunkLimit > MaxTextChunkLimit {
		r.TextChunkLimit = MaxTextChunkLimit
	}

	return r, nil
}

// GroupEntry finds the policy entry matching a group by id, display name, or
// the wildcard "*". Explicit id match wins over name match over wildcard.
func (r *Resolved) GroupEntry(groupID, groupName string) (GroupConfig, bool) {
	if g, ok := r.Groups[groupID]; ok && groupID != "" {
		return g, true
	}
	if groupName != "" {
		for key, g := range r.Groups {
			if key != "*" && strings.EqualFold(key, groupName) {
				return g, true
			}
		}
	}
	if g, ok := r.Groups["*"]; ok {
		return g, true
	}
	return GroupConfig{}, false
}

// GroupAllowed reports whether the group passes the group policy layer.
func (r *Resolved) GroupAllowed(groupID, groupName string) bool {
	switch r.GroupPolicy {
	case "disabled":
		return false
	case "open":
		return true
	}
	g, ok := r.GroupEntry(groupID, groupName)
	if !ok {
		return false
	}
	if g.Enabled != nil && !*g.Enabled {
		return false
	}
	if g.Allow != nil {
		return *g.Allow
	}
	return true
}

// RequireMention resolves the effective mention requirement for a group.
func (r *Resolved) RequireMention(groupID, groupName string) bool {
	if g, ok := r.GroupEntry(groupID, groupName); ok && g.RequireMention != nil {
		return *g.RequireMention
	}
	return r.GroupRequireMention
}

// SenderTools returns the per-sender tool grant for a group, checking the
// exact sender key first, then the wildcard key.
func (r *Resolved) SenderTools(groupID, groupName, senderID string) []string {
	g, ok := r.GroupEntry(groupID, groupName)
	if !ok || len(g.ToolsBySender) == 0 {
		return nil
	}
	if tools, ok := g.ToolsBySender[senderID]; ok {
		return tools
	}
	return g.ToolsBySender["*"]
}

// GroupToolAllowed reports whether a sender may run the named tool in a
// group. A per-sender grant overrides the group tool list; an absent entry
// or empty lists leave the tool ungated here (the account toggles still
// apply).
func (r *Resolved) GroupToolAllowed(groupID, groupName, senderID, tool string) bool {
	g, ok := r.GroupEntry(groupID, groupName)
	if !ok {
		return true
	}
	if tools := r.SenderTools(groupID, groupName, senderID); len(tools) > 0 {
		return toolListed(tools, tool)
	}
	if len(g.Tools) > 0 {
		return toolListed(g.Tools, tool)
	}
	return true
}

func toolListed(list []string, tool string) bool {
	for _, t := range list {
		if t == "*" || strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

// SenderAllowed reports whether senderID matches the entry list (wildcard "*"
// supported). Used for both allow_from and group_allow_from lists.
func SenderAllowed(list []string, senderID string) bool {
	for _, entry := range list {
		if entry == "*" || entry == senderID {
			return true
		}
	}
	return false
}

func pickString(override, base, fallback string) string {
	if override != "" {
		return override
	}
	if base != "" {
		return base
	}
	return fallback
}

func pickBool(override, base *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	if base != nil {
		return *base
	}
	return fallback
}

func pickInt(override, base *int, fallback int) int {
	if override != nil {
		return *override
	}
	if base != nil {
		return *base
	}
	return fallback
}

func pickNonZeroInt(override, base, fallback int) int {
	if override != 0 {
		return override
	}
	if base != 0 {
		return base
	}
	return fallback
}

func pickSlice(override, base []string) []string {
	if len(override) > 0 {
		return override
	}
	return base
}

func mergeGroups(base, override map[string]GroupConfig) map[string]GroupConfig {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]GroupConfig, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
