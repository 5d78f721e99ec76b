// Package normalize converts raw heterogeneous transport events into the
// canonical inbound-message shape consumed by the processing pipeline.
package normalize

import (
	"strconv"
	"strings"

	"zalobridge/internal/zalocli"
)

// MentionSpan is one structured mention target with its text offsets, kept so
// the mention token can later be stripped from the body.
type MentionSpan struct {
	UID    string
	Offset int
	Length int
}

// Quote is the quoted-message context attached to a reply.
type Quote struct {
	MsgID      string
	CliMsgID   string
	SenderName string
	Text       string
	MediaPaths []string
	MediaURLs  []string
}

// InboundMessage is the canonical inbound record. Timestamp stays in the
// transport-native unit (seconds or ms); it is normalized to ms at
// context-build time.
type InboundMessage struct {
	AccountID  string
	ThreadID   string
	ThreadName string // group display name, when the transport carries one
	SenderID   string
	SenderName string
	IsGroup    bool
	Text       string
	Timestamp  int64

	MediaPaths []string
	MediaURLs  []string
	MediaTypes []string

	MentionIDs   []string
	MentionSpans []MentionSpan

	Quote *Quote

	MsgID    string
	CliMsgID string
}

// HasContent reports whether the message carries anything actionable.
// A message with neither text nor media nor quote context must be dropped
// before access checks.
func (m *InboundMessage) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" ||
		len(m.MediaPaths) > 0 || len(m.MediaURLs) > 0 ||
		m.Quote != nil
}

// lifecycle event types that never carry a user message.
var lifecycleEvents = map[string]bool{
	"connect": true, "connected": true, "disconnect": true,
	"heartbeat": true, "ping": true, "pong": true, "status": true,
	"auth": true, "ready": true,
}

// Normalize converts one raw event into an InboundMessage, or nil for
// lifecycle events and payloads with no usable content. Every external field
// is treated as optional; sender and thread ids are resolved from aliased
// field candidates in fixed priority order.
func Normalize(raw zalocli.RawEvent, selfID string) *InboundMessage {
	if raw == nil {
		return nil
	}

	if evt := strField(raw, "event", "eventType"); evt != "" && lifecycleEvents[strings.ToLower(evt)] {
		return nil
	}

	msg := &InboundMessage{
		ThreadID:   strField(raw, "threadId", "toId", "conversationId", "groupId"),
		ThreadName: strField(raw, "threadName", "groupName", "convName"),
		SenderID:   strField(raw, "senderId", "uidFrom", "fromId"),
		SenderName: strField(raw, "senderName", "dName", "fromName"),
		Text:       extractText(raw),
		Timestamp:  intField(raw, "ts", "timestamp", "sentAt"),
		MsgID:      strField(raw, "msgId", "messageId", "globalMsgId"),
		CliMsgID:   strField(raw, "cliMsgId", "clientMsgId"),
	}
	if msg.ThreadID == "" {
		return nil
	}

	msg.IsGroup = classifyGroup(raw)
	extractMentions(raw, msg)
	msg.Quote = extractQuote(raw)

	paths, urls, types := extractMedia(raw)
	if msg.Quote != nil {
		paths = append(paths, msg.Quote.MediaPaths...)
		urls = append(urls, msg.Quote.MediaURLs...)
	}
	msg.MediaPaths = orderedUnique(paths)
	msg.MediaURLs = orderedUnique(urls)
	msg.MediaTypes = orderedUnique(types)

	// The account's own echoed sends are not inbound turns.
	if selfID != "" && msg.SenderID == selfID && boolField(raw, "isSelf") {
		return nil
	}

	if !msg.HasContent() {
		return nil
	}
	return msg
}

// classifyGroup resolves the group flag: explicit boolean, then chat-type
// string, then a numeric type-code heuristic.
func classifyGroup(raw zalocli.RawEvent) bool {
	if v, ok := raw["isGroup"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	switch strings.ToLower(strField(raw, "chatType", "convType")) {
	case "group", "g":
		return true
	case "user", "dm", "direct", "u":
		return false
	}
	return intField(raw, "type") == 1
}

func extractText(raw zalocli.RawEvent) string {
	if s := strField(raw, "content", "text", "body", "message"); s != "" {
		return s
	}
	if m, ok := raw["content"].(map[string]any); ok {
		if s, ok := m["text"].(string); ok {
			return s
		}
		if s, ok := m["title"].(string); ok {
			return s
		}
	}
	return ""
}

func extractMentions(raw zalocli.RawEvent, msg *InboundMessage) {
	list, ok := raw["mentions"].([]any)
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uid := strField(m, "uid", "id", "userId")
		if uid == "" {
			continue
		}
		msg.MentionIDs = append(msg.MentionIDs, uid)
		msg.MentionSpans = append(msg.MentionSpans, MentionSpan{
			UID:    uid,
			Offset: int(intField(m, "pos", "offset")),
			Length: int(intField(m, "len", "length")),
		})
	}
}

func extractQuote(raw zalocli.RawEvent) *Quote {
	m, ok := raw["quote"].(map[string]any)
	if !ok {
		return nil
	}
	q := &Quote{
		MsgID:      strField(m, "globalMsgId", "msgId"),
		CliMsgID:   strField(m, "cliMsgId"),
		SenderName: strField(m, "ownerName", "senderName", "fromD"),
		Text:       strField(m, "msg", "text", "content"),
	}
	q.MediaPaths, q.MediaURLs, _ = extractMediaFrom(m)
	if q.MsgID == "" && q.CliMsgID == "" && q.Text == "" &&
		len(q.MediaPaths) == 0 && len(q.MediaURLs) == 0 {
		return nil
	}
	return q
}

func extractMedia(raw zalocli.RawEvent) (paths, urls, types []string) {
	return extractMediaFrom(map[string]any(raw))
}

func extractMediaFrom(m map[string]any) (paths, urls, types []string) {
	for _, key := range []string{"attachments", "media", "files"} {
		list, ok := m[key].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			a, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if p := strField(a, "path", "filePath", "localPath"); p != "" {
				paths = append(paths, p)
			}
			if u := strField(a, "url", "href", "src"); u != "" {
				urls = append(urls, u)
			}
			if t := strField(a, "type", "mime", "mimeType"); t != "" {
				types = append(types, t)
			}
		}
	}
	if u := strField(m, "mediaUrl", "attachmentUrl"); u != "" {
		urls = append(urls, u)
	}
	return paths, urls, types
}

// TimestampMS normalizes a transport-native timestamp to milliseconds.
// Values below 10^12 are assumed to be seconds.
func TimestampMS(ts int64) int64 {
	if ts > 0 && ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}

func orderedUnique(in []string) []string {
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

func strField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		case int:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return false
}
