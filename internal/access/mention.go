package access

import (
	"regexp"
	"strings"
	"sync"

	"zalobridge/internal/normalize"
)

// MentionDetector resolves whether the bot was mentioned and strips the
// mention token so trailing commands stay recognizable.
type MentionDetector struct {
	selfID  func() string
	aliases []string

	patternOnce sync.Once
	pattern     *regexp.Regexp
	rawPattern  string
}

// NewMentionDetector builds a detector. selfID is a late-bound getter since
// identity resolution may complete after startup; pattern is an optional
// configured regex, aliases are display names matched as @-tokens.
func NewMentionDetector(selfID func() string, pattern string, aliases []string) *MentionDetector {
	return &MentionDetector{
		selfID:     selfID,
		aliases:    aliases,
		rawPattern: pattern,
	}
}

func (d *MentionDetector) regex() *regexp.Regexp {
	d.patternOnce.Do(func() {
		if d.rawPattern != "" {
			if re, err := regexp.Compile(d.rawPattern); err == nil {
				d.pattern = re
			}
			return
		}
		if len(d.aliases) == 0 {
			return
		}
		quoted := make([]string, 0, len(d.aliases))
		for _, a := range d.aliases {
			a = strings.TrimSpace(strings.TrimPrefix(a, "@"))
			if a != "" {
				quoted = append(quoted, regexp.QuoteMeta(a))
			}
		}
		if len(quoted) == 0 {
			return
		}
		d.pattern = regexp.MustCompile(`(?i)@(` + strings.Join(quoted, "|") + `)\b`)
	})
	return d.pattern
}

// CanDetect reports whether any detection mechanism is usable. When mention
// gating is required and this is false, the configured failure mode decides.
func (d *MentionDetector) CanDetect() bool {
	return d.selfID() != "" || d.regex() != nil
}

// Detect reports whether msg mentions the bot: structured mention-target ids
// first, then the text pattern.
func (d *MentionDetector) Detect(msg *normalize.InboundMessage) bool {
	if self := d.selfID(); self != "" {
		for _, id := range msg.MentionIDs {
			if id == self {
				return true
			}
		}
	}
	if re := d.regex(); re != nil && re.MatchString(msg.Text) {
		return true
	}
	return false
}

// Strip removes the bot's own mention token(s) from the front of text so a
// command attached directly after a mention is recognized as a bare command.
// Tries structured offset stripping, then regex stripping, then a best-effort
// slash-index fallback when the sender is known to have mentioned the bot.
func (d *MentionDetector) Strip(msg *normalize.InboundMessage, mentioned bool) string {
	text := msg.Text

	if self := d.selfID(); self != "" {
		if out, ok := stripByOffsets(text, msg.MentionSpans, self); ok {
			return out
		}
	}

	if re := d.regex(); re != nil {
		if out := strings.TrimSpace(re.ReplaceAllString(text, "")); out != text {
			return out
		}
	}

	if mentioned {
		if idx := strings.Index(text, "/"); idx > 0 {
			return strings.TrimSpace(text[idx:])
		}
	}

	return strings.TrimSpace(text)
}

// stripByOffsets removes self-targeted mention spans using structured offsets.
// Spans are applied back-to-front so earlier offsets stay valid.
func stripByOffsets(text string, spans []normalize.MentionSpan, selfID string) (string, bool) {
	matched := false
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		if sp.UID != selfID || sp.Length <= 0 {
			continue
		}
		if sp.Offset < 0 || sp.Offset+sp.Length > len(out) {
			continue
		}
		out = out[:sp.Offset] + out[sp.Offset+sp.Length:]
		matched = true
	}
	if !matched {
		return text, false
	}
	return strings.TrimSpace(out), true
}
