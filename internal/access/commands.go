package access

import "strings"

// HumanPassToggle is the parsed state of a human-pass control phrase.
type HumanPassToggle int

const (
	HumanPassNone HumanPassToggle = iota
	HumanPassOn
	HumanPassOff
)

// IsControlCommand reports whether body is a built-in slash/bang command or
// the provider-specific human-pass phrase.
func IsControlCommand(body string) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	if strings.HasPrefix(body, "/") || strings.HasPrefix(body, "!") {
		return true
	}
	return ParseHumanPass(body) != HumanPassNone
}

// TrimLeadingMention removes a single leading @-token, so a mention-prefixed
// body ("@Bot /reset") still reads as a command before the full mention strip
// runs. A bare mention with nothing after it trims to empty.
func TrimLeadingMention(body string) string {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "@") {
		return body
	}
	if i := strings.IndexAny(body, " \t"); i > 0 {
		return strings.TrimSpace(body[i:])
	}
	return ""
}

// ParseHumanPass recognizes the human-pass toggle in either its natural
// phrase form ("human pass on/off") or command form ("/humanpass on|off").
func ParseHumanPass(body string) HumanPassToggle {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(body)))

	switch len(fields) {
	case 2:
		if fields[0] == "/humanpass" {
			return toggleWord(fields[1])
		}
	case 3:
		if fields[0] == "human" && fields[1] == "pass" {
			return toggleWord(fields[2])
		}
	}
	return HumanPassNone
}

func toggleWord(w string) HumanPassToggle {
	switch w {
	case "on":
		return HumanPassOn
	case "off":
		return HumanPassOff
	}
	return HumanPassNone
}
