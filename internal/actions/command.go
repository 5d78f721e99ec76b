package actions

import "strings"

// ParseCommand maps an operator control command to an Action. Unknown verbs
// return false so the turn can fall through to normal reply generation.
//
// Grammar (leading / or ! accepted):
//
//	/send <target> <text...>
//	/read [count]
//	/react <emoji> [msg-ref]
//	/edit <msg-ref> <text...>
//	/delete [msg-ref]    /unsend [msg-ref]
//	/pin [msg-ref]       /unpin [msg-ref]
//	/pins
//	/whois <user-id>
func ParseCommand(body string) (Action, bool) {
	body = strings.TrimSpace(body)
	if body == "" || (body[0] != '/' && body[0] != '!') {
		return Action{}, false
	}
	fields := strings.Fields(body)
	verb := strings.ToLower(strings.TrimLeft(fields[0], "/!"))
	args := fields[1:]

	switch verb {
	case "send":
		if len(args) < 2 {
			return Action{}, false
		}
		return Action{
			Type:   TypeSend,
			Target: args[0],
			Text:   strings.Join(args[1:], " "),
		}, true

	case "read", "recent":
		a := Action{Type: TypeRead}
		if len(args) > 0 {
			a.Count = atoiSafe(args[0])
		}
		return a, true

	case "react":
		if len(args) < 1 {
			return Action{}, false
		}
		a := Action{Type: TypeReact, Text: args[0]}
		if len(args) > 1 {
			a.MessageID = args[1]
		}
		return a, true

	case "edit":
		if len(args) < 2 {
			return Action{}, false
		}
		return Action{
			Type:      TypeEdit,
			MessageID: args[0],
			Text:      strings.Join(args[1:], " "),
		}, true

	case "delete", "unsend", "undo", "pin", "unpin":
		a := Action{Type: mutationType(verb)}
		if len(args) > 0 {
			a.MessageID = args[0]
		}
		return a, true

	case "pins", "list-pins":
		return Action{Type: TypeListPins}, true

	case "whois", "member-info":
		if len(args) < 1 {
			return Action{}, false
		}
		// Profiles are user-scoped; never ambiguous.
		direct := false
		return Action{Type: TypeMemberInfo, Target: args[0], IsGroup: &direct}, true
	}

	return Action{}, false
}

func mutationType(verb string) string {
	switch verb {
	case "delete":
		return TypeDelete
	case "unsend", "undo":
		return TypeUnsend
	case "pin":
		return TypePin
	case "unpin":
		return TypeUnpin
	}
	return verb
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
