// Package history builds the canonical context envelope for the reply
// engine, including adaptive recent-conversation backfill.
package history

import (
	"fmt"
	"strings"
	"time"
)

// FormatLine renders one transcript line. Live messages and history backfill
// both pass through this formatter so the model sees a uniform transcript.
func FormatLine(sender, body string, tsMS int64, mediaCount int) string {
	ts := time.UnixMilli(tsMS).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %s: %s", ts, sender, strings.TrimSpace(body))
	if mediaCount > 0 {
		line += fmt.Sprintf(" (%d media)", mediaCount)
	}
	return line
}

// ConversationLabel renders the label shown to the model for a conversation.
func ConversationLabel(threadID, senderName string, isGroup bool) string {
	if isGroup {
		return fmt.Sprintf("Group %s", threadID)
	}
	if senderName != "" {
		return fmt.Sprintf("DM with %s", senderName)
	}
	return fmt.Sprintf("DM %s", threadID)
}
