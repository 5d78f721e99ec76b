// Package dispatch drives reply delivery: typing lifecycle, chunked
// multi-part sends, media handling, and the failure-notice fallback.
package dispatch

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text into chunks of at most limit bytes. Mode "newline"
// packs whole lines per chunk; mode "length" (default) splits at the best
// markdown-friendly boundary (paragraph, newline, space) near the limit.
func ChunkText(text string, limit int, mode string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	if mode == "newline" {
		return chunkByNewline(text, limit)
	}
	return chunkByLength(text, limit)
}

func chunkByNewline(text string, limit int) []string {
	var chunks []string
	var current strings.Builder

	for _, line := range strings.Split(text, "\n") {
		// A single overlong line falls back to length splitting.
		if len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, chunkByLength(line, limit)...)
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func chunkByLength(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, strings.TrimSpace(text))
	}
	return chunks
}

// splitPoint finds the best boundary at or before limit: paragraph break,
// then newline, then space, searched within the trailing fifth of the
// window. Falls back to a hard cut on the nearest rune boundary to
// guarantee progress without splitting multi-byte text.
func splitPoint(text string, limit int) int {
	window := text[:limit]
	floor := limit - limit/5

	if idx := strings.LastIndex(window, "\n\n"); idx >= floor {
		return idx + 2
	}
	if idx := strings.LastIndexByte(window, '\n'); idx >= floor {
		return idx + 1
	}
	if idx := strings.LastIndexByte(window, ' '); idx >= floor {
		return idx + 1
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
