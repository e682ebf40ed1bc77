// Package chunk splits long replies into transport-sized messages.
package chunk

import "strings"

// Limit is the per-message ceiling used for Telegram text.
const Limit = 4000

const paragraphSep = "\n\n"

// Split breaks text into chunks of at most limit runes. Each cut is made at the
// last paragraph break inside the window, and the break itself is dropped, so
// strings.Join(chunks, "\n\n") reproduces text whenever every cut found one.
// Without a break in the window the text is hard-split at limit.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = Limit
	}
	if text == "" {
		return nil
	}

	var chunks []string
	rest := []rune(text)
	for len(rest) > limit {
		window := string(rest[:limit])
		if idx := strings.LastIndex(window, paragraphSep); idx > 0 {
			head := window[:idx]
			chunks = append(chunks, head)
			rest = rest[len([]rune(head))+len([]rune(paragraphSep)):]
			continue
		}
		chunks = append(chunks, window)
		rest = rest[limit:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}
