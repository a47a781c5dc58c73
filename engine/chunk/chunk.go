// Package chunk splits normalised document text into overlapping,
// boundary-aware windows that become the unit of embedding and retrieval.
package chunk

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/google/uuid"
)

const (
	// DefaultSize is the target number of characters per chunk.
	DefaultSize = 1000
	// DefaultOverlap is the number of characters shared by adjacent chunks.
	DefaultOverlap = 200
)

// Window is one chunk of normalised text. Start and End are character
// (rune) offsets into the normalised text, End exclusive.
type Window struct {
	Index int
	Start int
	End   int
	Text  string
}

// Normalize collapses every run of whitespace to a single space and trims
// the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split normalises text and cuts it into windows of at most size characters.
// Each window ends at the last sentence terminator inside it, else after the
// last space, else at exactly size characters; terminators and spaces inside
// the overlap with the previous window are not considered, so every window
// reaches past its predecessor. The next window starts overlap characters
// before the previous end. Whitespace-only windows are
// dropped. Callers are expected to pass size > overlap >= 0; anything else
// still terminates.
func Split(text string, size, overlap int) []Window {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(Normalize(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var windows []Window
	start, prevStart, prevEnd := 0, -1, 0
	for start < n {
		end := start + size
		if end < n {
			end = boundary(runes, max(start, prevEnd), end)
		} else {
			end = n
		}

		if seg := string(runes[start:end]); strings.TrimSpace(seg) != "" {
			windows = append(windows, Window{Index: len(windows), Start: start, End: end, Text: seg})
		}
		if end >= n {
			break
		}

		prevStart, prevEnd = start, end
		start = end - overlap
		if start < 0 {
			start = end
		}
		// Ensure forward progress.
		if start <= prevStart {
			start = end
		}
	}
	return windows
}

// boundary picks the end of a window that must end in runes(from:limit].
func boundary(runes []rune, from, limit int) int {
	for i := limit - 1; i >= from; i-- {
		switch runes[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	for i := limit - 1; i > from; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return limit
}

// ForDocument chunks text for documentID. Chunk IDs are derived from the
// document ID and index, so the same input always yields the same chunks.
func ForDocument(documentID, text string, size, overlap int) []domain.Chunk {
	windows := Split(text, size, overlap)
	chunks := make([]domain.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = domain.Chunk{
			ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", documentID, w.Index))).String(),
			DocumentID: documentID,
			Index:      w.Index,
			Offset:     w.Start,
			Text:       w.Text,
			Length:     w.End - w.Start,
		}
	}
	return chunks
}
