package domain

import "time"

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultHistoryLimit is how many recent entries are replayed to the
// decision model.
const DefaultHistoryLimit = 8

// TranscriptEntry is one message in the conversation. CarriesImage marks
// assistant replies with an embedded generated image.
type TranscriptEntry struct {
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	CarriesImage bool      `json:"carries_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Transcript is the append-only conversation log of one session.
type Transcript struct {
	Entries []TranscriptEntry `json:"entries"`
}

// Append adds an entry at the end of the transcript.
func (t *Transcript) Append(role Role, content string, carriesImage bool) {
	t.Entries = append(t.Entries, TranscriptEntry{
		Role:         role,
		Content:      content,
		CarriesImage: carriesImage,
		CreatedAt:    time.Now().UTC(),
	})
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	return len(t.Entries)
}

// Recent returns the last n entries, oldest first, without assistant entries
// that carry an image. The window is taken before filtering, so fewer than n
// entries may come back.
func (t *Transcript) Recent(n int) []TranscriptEntry {
	if n <= 0 {
		return nil
	}
	window := t.Entries
	if n < len(window) {
		window = window[len(window)-n:]
	}

	out := make([]TranscriptEntry, 0, len(window))
	for _, e := range window {
		if e.Role == RoleAssistant && e.CarriesImage {
			continue
		}
		out = append(out, e)
	}
	return out
}
