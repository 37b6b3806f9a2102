package ordering

import (
	"enrollsync/internal/notification"
	"enrollsync/pkg/window"
)

// ChunkSize is the widest window handed to the resolver.
const ChunkSize = 3

type Chunk = window.Triple[*notification.Event]

// Chunks returns one chunk per offset of events: full windows of ChunkSize
// where they fit, then progressively shorter windows at the end of the
// sequence so that short sequences and the last events are covered too.
func Chunks(events []*notification.Event) []Chunk {
	chunks := make([]Chunk, 0, len(events))
	for n := ChunkSize; n >= 1; n-- {
		for tr := range window.Slide(events, n) {
			if tr.Offset == len(chunks) {
				chunks = append(chunks, tr)
			}
		}
	}
	return chunks
}
