package rag

import (
	"strings"
)

// SplitChunks splits text into ordered chunks of at most size characters
// with overlap characters of continuity between adjacent chunks.
//
// Paragraphs (blank-line separated) are accumulated into a running buffer;
// when the next paragraph would overflow the buffer it is flushed as a chunk
// and its trailing overlap suffix seeds the next buffer. A single paragraph
// longer than size is force-split into fixed strides. If the paragraph walk
// produces nothing (no blank lines at all and an empty buffer), the entire
// input is force-split as a fallback.
//
// Chunks produced by the force-split path are strictly ≤ size; the buffer
// path is best-effort since the carried overlap may push a flushed buffer
// slightly past size.
func SplitChunks(text string, size, overlap int) []string {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// A paragraph longer than the chunk size is force-split on its own;
		// the running buffer is flushed first so ordering is preserved.
		if len(para) > size {
			flush()
			current.Reset()
			chunks = append(chunks, forceSplit(para, size, overlap)...)
			continue
		}

		if current.Len()+len(para) > size {
			buf := strings.TrimSpace(current.String())
			if buf != "" {
				chunks = append(chunks, buf)
				current.Reset()
				// Seed the next buffer with the tail of the flushed one so
				// context carries across the boundary.
				if len(buf) > overlap {
					current.WriteString(buf[len(buf)-overlap:])
					current.WriteString(" ")
				}
			}
		}

		current.WriteString(para)
		current.WriteString("\n\n")
	}

	flush()

	// No paragraph structure at all: fall back to a fixed-stride split of
	// the whole input.
	if len(chunks) == 0 {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			chunks = forceSplit(trimmed, size, overlap)
		}
	}

	return chunks
}

// forceSplit slices text into chunks of exactly size characters (the last
// may be shorter), advancing size-overlap per step. The stride is clamped to
// at least 1 so overlap ≥ size can never stall the loop.
func forceSplit(text string, size, overlap int) []string {
	stride := size - overlap
	if stride < 1 {
		stride = 1
	}

	var chunks []string
	for i := 0; i < len(text); i += stride {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
