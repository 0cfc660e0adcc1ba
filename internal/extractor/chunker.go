package extractor

import (
	"strings"
	"unicode"
)

// Chunker splits text into pieces of at most Size characters (runes).
// A cut is placed at the last code fence boundary inside the lookback window
// (before an opening fence or after a closing one), else the last paragraph
// break, else the last sentence end, else the last whitespace, else exactly at Size.
// A fenced block longer than a chunk is closed at the cut and reopened in the next chunk.
type Chunker struct {
	Size     int
	Lookback int
}

// NewChunker returns a chunker with sane bounds applied
func NewChunker(size, lookback int) *Chunker {
	if size < 1 {
		size = 1
	}
	if lookback < 0 {
		lookback = 0
	}
	if lookback >= size {
		lookback = size - 1
	}
	return &Chunker{Size: size, Lookback: lookback}
}

// Split returns the chunks of text in order. Whitespace-only input yields none.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= c.Size {
			chunks = append(chunks, string(runes))
			break
		}

		end := c.cutPoint(runes, c.Size)
		if openFence(runes, end) != nil && c.Size > len(closeFence) {
			end = c.cutPoint(runes, c.Size-len(closeFence))
			if opener := openFence(runes, end); opener != nil {
				rest := trimLeftSpace(runes[end:])
				// Reopening must still shrink the remaining text
				if len(runes)-len(rest) > len(opener)+1 {
					chunks = append(chunks, strings.TrimRightFunc(string(runes[:end]), unicode.IsSpace)+closeFence)
					next := make([]rune, 0, len(opener)+1+len(rest))
					next = append(next, opener...)
					next = append(next, '\n')
					runes = append(next, rest...)
					continue
				}
			}
		}

		chunks = append(chunks, strings.TrimRightFunc(string(runes[:end]), unicode.IsSpace))
		runes = trimLeftSpace(runes[end:])
	}
	return chunks
}

// cutPoint returns the exclusive end of the next chunk, at most limit; len(runes) > limit
func (c *Chunker) cutPoint(runes []rune, limit int) int {
	floor := limit - c.Lookback
	if floor < 1 {
		floor = 1
	}

	fences := scanFences(runes, limit)
	for i := len(fences) - 1; i >= 0; i-- {
		f := fences[i]
		if f.opening && f.start >= floor && f.start <= limit {
			return f.start
		}
		if !f.opening && f.end >= floor && f.end <= limit {
			return f.end
		}
	}

	// Inside a code block lines are kept whole
	if len(fences) > 0 && fences[len(fences)-1].opening {
		for end := limit; end >= floor; end-- {
			if runes[end] == '\n' {
				return end
			}
		}
	}

	for end := limit; end >= floor; end-- {
		if end+1 < len(runes) && runes[end] == '\n' && runes[end+1] == '\n' {
			return end
		}
	}

	for end := limit; end >= floor; end-- {
		if isSentenceEnd(runes[end-1]) && unicode.IsSpace(runes[end]) {
			return end
		}
	}

	for end := limit; end >= floor; end-- {
		if unicode.IsSpace(runes[end]) {
			return end
		}
	}

	return limit
}

const (
	fenceMarker = "```"
	closeFence  = "\n" + fenceMarker
)

// fence is a fence line: start is its first rune, end the index of its newline
type fence struct {
	start, end int
	opening    bool
}

// scanFences returns the fence lines that start before upto.
// Fences alternate between opening and closing a block.
func scanFences(runes []rune, upto int) []fence {
	var fences []fence
	open := false
	for start := 0; start < upto && start < len(runes); {
		end := start
		for end < len(runes) && runes[end] != '\n' {
			end++
		}
		if strings.HasPrefix(strings.TrimLeft(string(runes[start:end]), " \t"), fenceMarker) {
			open = !open
			fences = append(fences, fence{start: start, end: end, opening: open})
		}
		start = end + 1
	}
	return fences
}

// openFence returns the opening fence line of the block still open at end, if any
func openFence(runes []rune, end int) []rune {
	fences := scanFences(runes, end)
	if len(fences) == 0 || !fences[len(fences)-1].opening {
		return nil
	}
	f := fences[len(fences)-1]
	return []rune(strings.TrimSpace(string(runes[f.start:f.end])))
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

func trimLeftSpace(runes []rune) []rune {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return runes[i:]
}
