package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"studybuddy/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Separators in order of preference. The empty separator splits between characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker splits page text into overlapping passages, preferring
// paragraph breaks, then line breaks, then spaces, then arbitrary characters.
// Lengths are counted in characters (runes), not bytes.
type RecursiveChunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

func NewRecursiveChunker(chunkSize, overlap int) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidInput, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrInvalidInput, chunkSize, overlap)
	}
	return &RecursiveChunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}, nil
}

// ChunkPages splits every page in order. ChunkID runs across the whole
// document; overlap never crosses a page boundary because pages are split
// independently.
func (c *RecursiveChunker) ChunkPages(pages []domain.Page, doc domain.DocumentMetadata) []domain.Passage {
	var passages []domain.Passage
	chunkID := 0
	for _, page := range pages {
		for _, text := range c.SplitText(page.Text) {
			passages = append(passages, domain.Passage{
				Text: text,
				Metadata: domain.PassageMetadata{
					DocumentMetadata: doc,
					PageNumber:       page.Number,
					ChunkID:          chunkID,
				},
			})
			chunkID++
		}
	}
	return passages
}

// SplitText splits a single text. Blank text yields nothing and text that
// already fits is returned untouched.
func (c *RecursiveChunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if runeLen(text) <= c.chunkSize {
		return []string{text}
	}
	return c.split(text, c.separators)
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			finer = separators[i+1:]
			break
		}
	}

	var out, fitting []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < c.chunkSize {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, c.merge(fitting)...)
			fitting = nil
		}
		if len(finer) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, c.split(piece, finer)...)
		}
	}
	if len(fitting) > 0 {
		out = append(out, c.merge(fitting)...)
	}
	return out
}

// merge packs small pieces into windows of at most chunkSize characters.
// When a window is emitted, pieces are dropped from its front until at most
// overlap characters remain; those carry over into the next window.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var windows, current []string
	total := 0
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > c.chunkSize && len(current) > 0 {
			if w := joinWindow(current); w != "" {
				windows = append(windows, w)
			}
			for total > c.overlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if w := joinWindow(current); w != "" {
		windows = append(windows, w)
	}
	return windows
}

// splitKeepingSeparator splits text and re-attaches each separator to the
// start of the piece that follows it, so joining the pieces restores the text.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func joinWindow(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
