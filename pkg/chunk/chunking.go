package chunk

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter splits text into chunks of at most Size characters, keeping up to
// Overlap characters of context between consecutive chunks. Pieces that are
// too long are split again with the next separator, so paragraphs and words
// are only broken when they do not fit on their own.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter returns a splitter using DefaultSeparators.
func NewSplitter(size, overlap int) *Splitter {
	if overlap >= size {
		overlap = 0
	}
	return &Splitter{
		Size:       size,
		Overlap:    overlap,
		Separators: DefaultSeparators,
	}
}

// Split returns the chunks of text. Chunks are trimmed and never empty.
func (s *Splitter) Split(text string) []string {
	separators := s.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return s.split(text, separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	var chunks []string

	// Pick the first separator present in the text.
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitOn(text, separator) {
		if length(piece) < s.Size {
			good = append(good, piece)
			continue
		}

		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, separator)...)
			good = nil
		}

		if len(next) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
		} else {
			chunks = append(chunks, s.split(piece, next)...)
		}
	}

	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, separator)...)
	}

	return chunks
}

// merge joins small pieces back together up to the chunk size. When a chunk
// is emitted, pieces are dropped from its head until what remains fits in the
// overlap window; the remainder starts the next chunk.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := length(separator)

	var (
		chunks  []string
		current []string
		total   int
	)

	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, piece := range pieces {
		l := length(piece)

		if total+l+joinLen() > s.Size {
			if len(current) > 0 {
				if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
					chunks = append(chunks, chunk)
				}

				for total > s.Overlap || (total > 0 && total+l+joinLen() > s.Size) {
					drop := length(current[0])
					if len(current) > 1 {
						drop += sepLen
					}
					total -= drop
					current = current[1:]
				}
			}
		}

		total += l + joinLen()
		current = append(current, piece)
	}

	if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}

	return chunks
}

func splitOn(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, separator)
	}

	pieces := parts[:0]
	for _, p := range parts {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
