// Package chunker splits extracted document text into overlapping chunks.
//
// A chunk is a window of at most Size runes. Each window end is pulled back to
// the highest-priority separator found in the tail of the window, and the next
// window starts exactly Overlap runes before that end, so adjacent chunks always
// share Overlap runes and their union covers the whole input.
package chunker

import (
	"errors"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var ErrNoChunks = errors.New("no chunks produced from non-empty text")

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// DefaultSeparators in priority order: paragraph, line, sentence, word.
// The empty separator means "cut anywhere".
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
	// SnapWindow is how far back from the hard end a separator may be searched.
	// Zero means Size/5.
	SnapWindow int
}

func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{
		Size:       size,
		Overlap:    overlap,
		Separators: DefaultSeparators,
	}
}

var (
	blankLinesRe  = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	trailingWSRe  = regexp.MustCompile(`[ \t]+\n`)
	controlCharRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// Normalize unifies line endings, drops control characters, trims trailing
// blanks on each line and collapses runs of blank lines into one paragraph break.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ToValidUTF8(text, "")
	text = controlCharRe.ReplaceAllString(text, "")
	text = trailingWSRe.ReplaceAllString(text, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split cuts text into overlapping chunks. Windows are kept even when they hold
// only whitespace, so Merge always gives the input back.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= s.Size {
		return []string{text}, nil
	}

	window := s.SnapWindow
	if window <= 0 {
		window = s.Size / 5
	}
	seps := make([][]rune, 0, len(s.Separators))
	for _, sep := range s.Separators {
		seps = append(seps, []rune(sep))
	}

	var chunks []string
	start := 0
	for start < n {
		end := min(start+s.Size, n)
		if end < n {
			// never snap so far back that the next start would not advance
			lo := max(end-window, start+s.Overlap+1)
			end = snapEnd(runes, lo, end, seps)
		}

		chunks = append(chunks, string(runes[start:end]))
		if end >= n {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

// snapEnd returns the best cut position in (lo, end]. A cut falls right after a
// separator. Separators are tried in priority order and, within one separator,
// the cut closest to end wins.
func snapEnd(runes []rune, lo, end int, seps [][]rune) int {
	if lo >= end {
		return end
	}
	for _, sep := range seps {
		if len(sep) == 0 {
			return end
		}
		for cut := end; cut > lo; cut-- {
			if cut-len(sep) < 0 {
				break
			}
			if hasSuffixAt(runes, cut, sep) {
				return cut
			}
		}
	}
	return end
}

func hasSuffixAt(runes []rune, cut int, sep []rune) bool {
	off := cut - len(sep)
	for i, r := range sep {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}

// Chunk normalizes text and splits it with the default separators.
func Chunk(text string, size, overlap int) ([]string, error) {
	normalized := Normalize(text)
	chunks, err := New(size, overlap).Split(normalized)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 && normalized != "" {
		return nil, goerr.Wrap(ErrNoChunks, "splitter produced nothing", goerr.V("length", len(normalized)))
	}
	return chunks, nil
}

// Merge reassembles consecutive chunks produced with the given overlap.
func Merge(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 && len(r) >= overlap {
			r = r[overlap:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}
