package rag

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"docuchat/internal/models"
)

func TestCleanAnswer(t *testing.T) {
	testCases := map[string]struct {
		raw  string
		want string
	}{
		"citation before period": {
			raw:  "The invoice total is 42 EUR [source: file.pdf, chunk: 2].",
			want: "The invoice total is 42 EUR.",
		},
		"several citations and case": {
			raw:  "A [Source: a.txt, chunk: 1] and B [SOURCE:b.txt,chunk:3]",
			want: "A and B",
		},
		"think block": {
			raw:  "<think>\nlet me see\n</think>\nIt is blue.",
			want: "It is blue.",
		},
		"blank lines collapse": {
			raw:  "One.\n\n\n\nTwo.   \n",
			want: "One.\n\nTwo.",
		},
		"indentation kept": {
			raw:  "- item\n  - nested",
			want: "- item\n  - nested",
		},
		"other brackets kept": {
			raw:  "See [1] and [note].",
			want: "See [1] and [note].",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			gt.Value(t, CleanAnswer(tc.raw)).Equal(tc.want)
		})
	}
}

func chunkOf(source string, n int) models.Chunk {
	return models.Chunk{Content: "x", Metadata: models.ChunkMetadata{Source: source, Chunk: n, Type: "application/pdf"}}
}

func TestDedupeSources(t *testing.T) {
	sources := DedupeSources([]models.Chunk{
		chunkOf("b.pdf", 2),
		chunkOf("a.pdf", 1),
		chunkOf("b.pdf", 2),
		chunkOf("a.pdf", 2),
		chunkOf("a.pdf", 1),
	})
	gt.Value(t, sources).Equal([]models.SourceCitation{
		{Source: "b.pdf", Chunk: 2, Type: "application/pdf"},
		{Source: "a.pdf", Chunk: 1, Type: "application/pdf"},
		{Source: "a.pdf", Chunk: 2, Type: "application/pdf"},
	})

	gt.Array(t, DedupeSources(nil)).Length(0)
}

func TestEncodeSources(t *testing.T) {
	in := []models.SourceCitation{{Source: "my report (final).pdf", Chunk: 3, Type: "application/pdf"}}
	header, err := EncodeSources(in)
	gt.NoError(t, err).Required()
	gt.Bool(t, strings.ContainsAny(header, " \"{}")).False()

	out, err := DecodeSources(header)
	gt.NoError(t, err).Required()
	gt.Value(t, out).Equal(in)

	empty, err := EncodeSources(nil)
	gt.NoError(t, err)
	gt.Value(t, empty).Equal("%5B%5D")
}

func TestFormatContext(t *testing.T) {
	ctx := FormatContext([]models.Chunk{
		{Content: "alpha", Metadata: models.ChunkMetadata{Source: "a.txt", Chunk: 1}},
		{Content: "beta", Metadata: models.ChunkMetadata{Source: "b.txt", Chunk: 4}},
	})
	gt.Value(t, ctx).Equal("[source: a.txt, chunk: 1]\nalpha\n\n---\n\n[source: b.txt, chunk: 4]\nbeta")
}

func TestCitationFilter(t *testing.T) {
	testCases := map[string]struct {
		tokens []string
		want   string
	}{
		"split citation": {
			tokens: []string{"Blue ", "[so", "urce: a.txt, chunk: 1]", "!"},
			want:   "Blue !",
		},
		"plain brackets": {
			tokens: []string{"see [1", "] ok"},
			want:   "see [1] ok",
		},
		"nested opener": {
			tokens: []string{"[a [source: x.txt, chunk: 2] b"},
			want:   "[a  b",
		},
		"unclosed at end": {
			tokens: []string{"tail [source: x"},
			want:   "tail [source: x",
		},
		"think block": {
			tokens: []string{"<thi", "nk>hidden</th", "ink>shown"},
			want:   "shown",
		},
		"less than sign": {
			tokens: []string{"a <", " b"},
			want:   "a < b",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var out strings.Builder
			f := newCitationFilter(&out)
			for _, tok := range tc.tokens {
				_, err := f.Write([]byte(tok))
				gt.NoError(t, err).Required()
			}
			gt.NoError(t, f.Flush()).Required()
			gt.Value(t, out.String()).Equal(tc.want)
		})
	}
}
