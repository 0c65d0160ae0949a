package rag

import (
	"io"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
	// a bracket left open longer than this is plain text, not a citation
	maxHeldBracket = 256
)

// citationFilter drops citation markup and reasoning blocks from a token
// stream. Text that might start one is held back until it can be decided.
type citationFilter struct {
	w       io.Writer
	pending string
	wrote   bool
}

func newCitationFilter(w io.Writer) *citationFilter {
	return &citationFilter{w: w}
}

func (f *citationFilter) Write(p []byte) (int, error) {
	f.pending += string(p)
	if err := f.emit(f.drain(false)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes whatever is still held back.
func (f *citationFilter) Flush() error {
	return f.emit(f.drain(true))
}

// Wrote reports whether any non-blank text went through.
func (f *citationFilter) Wrote() bool {
	return f.wrote
}

func (f *citationFilter) emit(s string) error {
	if s == "" {
		return nil
	}
	if strings.TrimSpace(s) != "" {
		f.wrote = true
	}
	_, err := io.WriteString(f.w, s)
	return err
}

func (f *citationFilter) drain(final bool) string {
	var out strings.Builder
	for f.pending != "" {
		i := strings.IndexAny(f.pending, "[<")
		if i < 0 {
			out.WriteString(f.pending)
			f.pending = ""
			break
		}
		out.WriteString(f.pending[:i])
		f.pending = f.pending[i:]

		if f.pending[0] == '[' {
			if !f.takeBracket(&out, final) {
				break
			}
			continue
		}
		if !f.takeAngle(&out, final) {
			break
		}
	}
	return out.String()
}

// takeBracket handles pending text starting with '['. It returns false when
// more input is needed.
func (f *citationFilter) takeBracket(out *strings.Builder, final bool) bool {
	end := strings.IndexByte(f.pending, ']')
	next := strings.IndexByte(f.pending[1:], '[')
	if next >= 0 && (end < 0 || next+1 < end) {
		// a later bracket may be the citation; this one is text
		out.WriteString(f.pending[:next+1])
		f.pending = f.pending[next+1:]
		return true
	}
	if end < 0 {
		if final || len(f.pending) > maxHeldBracket {
			out.WriteByte('[')
			f.pending = f.pending[1:]
			return true
		}
		return false
	}
	if wholeCitationRe.MatchString(f.pending[:end+1]) {
		f.pending = f.pending[end+1:]
		return true
	}
	out.WriteByte('[')
	f.pending = f.pending[1:]
	return true
}

// takeAngle handles pending text starting with '<'.
func (f *citationFilter) takeAngle(out *strings.Builder, final bool) bool {
	if strings.HasPrefix(f.pending, thinkOpen) {
		end := strings.Index(f.pending, thinkClose)
		if end < 0 {
			if final {
				f.pending = ""
			}
			return false
		}
		f.pending = f.pending[end+len(thinkClose):]
		return true
	}
	if !final && len(f.pending) < len(thinkOpen) && strings.HasPrefix(thinkOpen, f.pending) {
		return false
	}
	out.WriteByte('<')
	f.pending = f.pending[1:]
	return true
}
