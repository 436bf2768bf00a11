package mfc

import (
	"fmt"
	"sort"
)

// Location is a (file, line, column) triple attached to tokens and to
// AST nodes where user-visible errors may originate.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Span is the range of a construct in its source file, expressed as
// two Locations: Start is where its first token begins and End is
// where its last token begins (equal for a one-token construct).
type Span struct {
	Start Location
	End   Location
}

func (s Span) String() string {
	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%d:%d..%d", s.Start.Line, s.Start.Column, s.End.Column)
	}
	return fmt.Sprintf("%d:%d..%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// LineIndex converts byte cursor offsets into (line, column) pairs.
// It records the start offset of every line once, up front, then
// binary searches that table on every lookup. Construction is O(n)
// over the input; lookups are O(log lines).
type LineIndex struct {
	file      string
	input     []byte
	lineStart []int
}

func NewLineIndex(file string, input []byte) *LineIndex {
	lineStart := make([]int, 1, 64)
	lineStart[0] = 0
	for i, b := range input {
		if b == '\n' {
			lineStart = append(lineStart, i+1)
		}
	}
	return &LineIndex{file: file, input: input, lineStart: lineStart}
}

func (li *LineIndex) LocationAt(cursor int) Location {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(li.input) {
		cursor = len(li.input)
	}
	lineIdx := sort.Search(len(li.lineStart), func(i int) bool {
		return li.lineStart[i] > cursor
	}) - 1
	if lineIdx < 0 {
		lineIdx = 0
	}
	col := cursor - li.lineStart[lineIdx] + 1
	return Location{File: li.file, Line: lineIdx + 1, Column: col}
}
