package utils

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

func OpenFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file: "+path)
	}
	return file, nil
}

func CreateFile(path string) (*os.File, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file: "+path)
	}
	return file, nil
}

// Lines walks a text input one line at a time, tracking the line number for error reporting.
// Lines may be arbitrarily long; a dense pair table for large domains easily exceeds bufio's default.
type Lines struct {
	scanner *bufio.Scanner
	Line    int // 1-based number of the line last returned.
}

func NewLines(r io.Reader) *Lines {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1<<30)
	return &Lines{scanner: s}
}

// Next returns the next line with surrounding whitespace trimmed, or false at EOF.
func (l *Lines) Next() (string, bool) {
	if !l.scanner.Scan() {
		return "", false
	}
	l.Line++
	return strings.TrimSpace(l.scanner.Text()), true
}

func (l *Lines) Err() error {
	return l.scanner.Err()
}

// Errorf annotates a parse error with the current line number.
func (l *Lines) Errorf(format string, args ...interface{}) error {
	return errors.Errorf("line %d: "+format, append([]interface{}{l.Line}, args...)...)
}

// Tokens yields whitespace separated tokens across line boundaries.
type Tokens struct {
	lines   *Lines
	pending []string
}

func NewTokens(r io.Reader) *Tokens {
	return &Tokens{lines: NewLines(r)}
}

// Next returns the next token, or false at EOF.
func (t *Tokens) Next() (string, bool) {
	for len(t.pending) == 0 {
		line, ok := t.lines.Next()
		if !ok {
			return "", false
		}
		t.pending = strings.Fields(line)
	}
	tok := t.pending[0]
	t.pending = t.pending[1:]
	return tok, true
}

func (t *Tokens) Err() error {
	return t.lines.Err()
}

func (t *Tokens) Errorf(format string, args ...interface{}) error {
	return t.lines.Errorf(format, args...)
}
