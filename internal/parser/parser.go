// Package parser reads plain-text card files. A card starts at a "Q:" line,
// its back starts at an "A:" line and an optional "C:" line adds context that
// is appended to the back. "---" ends the current card.
package parser

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	frontPrefix   = "Q:"
	backPrefix    = "A:"
	contextPrefix = "C:"
	separator     = "---"
)

// Entry is one card read from a file.
type Entry struct {
	Front string
	Back  string
	Line  int
}

type state int

const (
	seeking state = iota
	readingFront
	readingBack
	readingContext
)

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// DeckName derives the deck a card file belongs to from its file name.
func DeckName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Parse reads from an io.Reader and extracts all entries. Entries without
// both a front and a back are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	p := &cardParser{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		p.feed(scanner.Text(), line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.finishCard()
	return p.entries, nil
}

type cardParser struct {
	entries []Entry
	current Entry
	context string
	block   []string
	state   state
}

func (p *cardParser) feed(line string, n int) {
	if line == separator {
		p.finishCard()
		return
	}

	next, content, ok := prefixed(line)
	if !ok {
		if p.state != seeking {
			p.block = append(p.block, line)
		}
		return
	}

	p.flushBlock()
	if next == readingFront {
		// A new front always starts a new card.
		if p.state != seeking {
			p.finishCard()
		}
		p.current.Line = n
	}
	p.state = next
	p.block = append(p.block, content)
}

func prefixed(line string) (state, string, bool) {
	for _, c := range []struct {
		prefix string
		state  state
	}{
		{frontPrefix, readingFront},
		{backPrefix, readingBack},
		{contextPrefix, readingContext},
	} {
		if rest, ok := strings.CutPrefix(line, c.prefix); ok {
			return c.state, strings.TrimPrefix(rest, " "), true
		}
	}
	return seeking, "", false
}

func (p *cardParser) flushBlock() {
	if len(p.block) == 0 {
		return
	}
	content := strings.TrimSpace(strings.Join(p.block, "\n"))
	switch p.state {
	case readingFront:
		p.current.Front = content
	case readingBack:
		p.current.Back = content
	case readingContext:
		p.context = content
	}
	p.block = nil
}

func (p *cardParser) finishCard() {
	p.flushBlock()
	if p.context != "" && p.current.Back != "" {
		p.current.Back += "\n\n" + p.context
	}
	if p.current.Front != "" && p.current.Back != "" {
		p.entries = append(p.entries, p.current)
	}
	p.current = Entry{}
	p.context = ""
	p.state = seeking
}
