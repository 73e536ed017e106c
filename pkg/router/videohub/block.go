package videohub

import (
	"regexp"
	"strings"
)

// Block names used by the Videohub protocol.
const (
	BlockPreamble     = "PROTOCOL PREAMBLE"
	BlockDevice       = "VIDEOHUB DEVICE"
	BlockInputLabels  = "INPUT LABELS"
	BlockOutputLabels = "OUTPUT LABELS"
	BlockRouting      = "VIDEO OUTPUT ROUTING"
	BlockEndPrelude   = "END PRELUDE"
	BlockPing         = "PING"
)

// Status lines sent in reply to a written block.
const (
	lineACK = "ACK"
	lineNAK = "NAK"
)

var headerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9 ]*:$`)

// Block is one named section of the text protocol.
type Block struct {
	Name  string
	Lines []string
}

// Parser splits the line stream into blocks. A block ends at a blank line,
// at the next header or at a status line, so a block missing its trailing
// blank line cannot swallow what follows.
type Parser struct {
	cur *Block
}

// Feed consumes one line. It returns the blocks the line completed and the
// line itself when it sits outside any block (ACK, NAK or noise).
func (p *Parser) Feed(line string) ([]Block, string) {
	line = strings.TrimRight(line, "\r\n")
	var done []Block

	switch {
	case strings.TrimSpace(line) == "":
		if b := p.Flush(); b != nil {
			done = append(done, *b)
		}
		return done, ""

	case headerPattern.MatchString(line):
		if b := p.Flush(); b != nil {
			done = append(done, *b)
		}
		name := strings.TrimSuffix(line, ":")
		if name == BlockEndPrelude {
			return append(done, Block{Name: name}), ""
		}
		p.cur = &Block{Name: name}
		return done, ""

	case line == lineACK || line == lineNAK:
		if b := p.Flush(); b != nil {
			done = append(done, *b)
		}
		return done, line
	}

	if p.cur == nil {
		return nil, line
	}
	p.cur.Lines = append(p.cur.Lines, line)
	return nil, ""
}

// Flush ends the open block, if any.
func (p *Parser) Flush() *Block {
	b := p.cur
	p.cur = nil
	return b
}

// ParseDump splits a complete text dump into blocks.
func ParseDump(text string) []Block {
	var p Parser
	var blocks []Block
	for _, line := range strings.Split(text, "\n") {
		done, _ := p.Feed(line)
		blocks = append(blocks, done...)
	}
	if b := p.Flush(); b != nil {
		blocks = append(blocks, *b)
	}
	return blocks
}
