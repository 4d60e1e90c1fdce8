// Package progress parses the mupattern worker's diagnostic stream. The
// worker reports progress as flushed JSON lines on stderr, interleaved with
// ordinary log text:
//
//	{"progress": 0.42, "message": "segmenting"}
package progress

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/keejkrej/mupattern-engine/internal/logger"
)

// Callback receives one recognized progress event.
type Callback func(progress float64, message string)

// Parser is an io.Writer that frames the diagnostic stream into lines,
// buffering partial lines across writes. Lines that parse as a progress
// record fire the callback; everything else is kept as ordinary log text.
type Parser struct {
	onProgress Callback
	buf        bytes.Buffer
	lines      []string
	events     int
	malformed  int
}

// NewParser creates a Parser. onProgress may be nil.
func NewParser(onProgress Callback) *Parser {
	return &Parser{onProgress: onProgress}
}

type progressLine struct {
	Progress *float64 `json:"progress"`
	Message  *string  `json:"message"`
}

// Write consumes a chunk of the diagnostic stream. It never fails; a chunk
// boundary in the middle of a line is held until the rest arrives.
func (p *Parser) Write(data []byte) (int, error) {
	p.buf.Write(data)
	for {
		raw := p.buf.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			break
		}
		line := string(raw[:i])
		p.buf.Next(i + 1)
		p.handleLine(line)
	}
	return len(data), nil
}

// Flush frames whatever is left in the buffer as a final line. Call once
// after the stream has ended.
func (p *Parser) Flush() {
	if p.buf.Len() == 0 {
		return
	}
	line := p.buf.String()
	p.buf.Reset()
	p.handleLine(line)
}

func (p *Parser) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "{") {
		var rec progressLine
		if err := json.Unmarshal([]byte(line), &rec); err == nil && rec.Progress != nil && rec.Message != nil {
			p.events++
			if p.onProgress != nil {
				p.onProgress(*rec.Progress, *rec.Message)
			}
			return
		}
		// Looked structured but did not match the protocol; keep it as log
		// text rather than dropping it.
		p.malformed++
		logger.Debug("Unparseable progress line: %s", line)
	}

	p.lines = append(p.lines, line)
}

// Lines returns the accumulated non-progress diagnostic lines.
func (p *Parser) Lines() []string {
	return p.lines
}

// Tail joins the last n non-progress lines, newest last.
func (p *Parser) Tail(n int) string {
	lines := p.lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Events returns how many progress records were recognized.
func (p *Parser) Events() int {
	return p.events
}

// Malformed returns how many lines looked structured but failed to parse.
func (p *Parser) Malformed() int {
	return p.malformed
}
