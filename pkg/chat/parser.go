package chat

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/latzu/latzu-edge/pkg/relay"
)

// Parser reads relay chunks from an event-stream body. Lines without the
// data prefix (keep-alives, comments, blank separators) are skipped, as
// are data lines that do not decode.
type Parser struct {
	r *bufio.Reader
}

func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Next returns the next chunk, or io.EOF once the body is exhausted.
func (p *Parser) Next() (relay.Chunk, error) {
	for {
		line, err := p.r.ReadString('\n')
		if line != "" {
			if chunk, ok := parseLine(line); ok {
				return chunk, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return relay.Chunk{}, io.EOF
			}
			return relay.Chunk{}, err
		}
	}
}

func parseLine(line string) (relay.Chunk, bool) {
	line = strings.TrimRight(line, "\r\n")
	payload, ok := strings.CutPrefix(line, relay.DataPrefix)
	if !ok {
		return relay.Chunk{}, false
	}
	var chunk relay.Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		slog.Warn("Skipping malformed stream chunk", "error", err)
		return relay.Chunk{}, false
	}
	return chunk, true
}
