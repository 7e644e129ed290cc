package gtp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseKind tells a success from a failure response.
type ResponseKind int

const (
	Success ResponseKind = iota
	Failure
	// Noise is output outside of any response block.
	Noise
)

// Response is one framed engine reply with the status character stripped.
type Response struct {
	Kind ResponseKind
	Text string
}

// ResponseFramer accumulates raw engine output and returns the responses
// that are complete. Partial output stays buffered.
type ResponseFramer interface {
	Feed(chunk []byte) []Response
}

// LineFramer frames standard GTP output: a line starting with '=' or '?'
// opens a response and a blank line closes it.
type LineFramer struct {
	buf   []byte
	block []string
}

// NewLineFramer returns a framer for plain GTP output.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

func (f *LineFramer) Feed(chunk []byte) []Response {
	f.buf = append(f.buf, chunk...)

	var out []Response
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(f.buf[:i]), "\r")
		f.buf = f.buf[i+1:]

		if strings.TrimSpace(line) == "" {
			if len(f.block) > 0 {
				out = append(out, parseBlock(f.block))
				f.block = nil
			}
			continue
		}

		if len(f.block) == 0 && !isStatusLine(line) {
			out = append(out, Response{Kind: Noise, Text: line})
			continue
		}
		f.block = append(f.block, line)
	}
	return out
}

func isStatusLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "=") || strings.HasPrefix(trimmed, "?")
}

func parseBlock(lines []string) Response {
	first := strings.TrimSpace(lines[0])
	kind := Success
	if first[0] == '?' {
		kind = Failure
	}

	body := append([]string{first[1:]}, lines[1:]...)
	return Response{Kind: kind, Text: strings.TrimSpace(strings.Join(body, "\n"))}
}

// JSONFramer frames engines that answer with a single JSON document, either
// an array of response strings or {"gtp_responses": [...]}.
type JSONFramer struct {
	buf []byte
}

// NewJSONFramer returns a framer for engines answering in one JSON object.
func NewJSONFramer() *JSONFramer {
	return &JSONFramer{}
}

func (f *JSONFramer) Feed(chunk []byte) []Response {
	f.buf = append(f.buf, chunk...)

	doc := bytes.TrimSpace(f.buf)
	if len(doc) == 0 || !json.Valid(doc) {
		return nil
	}
	f.buf = nil

	replies, err := decodeReplies(doc)
	if err != nil {
		return []Response{{Kind: Noise, Text: err.Error()}}
	}

	var out []Response
	for _, r := range replies {
		var lines []string
		for _, l := range strings.Split(strings.ReplaceAll(r, "\r", ""), "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		switch {
		case len(lines) == 0:
			continue
		case !isStatusLine(lines[0]):
			out = append(out, Response{Kind: Noise, Text: r})
		default:
			out = append(out, parseBlock(lines))
		}
	}
	return out
}

func decodeReplies(doc []byte) ([]string, error) {
	if doc[0] == '[' {
		var replies []string
		if err := json.Unmarshal(doc, &replies); err != nil {
			return nil, fmt.Errorf("decoding response array: %w", err)
		}
		return replies, nil
	}

	var wrapped struct {
		Responses []string `json:"gtp_responses"`
	}
	if err := json.Unmarshal(doc, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding response object: %w", err)
	}
	return wrapped.Responses, nil
}
