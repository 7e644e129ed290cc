// Package codec converts between the board coordinates used by the server
// and the encodings that appear on the wire: packed letter strings, move
// array tuples, human vertices and GTP vertices.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tecu23/gtp-bridge/internal/color"
)

// ErrUnrecognizedMove is returned for move payloads that fit none of the known encodings.
var ErrUnrecognizedMove = errors.New("unrecognized move format")

// Move is a single board action. X and Y are zero based from the top left
// corner; (-1, -1) is a pass.
type Move struct {
	X, Y int

	// TimeDelta is the thinking time the server recorded, -1 when unknown.
	TimeDelta float64

	// Color is only set when the server pins the color of the move,
	// which happens for edited moves.
	Color  color.Color
	Edited bool
}

// Pass returns the pass move.
func Pass() Move {
	return Move{X: -1, Y: -1, TimeDelta: -1}
}

// At returns a move on the given point.
func At(x, y int) Move {
	return Move{X: x, Y: y, TimeDelta: -1}
}

// IsPass reports whether the move is a pass.
func (m Move) IsPass() bool {
	return m.X < 0 || m.Y < 0
}

// clamp turns coordinates that fall off a size x size board into a pass.
func (m Move) clamp(size int) Move {
	if m.X < 0 || m.Y < 0 || (size > 0 && (m.X >= size || m.Y >= size)) {
		m.X, m.Y = -1, -1
	}
	return m
}

var humanMove = regexp.MustCompile(`[a-zA-Z][0-9]`)
var humanToken = regexp.MustCompile(`[a-zA-Z][0-9]+|\.\.`)

// Decode parses any move representation the server sends: a packed letter
// string, a human coordinate string, a single [x,y,...] tuple or an array of
// tuples. Points off the board decode as passes.
func Decode(raw json.RawMessage, size int) ([]Move, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding move string: %w", err)
		}
		return DecodeString(s, size)
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("decoding move array: %w", err)
		}
		if len(elems) == 0 {
			return nil, nil
		}
		if first := bytes.TrimSpace(elems[0]); len(first) > 0 && first[0] != '[' {
			m, err := decodeTuple(elems, size)
			if err != nil {
				return nil, err
			}
			return []Move{m}, nil
		}
		moves := make([]Move, 0, len(elems))
		for _, e := range elems {
			var tuple []json.RawMessage
			if err := json.Unmarshal(e, &tuple); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrUnrecognizedMove, string(e))
			}
			m, err := decodeTuple(tuple, size)
			if err != nil {
				return nil, err
			}
			moves = append(moves, m)
		}
		return moves, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedMove, string(raw))
}

// decodeTuple reads [x, y, timedelta, color, extra].
func decodeTuple(tuple []json.RawMessage, size int) (Move, error) {
	if len(tuple) < 2 {
		return Move{}, fmt.Errorf("%w: tuple of length %d", ErrUnrecognizedMove, len(tuple))
	}

	var x, y float64
	if err := json.Unmarshal(tuple[0], &x); err != nil {
		return Move{}, fmt.Errorf("%w: x: %v", ErrUnrecognizedMove, err)
	}
	if err := json.Unmarshal(tuple[1], &y); err != nil {
		return Move{}, fmt.Errorf("%w: y: %v", ErrUnrecognizedMove, err)
	}

	m := Move{X: int(x), Y: int(y), TimeDelta: -1}

	if len(tuple) > 2 && !isNull(tuple[2]) {
		if err := json.Unmarshal(tuple[2], &m.TimeDelta); err != nil {
			return Move{}, fmt.Errorf("%w: timedelta: %v", ErrUnrecognizedMove, err)
		}
	}

	if len(tuple) > 3 && !isNull(tuple[3]) {
		var n int
		if err := json.Unmarshal(tuple[3], &n); err != nil {
			return Move{}, fmt.Errorf("%w: color: %v", ErrUnrecognizedMove, err)
		}
		c, err := color.FromNumber(n)
		if err != nil {
			return Move{}, fmt.Errorf("%w: %v", ErrUnrecognizedMove, err)
		}
		m.Color = c
	}

	if len(tuple) > 4 && !isNull(tuple[4]) {
		var extra struct {
			Edited bool `json:"edited"`
		}
		if err := json.Unmarshal(tuple[4], &extra); err != nil {
			return Move{}, fmt.Errorf("%w: extra: %v", ErrUnrecognizedMove, err)
		}
		m.Edited = extra.Edited
	}

	return m.clamp(size), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeString parses either human coordinates ("D4Q16..") or the packed
// two-letters-per-move form ("ddpp!1cc").
func DecodeString(s string, size int) ([]Move, error) {
	if humanMove.MatchString(s) {
		return decodeHuman(s, size)
	}
	return decodePacked(s, size)
}

func decodeHuman(s string, size int) ([]Move, error) {
	var moves []Move
	last := 0
	for _, loc := range humanToken.FindAllStringIndex(s, -1) {
		if loc[0] != last {
			return nil, fmt.Errorf("%w: unparsed input %q", ErrUnrecognizedMove, s[last:loc[0]])
		}
		last = loc[1]

		tok := s[loc[0]:loc[1]]
		if tok == ".." {
			moves = append(moves, Pass())
			continue
		}
		row, err := strconv.Atoi(tok[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnrecognizedMove, tok)
		}
		m := At(strings.IndexByte(humanLetters, lower(tok[0])), size-row)
		moves = append(moves, m.clamp(size))
	}
	if last != len(s) {
		return nil, fmt.Errorf("%w: unparsed input %q", ErrUnrecognizedMove, s[last:])
	}
	return moves, nil
}

func decodePacked(s string, size int) ([]Move, error) {
	var moves []Move
	for i := 0; i < len(s); i += 2 {
		if i+1 >= len(s) {
			return nil, fmt.Errorf("%w: trailing character in %q", ErrUnrecognizedMove, s)
		}
		m := Move{TimeDelta: -1}
		if s[i] == '!' {
			n, err := strconv.Atoi(s[i+1 : i+2])
			if err != nil {
				return nil, fmt.Errorf("%w: bad edit marker in %q", ErrUnrecognizedMove, s)
			}
			c, err := color.FromNumber(n)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnrecognizedMove, err)
			}
			m.Edited = true
			m.Color = c
			i += 2
			if i+1 >= len(s) {
				return nil, fmt.Errorf("%w: truncated edited move in %q", ErrUnrecognizedMove, s)
			}
		}
		m.X = packedCharToNum(s[i])
		m.Y = packedCharToNum(s[i+1])
		moves = append(moves, m.clamp(size))
	}
	return moves, nil
}

// Encode returns the packed two letter form of a move; a pass is "..".
func Encode(m Move) string {
	if m.IsPass() {
		return ".."
	}
	return string([]byte{numToPackedChar(m.X), numToPackedChar(m.Y)})
}

// EncodeMoves packs a move list, escaping edited moves as "!<color>".
func EncodeMoves(moves []Move) string {
	var b strings.Builder
	for _, m := range moves {
		if m.Edited {
			b.WriteByte('!')
			b.WriteString(strconv.Itoa(m.Color.Number()))
		}
		b.WriteString(Encode(m))
	}
	return b.String()
}

// Tuple returns the array form of a move as the server would send it.
func Tuple(m Move) []any {
	x, y := m.X, m.Y
	if m.IsPass() {
		x, y = -1, -1
	}
	tuple := []any{x, y, m.TimeDelta}
	if m.Color != "" || m.Edited {
		tuple = append(tuple, m.Color.Number())
	}
	if m.Edited {
		tuple = append(tuple, map[string]any{"edited": true})
	}
	return tuple
}
