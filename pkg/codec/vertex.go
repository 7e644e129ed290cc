package codec

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	packedLetters = "abcdefghijklmnopqrstuvwxyz"
	// humanLetters skips "i" so it cannot be mistaken for "1".
	humanLetters = "abcdefghjklmnopqrstuvwxyz"
)

func lower(ch byte) byte {
	if ch >= 'A' && ch <= 'Z' {
		return ch + ('a' - 'A')
	}
	return ch
}

func packedCharToNum(ch byte) int {
	if ch == '.' {
		return -1
	}
	return strings.IndexByte(packedLetters, ch)
}

func numToPackedChar(n int) byte {
	if n < 0 || n >= len(packedLetters) {
		return '.'
	}
	return packedLetters[n]
}

// Vertex formats a move as a GTP vertex ("D4") on a board of the given
// height. GTP counts rows from the bottom.
func Vertex(m Move, height int) string {
	if m.IsPass() {
		return "pass"
	}
	return strings.ToUpper(humanLetters[m.X:m.X+1]) + strconv.Itoa(height-m.Y)
}

// ParseVertex is the inverse of Vertex. It accepts either case and the
// literal "pass"; anything else that is not on the board is an error.
func ParseVertex(s string, height int) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "pass" {
		return Pass(), nil
	}
	if len(s) < 2 {
		return Move{}, fmt.Errorf("%w: vertex %q", ErrUnrecognizedMove, s)
	}

	x := strings.IndexByte(humanLetters, s[0])
	row, err := strconv.Atoi(s[1:])
	if x < 0 || err != nil {
		return Move{}, fmt.Errorf("%w: vertex %q", ErrUnrecognizedMove, s)
	}

	y := height - row
	if x >= height || y < 0 || y >= height {
		return Move{}, fmt.Errorf("%w: vertex %q is off a %dx%d board", ErrUnrecognizedMove, s, height, height)
	}
	return At(x, y), nil
}
