// Package color provides the stone colors of a Go game
package color

import "fmt"

// Color represent a stone color as GTP spells it
type Color string

// Possible colors in a Go game
const (
	Black Color = "black"
	White Color = "white"
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// FromNumber maps the server's numeric color (1 black, 2 white) onto a Color.
// Zero means the color is not given and yields the empty Color.
func FromNumber(n int) (Color, error) {
	switch n {
	case 0:
		return "", nil
	case 1:
		return Black, nil
	case 2:
		return White, nil
	}
	return "", fmt.Errorf("unknown color number %d", n)
}

// Number is the inverse of FromNumber.
func (c Color) Number() int {
	switch c {
	case Black:
		return 1
	case White:
		return 2
	}
	return 0
}

// SGF returns the SGF property name used for a move of this color.
func (c Color) SGF() string {
	if c == White {
		return "W"
	}
	return "B"
}
