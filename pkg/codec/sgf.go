package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is what WriteSGF needs to describe a game. Every entry of Moves
// must carry its color.
type Record struct {
	Size         int
	Komi         float64
	Handicap     int
	PlayerBlack  string
	PlayerWhite  string
	Rules        string
	InitialBlack []Move
	InitialWhite []Move
	Moves        []Move
}

func sgfPoint(m Move) string {
	if m.IsPass() {
		return ""
	}
	return string([]byte{numToPackedChar(m.X), numToPackedChar(m.Y)})
}

// WriteSGF serializes a record as a single variation FF[4] game tree.
func WriteSGF(rec Record) (string, error) {
	var b strings.Builder
	b.WriteString("(;FF[4]GM[1]CA[UTF-8]")
	fmt.Fprintf(&b, "SZ[%d]", rec.Size)
	b.WriteString("KM[" + strconv.FormatFloat(rec.Komi, 'f', -1, 64) + "]")
	if rec.Handicap > 0 {
		fmt.Fprintf(&b, "HA[%d]", rec.Handicap)
	}
	if rec.Rules != "" {
		b.WriteString("RU[" + escape(rec.Rules) + "]")
	}
	b.WriteString("PB[" + escape(rec.PlayerBlack) + "]")
	b.WriteString("PW[" + escape(rec.PlayerWhite) + "]")

	writeSetup(&b, "AB", rec.InitialBlack)
	writeSetup(&b, "AW", rec.InitialWhite)

	for i, m := range rec.Moves {
		if m.Color == "" {
			return "", fmt.Errorf("move %d has no color", i)
		}
		b.WriteString(";" + m.Color.SGF() + "[" + sgfPoint(m) + "]")
	}
	b.WriteString(")")
	return b.String(), nil
}

func writeSetup(b *strings.Builder, prop string, stones []Move) {
	var points []string
	for _, m := range stones {
		if !m.IsPass() {
			points = append(points, "["+sgfPoint(m)+"]")
		}
	}
	if len(points) > 0 {
		b.WriteString(prop + strings.Join(points, ""))
	}
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "]", `\]`)
}
