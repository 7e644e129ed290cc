package gtp

import (
	"strconv"
	"strings"

	"github.com/tecu23/gtp-bridge/internal/color"
	"github.com/tecu23/gtp-bridge/pkg/codec"
)

// Position is everything needed to rebuild a game inside a fresh engine.
type Position struct {
	Size          int
	Komi          float64
	Handicap      int
	FreeHandicap  bool
	InitialPlayer color.Color
	InitialBlack  []codec.Move
	InitialWhite  []codec.Move
	Moves         []codec.Move
}

// MoveColors returns the color of every move in the list. Edited moves keep
// their own color and do not advance the turn. During free handicap placement
// black keeps the turn until only one handicap stone is left to place.
func MoveColors(pos Position) []color.Color {
	c := pos.InitialPlayer
	if c == "" {
		c = color.Black
	}
	handicapsLeft := pos.Handicap

	colors := make([]color.Color, len(pos.Moves))
	for i, m := range pos.Moves {
		if m.Edited && m.Color != "" {
			colors[i] = m.Color
			continue
		}
		colors[i] = c
		if pos.FreeHandicap && handicapsLeft > 1 {
			handicapsLeft--
		} else {
			c = c.Opp()
		}
	}
	return colors
}

// ReplayCommands lists the commands that load pos into an empty engine, in
// order, ending before the final showboard.
func ReplayCommands(pos Position) []string {
	cmds := []string{
		"boardsize " + strconv.Itoa(pos.Size),
		"clear_board",
		"komi " + num(pos.Komi),
	}

	var stones []string
	for _, m := range pos.InitialBlack {
		stones = append(stones, codec.Vertex(m, pos.Size))
	}
	if len(stones) > 0 {
		cmds = append(cmds, "set_free_handicap "+strings.Join(stones, " "))
	}
	for _, m := range pos.InitialWhite {
		cmds = append(cmds, "play white "+codec.Vertex(m, pos.Size))
	}

	for i, c := range MoveColors(pos) {
		cmds = append(cmds, "play "+string(c)+" "+codec.Vertex(pos.Moves[i], pos.Size))
	}
	return cmds
}

// LoadState replays pos into the engine and confirms with showboard. Rejected
// replay commands are only logged; fail fires if the engine dies or rejects
// showboard.
func (e *Engine) LoadState(pos Position, done func(), fail func(error)) {
	for _, c := range ReplayCommands(pos) {
		e.Command(c, Callback{})
	}
	e.Command("showboard", Callback{
		OnSuccess: func(string) {
			if done != nil {
				done()
			}
		},
		OnFailure: fail,
	})
}
