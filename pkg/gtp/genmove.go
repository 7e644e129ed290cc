package gtp

import (
	"strings"

	"github.com/tecu23/gtp-bridge/internal/color"
	"github.com/tecu23/gtp-bridge/pkg/codec"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

// Result is the engine's answer to genmove.
type Result struct {
	Move   codec.Move
	Text   string
	Pass   bool
	Resign bool
}

// ParseGenmove reads a genmove reply. Anything that is not a vertex, "pass"
// or "resign" counts as a resignation.
func ParseGenmove(reply string, size int) Result {
	text := strings.ToLower(strings.TrimSpace(reply))
	res := Result{Move: codec.Pass(), Text: text}

	switch text {
	case "resign":
		res.Resign = true
		return res
	case "pass":
		res.Pass = true
		return res
	}

	m, err := codec.ParseVertex(text, size)
	if err != nil {
		res.Resign = true
		return res
	}
	res.Move = m
	res.Pass = m.IsPass()
	return res
}

// Genmove asks the engine for a move for c after loading the clock. In JSON
// mode genmove closes the command document.
func (e *Engine) Genmove(c color.Color, size int, tc messages.TimeControl, clk messages.Clock, done func(Result), fail func(error)) {
	e.LoadClock(tc, clk)
	e.firstMove = false

	e.send("genmove "+string(c), Callback{
		OnSuccess: func(reply string) {
			done(ParseGenmove(reply, size))
		},
		OnFailure: fail,
	}, true)
}
