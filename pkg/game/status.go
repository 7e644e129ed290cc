package game

import (
	"github.com/tecu23/gtp-bridge/internal/color"
	"github.com/tecu23/gtp-bridge/pkg/codec"
	"github.com/tecu23/gtp-bridge/pkg/gtp"
)

// State is where a session stands, derived from what it knows.
type State string

const (
	StateAwaitingState    State = "awaiting-state"
	StatePlacingHandicap  State = "placing-handicap"
	StateAwaitingOpponent State = "awaiting-opponent"
	StateToMove           State = "to-move"
	StateMoveInFlight     State = "move-in-flight"
	StateFinished         State = "finished"
	StateDisconnected     State = "disconnected"
)

// State derives the session state from its fields.
func (s *Session) State() State {
	switch {
	case !s.connected:
		return StateDisconnected
	case s.data == nil:
		return StateAwaitingState
	case s.phase == PhaseFinished:
		return StateFinished
	case s.pending != nil:
		return StateMoveInFlight
	case s.data.FreeHandicapPlacement && s.data.Handicap > len(s.moves):
		return StatePlacingHandicap
	case s.clock.CurrentPlayer == s.identity.BotID:
		return StateToMove
	default:
		return StateAwaitingOpponent
	}
}

// Summary is a point in time view of a session for operators.
type Summary struct {
	GameID    int64       `json:"game_id"`
	State     State       `json:"state"`
	Phase     string      `json:"phase,omitempty"`
	Color     color.Color `json:"color,omitempty"`
	Opponent  string      `json:"opponent,omitempty"`
	Moves     int         `json:"moves"`
	EnginePid int         `json:"engine_pid,omitempty"`
}

func (s *Session) Summary() Summary {
	sum := Summary{
		GameID: s.ID,
		State:  s.State(),
		Phase:  s.phase,
		Moves:  len(s.moves),
	}
	if s.data != nil {
		sum.Color = s.myColor
		sum.Opponent = s.data.Players.White.Username
		if s.myColor == color.White {
			sum.Opponent = s.data.Players.Black.Username
		}
	}
	if s.bot != nil {
		sum.EnginePid = s.bot.Pid
	}
	return sum
}

// SGF exports the game so far. Sessions without gamedata have nothing to
// export.
func (s *Session) SGF() (string, bool, error) {
	if s.data == nil {
		return "", false, nil
	}

	pos := s.position()
	colors := gtp.MoveColors(pos)
	moves := make([]codec.Move, len(pos.Moves))
	for i, m := range pos.Moves {
		m.Color = colors[i]
		moves[i] = m
	}

	sgf, err := codec.WriteSGF(codec.Record{
		Size:         s.data.Width,
		Komi:         s.data.Komi,
		Handicap:     s.data.Handicap,
		PlayerBlack:  s.data.Players.Black.Username,
		PlayerWhite:  s.data.Players.White.Username,
		Rules:        s.data.Rules,
		InitialBlack: s.initialBlack,
		InitialWhite: s.initialWhite,
		Moves:        moves,
	})
	return sgf, true, err
}
