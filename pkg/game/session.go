// Package game keeps one session per match and decides when the engine has
// to produce a move.
package game

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/internal/color"
	"github.com/tecu23/gtp-bridge/pkg/codec"
	"github.com/tecu23/gtp-bridge/pkg/events"
	"github.com/tecu23/gtp-bridge/pkg/gtp"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

const (
	PhasePlay     = "play"
	PhaseFinished = "finished"
)

// Emitter sends an event to the game server.
type Emitter interface {
	Emit(event string, payload any)
}

// EngineStarter spawns an engine for a game. Output and exit of the engine
// must be posted through post.
type EngineStarter func(gameID int64, post func(func()), clock gtp.ServerClock, logger *zap.Logger) (*gtp.Engine, error)

// Config is the per game behavior.
type Config struct {
	// Persist keeps the engine alive between moves.
	Persist  bool
	Greeting string
	Farewell string

	NoPause         bool
	NoPauseRanked   bool
	NoPauseUnranked bool
}

// Identity is who the bot is on the server.
type Identity struct {
	BotID    int64
	Username string
	Auth     func() messages.Auth
}

type CreateSessionParams struct {
	GameID   int64
	Config   Config
	Identity Identity
	Emitter  Emitter
	Post     func(func())
	Runtime  *Runtime
	Start    EngineStarter
}

// Session follows one game. All methods run on the connection's event loop.
type Session struct {
	ID int64

	cfg      Config
	identity Identity
	emitter  Emitter
	post     func(func())
	runtime  *Runtime
	start    EngineStarter

	data         *messages.GameData
	moves        []codec.Move
	initialBlack []codec.Move
	initialWhite []codec.Move
	phase        string
	clock        messages.Clock

	myColor         color.Color
	opponentEvenOdd int
	greeted         bool
	connected       bool

	bot     *gtp.Engine
	pending *moveRequest

	logger *zap.Logger
}

// moveRequest is one genmove round trip. It settles exactly once.
type moveRequest struct {
	settled bool
}

// CreateSession builds the session for one game. Subscribe wires it to the server.
func CreateSession(params CreateSessionParams, logger *zap.Logger) *Session {
	return &Session{
		ID:        params.GameID,
		cfg:       params.Config,
		identity:  params.Identity,
		emitter:   params.Emitter,
		post:      params.Post,
		runtime:   params.Runtime,
		start:     params.Start,
		connected: true,
		logger:    logger.With(zap.Int64("game_id", params.GameID)),
	}
}

// Subscribe routes the game's server events to the session.
func (s *Session) Subscribe(p *events.Publisher) {
	prefix := fmt.Sprintf("game/%d/", s.ID)

	p.Subscribe(prefix+"gamedata", func(payload json.RawMessage) {
		var gd messages.GameData
		if err := json.Unmarshal(payload, &gd); err != nil {
			s.logger.Error("Bad gamedata", zap.Error(err))
			return
		}
		s.HandleGameData(gd)
	})
	p.Subscribe(prefix+"move", func(payload json.RawMessage) {
		var ev messages.MoveEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.logger.Error("Bad move event", zap.Error(err))
			return
		}
		s.HandleMove(ev)
	})
	p.Subscribe(prefix+"clock", func(payload json.RawMessage) {
		var clk messages.Clock
		if err := json.Unmarshal(payload, &clk); err != nil {
			s.logger.Error("Bad clock", zap.Error(err))
			return
		}
		s.HandleClock(clk)
	})
	p.Subscribe(prefix+"phase", func(payload json.RawMessage) {
		var phase string
		if err := json.Unmarshal(payload, &phase); err != nil {
			s.logger.Error("Bad phase", zap.Error(err))
			return
		}
		s.HandlePhase(phase)
	})
	p.Subscribe(prefix+"undo_requested", func(payload json.RawMessage) {
		s.logger.Info("Undo requested", zap.ByteString("payload", payload))
	})
}

// Connect announces the bot in the game.
func (s *Session) Connect() {
	s.emit(messages.EventGameConnect, messages.GameRef{Auth: s.identity.Auth(), GameID: s.ID})
}

// HandleGameData replaces the game state with a full snapshot.
func (s *Session) HandleGameData(gd messages.GameData) {
	if !s.connected {
		return
	}
	s.logger.Info("Gamedata", zap.String("phase", gd.Phase), zap.Int("handicap", gd.Handicap))

	moves, err := codec.Decode(gd.Moves, gd.Width)
	if err != nil {
		s.logger.Error("Undecodable moves in gamedata", zap.Error(err))
		return
	}
	black, err := codec.DecodeString(gd.InitialState.Black, gd.Width)
	if err != nil {
		s.logger.Error("Undecodable initial black stones", zap.Error(err))
		return
	}
	white, err := codec.DecodeString(gd.InitialState.White, gd.Width)
	if err != nil {
		s.logger.Error("Undecodable initial white stones", zap.Error(err))
		return
	}

	s.data = &gd
	s.moves = moves
	s.initialBlack = black
	s.initialWhite = white
	s.phase = gd.Phase
	s.clock = gd.Clock

	s.myColor = color.White
	if s.identity.BotID == gd.Players.Black.ID {
		s.myColor = color.Black
	}
	s.opponentEvenOdd = OpponentParity(s.myColor, gd.Handicap, gd.FreeHandicapPlacement,
		gd.Clock.CurrentPlayer == s.identity.BotID, len(moves))

	// A snapshot after the engine started means history may have changed
	// under it; the next move starts a fresh one.
	if s.bot != nil {
		s.logger.Info("Killing engine because of gamedata after it was started")
		s.dropBot()
	}

	if s.phase == PhasePlay && gd.Clock.CurrentPlayer == s.identity.BotID {
		s.MakeMove(len(s.moves))
	}
}

// OpponentParity returns the parity of the move numbers played by the
// opponent. The first handicap stone only lowers komi, so handicaps of one
// do not shift the order.
func OpponentParity(mine color.Color, handicap int, freePlacement, botToMove bool, moveCount int) int {
	switch {
	case freePlacement && handicap > 1:
		p := 1
		if mine == color.Black {
			p = 0
		}
		return (p + handicap - 1) % 2
	case handicap > 1:
		if mine == color.Black {
			return 1
		}
		return 0
	case botToMove:
		return moveCount % 2
	default:
		return (moveCount + 1) % 2
	}
}

// HandleMove appends a move played on the server.
func (s *Session) HandleMove(ev messages.MoveEvent) {
	if !s.connected {
		return
	}
	if s.data == nil {
		s.logger.Warn("Move before gamedata", zap.Int("move_number", ev.MoveNumber))
		return
	}

	decoded, err := codec.Decode(ev.Move, s.data.Width)
	if err != nil || len(decoded) == 0 {
		s.logger.Error("Undecodable move", zap.ByteString("move", ev.Move), zap.Error(err))
		return
	}
	move := decoded[0]
	s.moves = append(s.moves, move)

	if s.data.FreeHandicapPlacement && s.data.Handicap > len(s.moves) {
		if s.myColor == color.Black {
			s.MakeMove(len(s.moves))
			return
		}
		s.relay(move)
		s.logger.Debug("Waiting for opponent handicap stones", zap.Int("left", s.data.Handicap-len(s.moves)))
		return
	}

	if ev.MoveNumber%2 != s.opponentEvenOdd {
		s.logger.Debug("Ignoring our own move", zap.Int("move_number", ev.MoveNumber))
		return
	}
	s.relay(move)
	s.MakeMove(len(s.moves))
}

func (s *Session) relay(m codec.Move) {
	if s.bot == nil {
		return
	}
	c := s.myColor.Opp()
	if m.Edited && m.Color != "" {
		c = m.Color
	}
	s.bot.SendMove(c, codec.Vertex(m, s.data.Width))
}

// HandleClock caches the clock and resumes games paused by the opponent
// when pausing is not tolerated.
func (s *Session) HandleClock(clk messages.Clock) {
	if !s.connected {
		return
	}
	if s.shouldResume(clk) {
		s.logger.Info("Pausing not allowed, resuming game")
		s.emit(messages.EventGameResume, messages.GameRef{Auth: s.identity.Auth(), GameID: s.ID})
	}

	if s.data == nil {
		s.logger.Debug("Clock before gamedata")
	}
	s.clock = clk
}

func (s *Session) shouldResume(clk messages.Clock) bool {
	ranked := s.data != nil && s.data.Ranked
	if !(s.cfg.NoPause || (s.cfg.NoPauseRanked && ranked) || (s.cfg.NoPauseUnranked && !ranked)) {
		return false
	}
	if clk.Pause == nil || !clk.Pause.Paused || clk.Pause.PauseControl == nil {
		return false
	}
	for _, reason := range []string{
		"stone-removal",
		"system",
		"weekend",
		fmt.Sprintf("vacation-%d", clk.BlackPlayerID),
		fmt.Sprintf("vacation-%d", clk.WhitePlayerID),
	} {
		if _, ok := clk.Pause.PauseControl[reason]; ok {
			return false
		}
	}
	return true
}

// HandlePhase records a phase change. Coming back to play from another phase
// the bot passes and lets the server reject it if that was wrong.
func (s *Session) HandlePhase(phase string) {
	if !s.connected {
		return
	}
	s.logger.Info("Phase", zap.String("phase", phase))

	previous := s.phase
	s.phase = phase
	if s.data != nil {
		s.data.Phase = phase
	}

	if phase == PhasePlay && previous != "" && previous != PhasePlay {
		s.logger.Info("Play resumed, passing")
		s.emitMove(codec.Pass())
	}
}

// MakeMove asks the engine for a move if the game still has exactly
// moveCount moves, is in play and no move is already being generated.
func (s *Session) MakeMove(moveCount int) {
	if s.data == nil || len(s.moves) != moveCount || s.phase != PhasePlay || !s.connected {
		return
	}
	if s.pending != nil {
		s.logger.Debug("Move already in flight", zap.Int("moves", moveCount))
		return
	}

	req := &moveRequest{}
	s.pending = req
	s.runtime.moveStarted()

	passAndRestart := func(err error) {
		if !s.settle(req) {
			return
		}
		s.logger.Warn("Engine failed, passing", zap.Error(err), zap.Int("moves", len(s.moves)))
		s.emitMove(codec.Pass())
		s.dropBot()
	}

	if s.bot == nil {
		bot, err := s.start(s.ID, s.post, s.runtime, s.logger)
		if err != nil {
			passAndRestart(err)
			return
		}
		bot.OnExit = func(error) {
			if s.bot == bot {
				s.bot = nil
			}
		}
		s.bot = bot

		s.logger.Info("Loading state into new engine", zap.Int("pid", bot.Pid))
		bot.LoadState(s.position(), func() {
			s.logger.Debug("State loaded")
		}, passAndRestart)
	}

	s.logger.Info("Generating move", zap.Int("moves", moveCount))
	s.bot.Genmove(s.myColor, s.data.Width, s.data.TimeControl.Control, s.clock, func(res gtp.Result) {
		if !s.settle(req) {
			return
		}

		if res.Resign {
			s.logger.Info("Resigning", zap.String("reply", res.Text))
			s.emit(messages.EventGameResign, messages.GameRef{Auth: s.identity.Auth(), GameID: s.ID})
		} else {
			s.logger.Info("Playing", zap.String("reply", res.Text))
			s.emitMove(res.Move)

			if s.cfg.Greeting != "" && !s.greeted && len(s.moves) < 2+s.data.Handicap {
				s.sendChat(s.cfg.Greeting)
				s.greeted = true
			}
		}

		if !s.cfg.Persist {
			s.dropBot()
		}
	}, passAndRestart)
}

// settle closes req and reports whether this call was the one that did.
func (s *Session) settle(req *moveRequest) bool {
	if req.settled {
		return false
	}
	req.settled = true
	s.runtime.moveFinished()
	if s.pending == req {
		s.pending = nil
	}
	return true
}

// dropBot kills the engine. A move still being generated by it is abandoned.
func (s *Session) dropBot() {
	if s.bot != nil {
		s.bot.Kill()
		s.bot = nil
	}
	if s.pending != nil {
		s.settle(s.pending)
	}
}

func (s *Session) position() gtp.Position {
	return gtp.Position{
		Size:          s.data.Width,
		Komi:          s.data.Komi,
		Handicap:      s.data.Handicap,
		FreeHandicap:  s.data.FreeHandicapPlacement,
		InitialPlayer: color.Color(s.data.InitialPlayer),
		InitialBlack:  s.initialBlack,
		InitialWhite:  s.initialWhite,
		Moves:         s.moves,
	}
}

// Disconnect leaves the game, saying farewell if configured, and kills the
// engine.
func (s *Session) Disconnect() {
	s.logger.Info("Disconnecting from game")

	if s.cfg.Farewell != "" && s.data != nil {
		s.sendChat(s.cfg.Farewell)
	}
	s.connected = false
	s.emit(messages.EventGameDisconnect, messages.GameRef{Auth: s.identity.Auth(), GameID: s.ID})
	s.dropBot()
}

func (s *Session) sendChat(body string) {
	if !s.connected {
		return
	}
	s.emit(messages.EventGameChat, messages.GameChat{
		Auth:       s.identity.Auth(),
		GameID:     s.ID,
		Body:       body,
		MoveNumber: len(s.moves),
		Type:       "discussion",
		Username:   s.identity.Username,
	})
}

func (s *Session) emitMove(m codec.Move) {
	s.emit(messages.EventGameMove, messages.GameMove{Auth: s.identity.Auth(), GameID: s.ID, Move: codec.Encode(m)})
}

func (s *Session) emit(event string, payload any) {
	s.emitter.Emit(event, payload)
}
