// Package messages holds the payloads exchanged with the game server over
// the event channel and the REST API.
package messages

import (
	"encoding/json"
)

// Player identifies one side of a game.
type Player struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// InitialState lists stones on the board before move one, packed encoding.
type InitialState struct {
	Black string `json:"black"`
	White string `json:"white"`
}

// GameData is the full snapshot pushed on "game/<id>/gamedata".
type GameData struct {
	GameID                int64           `json:"game_id"`
	Phase                 string          `json:"phase"`
	Rules                 string          `json:"rules"`
	Ranked                bool            `json:"ranked"`
	Width                 int             `json:"width"`
	Height                int             `json:"height"`
	Komi                  float64         `json:"komi"`
	Handicap              int             `json:"handicap"`
	FreeHandicapPlacement bool            `json:"free_handicap_placement"`
	InitialPlayer         string          `json:"initial_player"`
	InitialState          InitialState    `json:"initial_state"`
	Moves                 json.RawMessage `json:"moves"`
	Players               struct {
		Black Player `json:"black"`
		White Player `json:"white"`
	} `json:"players"`
	Clock       Clock           `json:"clock"`
	TimeControl TimeControlSpec `json:"time_control"`
}

// PlayerClock is one side of the clock. For the simple system the server
// sends a bare expiration timestamp instead of an object; it lands in
// Expiration.
type PlayerClock struct {
	ThinkingTime float64 `json:"thinking_time"`
	Periods      int     `json:"periods"`
	PeriodTime   float64 `json:"period_time"`
	BlockTime    float64 `json:"block_time"`
	MovesLeft    int     `json:"moves_left"`

	Expiration float64 `json:"-"`
}

// UnmarshalJSON accepts both the object and the bare timestamp form.
func (p *PlayerClock) UnmarshalJSON(data []byte) error {
	var ts float64
	if err := json.Unmarshal(data, &ts); err == nil {
		*p = PlayerClock{Expiration: ts}
		return nil
	}

	type plain PlayerClock
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = PlayerClock(v)
	return nil
}

// Pause describes why, if at all, a game clock is stopped.
type Pause struct {
	Paused       bool                       `json:"paused"`
	PauseControl map[string]json.RawMessage `json:"pause_control"`
}

// Clock is pushed on "game/<id>/clock" and embedded in GameData. Times are
// milliseconds since the epoch, remaining times are seconds.
type Clock struct {
	GameID        int64       `json:"game_id"`
	CurrentPlayer int64       `json:"current_player"`
	BlackPlayerID int64       `json:"black_player_id"`
	WhitePlayerID int64       `json:"white_player_id"`
	LastMove      float64     `json:"last_move"`
	Expiration    float64     `json:"expiration"`
	Now           float64     `json:"now"`
	BlackTime     PlayerClock `json:"black_time"`
	WhiteTime     PlayerClock `json:"white_time"`
	Pause         *Pause      `json:"pause,omitempty"`
}

// MoveEvent is pushed on "game/<id>/move".
type MoveEvent struct {
	GameID     int64           `json:"game_id"`
	MoveNumber int             `json:"move_number"`
	Move       json.RawMessage `json:"move"`
}

// ChallengeUser describes the challenger.
type ChallengeUser struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	Ranking      float64 `json:"ranking"`
	Professional bool    `json:"professional"`
}

// Notification is pushed on "notification". Only challenge notifications
// fill the challenge fields.
type Notification struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	ChallengeID int64          `json:"challenge_id"`
	GameID      int64          `json:"game_id"`
	Rules       string         `json:"rules"`
	Ranked      bool           `json:"ranked"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Handicap    int            `json:"handicap"`
	User        ChallengeUser  `json:"user"`
	TimeControl RawTimeControl `json:"time_control"`
}

// ActiveGame is pushed on "active_game" for every game the bot is part of.
type ActiveGame struct {
	ID           int64  `json:"id"`
	Phase        string `json:"phase"`
	PlayerToMove int64  `json:"player_to_move"`
	MoveNumber   int    `json:"move_number"`
}

// Pong answers a "net/ping"; both stamps are milliseconds since the epoch.
type Pong struct {
	Client int64 `json:"client"`
	Server int64 `json:"server"`
}

// BotIdentity acknowledges "bot/id". ID is zero for unknown accounts.
type BotIdentity struct {
	ID  int64  `json:"id"`
	JWT string `json:"jwt"`
}
