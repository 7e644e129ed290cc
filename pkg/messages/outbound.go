package messages

// Outbound event names.
const (
	EventGameConnect        = "game/connect"
	EventGameDisconnect     = "game/disconnect"
	EventGameMove           = "game/move"
	EventGameResign         = "game/resign"
	EventGameChat           = "game/chat"
	EventGameResume         = "game/resume"
	EventBotID              = "bot/id"
	EventBotConnect         = "bot/connect"
	EventAuthenticate       = "authenticate"
	EventNotificationConn   = "notification/connect"
	EventNotificationDelete = "notification/delete"
	EventPing               = "net/ping"
)

// Auth is embedded in every authenticated payload.
type Auth struct {
	APIKey   string `json:"apikey"`
	BotID    int64  `json:"bot_id"`
	PlayerID int64  `json:"player_id"`
	JWT      string `json:"jwt,omitempty"`
}

// GameRef addresses a game, used for connect, disconnect, resign and resume.
type GameRef struct {
	Auth
	GameID int64 `json:"game_id"`
}

// GameMove submits a move; Move is the packed encoding, ".." to pass.
type GameMove struct {
	Auth
	GameID int64  `json:"game_id"`
	Move   string `json:"move"`
}

// GameChat posts a chat line into the game.
type GameChat struct {
	Auth
	GameID     int64  `json:"game_id"`
	Body       string `json:"body"`
	MoveNumber int    `json:"move_number"`
	Type       string `json:"type"`
	Username   string `json:"username"`
}

// NotificationDelete removes a notification from the server's queue.
type NotificationDelete struct {
	Auth
	NotificationID string `json:"notification_id"`
}

// Ping carries the local send time in milliseconds.
type Ping struct {
	Client int64 `json:"client"`
}

// BotIDRequest resolves a username to a bot id.
type BotIDRequest struct {
	ID string `json:"id"`
}
