// Package server keeps the bot's session with the game server: the event
// channel, challenge admission and the registry of games.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/internal/config"
	"github.com/tecu23/gtp-bridge/pkg/events"
	"github.com/tecu23/gtp-bridge/pkg/game"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

var (
	ErrUnknownBot     = errors.New("bot account is unknown to the server")
	ErrConnectTimeout = errors.New("failed to connect to server")
	// ErrDisconnected is returned by Run when the event channel drops.
	ErrDisconnected = errors.New("disconnected from server")
)

const (
	defaultPingInterval = 10 * time.Second
	defaultPollInterval = 10 * time.Second
	restTimeout         = 30 * time.Second
)

var productionHost = regexp.MustCompile(`online-go\.com$`)

// Notification types that need no action.
var ignorableNotifications = map[string]bool{
	"delete":                      true,
	"gameStarted":                 true,
	"gameEnded":                   true,
	"gameDeclined":                true,
	"gameResumedFromStoneRemoval": true,
	"tournamentStarted":           true,
	"tournamentEnded":             true,
}

// Options configures a Connection.
type Options struct {
	URL      string
	Host     string
	Username string
	APIKey   string
	// GameTimeout disconnects a game this long after it was last
	// connected. Zero disables it.
	GameTimeout time.Duration
	Game        game.Config
	Admission   config.AdmissionConfig

	// PingInterval and PollInterval default to 10s when zero.
	PingInterval time.Duration
	PollInterval time.Duration
}

// ConnectDeadline is how long the event channel may take to open.
func (o Options) ConnectDeadline() time.Duration {
	if productionHost.MatchString(o.Host) {
		return 5 * time.Second
	}
	return 500 * time.Millisecond
}

func (o Options) pingInterval() time.Duration {
	if o.PingInterval > 0 {
		return o.PingInterval
	}
	return defaultPingInterval
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return defaultPollInterval
}

// CreateConnectionParams holds the dependencies of a Connection.
type CreateConnectionParams struct {
	Options Options
	Dial    Dialer
	API     API
	Start   game.EngineStarter
	Runtime *game.Runtime
}

// Connection is the single authenticated session with the server. Every
// piece of its state is owned by the goroutine running Run; other
// goroutines hand it work through post.
type Connection struct {
	ID uuid.UUID

	opts    Options
	dial    Dialer
	api     API
	start   game.EngineStarter
	runtime *game.Runtime

	publisher *events.Publisher
	loop      chan func()
	stopped   chan struct{}
	stopOnce  sync.Once
	fatal     chan error
	connected atomic.Bool
	rest      sync.WaitGroup

	transport Transport
	nextAck   int64
	acks      map[int64]AckFunc
	botID     int64
	jwt       string
	games     map[int64]*game.Session
	timers    map[int64]*time.Timer

	logger *zap.Logger
}

// AckFunc receives the server's acknowledgement of an emitted event.
type AckFunc func(payload, errPayload json.RawMessage)

// NewConnection builds a Connection. Run opens it.
func NewConnection(params CreateConnectionParams, logger *zap.Logger) *Connection {
	c := &Connection{
		ID:        uuid.New(),
		opts:      params.Options,
		dial:      params.Dial,
		api:       params.API,
		start:     params.Start,
		runtime:   params.Runtime,
		publisher: events.NewPublisher(),
		loop:      make(chan func(), 1024),
		stopped:   make(chan struct{}),
		fatal:     make(chan error, 1),
		acks:      make(map[int64]AckFunc),
		games:     make(map[int64]*game.Session),
		timers:    make(map[int64]*time.Timer),
	}
	c.logger = logger.With(zap.String("component", "connection"), zap.String("connection_id", c.ID.String()))

	c.publisher.Subscribe("net/pong", c.handlePong)
	c.publisher.Subscribe("notification", c.handleNotification)
	c.publisher.Subscribe("active_game", c.handleActiveGame)
	c.publisher.SubscribeUnhandled(func(name string, payload json.RawMessage) {
		c.logger.Debug("Unhandled event", zap.String("event", name), zap.ByteString("payload", payload))
	})
	return c
}

// Connected reports whether the event channel is currently open.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// Run opens the event channel and serves it until the channel drops, the
// bot turns out to be unknown, or ctx is done. On ctx every game is left
// cleanly and Run returns nil.
func (c *Connection) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectDeadline())
	t, err := c.dial(dialCtx, c.opts.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w %s: %w", ErrConnectTimeout, c.opts.URL, err)
	}

	c.transport = t
	c.connected.Store(true)
	c.handleConnect()

	ping := time.NewTicker(c.opts.pingInterval())
	defer ping.Stop()
	poll := time.NewTicker(c.opts.pollInterval())
	defer poll.Stop()

	frames := t.Frames()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Shutting down connection")
			c.teardown()
			return nil

		case err := <-c.fatal:
			c.teardown()
			return err

		case f, ok := <-frames:
			if !ok {
				c.logger.Warn("Disconnected from server")
				c.teardown()
				return ErrDisconnected
			}
			c.handleFrame(f)

		case fn := <-c.loop:
			fn()

		case <-ping.C:
			c.ping()

		case <-poll.C:
			// re-request notifications while idle in case a push got lost
			if c.botID != 0 && c.runtime.MovesInFlight() == 0 {
				c.emitAck(messages.EventNotificationConn, c.auth(), c.logAck(messages.EventNotificationConn))
			}
		}
	}
}

// Close releases goroutines still waiting to post work and waits for REST
// calls in flight. Call it once Run will not be called again.
func (c *Connection) Close() {
	c.stopOnce.Do(func() {
		close(c.stopped)
	})
	c.rest.Wait()
}

// post schedules fn on the event loop.
func (c *Connection) post(fn func()) {
	select {
	case c.loop <- fn:
	case <-c.stopped:
	}
}

func (c *Connection) fail(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// teardown disconnects every game and drops the channel.
func (c *Connection) teardown() {
	c.connected.Store(false)

	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	for id := range c.games {
		c.disconnectFromGame(id)
	}

	c.acks = make(map[int64]AckFunc)
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
}

func (c *Connection) handleConnect() {
	c.logger.Info("Connected", zap.String("url", c.opts.URL))
	c.ping()

	c.emitAck(messages.EventBotID, messages.BotIDRequest{ID: c.opts.Username}, func(payload, errPayload json.RawMessage) {
		var ident messages.BotIdentity
		if errPayload != nil {
			c.fail(fmt.Errorf("%w: %s: %s", ErrUnknownBot, c.opts.Username, errPayload))
			return
		}
		if err := json.Unmarshal(payload, &ident); err != nil || ident.ID == 0 {
			c.fail(fmt.Errorf("%w: %s", ErrUnknownBot, c.opts.Username))
			return
		}

		c.botID = ident.ID
		c.jwt = ident.JWT
		c.logger.Info("Bot identified", zap.Int64("bot_id", c.botID))

		c.Emit(messages.EventAuthenticate, c.auth())
		c.emitAck(messages.EventNotificationConn, c.auth(), c.logAck(messages.EventNotificationConn))
		c.emitAck(messages.EventBotConnect, c.auth(), nil)
	})
}

func (c *Connection) auth() messages.Auth {
	return messages.Auth{
		APIKey:   c.opts.APIKey,
		BotID:    c.botID,
		PlayerID: c.botID,
		JWT:      c.jwt,
	}
}

// Emit sends an event to the server. Failures are logged; the server is the
// source of truth and will resend what matters.
func (c *Connection) Emit(event string, payload any) {
	c.send([]any{event, payload})
}

func (c *Connection) emitAck(event string, payload any, ack AckFunc) {
	c.nextAck++
	id := c.nextAck
	if ack != nil {
		c.acks[id] = ack
	}
	c.send([]any{event, payload, id})
}

func (c *Connection) send(frame []any) {
	if c.transport == nil {
		c.logger.Warn("Dropping event while disconnected", zap.Any("event", frame[0]))
		return
	}
	if err := c.transport.Send(frame); err != nil {
		c.logger.Warn("Failed to send event", zap.Any("event", frame[0]), zap.Error(err))
	}
}

func (c *Connection) logAck(event string) AckFunc {
	return func(payload, errPayload json.RawMessage) {
		c.logger.Debug("Acknowledged", zap.String("event", event),
			zap.ByteString("payload", payload), zap.ByteString("error", errPayload))
	}
}

func (c *Connection) handleFrame(f Frame) {
	if !f.IsAck {
		c.publisher.Publish(f.Event, f.Payload)
		return
	}

	ack, ok := c.acks[f.AckID]
	if !ok {
		return
	}
	delete(c.acks, f.AckID)
	ack(f.Payload, f.Err)
}

func (c *Connection) ping() {
	c.Emit(messages.EventPing, messages.Ping{Client: time.Now().UnixMilli()})
}

func (c *Connection) handlePong(payload json.RawMessage) {
	var p messages.Pong
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Error("Bad pong", zap.Error(err))
		return
	}
	c.runtime.RecordPong(p.Client, p.Server, time.Now())
}

func (c *Connection) handleNotification(payload json.RawMessage) {
	var n messages.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		c.logger.Error("Bad notification", zap.Error(err), zap.ByteString("payload", payload))
		return
	}

	switch {
	case n.Type == "challenge":
		c.handleChallenge(n)
	case n.Type == "friendRequest":
		c.handleFriendRequest(n)
	case ignorableNotifications[n.Type]:
	default:
		c.logger.Warn("Unhandled notification type", zap.String("type", n.Type), zap.ByteString("payload", payload))
		c.deleteNotification(n)
	}
}

func (c *Connection) deleteNotification(n messages.Notification) {
	c.emitAck(messages.EventNotificationDelete,
		messages.NotificationDelete{Auth: c.auth(), NotificationID: n.ID},
		c.logAck(messages.EventNotificationDelete))
}

func (c *Connection) handleChallenge(n messages.Notification) {
	log := c.logger.With(
		zap.Int64("challenge_id", n.ChallengeID),
		zap.Int64("game_id", n.GameID),
		zap.String("user", n.User.Username),
	)
	auth := c.auth()

	if reasons := Evaluate(c.opts.Admission, n); len(reasons) > 0 {
		log.Info("Declining challenge", zap.Strings("reasons", reasons))
		c.async(func(ctx context.Context) {
			if err := c.api.DeclineChallenge(ctx, auth, n.ChallengeID); err != nil {
				log.Error("Error declining challenge", zap.Error(err))
			}
		})
		return
	}

	log.Info("Accepting challenge")
	c.async(func(ctx context.Context) {
		err := c.api.AcceptChallenge(ctx, auth, n.ChallengeID)
		if err == nil {
			return
		}

		log.Error("Error accepting challenge, declining it", zap.Error(err))
		if err := c.api.DeclineChallenge(ctx, auth, n.ChallengeID); err != nil {
			log.Error("Error declining challenge", zap.Error(err))
		}
		c.post(func() { c.deleteNotification(n) })
	})
}

func (c *Connection) handleFriendRequest(n messages.Notification) {
	c.logger.Info("Friend request", zap.String("user", n.User.Username))
	auth := c.auth()
	c.async(func(ctx context.Context) {
		if err := c.api.AcceptFriend(ctx, auth, n.User.ID); err != nil {
			c.logger.Error("Error accepting friend request", zap.Error(err))
		}
	})
}

// async runs a REST call off the event loop.
func (c *Connection) async(fn func(ctx context.Context)) {
	c.rest.Add(1)
	go func() {
		defer c.rest.Done()
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Connection) handleActiveGame(payload json.RawMessage) {
	var g messages.ActiveGame
	if err := json.Unmarshal(payload, &g); err != nil {
		c.logger.Error("Bad active_game", zap.Error(err))
		return
	}
	c.logger.Debug("Active game", zap.Int64("game_id", g.ID), zap.String("phase", g.Phase))

	c.connectToGame(g.ID)
	if g.Phase == game.PhaseFinished {
		c.disconnectFromGame(g.ID)
	}
}

// connectToGame returns the session for id, creating it on first use, and
// re-arms the game's idle timeout.
func (c *Connection) connectToGame(id int64) *game.Session {
	c.armTimeout(id)

	if s, ok := c.games[id]; ok {
		return s
	}

	c.logger.Info("Connecting to game", zap.Int64("game_id", id))
	s := game.CreateSession(game.CreateSessionParams{
		GameID: id,
		Config: c.opts.Game,
		Identity: game.Identity{
			BotID:    c.botID,
			Username: c.opts.Username,
			Auth:     c.auth,
		},
		Emitter: c,
		Post:    c.post,
		Runtime: c.runtime,
		Start:   c.start,
	}, c.logger)
	s.Subscribe(c.publisher)
	c.games[id] = s
	s.Connect()
	return s
}

func (c *Connection) armTimeout(id int64) {
	if c.opts.GameTimeout <= 0 {
		return
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(c.opts.GameTimeout, func() {
		c.post(func() {
			// a re-armed timer replaces this one
			if c.timers[id] != t {
				return
			}
			c.logger.Info("Game timed out", zap.Int64("game_id", id))
			c.disconnectFromGame(id)
		})
	})
	c.timers[id] = t
}

func (c *Connection) disconnectFromGame(id int64) {
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}

	s, ok := c.games[id]
	if !ok {
		return
	}
	s.Disconnect()
	c.publisher.UnsubscribePrefix(fmt.Sprintf("game/%d/", id))
	delete(c.games, id)
}
