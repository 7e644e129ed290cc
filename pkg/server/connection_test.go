package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/internal/config"
	"github.com/tecu23/gtp-bridge/pkg/game"
	"github.com/tecu23/gtp-bridge/pkg/gtp"
	"github.com/tecu23/gtp-bridge/pkg/gtp/gtptest"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

const (
	testBotID = 77
	testWait  = 5 * time.Second
	testTick  = 5 * time.Millisecond
)

type sentFrame struct {
	Event   string
	Payload json.RawMessage
	AckID   int64
}

// fakeTransport records outbound frames and lets tests push inbound ones.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentFrame
	frames chan Frame
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan Frame, 64)}
}

func (f *fakeTransport) Send(frame []any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	var sf sentFrame
	if err := json.Unmarshal(parts[0], &sf.Event); err != nil {
		return err
	}
	sf.Payload = parts[1]
	if len(parts) > 2 {
		if err := json.Unmarshal(parts[2], &sf.AckID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sf)
	return nil
}

func (f *fakeTransport) Frames() <-chan Frame {
	return f.frames
}

func (f *fakeTransport) Close() error {
	return nil
}

// drop simulates the server going away.
func (f *fakeTransport) drop() {
	f.once.Do(func() { close(f.frames) })
}

func (f *fakeTransport) push(event string, payload string) {
	f.frames <- Frame{Event: event, Payload: json.RawMessage(payload)}
}

func (f *fakeTransport) ack(id int64, payload string) {
	f.frames <- Frame{IsAck: true, AckID: id, Payload: json.RawMessage(payload)}
}

func (f *fakeTransport) all(event string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []sentFrame
	for _, sf := range f.sent {
		if sf.Event == event {
			out = append(out, sf)
		}
	}
	return out
}

func (f *fakeTransport) waitFor(t *testing.T, event string) sentFrame {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.all(event)) > 0 }, testWait, testTick, "no %s frame", event)
	return f.all(event)[0]
}

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) AcceptChallenge(_ context.Context, auth messages.Auth, challengeID int64) error {
	return m.Called(auth.BotID, challengeID).Error(0)
}

func (m *mockAPI) DeclineChallenge(_ context.Context, auth messages.Auth, challengeID int64) error {
	return m.Called(auth.BotID, challengeID).Error(0)
}

func (m *mockAPI) AcceptFriend(_ context.Context, auth messages.Auth, userID int64) error {
	return m.Called(auth.BotID, userID).Error(0)
}

type testConnection struct {
	conn      *Connection
	transport *fakeTransport
	runtime   *game.Runtime
	cancel    context.CancelFunc
	done      chan error
}

func defaultAdmission() config.AdmissionConfig {
	return config.AdmissionConfig{
		Rules:        []string{"japanese", "aga", "chinese", "korean"},
		BoardSizes:   []int{9, 13, 19},
		Speeds:       []string{"blitz", "live", "correspondence"},
		TimeControls: []string{"fischer", "byoyomi", "simple", "canadian", "absolute", "none"},
	}
}

func startConnection(t *testing.T, api API, start game.EngineStarter, configure func(*Options)) *testConnection {
	t.Helper()

	opts := Options{
		URL:       "ws://localhost:8080/",
		Host:      "localhost",
		Username:  "bridgebot",
		APIKey:    "secret",
		Admission: defaultAdmission(),
	}
	if configure != nil {
		configure(&opts)
	}
	if start == nil {
		start = func(int64, func(func()), gtp.ServerClock, *zap.Logger) (*gtp.Engine, error) {
			return nil, errors.New("no engine in this test")
		}
	}

	ft := newFakeTransport()
	tc := &testConnection{
		transport: ft,
		runtime:   game.NewRuntime(),
		done:      make(chan error, 1),
	}
	tc.conn = NewConnection(CreateConnectionParams{
		Options: opts,
		Dial: func(context.Context, string) (Transport, error) {
			return ft, nil
		},
		API:     api,
		Start:   start,
		Runtime: tc.runtime,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel
	go func() { tc.done <- tc.conn.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		tc.conn.Close()
	})
	return tc
}

// identify answers bot/id and waits for the rest of the handshake.
func (tc *testConnection) identify(t *testing.T) {
	t.Helper()
	req := tc.transport.waitFor(t, messages.EventBotID)
	tc.transport.ack(req.AckID, `{"id":77,"jwt":"token"}`)
	tc.transport.waitFor(t, messages.EventBotConnect)
}

func (tc *testConnection) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-tc.done:
		return err
	case <-time.After(testWait):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestConnection_Handshake(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, nil)

	req := tc.transport.waitFor(t, messages.EventBotID)
	assert.JSONEq(t, `{"id":"bridgebot"}`, string(req.Payload))
	assert.NotZero(t, req.AckID)
	assert.Len(t, tc.transport.all(messages.EventPing), 1)

	tc.transport.ack(req.AckID, `{"id":77,"jwt":"token"}`)
	tc.transport.waitFor(t, messages.EventBotConnect)

	auth := tc.transport.all(messages.EventAuthenticate)
	require.Len(t, auth, 1)
	assert.JSONEq(t, `{"apikey":"secret","bot_id":77,"player_id":77,"jwt":"token"}`, string(auth[0].Payload))
	assert.Len(t, tc.transport.all(messages.EventNotificationConn), 1)
	assert.True(t, tc.conn.Connected())

	tc.cancel()
	assert.NoError(t, tc.result(t))
	assert.False(t, tc.conn.Connected())
}

func TestConnection_UnknownBotIsFatal(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, nil)

	req := tc.transport.waitFor(t, messages.EventBotID)
	tc.transport.ack(req.AckID, `{"id":0}`)

	err := tc.result(t)
	assert.ErrorIs(t, err, ErrUnknownBot)
	assert.Empty(t, tc.transport.all(messages.EventAuthenticate))
}

func TestConnection_ConnectTimeout(t *testing.T) {
	conn := NewConnection(CreateConnectionParams{
		Options: Options{URL: "ws://localhost:1/", Host: "localhost"},
		Dial: func(ctx context.Context, _ string) (Transport, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Runtime: game.NewRuntime(),
	}, zap.NewNop())
	defer conn.Close()

	started := time.Now()
	err := conn.Run(context.Background())
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestOptions_ConnectDeadline(t *testing.T) {
	assert.Equal(t, 5*time.Second, Options{Host: "online-go.com"}.ConnectDeadline())
	assert.Equal(t, 5*time.Second, Options{Host: "beta.online-go.com"}.ConnectDeadline())
	assert.Equal(t, 500*time.Millisecond, Options{Host: "localhost"}.ConnectDeadline())
}

func challenge(ranking float64) string {
	n := map[string]any{
		"id":           "n1",
		"type":         "challenge",
		"challenge_id": 501,
		"game_id":      9001,
		"rules":        "japanese",
		"ranked":       true,
		"width":        19,
		"height":       19,
		"handicap":     0,
		"user":         map[string]any{"id": 5, "username": "alice", "ranking": ranking},
		"time_control": map[string]any{
			"time_control": "byoyomi",
			"speed":        "blitz",
			"main_time":    30,
			"period_time":  5,
			"periods":      5,
		},
	}
	data, _ := json.Marshal(n)
	return string(data)
}

func signal(ch chan struct{}) func(mock.Arguments) {
	return func(mock.Arguments) { ch <- struct{}{} }
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testWait):
		t.Fatal("REST call not made")
	}
}

func TestConnection_ChallengeAdmission(t *testing.T) {
	maxRanking := 20.0
	api := new(mockAPI)
	declined := make(chan struct{}, 1)
	accepted := make(chan struct{}, 1)
	api.On("DeclineChallenge", int64(testBotID), int64(501)).Return(nil).Once().Run(signal(declined))
	api.On("AcceptChallenge", int64(testBotID), int64(501)).Return(nil).Once().Run(signal(accepted))

	tc := startConnection(t, api, nil, func(o *Options) {
		o.Admission.MaxRanking = &maxRanking
	})
	tc.identify(t)

	tc.transport.push("notification", challenge(25))
	waitSignal(t, declined)

	tc.transport.push("notification", challenge(15))
	waitSignal(t, accepted)

	tc.cancel()
	require.NoError(t, tc.result(t))
	tc.conn.Close()

	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "AcceptChallenge", 1)
	api.AssertNumberOfCalls(t, "DeclineChallenge", 1)
}

func TestConnection_FailedAcceptDeclines(t *testing.T) {
	api := new(mockAPI)
	declined := make(chan struct{}, 1)
	api.On("AcceptChallenge", int64(testBotID), int64(501)).Return(errors.New("503 - unavailable")).Once()
	api.On("DeclineChallenge", int64(testBotID), int64(501)).Return(nil).Once().Run(signal(declined))

	tc := startConnection(t, api, nil, nil)
	tc.identify(t)

	tc.transport.push("notification", challenge(15))
	waitSignal(t, declined)

	del := tc.transport.waitFor(t, messages.EventNotificationDelete)
	assert.Contains(t, string(del.Payload), `"notification_id":"n1"`)
	api.AssertExpectations(t)
}

func TestConnection_FriendRequest(t *testing.T) {
	api := new(mockAPI)
	accepted := make(chan struct{}, 1)
	api.On("AcceptFriend", int64(testBotID), int64(5)).Return(nil).Once().Run(signal(accepted))

	tc := startConnection(t, api, nil, nil)
	tc.identify(t)

	tc.transport.push("notification", `{"id":"n2","type":"friendRequest","user":{"id":5,"username":"alice"}}`)
	waitSignal(t, accepted)
	api.AssertExpectations(t)
}

func TestConnection_UnknownNotificationDeleted(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, nil)
	tc.identify(t)

	tc.transport.push("notification", `{"id":"n3","type":"gameEnded"}`)
	tc.transport.push("notification", `{"id":"n4","type":"lateForDinner"}`)

	tc.transport.waitFor(t, messages.EventNotificationDelete)
	dels := tc.transport.all(messages.EventNotificationDelete)
	require.Len(t, dels, 1)
	assert.Contains(t, string(dels[0].Payload), `"notification_id":"n4"`)
}

func TestConnection_ActiveGameRegistersOnce(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, nil)
	tc.identify(t)

	tc.transport.push("active_game", `{"id":9001,"phase":"play","player_to_move":5}`)
	tc.transport.push("active_game", `{"id":9001,"phase":"play","player_to_move":77}`)

	require.Eventually(t, func() bool {
		st, err := tc.conn.Status(context.Background())
		return err == nil && len(st.Games) == 1
	}, testWait, testTick)

	connects := tc.transport.all(messages.EventGameConnect)
	require.Len(t, connects, 1)
	assert.Contains(t, string(connects[0].Payload), `"game_id":9001`)

	st, err := tc.conn.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, game.StateAwaitingState, st.Games[0].State)
	assert.Equal(t, int64(testBotID), st.BotID)
}

func TestConnection_FinishedGameDisconnects(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, nil)
	tc.identify(t)

	tc.transport.push("active_game", `{"id":9001,"phase":"finished"}`)

	tc.transport.waitFor(t, messages.EventGameDisconnect)
	st, err := tc.conn.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Games)
}

func TestConnection_GameTimeout(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, func(o *Options) {
		o.GameTimeout = 50 * time.Millisecond
	})
	tc.identify(t)

	tc.transport.push("active_game", `{"id":9001,"phase":"play"}`)
	tc.transport.waitFor(t, messages.EventGameConnect)

	tc.transport.waitFor(t, messages.EventGameDisconnect)
	st, err := tc.conn.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Games)
}

func TestConnection_DropDisconnectsGames(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, func(o *Options) {
		o.GameTimeout = time.Hour
		o.Game.Farewell = "bye"
	})
	tc.identify(t)

	tc.transport.push("active_game", `{"id":9001,"phase":"play"}`)
	tc.transport.push("active_game", `{"id":9002,"phase":"play"}`)
	require.Eventually(t, func() bool {
		return len(tc.transport.all(messages.EventGameConnect)) == 2
	}, testWait, testTick)

	tc.transport.drop()
	assert.ErrorIs(t, tc.result(t), ErrDisconnected)
	assert.Len(t, tc.transport.all(messages.EventGameDisconnect), 2)
	assert.False(t, tc.conn.Connected())
}

func TestConnection_PongUpdatesRuntime(t *testing.T) {
	tc := startConnection(t, new(mockAPI), nil, nil)
	tc.identify(t)

	now := time.Now().UnixMilli()
	payload, _ := json.Marshal(messages.Pong{Client: now - 200, Server: now - 10_000})
	tc.transport.push("net/pong", string(payload))

	require.Eventually(t, func() bool {
		return tc.runtime.Latency() >= 200*time.Millisecond
	}, testWait, testTick)
	assert.Greater(t, tc.runtime.Drift(), 9*time.Second)
}

func TestConnection_PlaysMoveEndToEnd(t *testing.T) {
	var (
		mu    sync.Mutex
		fakes []*gtptest.Engine
	)
	start := func(id int64, post func(func()), clock gtp.ServerClock, logger *zap.Logger) (*gtp.Engine, error) {
		fake := gtptest.NewEngine("C3")
		mu.Lock()
		fakes = append(fakes, fake)
		mu.Unlock()
		return gtp.Attach(fake.Process(), gtp.Options{NoClock: true}, id, post, clock, logger), nil
	}

	tc := startConnection(t, new(mockAPI), start, nil)
	tc.identify(t)

	tc.transport.push("active_game", `{"id":9001,"phase":"play"}`)
	tc.transport.push("game/9001/gamedata", `{
		"game_id": 9001, "phase": "play", "width": 9, "height": 9, "komi": 6.5,
		"initial_player": "black", "moves": [],
		"players": {"black": {"id": 5, "username": "alice"}, "white": {"id": 77, "username": "bridgebot"}},
		"clock": {"game_id": 9001, "current_player": 5, "black_player_id": 5, "white_player_id": 77}
	}`)
	tc.transport.push("game/9001/move", `{"game_id": 9001, "move_number": 1, "move": "dd"}`)

	move := tc.transport.waitFor(t, messages.EventGameMove)
	assert.Contains(t, string(move.Payload), `"move":"cg"`)
	assert.Contains(t, string(move.Payload), `"game_id":9001`)

	mu.Lock()
	require.Len(t, fakes, 1)
	assert.Equal(t, "genmove white", fakes[0].Commands()[len(fakes[0].Commands())-1])
	mu.Unlock()

	sgf, found, err := tc.conn.SGF(context.Background(), 9001)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, sgf, ";B[dd]")
}

func TestConnection_IdlePollSkipsWhileMoveInFlight(t *testing.T) {
	fake := gtptest.NewEngine("C3").HoldGenmove()
	start := func(id int64, post func(func()), clock gtp.ServerClock, logger *zap.Logger) (*gtp.Engine, error) {
		return gtp.Attach(fake.Process(), gtp.Options{NoClock: true}, id, post, clock, logger), nil
	}

	tc := startConnection(t, new(mockAPI), start, func(o *Options) {
		o.PingInterval = 20 * time.Millisecond
		o.PollInterval = 20 * time.Millisecond
	})
	tc.identify(t)

	require.Eventually(t, func() bool {
		return len(tc.transport.all(messages.EventNotificationConn)) >= 3 &&
			len(tc.transport.all(messages.EventPing)) >= 3
	}, testWait, testTick)

	tc.transport.push("active_game", `{"id":9001,"phase":"play"}`)
	tc.transport.push("game/9001/gamedata", `{
		"game_id": 9001, "phase": "play", "width": 9, "height": 9, "komi": 6.5,
		"initial_player": "black", "moves": [],
		"players": {"black": {"id": 5, "username": "alice"}, "white": {"id": 77, "username": "bridgebot"}},
		"clock": {"game_id": 9001, "current_player": 5, "black_player_id": 5, "white_player_id": 77}
	}`)
	tc.transport.push("game/9001/move", `{"game_id": 9001, "move_number": 1, "move": "dd"}`)

	require.Eventually(t, func() bool {
		return fake.Count("genmove") == 1 && tc.runtime.MovesInFlight() == 1
	}, testWait, testTick)

	polls := len(tc.transport.all(messages.EventNotificationConn))
	pings := len(tc.transport.all(messages.EventPing))
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, tc.transport.all(messages.EventNotificationConn), polls)
	assert.Greater(t, len(tc.transport.all(messages.EventPing)), pings)

	fake.Release()
	tc.transport.waitFor(t, messages.EventGameMove)
	require.Eventually(t, func() bool {
		return len(tc.transport.all(messages.EventNotificationConn)) > polls
	}, testWait, testTick)
}
