// Package gtp drives one Go engine subprocess per game over the Go Text
// Protocol.
package gtp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/internal/color"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

var (
	// ErrEngineExited fails every command still pending when the process goes away.
	ErrEngineExited = errors.New("engine exited")
	// ErrEngineRejected wraps the text of a '?' response.
	ErrEngineRejected = errors.New("engine rejected command")
)

// Options controls how engines are spawned and spoken to.
type Options struct {
	Command string
	Args    []string

	// JSON wraps commands in {"gtp_commands": [...]} and expects a JSON reply.
	JSON bool
	// KGSTime uses kgs-time_settings where it applies.
	KGSTime bool
	// NoClock suppresses all time commands.
	NoClock bool
	// StartupBuffer is charged to the side to move before the first genmove
	// of a process.
	StartupBuffer time.Duration
}

// Engine is one engine subprocess. Apart from construction, every method must
// be called from the goroutine that runs the functions handed to post; the
// engine posts its own output and exit onto that goroutine too.
type Engine struct {
	ID     uuid.UUID
	GameID int64
	Pid    int

	opts   Options
	stdin  io.WriteCloser
	framer ResponseFramer
	queue  Queue
	post   func(func())
	clock  ServerClock
	kill   func() error

	firstMove  bool
	dead       bool
	killed     bool
	jsonOpened bool

	// OnExit is called once, on the loop goroutine, when the process exits
	// without Kill having been called.
	OnExit func(err error)

	writeMu sync.Mutex
	logger  *zap.Logger
}

// Process is a running engine's streams. Wait is called once both output
// streams reach EOF; Kill may be nil.
type Process struct {
	Pid    int
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	Wait   func() error
	Kill   func() error
}

// Start spawns the engine described by opts.
func Start(opts Options, gameID int64, post func(func()), clock ServerClock, logger *zap.Logger) (*Engine, error) {
	cmd := exec.Command(opts.Command, opts.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine %q: %w", opts.Command, err)
	}

	e := Attach(Process{
		Pid:    cmd.Process.Pid,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Wait:   cmd.Wait,
		Kill:   cmd.Process.Kill,
	}, opts, gameID, post, clock, logger)
	e.logger.Debug("Engine started", zap.String("command", opts.Command), zap.Strings("args", opts.Args))
	return e, nil
}

// Attach wraps an already running process and starts pumping its output onto
// post.
func Attach(p Process, opts Options, gameID int64, post func(func()), clock ServerClock, logger *zap.Logger) *Engine {
	var framer ResponseFramer = NewLineFramer()
	if opts.JSON {
		framer = NewJSONFramer()
	}

	kill := p.Kill
	if kill == nil {
		kill = func() error { return nil }
	}

	id := uuid.New()
	e := &Engine{
		ID:        id,
		GameID:    gameID,
		Pid:       p.Pid,
		opts:      opts,
		stdin:     p.Stdin,
		framer:    framer,
		post:      post,
		clock:     clock,
		kill:      kill,
		firstMove: true,
		logger: logger.With(
			zap.Int("pid", p.Pid),
			zap.Int64("game_id", gameID),
			zap.String("engine_id", id.String()),
		),
	}

	wait := p.Wait
	if wait == nil {
		wait = func() error { return nil }
	}
	e.run(p.Stdout, p.Stderr, wait)
	return e
}

// run starts the goroutines that pump the process's output onto the loop.
func (e *Engine) run(stdout, stderr io.Reader, wait func() error) {
	var wg sync.WaitGroup
	wg.Add(1)

	if stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				e.logger.Warn("Engine stderr", zap.String("line", scanner.Text()))
			}
		}()
	}

	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				e.post(func() { e.handleOutput(chunk) })
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					e.logger.Debug("Error reading engine output", zap.Error(err))
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		err := wait()
		e.post(func() { e.handleExit(err) })
	}()
}

func (e *Engine) handleOutput(chunk []byte) {
	e.logger.Debug("<<<", zap.ByteString("output", chunk))

	for _, r := range e.framer.Feed(chunk) {
		switch r.Kind {
		case Success:
			cb, ok := e.queue.Pop()
			if !ok {
				e.logger.Warn("Response without a pending command", zap.String("response", r.Text))
				continue
			}
			cb.succeed(r.Text)
		case Failure:
			e.logger.Warn("Engine returned an error", zap.String("response", r.Text))
			if cb, ok := e.queue.Pop(); ok {
				cb.fail(fmt.Errorf("%w: %s", ErrEngineRejected, r.Text))
			}
		default:
			e.logger.Info("Unexpected output", zap.String("line", r.Text))
		}
	}
}

func (e *Engine) handleExit(err error) {
	e.dead = true

	if e.killed {
		e.logger.Debug("Engine exited after kill")
		return
	}

	e.logger.Warn("Engine exited", zap.Error(err), zap.Int("pending", e.queue.Len()))
	e.failPending(ErrEngineExited)

	if e.OnExit != nil {
		e.OnExit(err)
	}
}

func (e *Engine) failPending(err error) {
	for _, cb := range e.queue.Drain() {
		cb.fail(err)
	}
}

// Alive reports whether the process has neither exited nor been killed.
func (e *Engine) Alive() bool {
	return !e.dead
}

// Command sends one command. cb fires when its response arrives, in the
// order commands were sent.
func (e *Engine) Command(command string, cb Callback) {
	e.send(command, cb, false)
}

func (e *Engine) send(command string, cb Callback, final bool) {
	e.queue.Push(cb)

	if e.dead {
		e.post(func() { e.failPending(ErrEngineExited) })
		return
	}

	e.logger.Debug(">>>", zap.String("command", command))
	if err := e.write(command, final); err != nil {
		e.logger.Warn("Failed to send command", zap.String("command", command), zap.Error(err))
		e.dead = true
		_ = e.kill()
		e.post(func() { e.failPending(fmt.Errorf("%w: %v", ErrEngineExited, err)) })
	}
}

func (e *Engine) write(command string, final bool) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if !e.opts.JSON {
		_, err := io.WriteString(e.stdin, command+"\n")
		return err
	}

	var b strings.Builder
	if !e.jsonOpened {
		b.WriteString(`{"gtp_commands": [`)
		e.jsonOpened = true
	} else {
		b.WriteString(",")
	}
	b.WriteString(quote(command))
	if final {
		b.WriteString("]}")
	}
	if _, err := io.WriteString(e.stdin, b.String()); err != nil {
		return err
	}
	if final {
		return e.stdin.Close()
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Kill terminates the process. Pending callbacks are dropped without being
// called and OnExit does not fire.
func (e *Engine) Kill() {
	if e.killed {
		return
	}
	e.logger.Debug("Killing engine")
	e.killed = true
	e.dead = true
	e.queue.Drain()

	_ = e.stdin.Close()
	if err := e.kill(); err != nil {
		e.logger.Debug("Kill failed", zap.Error(err))
	}
}

// LoadClock sends the time settings for the game's clock.
func (e *Engine) LoadClock(tc messages.TimeControl, clk messages.Clock) {
	if e.opts.NoClock || tc == nil {
		return
	}

	var buffer time.Duration
	if e.firstMove {
		buffer = e.opts.StartupBuffer
	}
	for _, c := range ClockCommands(tc, clk, e.clock.Now(), buffer, e.opts.KGSTime) {
		e.Command(c, Callback{})
	}
}

// SendMove relays a move played on the server into the engine.
func (e *Engine) SendMove(c color.Color, vertex string) {
	e.Command("play "+string(c)+" "+vertex, Callback{})
}
