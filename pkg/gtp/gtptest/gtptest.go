// Package gtptest provides an in-process GTP engine and a single goroutine
// event loop for tests of code that drives engines.
package gtptest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tecu23/gtp-bridge/pkg/gtp"
)

// Engine answers every command with an empty success, genmove with Move and
// showboard with a small board dump.
type Engine struct {
	mu       sync.Mutex
	commands []string
	move     string
	crashOn  string
	rejectOn string

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	replies chan string
	hold    chan struct{}
	quit    chan struct{}
	once    sync.Once
}

const closeStdout = "\x00close"

// NewEngine starts a fake engine that plays move on genmove.
func NewEngine(move string) *Engine {
	f := &Engine{move: move, replies: make(chan string, 1024), quit: make(chan struct{})}
	f.stdinR, f.stdinW = io.Pipe()
	f.stdoutR, f.stdoutW = io.Pipe()

	go f.serve()
	go f.write()
	return f
}

// CrashOn makes the engine die when it reads a command starting with prefix.
func (f *Engine) CrashOn(prefix string) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashOn = prefix
	return f
}

// RejectOn makes the engine answer '?' to commands starting with prefix.
func (f *Engine) RejectOn(prefix string) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectOn = prefix
	return f
}

// HoldGenmove delays genmove answers until Release is called.
func (f *Engine) HoldGenmove() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = make(chan struct{})
	return f
}

// Release answers a held genmove and stops holding later ones.
func (f *Engine) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hold != nil {
		close(f.hold)
		f.hold = nil
	}
}

// Process exposes the pipes for gtp.Attach.
func (f *Engine) Process() gtp.Process {
	return gtp.Process{
		Pid:    4242,
		Stdin:  f.stdinW,
		Stdout: f.stdoutR,
		Kill: func() error {
			f.shutdown()
			return nil
		},
	}
}

// Commands returns every command received so far.
func (f *Engine) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Count returns how many received commands start with prefix.
func (f *Engine) Count(prefix string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Engine) serve() {
	scanner := bufio.NewScanner(f.stdinR)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())

		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		crash := f.crashOn != "" && strings.HasPrefix(cmd, f.crashOn)
		reject := f.rejectOn != "" && strings.HasPrefix(cmd, f.rejectOn)
		hold := f.hold
		f.mu.Unlock()

		switch {
		case crash:
			_ = f.stdinR.CloseWithError(io.ErrClosedPipe)
			f.replies <- closeStdout
			return
		case reject:
			f.replies <- "? unknown command\n\n"
		case strings.HasPrefix(cmd, "genmove"):
			if hold != nil {
				select {
				case <-hold:
				case <-f.quit:
					return
				}
			}
			f.replies <- fmt.Sprintf("= %s\n\n", f.move)
		case cmd == "showboard":
			f.replies <- "= \n   A B C\n 3 . . .\n\n"
		default:
			f.replies <- "=\n\n"
		}
	}
	f.replies <- closeStdout
}

func (f *Engine) write() {
	for r := range f.replies {
		if r == closeStdout {
			_ = f.stdoutW.Close()
			return
		}
		if _, err := io.WriteString(f.stdoutW, r); err != nil {
			return
		}
	}
}

func (f *Engine) shutdown() {
	f.once.Do(func() {
		close(f.quit)
		_ = f.stdinR.CloseWithError(io.ErrClosedPipe)
		_ = f.stdoutW.Close()
	})
}

// Loop runs posted functions on the test goroutine.
type Loop struct {
	ch chan func()
}

func NewLoop() *Loop {
	return &Loop{ch: make(chan func(), 4096)}
}

// Post queues f. It is safe from any goroutine.
func (l *Loop) Post(f func()) {
	l.ch <- f
}

// RunUntil runs posted functions until cond holds, failing t after timeout.
func (l *Loop) RunUntil(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.After(timeout)
	for !cond() {
		select {
		case f := <-l.ch:
			f()
		case <-deadline:
			t.Fatalf("condition not reached within %v", timeout)
			return
		}
	}
}

// Drain runs whatever is posted within d and then returns.
func (l *Loop) Drain(d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case f := <-l.ch:
			f()
		case <-deadline:
			return
		}
	}
}

// Clock is a fixed ServerClock.
type Clock struct {
	T time.Time
}

func (c Clock) Now() time.Time {
	return c.T
}
