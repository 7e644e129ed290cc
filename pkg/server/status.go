package server

import (
	"context"
	"sort"

	"github.com/tecu23/gtp-bridge/pkg/game"
)

// Status is a snapshot of the connection for operators.
type Status struct {
	ConnectionID  string         `json:"connection_id"`
	Connected     bool           `json:"connected"`
	BotID         int64          `json:"bot_id,omitempty"`
	LatencyMs     int64          `json:"latency_ms"`
	DriftMs       int64          `json:"drift_ms"`
	MovesInFlight int64          `json:"moves_in_flight"`
	Games         []game.Summary `json:"games"`
}

// query runs fn on the event loop and waits for its result.
func query[T any](ctx context.Context, c *Connection, fn func() T) (T, error) {
	out := make(chan T, 1)
	c.post(func() { out <- fn() })

	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Status reports the connection and every registered game. While
// disconnected no loop is running and no game is registered, so it answers
// from the shared runtime alone.
func (c *Connection) Status(ctx context.Context) (Status, error) {
	if !c.Connected() {
		return c.idleStatus(), nil
	}
	return query(ctx, c, func() Status {
		st := Status{
			ConnectionID:  c.ID.String(),
			Connected:     c.connected.Load(),
			BotID:         c.botID,
			LatencyMs:     c.runtime.Latency().Milliseconds(),
			DriftMs:       c.runtime.Drift().Milliseconds(),
			MovesInFlight: c.runtime.MovesInFlight(),
			Games:         make([]game.Summary, 0, len(c.games)),
		}
		for _, s := range c.games {
			st.Games = append(st.Games, s.Summary())
		}
		sort.Slice(st.Games, func(i, j int) bool { return st.Games[i].GameID < st.Games[j].GameID })
		return st
	})
}

func (c *Connection) idleStatus() Status {
	return Status{
		ConnectionID:  c.ID.String(),
		LatencyMs:     c.runtime.Latency().Milliseconds(),
		DriftMs:       c.runtime.Drift().Milliseconds(),
		MovesInFlight: c.runtime.MovesInFlight(),
		Games:         []game.Summary{},
	}
}

type sgfResult struct {
	sgf   string
	found bool
	err   error
}

// SGF exports a registered game. found is false for unknown games and games
// that have not received their state yet.
func (c *Connection) SGF(ctx context.Context, gameID int64) (sgf string, found bool, err error) {
	if !c.Connected() {
		return "", false, nil
	}
	r, err := query(ctx, c, func() sgfResult {
		s, ok := c.games[gameID]
		if !ok {
			return sgfResult{}
		}
		sgf, found, err := s.SGF()
		return sgfResult{sgf: sgf, found: found, err: err}
	})
	if err != nil {
		return "", false, err
	}
	return r.sgf, r.found, r.err
}
