package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/pkg/server"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 60 * time.Second
)

// run serves the status endpoint and keeps the bot connected until a
// signal arrives or a fatal error occurs.
func (app *application) run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.Config.Status.Listen != "" {
		app.Server = &http.Server{
			Addr:         app.Config.Status.Listen,
			Handler:      app.routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			app.Logger.Info("Starting status server", zap.String("address", app.Server.Addr))
			if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.Logger.Error("Status server error", zap.Error(err))
			}
		}()
	}

	err := app.connect(ctx)

	app.shutdown()
	return err
}

// connect runs the connection, reconnecting after drops. An unknown bot and
// a server that was never reachable are fatal.
func (app *application) connect(ctx context.Context) error {
	delay := minReconnectDelay
	everConnected := false

	for {
		err := app.Conn.Run(ctx)
		if ctx.Err() != nil {
			app.Logger.Info("Shutting down", zap.Error(context.Cause(ctx)))
			return nil
		}

		switch {
		case errors.Is(err, server.ErrUnknownBot):
			return err
		case errors.Is(err, server.ErrConnectTimeout) && !everConnected:
			return err
		case errors.Is(err, server.ErrDisconnected):
			everConnected = true
			delay = minReconnectDelay
		}

		app.Logger.Warn("Reconnecting", zap.Error(err), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// shutdown cleans up resources
func (app *application) shutdown() {
	if app.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := app.Server.Shutdown(ctx); err != nil {
			app.Logger.Error("Status server forced to shutdown", zap.Error(err))
		}
	}

	app.Conn.Close()
	app.Logger.Info("All components shut down successfully")
}
