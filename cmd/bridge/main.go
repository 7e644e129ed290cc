// Package main is the entry point of the bridge
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/internal/auth"
	"github.com/tecu23/gtp-bridge/internal/config"
	"github.com/tecu23/gtp-bridge/internal/logging"
	"github.com/tecu23/gtp-bridge/pkg/game"
	"github.com/tecu23/gtp-bridge/pkg/gtp"
	"github.com/tecu23/gtp-bridge/pkg/server"
)

// application encapsulates global dependencies
type application struct {
	Auth    *auth.APIKeyAuth
	Logger  *zap.Logger
	Config  config.Config
	Runtime *game.Runtime
	Conn    *server.Connection
	Bridge  bridge
	Server  *http.Server

	StartTime time.Time
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	runtime := game.NewRuntime()

	conn := server.NewConnection(server.CreateConnectionParams{
		Options: server.Options{
			URL:         cfg.Server.SocketURL(),
			Host:        cfg.Server.EffectiveHost(),
			Username:    cfg.Server.Username,
			APIKey:      cfg.Server.APIKey,
			GameTimeout: cfg.Game.Timeout,
			Game: game.Config{
				Persist:         cfg.Engine.Persist,
				Greeting:        cfg.Game.Greeting,
				Farewell:        cfg.Game.Farewell,
				NoPause:         cfg.Game.NoPause,
				NoPauseRanked:   cfg.Game.NoPauseRanked,
				NoPauseUnranked: cfg.Game.NoPauseUnranked,
			},
			Admission: cfg.Admission,
		},
		Dial:    server.WebsocketDialer(logger),
		API:     server.NewRESTClient(cfg.Server.APIBase(), logger),
		Start:   engineStarter(cfg.Engine),
		Runtime: runtime,
	}, logger)

	app := &application{
		Auth:      auth.NewAPIKeyAuth(cfg.Status.APIKeys),
		Logger:    logger,
		Config:    cfg,
		Runtime:   runtime,
		Conn:      conn,
		Bridge:    conn,
		StartTime: time.Now(),
	}

	if err := app.run(); err != nil {
		logger.Fatal("bridge stopped", zap.Error(err))
	}
}

func engineStarter(ec config.EngineConfig) game.EngineStarter {
	opts := gtp.Options{
		Command:       ec.Command,
		Args:          ec.Args,
		JSON:          ec.JSON,
		KGSTime:       ec.KGSTime,
		NoClock:       ec.NoClock,
		StartupBuffer: ec.StartupBuffer,
	}
	return func(gameID int64, post func(func()), clock gtp.ServerClock, logger *zap.Logger) (*gtp.Engine, error) {
		return gtp.Start(opts, gameID, post, clock, logger)
	}
}
