// Package config provides Viper-based configuration loading for the bridge.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BetaHost replaces server.host when server.beta is set.
const BetaHost = "beta.online-go.com"

// ServerConfig describes the game server and the bot account on it.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Insecure bool   `mapstructure:"insecure"`
	Beta     bool   `mapstructure:"beta"`
	// SocketPath is the path of the realtime websocket endpoint.
	SocketPath string `mapstructure:"socket_path"`
	Username   string `mapstructure:"username"`
	APIKey     string `mapstructure:"api_key"`
}

// EffectiveHost is the host to connect to once beta is applied.
func (s ServerConfig) EffectiveHost() string {
	if s.Beta {
		return BetaHost
	}
	return s.Host
}

// SocketURL returns the websocket URL of the realtime endpoint.
func (s ServerConfig) SocketURL() string {
	scheme := "wss"
	if s.Insecure {
		scheme = "ws"
	}
	path := s.SocketPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, s.EffectiveHost(), s.Port, path)
}

// APIBase returns the root URL of the REST API.
func (s ServerConfig) APIBase() string {
	scheme := "https"
	if s.Insecure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d/api/v1/", scheme, s.EffectiveHost(), s.Port)
}

// EngineConfig describes how to run the engine.
type EngineConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	// Persist keeps one engine per game alive between moves.
	Persist bool `mapstructure:"persist"`
	JSON    bool `mapstructure:"json"`
	KGSTime bool `mapstructure:"kgstime"`
	NoClock bool `mapstructure:"noclock"`
	// StartupBuffer is subtracted from the time available on a fresh
	// engine's first move.
	StartupBuffer time.Duration `mapstructure:"startup_buffer"`
}

// GameConfig holds per game behavior.
type GameConfig struct {
	// Timeout disconnects from a game this long after it was last
	// reported active. Zero disables it.
	Timeout         time.Duration `mapstructure:"timeout"`
	Greeting        string        `mapstructure:"greeting"`
	Farewell        string        `mapstructure:"farewell"`
	NoPause         bool          `mapstructure:"nopause"`
	NoPauseRanked   bool          `mapstructure:"nopause_ranked"`
	NoPauseUnranked bool          `mapstructure:"nopause_unranked"`
}

// AdmissionConfig decides which challenges are accepted. Zero thresholds
// are unset; the pointer fields distinguish unset from zero.
type AdmissionConfig struct {
	RejectNew    bool     `mapstructure:"reject_new"`
	Rules        []string `mapstructure:"rules"`
	BoardSizes   []int    `mapstructure:"board_sizes"`
	Speeds       []string `mapstructure:"speeds"`
	TimeControls []string `mapstructure:"time_controls"`

	Ban         []string `mapstructure:"ban"`
	BanRanked   []string `mapstructure:"ban_ranked"`
	BanUnranked []string `mapstructure:"ban_unranked"`

	MinMainTime   float64 `mapstructure:"min_main_time"`
	MaxMainTime   float64 `mapstructure:"max_main_time"`
	MinPeriodTime float64 `mapstructure:"min_period_time"`
	MaxPeriodTime float64 `mapstructure:"max_period_time"`

	MinPeriods         int  `mapstructure:"min_periods"`
	MinPeriodsRanked   int  `mapstructure:"min_periods_ranked"`
	MinPeriodsUnranked int  `mapstructure:"min_periods_unranked"`
	MaxPeriods         *int `mapstructure:"max_periods"`
	MaxPeriodsRanked   *int `mapstructure:"max_periods_ranked"`
	MaxPeriodsUnranked *int `mapstructure:"max_periods_unranked"`

	// MinRank and MaxRank are ranks such as "15k", "1d" or "2p".
	MinRank string `mapstructure:"min_rank"`
	MaxRank string `mapstructure:"max_rank"`

	ProOnly      bool `mapstructure:"pro_only"`
	RankedOnly   bool `mapstructure:"ranked_only"`
	UnrankedOnly bool `mapstructure:"unranked_only"`

	MaxHandicap         *int `mapstructure:"max_handicap"`
	MaxHandicapRanked   *int `mapstructure:"max_handicap_ranked"`
	MaxHandicapUnranked *int `mapstructure:"max_handicap_unranked"`

	// MinRanking and MaxRanking are MinRank and MaxRank on the server's
	// numeric scale, filled in by Load.
	MinRanking *float64 `mapstructure:"-"`
	MaxRanking *float64 `mapstructure:"-"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// StatusConfig configures the operator status endpoint. An empty Listen
// disables it.
type StatusConfig struct {
	Listen  string   `mapstructure:"listen"`
	APIKeys []string `mapstructure:"api_keys"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Game      GameConfig      `mapstructure:"game"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Status    StatusConfig    `mapstructure:"status"`
}

var replacer = strings.NewReplacer(".", "_")

var rankPattern = regexp.MustCompile(`^(\d+)([kdp])$`)

// ParseRank converts a rank like "5k" to the server's ranking scale and
// reports whether it is a professional rank.
func ParseRank(rank string) (float64, bool, error) {
	m := rankPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(rank)))
	if m == nil {
		return 0, false, fmt.Errorf("could not parse rank %q", rank)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, fmt.Errorf("could not parse rank %q: %w", rank, err)
	}

	switch m[2] {
	case "k":
		return float64(30 - n), false, nil
	case "d":
		return float64(30 - 1 + n), false, nil
	default:
		return float64(36 + n), true, nil
	}
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateEngine(c.Engine),
		validateGame(c.Game),
		validateAdmission(c.Admission),
		validateLogging(c.Logging),
		validateStatus(c.Status),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.EffectiveHost() == "" {
		errs = append(errs, "server.host must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.Username == "" {
		errs = append(errs, "server.username must not be empty")
	}
	if s.APIKey == "" {
		errs = append(errs, "server.api_key must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEngine(e EngineConfig) error {
	var errs []string
	if e.Command == "" {
		errs = append(errs, "engine.command must not be empty")
	}
	if e.StartupBuffer < 0 {
		errs = append(errs, "engine.startup_buffer must not be negative")
	}
	// JSON mode closes the engine's stdin after genmove.
	if e.JSON && e.Persist {
		errs = append(errs, "engine.json cannot be combined with engine.persist")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	if g.Timeout < 0 {
		return errors.New("game.timeout must not be negative")
	}
	return nil
}

func validateAdmission(a AdmissionConfig) error {
	var errs []string
	for _, size := range a.BoardSizes {
		if size < 1 || size > 25 {
			errs = append(errs, fmt.Sprintf("admission.board_sizes entries must be 1-25, got %d", size))
		}
	}
	if a.RankedOnly && a.UnrankedOnly {
		errs = append(errs, "admission.ranked_only and admission.unranked_only are exclusive")
	}
	if a.MinMainTime > 0 && a.MaxMainTime > 0 && a.MinMainTime > a.MaxMainTime {
		errs = append(errs, "admission.min_main_time must not exceed admission.max_main_time")
	}
	if a.MinPeriodTime > 0 && a.MaxPeriodTime > 0 && a.MinPeriodTime > a.MaxPeriodTime {
		errs = append(errs, "admission.min_period_time must not exceed admission.max_period_time")
	}
	for name, rank := range map[string]string{"min_rank": a.MinRank, "max_rank": a.MaxRank} {
		if rank == "" {
			continue
		}
		if _, _, err := ParseRank(rank); err != nil {
			errs = append(errs, fmt.Sprintf("admission.%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateStatus(s StatusConfig) error {
	if s.Listen != "" && len(s.APIKeys) == 0 {
		return errors.New("status.api_keys must not be empty when status.listen is set")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path reads defaults and the
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with BRIDGE_ prefix
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if err := cfg.Admission.resolveRanks(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (a *AdmissionConfig) resolveRanks() error {
	if a.MinRank != "" {
		r, pro, err := ParseRank(a.MinRank)
		if err != nil {
			return err
		}
		a.MinRanking = &r
		// a professional minimum rank only makes sense for professionals
		if pro {
			a.ProOnly = true
		}
	}
	if a.MaxRank != "" {
		r, _, err := ParseRank(a.MaxRank)
		if err != nil {
			return err
		}
		a.MaxRanking = &r
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "online-go.com")
	v.SetDefault("server.port", 443)
	v.SetDefault("server.insecure", false)
	v.SetDefault("server.beta", false)
	v.SetDefault("server.socket_path", "/")
	v.SetDefault("server.username", "")
	v.SetDefault("server.api_key", "")

	v.SetDefault("engine.command", "")
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.persist", false)
	v.SetDefault("engine.json", false)
	v.SetDefault("engine.kgstime", false)
	v.SetDefault("engine.noclock", false)
	v.SetDefault("engine.startup_buffer", "5s")

	v.SetDefault("game.timeout", "0s")
	v.SetDefault("game.greeting", "")
	v.SetDefault("game.farewell", "")
	v.SetDefault("game.nopause", false)
	v.SetDefault("game.nopause_ranked", false)
	v.SetDefault("game.nopause_unranked", false)

	v.SetDefault("admission.reject_new", false)
	v.SetDefault("admission.rules", []string{"japanese", "aga", "chinese", "korean"})
	v.SetDefault("admission.board_sizes", []int{9, 13, 19})
	v.SetDefault("admission.speeds", []string{"blitz", "live", "correspondence"})
	v.SetDefault("admission.time_controls", []string{"fischer", "byoyomi", "simple", "canadian", "absolute", "none"})
	v.SetDefault("admission.ban", []string{})
	v.SetDefault("admission.ban_ranked", []string{})
	v.SetDefault("admission.ban_unranked", []string{})
	v.SetDefault("admission.min_main_time", 0)
	v.SetDefault("admission.max_main_time", 0)
	v.SetDefault("admission.min_period_time", 0)
	v.SetDefault("admission.max_period_time", 0)
	v.SetDefault("admission.min_periods", 0)
	v.SetDefault("admission.min_periods_ranked", 0)
	v.SetDefault("admission.min_periods_unranked", 0)
	v.SetDefault("admission.min_rank", "")
	v.SetDefault("admission.max_rank", "")
	v.SetDefault("admission.pro_only", false)
	v.SetDefault("admission.ranked_only", false)
	v.SetDefault("admission.unranked_only", false)

	// Unset limits have no default; binding keeps them nil unless the
	// environment sets them.
	for _, key := range []string{
		"admission.max_periods",
		"admission.max_periods_ranked",
		"admission.max_periods_unranked",
		"admission.max_handicap",
		"admission.max_handicap_ranked",
		"admission.max_handicap_unranked",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("status.listen", "")
	v.SetDefault("status.api_keys", []string{})
}
