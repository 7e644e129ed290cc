package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:       "online-go.com",
			Port:       443,
			SocketPath: "/",
			Username:   "gnugo-bot",
			APIKey:     "secret",
		},
		Engine: EngineConfig{
			Command:       "gnugo",
			Args:          []string{"--mode", "gtp"},
			StartupBuffer: 5 * time.Second,
		},
		Admission: AdmissionConfig{
			Rules:        []string{"japanese"},
			BoardSizes:   []int{9, 19},
			Speeds:       []string{"live"},
			TimeControls: []string{"byoyomi"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Username = ""
	cfg.Server.APIKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.username")
	assert.Contains(t, err.Error(), "server.api_key")
}

func TestValidateRejectsJSONWithPersist(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.JSON = true
	cfg.Engine.Persist = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.json")
}

func TestValidateRejectsRankedAndUnrankedOnly(t *testing.T) {
	cfg := validConfig()
	cfg.Admission.RankedOnly = true
	cfg.Admission.UnrankedOnly = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclusive")
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Command = ""
	cfg.Logging.Level = "verbose"
	cfg.Admission.MinRank = "strong"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "engine.command")
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "admission.min_rank")
}

func TestValidateStatusNeedsKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Status.Listen = ":8080"
	require.Error(t, cfg.Validate())

	cfg.Status.APIKeys = []string{"ops"}
	require.NoError(t, cfg.Validate())
}

func TestParseRank(t *testing.T) {
	tests := []struct {
		rank    string
		want    float64
		wantPro bool
	}{
		{"30k", 0, false},
		{"5k", 25, false},
		{"1d", 30, false},
		{"9D", 38, false},
		{"1p", 37, true},
	}

	for _, tt := range tests {
		t.Run(tt.rank, func(t *testing.T) {
			got, pro, err := ParseRank(tt.rank)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantPro, pro)
		})
	}

	_, _, err := ParseRank("dan")
	assert.Error(t, err)
}

func TestParseRankKyuBelowDan(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 30).Draw(t, "kyu")
		d := rapid.IntRange(1, 9).Draw(t, "dan")

		kyu, _, err := ParseRank(strconv.Itoa(k) + "k")
		require.NoError(t, err)
		dan, _, err := ParseRank(strconv.Itoa(d) + "d")
		require.NoError(t, err)

		assert.Less(t, kyu, dan)
	})
}

func TestServerURLs(t *testing.T) {
	s := ServerConfig{Host: "online-go.com", Port: 443, SocketPath: "socket"}
	assert.Equal(t, "wss://online-go.com:443/socket", s.SocketURL())
	assert.Equal(t, "https://online-go.com:443/api/v1/", s.APIBase())

	s.Beta = true
	s.Insecure = true
	assert.Equal(t, "ws://beta.online-go.com:443/socket", s.SocketURL())
	assert.Equal(t, "http://beta.online-go.com:443/api/v1/", s.APIBase())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	content := `
server:
  username: gnugo-bot
  api_key: secret
engine:
  command: gnugo
  args: ["--mode", "gtp"]
game:
  timeout: 10m
admission:
  min_rank: 2p
  max_handicap: 0
  max_periods: 10
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "online-go.com", cfg.Server.Host)
	assert.Equal(t, 443, cfg.Server.Port)
	assert.Equal(t, []string{"--mode", "gtp"}, cfg.Engine.Args)
	assert.Equal(t, 5*time.Second, cfg.Engine.StartupBuffer)
	assert.Equal(t, 10*time.Minute, cfg.Game.Timeout)
	assert.Equal(t, []int{9, 13, 19}, cfg.Admission.BoardSizes)

	require.NotNil(t, cfg.Admission.MaxHandicap)
	assert.Equal(t, 0, *cfg.Admission.MaxHandicap)
	require.NotNil(t, cfg.Admission.MaxPeriods)
	assert.Equal(t, 10, *cfg.Admission.MaxPeriods)
	assert.Nil(t, cfg.Admission.MaxHandicapRanked)

	require.NotNil(t, cfg.Admission.MinRanking)
	assert.Equal(t, 38.0, *cfg.Admission.MinRanking)
	assert.True(t, cfg.Admission.ProOnly)
	assert.Nil(t, cfg.Admission.MaxRanking)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_SERVER_USERNAME", "envbot")
	t.Setenv("BRIDGE_SERVER_API_KEY", "envkey")
	t.Setenv("BRIDGE_ENGINE_COMMAND", "katago")

	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()
	setDefaults(v)

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "envbot", cfg.Server.Username)
	assert.Equal(t, "katago", cfg.Engine.Command)
}

func TestLoadEnvOverridesAdmission(t *testing.T) {
	t.Setenv("BRIDGE_SERVER_USERNAME", "bot")
	t.Setenv("BRIDGE_SERVER_API_KEY", "key")
	t.Setenv("BRIDGE_ENGINE_COMMAND", "gnugo")
	t.Setenv("BRIDGE_ADMISSION_MAX_HANDICAP", "0")
	t.Setenv("BRIDGE_ADMISSION_MIN_MAIN_TIME", "300")
	t.Setenv("BRIDGE_ADMISSION_RANKED_ONLY", "true")
	t.Setenv("BRIDGE_ADMISSION_MAX_PERIODS", "5")
	t.Setenv("BRIDGE_ADMISSION_BAN", "alice,bob")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "bot", cfg.Server.Username)
	require.NotNil(t, cfg.Admission.MaxHandicap)
	assert.Equal(t, 0, *cfg.Admission.MaxHandicap)
	assert.Equal(t, 300.0, cfg.Admission.MinMainTime)
	assert.True(t, cfg.Admission.RankedOnly)
	require.NotNil(t, cfg.Admission.MaxPeriods)
	assert.Equal(t, 5, *cfg.Admission.MaxPeriods)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Admission.Ban)
	assert.Nil(t, cfg.Admission.MaxHandicapRanked)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
