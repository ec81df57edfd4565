package config

import "strings"

// Config is the main configuration carrier for kestrel.
type Config struct {
	App     AppConfig     `toml:"app"`
	RPC     RPCConfig     `toml:"rpc"`
	Trading TradingConfig `toml:"trading"`
	Verify  VerifyConfig  `toml:"verify"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	DBPath       string `toml:"db_path"`
	EventsDBPath string `toml:"events_db_path"`
}

// RPCConfig describes the Solana JSON-RPC endpoint used for verification.
type RPCConfig struct {
	Endpoint               string  `toml:"endpoint"`
	Wallet                 string  `toml:"wallet"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	RequestsPerSec         float64 `toml:"requests_per_sec"`
	Burst                  int     `toml:"burst"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

// TradingConfig bounds how much the bot may hold at once.
type TradingConfig struct {
	MaxOpenPositions int `toml:"max_open_positions"`
}

// VerifyConfig tunes the verification queue, worker and give-up policy.
type VerifyConfig struct {
	BatchSize            int     `toml:"batch_size"`
	MaxAttempts          int     `toml:"max_attempts"`
	MaxAgeSeconds        int     `toml:"max_age_seconds"`
	BackoffMinSeconds    float64 `toml:"backoff_min_seconds"`
	BackoffMaxSeconds    float64 `toml:"backoff_max_seconds"`
	BackoffFactor        float64 `toml:"backoff_factor"`
	PartialExitTolerance float64 `toml:"partial_exit_tolerance"`
}

// keySet tracks the field paths explicitly present in the config file, so
// defaults never clobber an explicit zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
