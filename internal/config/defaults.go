package config

import "strings"

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppHTTPAddr  = ":9991"
	defaultAppDBPath    = "/data/db/kestrel.db"
	defaultAppEventsDB  = "/data/db/kestrel-events.db"
	defaultRPCEndpoint  = "https://api.mainnet-beta.solana.com"
	defaultRPCTimeout   = 15
	defaultRPCRate      = 10.0
	defaultRPCBurst     = 5
	defaultRPCThreshold = 5
	defaultRPCCooldown  = 30

	defaultMaxOpenPositions = 5

	defaultVerifyBatch     = 10
	defaultVerifyAttempts  = 15
	defaultVerifyMaxAge    = 600
	defaultBackoffMin      = 2.0
	defaultBackoffMax      = 60.0
	defaultBackoffFactor   = 2.0
	defaultPartialExitTol  = 0.02
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.RPC.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Verify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.db_path", &a.DBPath, defaultAppDBPath),
		stringFieldDefault("app.events_db_path", &a.EventsDBPath, defaultAppEventsDB),
	)
}

func (r *RPCConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("rpc.endpoint", &r.Endpoint, defaultRPCEndpoint),
		fieldDefault{
			key:   "rpc.timeout_seconds",
			need:  func() bool { return r.TimeoutSeconds <= 0 },
			apply: func() { r.TimeoutSeconds = defaultRPCTimeout },
		},
		fieldDefault{
			key:   "rpc.requests_per_sec",
			need:  func() bool { return r.RequestsPerSec <= 0 },
			apply: func() { r.RequestsPerSec = defaultRPCRate },
		},
		fieldDefault{
			key:   "rpc.burst",
			need:  func() bool { return r.Burst <= 0 },
			apply: func() { r.Burst = defaultRPCBurst },
		},
		fieldDefault{
			key:   "rpc.breaker_threshold",
			need:  func() bool { return r.BreakerThreshold <= 0 },
			apply: func() { r.BreakerThreshold = defaultRPCThreshold },
		},
		fieldDefault{
			key:   "rpc.breaker_cooldown_seconds",
			need:  func() bool { return r.BreakerCooldownSeconds <= 0 },
			apply: func() { r.BreakerCooldownSeconds = defaultRPCCooldown },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.max_open_positions",
			need:  func() bool { return t.MaxOpenPositions <= 0 },
			apply: func() { t.MaxOpenPositions = defaultMaxOpenPositions },
		},
	)
}

func (v *VerifyConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "verify.batch_size",
			need:  func() bool { return v.BatchSize <= 0 },
			apply: func() { v.BatchSize = defaultVerifyBatch },
		},
		fieldDefault{
			key:   "verify.max_attempts",
			need:  func() bool { return v.MaxAttempts <= 0 },
			apply: func() { v.MaxAttempts = defaultVerifyAttempts },
		},
		fieldDefault{
			key:   "verify.max_age_seconds",
			need:  func() bool { return v.MaxAgeSeconds <= 0 },
			apply: func() { v.MaxAgeSeconds = defaultVerifyMaxAge },
		},
		fieldDefault{
			key:   "verify.backoff_min_seconds",
			need:  func() bool { return v.BackoffMinSeconds <= 0 },
			apply: func() { v.BackoffMinSeconds = defaultBackoffMin },
		},
		fieldDefault{
			key:   "verify.backoff_max_seconds",
			need:  func() bool { return v.BackoffMaxSeconds <= 0 },
			apply: func() { v.BackoffMaxSeconds = defaultBackoffMax },
		},
		fieldDefault{
			key:   "verify.backoff_factor",
			need:  func() bool { return v.BackoffFactor <= 1 },
			apply: func() { v.BackoffFactor = defaultBackoffFactor },
		},
		fieldDefault{
			key:   "verify.partial_exit_tolerance",
			need:  func() bool { return v.PartialExitTolerance <= 0 },
			apply: func() { v.PartialExitTolerance = defaultPartialExitTol },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
