package config

import (
	"fmt"
	"strings"
)

// validate performs basic sanity checks after defaults are applied.
func validate(c *Config) error {
	if err := c.RPC.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Verify.validate(); err != nil {
		return err
	}
	return nil
}

func (r *RPCConfig) validate() error {
	if strings.TrimSpace(r.Endpoint) == "" {
		return fmt.Errorf("rpc.endpoint must not be empty")
	}
	if strings.TrimSpace(r.Wallet) == "" {
		return fmt.Errorf("rpc.wallet must be set to the bot wallet pubkey")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.MaxOpenPositions <= 0 {
		return fmt.Errorf("trading.max_open_positions must be > 0")
	}
	return nil
}

func (v *VerifyConfig) validate() error {
	if v.BackoffMaxSeconds < v.BackoffMinSeconds {
		return fmt.Errorf("verify.backoff_max_seconds must be >= verify.backoff_min_seconds")
	}
	if v.PartialExitTolerance >= 1 {
		return fmt.Errorf("verify.partial_exit_tolerance is a ratio and must be < 1")
	}
	return nil
}
