package core

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTokenGraceWindow is the safety margin subtracted from a token's
// expiry: a token inside the window is treated as already expired so the
// refresh happens before the token is truly unusable.
const DefaultTokenGraceWindow = 5 * time.Minute

const defaultFlowStateTTL = 15 * time.Minute

type FlowConfig struct {
	StateTTL time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	GraceWindow time.Duration `koanf:"grace_window" mapstructure:"grace_window"`
	Flow        FlowConfig    `koanf:"flow" mapstructure:"flow"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "tokens",
		GraceWindow: DefaultTokenGraceWindow,
		Flow: FlowConfig{
			StateTTL: defaultFlowStateTTL,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.GraceWindow < 0 {
		return fmt.Errorf("core: grace_window must not be negative")
	}
	if c.Flow.StateTTL < 0 {
		return fmt.Errorf("core: flow state_ttl must not be negative")
	}
	return nil
}

func (c Config) graceWindow() time.Duration {
	if c.GraceWindow <= 0 {
		return DefaultTokenGraceWindow
	}
	return c.GraceWindow
}

func (c Config) flowStateTTL() time.Duration {
	if c.Flow.StateTTL <= 0 {
		return defaultFlowStateTTL
	}
	return c.Flow.StateTTL
}
