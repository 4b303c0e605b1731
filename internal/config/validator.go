package config

import (
	"encoding/json"
	"fmt"
)

var validModes = map[string]bool{
	"full_auto":  true,
	"semi_auto":  true,
	"turn_based": true,
}

// Validate checks the configuration for values the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required (or set ANTHROPIC_API_KEY)")
	}
	if c.Anthropic.Model == "" {
		return fmt.Errorf("anthropic.model is required")
	}
	if !validModes[c.Sessions.Mode] {
		return fmt.Errorf("sessions.mode must be full_auto, semi_auto, or turn_based, got %q", c.Sessions.Mode)
	}
	if c.Sessions.MaxTurns <= 0 {
		return fmt.Errorf("sessions.max_turns must be positive")
	}
	if c.Sessions.BudgetCents < 0 {
		return fmt.Errorf("sessions.budget_cents must not be negative")
	}
	for _, h := range c.Nudges.BackoffHours {
		if h <= 0 {
			return fmt.Errorf("nudges.backoff_hours entries must be positive")
		}
	}
	if c.Gateway.Enabled {
		if c.Gateway.Token == "" {
			return fmt.Errorf("gateway.token is required when the gateway is enabled")
		}
		if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
			return fmt.Errorf("gateway.port must be a valid port, got %d", c.Gateway.Port)
		}
	}
	if c.Webhook.Enabled {
		if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
			return fmt.Errorf("webhook.port must be a valid port, got %d", c.Webhook.Port)
		}
	}
	return nil
}

func marshalConfig(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append(data, '\n'), nil
}
