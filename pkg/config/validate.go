// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Database.Driver)
	}
	if c.Hub.RelayEnabled && strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Coordinator.MaxAttempts < 1 {
		return fmt.Errorf("COORDINATOR_MAX_ATTEMPTS must be at least 1")
	}
	if c.Session.PingPeriod >= c.Session.PongWait {
		return fmt.Errorf("SESSION_PING_PERIOD must be shorter than SESSION_PONG_WAIT")
	}

	return nil
}
