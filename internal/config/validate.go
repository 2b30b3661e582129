package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *SyncConfig) Validate() error {
	if c.Client.SelfID == "" {
		return errors.New("client.self_id is required")
	}

	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	if c.Server.StatusURL == "" {
		return errors.New("server.status_url is required")
	}

	if c.Connection.ReconnectGrowth < 1 {
		return fmt.Errorf("connection.reconnect_growth must be >= 1, got %g", c.Connection.ReconnectGrowth)
	}
	if c.Connection.ReconnectMax < c.Connection.ReconnectBase {
		return errors.New("connection.reconnect_max must be >= connection.reconnect_base")
	}
	if c.Connection.MaxAttempts < 1 {
		return errors.New("connection.max_attempts must be >= 1")
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}

	if c.Presence.FetchRetries < 0 {
		return errors.New("presence.fetch_retries must be >= 0")
	}
	if c.Presence.FetchBackoffMax < c.Presence.FetchBackoffBase {
		return errors.New("presence.fetch_backoff_max must be >= presence.fetch_backoff_base")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
