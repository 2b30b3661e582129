package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerTimeout = 5 * time.Second

	DefaultReconnectBase   = 1 * time.Second
	DefaultReconnectGrowth = 1.5
	DefaultReconnectMax    = 10 * time.Second
	DefaultMaxAttempts     = 10
	DefaultDisconnectGrace = 1 * time.Second
	DefaultPingTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultBufferSize      = 1000

	DefaultCacheTTL          = 5 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPollInterval      = 60 * time.Second
	DefaultFetchRetries      = 3
	DefaultFetchBackoffBase  = 1 * time.Second
	DefaultFetchBackoffMax   = 5 * time.Second
	DefaultFetchTimeout      = 15 * time.Second
	DefaultRefreshPerSecond  = 1.0
	DefaultRefreshBurst      = 5

	DefaultRefreshDebounce = 100 * time.Millisecond

	DefaultCloseGrace = 300 * time.Millisecond

	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultDBMaxConns          = 4
	DefaultDBMinConns          = 1
	DefaultJournalBatchSize    = 500
	DefaultJournalFlushPeriod  = 1 * time.Second
	DefaultJournalBufferSize   = 5000
)

func (c *SyncConfig) applyDefaults() {
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultServerTimeout
	}

	if c.Connection.ReconnectBase == 0 {
		c.Connection.ReconnectBase = DefaultReconnectBase
	}
	if c.Connection.ReconnectGrowth == 0 {
		c.Connection.ReconnectGrowth = DefaultReconnectGrowth
	}
	if c.Connection.ReconnectMax == 0 {
		c.Connection.ReconnectMax = DefaultReconnectMax
	}
	if c.Connection.MaxAttempts == 0 {
		c.Connection.MaxAttempts = DefaultMaxAttempts
	}
	if c.Connection.DisconnectGrace == 0 {
		c.Connection.DisconnectGrace = DefaultDisconnectGrace
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	if c.Presence.CacheTTL == 0 {
		c.Presence.CacheTTL = DefaultCacheTTL
	}
	if c.Presence.HeartbeatInterval == 0 {
		c.Presence.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Presence.PollInterval == 0 {
		c.Presence.PollInterval = DefaultPollInterval
	}
	if c.Presence.FetchRetries == 0 {
		c.Presence.FetchRetries = DefaultFetchRetries
	}
	if c.Presence.FetchBackoffBase == 0 {
		c.Presence.FetchBackoffBase = DefaultFetchBackoffBase
	}
	if c.Presence.FetchBackoffMax == 0 {
		c.Presence.FetchBackoffMax = DefaultFetchBackoffMax
	}
	if c.Presence.FetchTimeout == 0 {
		c.Presence.FetchTimeout = DefaultFetchTimeout
	}
	if c.Presence.RefreshPerSecond == 0 {
		c.Presence.RefreshPerSecond = DefaultRefreshPerSecond
	}
	if c.Presence.RefreshBurst == 0 {
		c.Presence.RefreshBurst = DefaultRefreshBurst
	}

	if c.Bridge.RefreshDebounce == 0 {
		c.Bridge.RefreshDebounce = DefaultRefreshDebounce
	}

	if c.Rooms.CloseGrace == 0 {
		c.Rooms.CloseGrace = DefaultCloseGrace
	}

	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.Database)
		if c.Journal.BatchSize == 0 {
			c.Journal.BatchSize = DefaultJournalBatchSize
		}
		if c.Journal.FlushInterval == 0 {
			c.Journal.FlushInterval = DefaultJournalFlushPeriod
		}
		if c.Journal.BufferSize == 0 {
			c.Journal.BufferSize = DefaultJournalBufferSize
		}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultDBMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultDBMinConns
	}
}
