package config

import "time"

// SyncConfig is the root configuration for the realtime sync core.
type SyncConfig struct {
	Client     ClientConfig     `yaml:"client"`
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Presence   PresenceConfig   `yaml:"presence"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Journal    JournalConfig    `yaml:"journal"`
}

// ClientConfig identifies the local client.
type ClientConfig struct {
	SelfID string `yaml:"self_id"`
	Token  string `yaml:"token"` // Optional bearer credential; empty tolerated
}

// ServerConfig holds the collaborator endpoints.
type ServerConfig struct {
	WSURL     string        `yaml:"ws_url"`
	StatusURL string        `yaml:"status_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ConnectionConfig holds Connection Manager settings.
type ConnectionConfig struct {
	ReconnectBase   time.Duration `yaml:"reconnect_base"`
	ReconnectGrowth float64       `yaml:"reconnect_growth"`
	ReconnectMax    time.Duration `yaml:"reconnect_max"`
	MaxAttempts     int           `yaml:"max_attempts"`
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	BufferSize      int           `yaml:"buffer_size"`
}

// PresenceConfig holds Presence Tracker settings.
type PresenceConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	FetchRetries      int           `yaml:"fetch_retries"`
	FetchBackoffBase  time.Duration `yaml:"fetch_backoff_base"`
	FetchBackoffMax   time.Duration `yaml:"fetch_backoff_max"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	RefreshPerSecond  float64       `yaml:"refresh_per_second"`
	RefreshBurst      int           `yaml:"refresh_burst"`
}

// BridgeConfig holds State Bridge settings.
type BridgeConfig struct {
	RefreshDebounce time.Duration `yaml:"refresh_debounce"`
}

// RoomsConfig holds Session/Room Manager settings.
type RoomsConfig struct {
	CloseGrace time.Duration `yaml:"close_grace"`
}

// JournalConfig holds the optional event journal sink. The journal is
// disabled unless enabled explicitly.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
