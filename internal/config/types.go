package config

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Digest  DigestConfig  `json:"digest"`
	Trigger TriggerConfig `json:"trigger"`
	Logging LoggingConfig `json:"logging"`

	// Storage persists the retention buffer so a restart does not lose
	// in-window history. If omitted, the buffer is memory-only.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Ops enables the local operator HTTP surface (status, trigger control,
	// optional pprof). Off by default.
	Ops *OpsConfig `json:"ops,omitempty"`
}

// DiscordConfig holds gateway and delivery settings.
//
// Token can be left empty in the file and supplied via the BRIEFBOT_TOKEN
// environment variable instead (see ApplyEnv).
type DiscordConfig struct {
	Token           string `json:"token"`
	SourceChannelID string `json:"source_channel_id"`
	RecipientUserID string `json:"recipient_user_id"`

	// GatewayURL defaults to the public Discord gateway.
	GatewayURL string `json:"gateway_url,omitempty"`

	// Reconnect selects the reconnection policy after an abnormal close:
	//   - "immediate": the close handler schedules a backoff reconnect (default)
	//   - "deferred": reconnection happens on the next keepalive tick only
	Reconnect string `json:"reconnect,omitempty"`

	// KeepaliveInterval is a Go duration string; only used with reconnect=deferred.
	KeepaliveInterval string `json:"keepalive_interval,omitempty"`

	// RatePerSec caps outbound delivery calls (messages per second).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// DigestConfig controls the retention window and rendering.
type DigestConfig struct {
	WindowHours int `json:"window_hours"`

	// Timezone is an IANA name used for per-line time-of-day rendering.
	// Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	// EmptyWindow selects behavior when a trigger fires over an empty window:
	//   - "skip": no digest is sent (default)
	//   - "notify": a short "no activity" digest is sent instead
	EmptyWindow string `json:"empty_window,omitempty"`
}

// TriggerConfig controls when digests fire.
//
// Mode values:
//   - "hour": fire at the next occurrence of Hour (UTC)
//   - "cron": fire per Schedule (5- or 6-field cron spec, or @every)
type TriggerConfig struct {
	Enabled  bool   `json:"enabled"`
	Mode     string `json:"mode"`
	Hour     int    `json:"hour,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./briefbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the operator HTTP server. A non-loopback Addr requires
// Token to be set.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // defaults to 127.0.0.1:6060
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
