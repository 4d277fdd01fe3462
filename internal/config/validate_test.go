package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Token:           "tok",
			SourceChannelID: "123",
			RecipientUserID: "456",
		},
		Digest:  DigestConfig{WindowHours: 24},
		Trigger: TriggerConfig{Mode: "hour", Hour: 9},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Discord.Token = " " },
			wantErr: "discord.token",
		},
		{
			name:    "missing source channel",
			mutate:  func(c *Config) { c.Discord.SourceChannelID = "" },
			wantErr: "discord.source_channel_id",
		},
		{
			name:    "missing recipient",
			mutate:  func(c *Config) { c.Discord.RecipientUserID = "" },
			wantErr: "discord.recipient_user_id",
		},
		{
			name:    "unknown reconnect policy",
			mutate:  func(c *Config) { c.Discord.Reconnect = "eager" },
			wantErr: "discord.reconnect",
		},
		{
			name:   "deferred reconnect accepted",
			mutate: func(c *Config) { c.Discord.Reconnect = "deferred" },
		},
		{
			name:    "bad keepalive duration",
			mutate:  func(c *Config) { c.Discord.KeepaliveInterval = "soon" },
			wantErr: "keepalive_interval",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.Digest.WindowHours = 0 },
			wantErr: "digest.window_hours",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Digest.Timezone = "Mars/Olympus" },
			wantErr: "digest.timezone",
		},
		{
			name:   "valid timezone",
			mutate: func(c *Config) { c.Digest.Timezone = "UTC" },
		},
		{
			name:    "unknown empty window value",
			mutate:  func(c *Config) { c.Digest.EmptyWindow = "always" },
			wantErr: "digest.empty_window",
		},
		{
			name:    "hour out of range",
			mutate:  func(c *Config) { c.Trigger.Hour = 24 },
			wantErr: "trigger.hour",
		},
		{
			name:    "negative hour",
			mutate:  func(c *Config) { c.Trigger.Hour = -1 },
			wantErr: "trigger.hour",
		},
		{
			name: "cron without schedule",
			mutate: func(c *Config) {
				c.Trigger.Mode = "cron"
				c.Trigger.Schedule = ""
			},
			wantErr: "trigger.schedule",
		},
		{
			name: "cron with bad spec",
			mutate: func(c *Config) {
				c.Trigger.Mode = "cron"
				c.Trigger.Schedule = "whenever"
			},
			wantErr: "trigger.schedule",
		},
		{
			name: "cron with every descriptor",
			mutate: func(c *Config) {
				c.Trigger.Mode = "cron"
				c.Trigger.Schedule = "@every 6h"
			},
		},
		{
			name: "cron with six fields",
			mutate: func(c *Config) {
				c.Trigger.Mode = "cron"
				c.Trigger.Schedule = "0 0 9 * * *"
			},
		},
		{
			name:    "unknown trigger mode",
			mutate:  func(c *Config) { c.Trigger.Mode = "interval" },
			wantErr: "trigger.mode",
		},
		{
			name: "bad ops addr",
			mutate: func(c *Config) {
				c.Ops = &OpsConfig{Enabled: true, Addr: "no-port"}
			},
			wantErr: "ops.addr",
		},
		{
			name: "ops disabled skips addr check",
			mutate: func(c *Config) {
				c.Ops = &OpsConfig{Enabled: false, Addr: "no-port"}
			},
		},
		{
			name: "bad storage busy timeout",
			mutate: func(c *Config) {
				c.Storage = &StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "fast"}
			},
			wantErr: "storage.busy_timeout",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %q, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("Validate(nil) = nil, want error")
	}
}
