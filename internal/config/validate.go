package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both 5-field and 6-field (with seconds) specs plus
// descriptors like "@hourly" and "@every 30m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate fails fast on anything the core cannot run without. Missing values
// surface here rather than as undefined behavior at first use.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return errors.New("discord.token is required (file or BRIEFBOT_TOKEN)")
	}
	if strings.TrimSpace(cfg.Discord.SourceChannelID) == "" {
		return errors.New("discord.source_channel_id is required")
	}
	if strings.TrimSpace(cfg.Discord.RecipientUserID) == "" {
		return errors.New("discord.recipient_user_id is required")
	}

	switch strings.TrimSpace(cfg.Discord.Reconnect) {
	case "", "immediate", "deferred":
	default:
		return fmt.Errorf("discord.reconnect: unknown policy %q", cfg.Discord.Reconnect)
	}
	if _, err := ParseDurationField("discord.keepalive_interval", cfg.Discord.KeepaliveInterval); err != nil {
		return err
	}

	if cfg.Digest.WindowHours <= 0 {
		return errors.New("digest.window_hours must be > 0")
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: %w", err)
		}
	}
	switch strings.TrimSpace(cfg.Digest.EmptyWindow) {
	case "", "skip", "notify":
	default:
		return fmt.Errorf("digest.empty_window: unknown value %q", cfg.Digest.EmptyWindow)
	}

	switch strings.TrimSpace(cfg.Trigger.Mode) {
	case "", "hour":
		if cfg.Trigger.Hour < 0 || cfg.Trigger.Hour > 23 {
			return fmt.Errorf("trigger.hour must be in [0,23], got %d", cfg.Trigger.Hour)
		}
	case "cron":
		spec := strings.TrimSpace(cfg.Trigger.Schedule)
		if spec == "" {
			return errors.New("trigger.schedule is required for mode=cron")
		}
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("trigger.schedule: %w", err)
		}
	default:
		return fmt.Errorf("trigger.mode: unknown mode %q", cfg.Trigger.Mode)
	}

	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if cfg.Ops != nil && cfg.Ops.Enabled {
		if addr := strings.TrimSpace(cfg.Ops.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("ops.addr: %w", err)
			}
		}
	}

	return nil
}
