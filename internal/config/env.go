package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are settings that may come from the environment instead of the
// config file, so the token never has to live on disk.
type envOverrides struct {
	Token           string `env:"BRIEFBOT_TOKEN"`
	RecipientUserID string `env:"BRIEFBOT_RECIPIENT"`
}

// ApplyEnv overlays environment variables onto cfg. Environment values win
// over file values when both are set.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return err
	}
	if v := strings.TrimSpace(ov.Token); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(ov.RecipientUserID); v != "" {
		cfg.Discord.RecipientUserID = v
	}
	return nil
}
