package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	PlatformBaseURL string
	PlatformWSURL   string
	BotToken        string
	BotPrefix       string

	GuildID             string
	HubChannelID        string
	ScrimChannelID      string
	TournamentChannelID string
	UploaderRoleID      string
	AdminRoleID         string

	OracleBaseURL string
	OracleAPIKey  string
	OracleModel   string

	StorePath      string
	BackupInterval time.Duration

	RedisURL   string
	SessionTTL time.Duration

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BotPrefix:      "!",
		OracleBaseURL:  "https://generativelanguage.googleapis.com",
		OracleModel:    "gemini-2.5-flash",
		StorePath:      "scrim_highlight.json",
		SessionTTL:     30 * time.Minute,
		BackupInterval: 0,
	}

	cfg.PlatformBaseURL = strings.TrimSpace(os.Getenv("PLATFORM_BASE_URL"))
	cfg.PlatformWSURL = strings.TrimSpace(os.Getenv("PLATFORM_WS_URL"))
	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("BOT_PREFIX")); v != "" {
		cfg.BotPrefix = v
	}

	cfg.GuildID = strings.TrimSpace(os.Getenv("GUILD_ID"))
	cfg.HubChannelID = strings.TrimSpace(os.Getenv("HUB_CHANNEL_ID"))
	cfg.ScrimChannelID = strings.TrimSpace(os.Getenv("SCRIM_HIGHLIGHTS_CHANNEL_ID"))
	cfg.TournamentChannelID = strings.TrimSpace(os.Getenv("TOURNAMENT_HIGHLIGHTS_CHANNEL_ID"))
	cfg.UploaderRoleID = strings.TrimSpace(os.Getenv("UPLOADER_ROLE_ID"))
	cfg.AdminRoleID = strings.TrimSpace(os.Getenv("ADMIN_ROLE_ID"))

	if v := strings.TrimSpace(os.Getenv("ORACLE_BASE_URL")); v != "" {
		cfg.OracleBaseURL = v
	}
	cfg.OracleAPIKey = strings.TrimSpace(os.Getenv("ORACLE_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("ORACLE_MODEL")); v != "" {
		cfg.OracleModel = v
	}

	if v := strings.TrimSpace(os.Getenv("STORE_PATH")); v != "" {
		cfg.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_BACKUP_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.BackupInterval = d
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionTTL = d
		} else if n, err := strconv.Atoi(v); err == nil && n > 0 { // seconds
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.PlatformBaseURL == "" {
		return nil, errors.New("PLATFORM_BASE_URL is required")
	}
	if cfg.PlatformWSURL == "" {
		return nil, errors.New("PLATFORM_WS_URL is required")
	}
	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return nil, errors.New("GUILD_ID is required")
	}
	if cfg.ScrimChannelID == "" {
		return nil, errors.New("SCRIM_HIGHLIGHTS_CHANNEL_ID is required")
	}
	if cfg.TournamentChannelID == "" {
		cfg.TournamentChannelID = cfg.ScrimChannelID
	}
	if cfg.UploaderRoleID == "" {
		return nil, errors.New("UPLOADER_ROLE_ID is required")
	}
	if cfg.OracleAPIKey == "" {
		return nil, errors.New("ORACLE_API_KEY is required")
	}

	return cfg, nil
}
