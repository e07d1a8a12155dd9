package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	MsgConfigFailedToLoad   = "Failed to load config: %v"
	MsgConfigParseEnv       = "parse env: %w"
	MsgConfigMissingToken   = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidGuildID = "invalid GUILD_ID: must be a valid Snowflake"
	MsgConfigInvalidHost    = "invalid GTATUNES_HOST: %q"
	MsgConfigInvalidPeriod  = "%s must be positive, got %s"

	// Environment Variables
	EnvDiscordToken     = "DISCORD_TOKEN"
	EnvGuildID          = "GUILD_ID"
	EnvSilent           = "SILENT"
	EnvDebug            = "DEBUG"
	EnvDatabasePath     = "DATABASE_PATH"
	EnvGTATunesHost     = "GTATUNES_HOST"
	EnvAutosavePath     = "AUTOSAVE_PATH"
	EnvAutosaveInterval = "AUTOSAVE_INTERVAL"
	EnvEmptyChannelTTL  = "EMPTY_CHANNEL_TTL"

	DefaultGTATunesHost     = "https://gtatunes.net"
	DefaultAutosavePath     = "autosave.json"
	DefaultAutosaveInterval = 10 * time.Second
	DefaultEmptyChannelTTL  = 60 * time.Second
)

// Config is read from the environment, optionally seeded from a .env file.
// Durations use Go syntax such as "10s" or "1m".
type Config struct {
	Token            string        `env:"DISCORD_TOKEN"`
	GuildID          string        `env:"GUILD_ID"`
	DatabasePath     string        `env:"DATABASE_PATH"`
	GTATunesHost     string        `env:"GTATUNES_HOST" envDefault:"https://gtatunes.net"`
	AutosavePath     string        `env:"AUTOSAVE_PATH" envDefault:"autosave.json"`
	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"10s"`
	EmptyChannelTTL  time.Duration `env:"EMPTY_CHANNEL_TTL" envDefault:"60s"`
	Silent           bool          `env:"SILENT"`
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := ParseConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// ParseConfig reads and validates the environment without touching .env or global state.
func ParseConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf(MsgConfigParseEnv, err)
	}

	cfg.GTATunesHost = strings.TrimRight(cfg.GTATunesHost, "/")
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(".", GetProjectName()+".db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	if !strings.HasPrefix(c.GTATunesHost, "http://") && !strings.HasPrefix(c.GTATunesHost, "https://") {
		return fmt.Errorf(MsgConfigInvalidHost, c.GTATunesHost)
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf(MsgConfigInvalidPeriod, EnvAutosaveInterval, c.AutosaveInterval)
	}
	if c.EmptyChannelTTL <= 0 {
		return fmt.Errorf(MsgConfigInvalidPeriod, EnvEmptyChannelTTL, c.EmptyChannelTTL)
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "gtatunes"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "gtatunes"
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
