package sys

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range []string{EnvDiscordToken, EnvGuildID, EnvDatabasePath, EnvGTATunesHost, EnvAutosavePath, EnvAutosaveInterval, EnvEmptyChannelTTL, EnvSilent} {
		v, ok := kv[k]
		t.Setenv(k, v)
		if !ok {
			os.Unsetenv(k)
		}
	}
}

func TestParseConfigDefaults(t *testing.T) {
	setEnv(t, map[string]string{EnvDiscordToken: "token"})

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.GTATunesHost != DefaultGTATunesHost {
		t.Fatalf("expected host %q, got %q", DefaultGTATunesHost, cfg.GTATunesHost)
	}
	if cfg.AutosavePath != DefaultAutosavePath {
		t.Fatalf("expected autosave path %q, got %q", DefaultAutosavePath, cfg.AutosavePath)
	}
	if cfg.AutosaveInterval != DefaultAutosaveInterval || cfg.EmptyChannelTTL != DefaultEmptyChannelTTL {
		t.Fatalf("expected default periods, got %s and %s", cfg.AutosaveInterval, cfg.EmptyChannelTTL)
	}
	if !strings.HasSuffix(cfg.DatabasePath, ".db") {
		t.Fatalf("expected a .db path, got %q", cfg.DatabasePath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		EnvDiscordToken:     "token",
		EnvGuildID:          "123456789012345678",
		EnvGTATunesHost:     "http://localhost:3000/",
		EnvAutosaveInterval: "30s",
		EnvEmptyChannelTTL:  "2m",
		EnvSilent:           "true",
	})

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.GTATunesHost != "http://localhost:3000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.GTATunesHost)
	}
	if cfg.AutosaveInterval != 30*time.Second || cfg.EmptyChannelTTL != 2*time.Minute {
		t.Fatalf("expected 30s and 2m, got %s and %s", cfg.AutosaveInterval, cfg.EmptyChannelTTL)
	}
	if !cfg.Silent {
		t.Fatalf("expected silent mode")
	}
}

func TestParseConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token": {},
		"short guild":   {EnvDiscordToken: "token", EnvGuildID: "123"},
		"bad host":      {EnvDiscordToken: "token", EnvGTATunesHost: "gtatunes.net"},
		"bad interval":  {EnvDiscordToken: "token", EnvAutosaveInterval: "soon"},
		"zero ttl":      {EnvDiscordToken: "token", EnvEmptyChannelTTL: "0s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setEnv(t, kv)
			if _, err := ParseConfig(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
