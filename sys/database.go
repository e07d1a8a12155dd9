package sys

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/mattn/go-sqlite3"
)

const (
	MsgDatabaseInitSuccess  = "Database initialized successfully"
	MsgDatabaseInitFail     = "Failed to initialize database: %v"
	MsgDatabaseTableError   = "Failed to create table: %w"
	MsgDatabasePragmaError  = "Failed to set pragma %s: %w"
	MsgDatabaseNotReady     = "database is not initialized"
	MsgDBScanSettingFail    = "failed to scan guild setting: %w"
	MsgDBSaveSettingsFail   = "failed to save settings for guild %s: %w"
	MsgDatabaseSettingsSave = "Saved %d settings for guild %s"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, key)
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	if DB == nil {
		return "", fmt.Errorf(MsgDatabaseNotReady)
	}
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	if DB == nil {
		return fmt.Errorf(MsgDatabaseNotReady)
	}
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// GuildSettingsStore persists per-guild boolean player settings.
type GuildSettingsStore struct {
	db *sql.DB
}

func NewGuildSettingsStore(db *sql.DB) *GuildSettingsStore {
	return &GuildSettingsStore{db: db}
}

func (s *GuildSettingsStore) Load(ctx context.Context, guildID snowflake.ID) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM guild_settings WHERE guild_id = ?", guildID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]bool)
	for rows.Next() {
		var key string
		var value int
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf(MsgDBScanSettingFail, err)
		}
		settings[key] = value != 0
	}
	return settings, rows.Err()
}

func (s *GuildSettingsStore) Save(ctx context.Context, guildID snowflake.ID, settings map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf(MsgDBSaveSettingsFail, guildID, err)
	}
	defer tx.Rollback()

	for key, value := range settings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO guild_settings (guild_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT(guild_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
		`, guildID.String(), key, boolToInt(value))
		if err != nil {
			return fmt.Errorf(MsgDBSaveSettingsFail, guildID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf(MsgDBSaveSettingsFail, guildID, err)
	}
	LogDebug(MsgDatabaseSettingsSave, len(settings), strconv.FormatUint(uint64(guildID), 10))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
