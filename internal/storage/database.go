package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"picchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS agents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				avatar TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				skills TEXT NOT NULL DEFAULT '',
				system_prompt TEXT NOT NULL DEFAULT '',
				policy_prompt TEXT NOT NULL DEFAULT '',
				is_active INTEGER NOT NULL DEFAULT 1,
				min_content_length INTEGER NOT NULL DEFAULT 0,
				min_reference_images INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ip TEXT NOT NULL UNIQUE,
				nickname TEXT NOT NULL,
				avatar TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				agent_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				kind TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				image_data TEXT,
				reference_images_json TEXT,
				type TEXT NOT NULL,
				generation_time_ms INTEGER,
				is_published INTEGER NOT NULL DEFAULT 0,
				user_message_id INTEGER,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(agent_id) REFERENCES agents(id) ON DELETE CASCADE,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY(user_message_id) REFERENCES messages(id) ON DELETE SET NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_agent_user ON messages(agent_id, user_id, id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_published ON messages(is_published, id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
			`CREATE TABLE IF NOT EXISTS settings (
				id TEXT PRIMARY KEY,
				image_api_url TEXT NOT NULL DEFAULT '',
				image_api_key TEXT NOT NULL DEFAULT '',
				image_model TEXT NOT NULL DEFAULT '',
				moderation_api_url TEXT NOT NULL DEFAULT '',
				moderation_api_key TEXT NOT NULL DEFAULT '',
				moderation_model TEXT NOT NULL DEFAULT '',
				speech_api_url TEXT NOT NULL DEFAULT '',
				speech_api_key TEXT NOT NULL DEFAULT '',
				imagebed_url TEXT NOT NULL DEFAULT '',
				imagebed_token TEXT NOT NULL DEFAULT '',
				admin_password_hash TEXT NOT NULL DEFAULT '',
				updated_at DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS agents (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL,
				avatar TEXT NOT NULL,
				description TEXT NOT NULL,
				skills TEXT NOT NULL,
				system_prompt MEDIUMTEXT NOT NULL,
				policy_prompt MEDIUMTEXT NOT NULL,
				is_active TINYINT(1) NOT NULL DEFAULT 1,
				min_content_length INT NOT NULL DEFAULT 0,
				min_reference_images INT NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				ip VARCHAR(64) NOT NULL UNIQUE,
				nickname VARCHAR(255) NOT NULL,
				avatar TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				agent_id BIGINT UNSIGNED NOT NULL,
				user_id BIGINT UNSIGNED NOT NULL,
				kind VARCHAR(16) NOT NULL DEFAULT '',
				content MEDIUMTEXT NOT NULL,
				image_data MEDIUMTEXT,
				reference_images_json MEDIUMTEXT,
				type VARCHAR(16) NOT NULL,
				generation_time_ms BIGINT,
				is_published TINYINT(1) NOT NULL DEFAULT 0,
				user_message_id BIGINT UNSIGNED,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_agent_user (agent_id, user_id, id),
				INDEX idx_messages_published (is_published, id),
				INDEX idx_messages_created_at (created_at),
				CONSTRAINT fk_messages_agent FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE,
				CONSTRAINT fk_messages_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				CONSTRAINT fk_messages_user_message FOREIGN KEY (user_message_id) REFERENCES messages(id) ON DELETE SET NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS settings (
				id VARCHAR(32) NOT NULL,
				image_api_url TEXT NOT NULL,
				image_api_key TEXT NOT NULL,
				image_model VARCHAR(255) NOT NULL DEFAULT '',
				moderation_api_url TEXT NOT NULL,
				moderation_api_key TEXT NOT NULL,
				moderation_model VARCHAR(255) NOT NULL DEFAULT '',
				speech_api_url TEXT NOT NULL,
				speech_api_key TEXT NOT NULL,
				imagebed_url TEXT NOT NULL,
				imagebed_token TEXT NOT NULL,
				admin_password_hash VARCHAR(255) NOT NULL DEFAULT '',
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
