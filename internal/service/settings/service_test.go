package settings

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"picchat/internal/config"
	"picchat/internal/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestGetCreatesSingletonRow(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	st, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if st.ID != "global" {
		t.Fatalf("expected fixed id, got %q", st.ID)
	}
	if _, err := svc.Get(ctx); err != nil {
		t.Fatalf("second get: %v", err)
	}
	var count int
	if err := svc.db.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one settings row, got %d", count)
	}
}

// The mysql schema declares the TEXT columns NOT NULL with no default, so
// the bootstrap insert must write every column explicitly. A defaults-free
// sqlite table rejects a partial insert the same way strict-mode mysql does.
func TestGetBootstrapsWithoutColumnDefaults(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE settings (
		id TEXT PRIMARY KEY,
		image_api_url TEXT NOT NULL,
		image_api_key TEXT NOT NULL,
		image_model TEXT NOT NULL,
		moderation_api_url TEXT NOT NULL,
		moderation_api_key TEXT NOT NULL,
		moderation_model TEXT NOT NULL,
		speech_api_url TEXT NOT NULL,
		speech_api_key TEXT NOT NULL,
		imagebed_url TEXT NOT NULL,
		imagebed_token TEXT NOT NULL,
		admin_password_hash TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	svc := NewService(db)
	st, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("bootstrap get: %v", err)
	}
	if st.ImageAPIURL != "" || st.AdminPasswordHash != "" {
		t.Fatalf("expected empty bootstrap values, got %+v", st)
	}
}

func TestUpdateAndResolveFresh(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	url := "https://img.example.com/v1/chat/completions"
	key := "sk-test-1234"
	model := "paint-model"
	if _, err := svc.Update(ctx, Patch{ImageAPIURL: &url, ImageAPIKey: &key, ImageModel: &model}); err != nil {
		t.Fatalf("update: %v", err)
	}

	cfg, err := svc.ImageConfig(ctx)
	if err != nil {
		t.Fatalf("resolve image config: %v", err)
	}
	if cfg.APIURL != url || cfg.APIKey != key || cfg.Model != model {
		t.Fatalf("resolver did not pick up stored settings: %+v", cfg)
	}
	if !cfg.Complete() {
		t.Fatalf("expected complete config")
	}

	// Resolver must see a later update without any restart or reload.
	key2 := "sk-test-5678"
	if _, err := svc.Update(ctx, Patch{ImageAPIKey: &key2}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	cfg, err = svc.ImageConfig(ctx)
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if cfg.APIKey != key2 {
		t.Fatalf("expected fresh key, got %q", cfg.APIKey)
	}
	if cfg.APIURL != url {
		t.Fatalf("untouched field lost: %q", cfg.APIURL)
	}
}

func TestResolverEnvFallback(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	t.Setenv("MODERATION_API_URL", "https://mod.example.com")
	t.Setenv("MODERATION_MODEL", "mod-model")

	cfg, err := svc.ModerationConfig(ctx)
	if err != nil {
		t.Fatalf("resolve moderation config: %v", err)
	}
	if cfg.APIURL != "https://mod.example.com" || cfg.Model != "mod-model" {
		t.Fatalf("env fallback not applied: %+v", cfg)
	}
	if !cfg.Enabled() {
		t.Fatalf("expected moderation enabled via env")
	}

	// A stored value wins over the environment.
	url := "https://stored.example.com"
	if _, err := svc.Update(ctx, Patch{ModerationAPIURL: &url}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cfg, err = svc.ModerationConfig(ctx)
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if cfg.APIURL != url {
		t.Fatalf("stored value should win over env, got %q", cfg.APIURL)
	}
}

func TestMaskHidesSecrets(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	key := "sk-live-abcdef9876"
	if _, err := svc.Update(ctx, Patch{ImageAPIKey: &key}); err != nil {
		t.Fatalf("update: %v", err)
	}
	st, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	masked := Mask(st)
	if strings.Contains(masked.ImageAPIKey, "sk-live-abcdef") {
		t.Fatalf("masked key leaks secret: %q", masked.ImageAPIKey)
	}
	if !strings.HasPrefix(masked.ImageAPIKey, MaskPrefix) || !strings.HasSuffix(masked.ImageAPIKey, "9876") {
		t.Fatalf("expected mask prefix plus last four, got %q", masked.ImageAPIKey)
	}
	if !masked.HasImageAPIKey {
		t.Fatalf("expected configured flag set")
	}
	if masked.ModerationAPIKey != "" || masked.HasModerationAPIKey {
		t.Fatalf("unset secret should stay empty")
	}
}
