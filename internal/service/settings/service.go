package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"picchat/internal/models"
)

// Resolver hands out typed configuration bundles for outbound calls.
// Implementations must read the stored settings fresh on every call so
// admin updates take effect without a restart.
type Resolver interface {
	ImageConfig(ctx context.Context) (ImageConfig, error)
	ModerationConfig(ctx context.Context) (ModerationConfig, error)
	SpeechConfig(ctx context.Context) (SpeechConfig, error)
	ImagebedConfig(ctx context.Context) (ImagebedConfig, error)
}

// ImageConfig targets the image generation endpoint.
type ImageConfig struct {
	APIURL string
	APIKey string
	Model  string
}

// Complete reports whether generation can be attempted at all.
func (c ImageConfig) Complete() bool {
	return c.APIURL != "" && c.APIKey != "" && c.Model != ""
}

// ModerationConfig targets the moderation/summarization endpoint.
type ModerationConfig struct {
	APIURL string
	APIKey string
	Model  string
}

// Enabled reports whether the moderation model should be called.
func (c ModerationConfig) Enabled() bool {
	return c.APIURL != "" && c.Model != ""
}

// SpeechConfig targets the speech transcription endpoint.
type SpeechConfig struct {
	APIURL string
	APIKey string
}

// ImagebedConfig targets the image hosting endpoint.
type ImagebedConfig struct {
	URL   string
	Token string
}

// Service persists the singleton settings row and implements Resolver.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

var _ Resolver = (*Service)(nil)

// Get returns the settings row, creating an empty one on first access
// so exactly one row always exists.
func (s *Service) Get(ctx context.Context) (*models.Settings, error) {
	st, err := s.load(ctx)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	now := time.Now().UTC()
	// Every column is written explicitly; the mysql schema has no column
	// defaults, so a partial insert fails under strict mode.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, image_api_url, image_api_key, image_model,
		        moderation_api_url, moderation_api_key, moderation_model,
		        speech_api_url, speech_api_key,
		        imagebed_url, imagebed_token,
		        admin_password_hash, updated_at)
		 VALUES (?, '', '', '', '', '', '', '', '', '', '', '', ?)`,
		models.SettingsID, now,
	); err != nil {
		// Lost the race against a concurrent first access.
		if st, loadErr := s.load(ctx); loadErr == nil {
			return st, nil
		}
		return nil, fmt.Errorf("create settings row: %w", err)
	}
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) (*models.Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, image_api_url, image_api_key, image_model,
		        moderation_api_url, moderation_api_key, moderation_model,
		        speech_api_url, speech_api_key,
		        imagebed_url, imagebed_token,
		        admin_password_hash, updated_at
		 FROM settings WHERE id = ?`, models.SettingsID)
	var st models.Settings
	if err := row.Scan(
		&st.ID, &st.ImageAPIURL, &st.ImageAPIKey, &st.ImageModel,
		&st.ModerationAPIURL, &st.ModerationAPIKey, &st.ModerationModel,
		&st.SpeechAPIURL, &st.SpeechAPIKey,
		&st.ImagebedURL, &st.ImagebedToken,
		&st.AdminPasswordHash, &st.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &st, nil
}

// Patch holds partial updates; nil fields are left untouched. Secrets
// whose submitted value still carries the mask prefix are skipped too,
// so echoing a masked form back does not clobber stored credentials.
type Patch struct {
	ImageAPIURL      *string
	ImageAPIKey      *string
	ImageModel       *string
	ModerationAPIURL *string
	ModerationAPIKey *string
	ModerationModel  *string
	SpeechAPIURL     *string
	SpeechAPIKey     *string
	ImagebedURL      *string
	ImagebedToken    *string
	AdminPassword    *string // already hashed by the caller
}

// Update applies a partial update and returns the fresh row.
func (s *Service) Update(ctx context.Context, p Patch) (*models.Settings, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&st.ImageAPIURL, p.ImageAPIURL)
	apply(&st.ImageAPIKey, p.ImageAPIKey)
	apply(&st.ImageModel, p.ImageModel)
	apply(&st.ModerationAPIURL, p.ModerationAPIURL)
	apply(&st.ModerationAPIKey, p.ModerationAPIKey)
	apply(&st.ModerationModel, p.ModerationModel)
	apply(&st.SpeechAPIURL, p.SpeechAPIURL)
	apply(&st.SpeechAPIKey, p.SpeechAPIKey)
	apply(&st.ImagebedURL, p.ImagebedURL)
	apply(&st.ImagebedToken, p.ImagebedToken)
	apply(&st.AdminPasswordHash, p.AdminPassword)

	_, err = s.db.ExecContext(ctx,
		`UPDATE settings SET
			image_api_url = ?, image_api_key = ?, image_model = ?,
			moderation_api_url = ?, moderation_api_key = ?, moderation_model = ?,
			speech_api_url = ?, speech_api_key = ?,
			imagebed_url = ?, imagebed_token = ?,
			admin_password_hash = ?, updated_at = ?
		 WHERE id = ?`,
		st.ImageAPIURL, st.ImageAPIKey, st.ImageModel,
		st.ModerationAPIURL, st.ModerationAPIKey, st.ModerationModel,
		st.SpeechAPIURL, st.SpeechAPIKey,
		st.ImagebedURL, st.ImagebedToken,
		st.AdminPasswordHash, time.Now().UTC(), models.SettingsID,
	)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return s.Get(ctx)
}

// ImageConfig resolves the generation bundle, preferring stored
// settings over environment fallbacks field by field.
func (s *Service) ImageConfig(ctx context.Context) (ImageConfig, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return ImageConfig{}, err
	}
	return ImageConfig{
		APIURL: fallback(st.ImageAPIURL, "IMAGE_API_URL"),
		APIKey: fallback(st.ImageAPIKey, "IMAGE_API_KEY"),
		Model:  fallback(st.ImageModel, "IMAGE_MODEL"),
	}, nil
}

func (s *Service) ModerationConfig(ctx context.Context) (ModerationConfig, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return ModerationConfig{}, err
	}
	return ModerationConfig{
		APIURL: fallback(st.ModerationAPIURL, "MODERATION_API_URL"),
		APIKey: fallback(st.ModerationAPIKey, "MODERATION_API_KEY"),
		Model:  fallback(st.ModerationModel, "MODERATION_MODEL"),
	}, nil
}

func (s *Service) SpeechConfig(ctx context.Context) (SpeechConfig, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return SpeechConfig{}, err
	}
	return SpeechConfig{
		APIURL: fallback(st.SpeechAPIURL, "SPEECH_API_URL"),
		APIKey: fallback(st.SpeechAPIKey, "SPEECH_API_KEY"),
	}, nil
}

// ImagebedConfig has no environment fallback; the image bed is only
// configurable through admin settings.
func (s *Service) ImagebedConfig(ctx context.Context) (ImagebedConfig, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return ImagebedConfig{}, err
	}
	return ImagebedConfig{URL: st.ImagebedURL, Token: st.ImagebedToken}, nil
}

func fallback(stored, envKey string) string {
	if stored != "" {
		return stored
	}
	return os.Getenv(envKey)
}
