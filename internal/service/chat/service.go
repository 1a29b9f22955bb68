package chat

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"picchat/internal/redis"
)

// Service stores chat turns and visitor identities. It is the single
// writer behind the generation flow: every turn is an independent
// insert, so concurrent requests only contend inside the database.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	httpClient *http.Client
	geoBaseURL string
	logger     zerolog.Logger
}

func NewService(db *sql.DB, cache *redis.Client, logger zerolog.Logger) *Service {
	return &Service{
		db:         db,
		cache:      cache,
		httpClient: &http.Client{Timeout: geoTimeout + time.Second},
		geoBaseURL: defaultGeoAPI,
		logger:     logger,
	}
}

// SetGeoBaseURL overrides the geolocation endpoint, used by tests.
func (s *Service) SetGeoBaseURL(url string) {
	s.geoBaseURL = url
}
