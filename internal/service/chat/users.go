package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"picchat/internal/models"
	"picchat/internal/redis"
)

const (
	nicknameLocal    = "Local visitor"
	nicknameUnknown  = "Mystery visitor"
	nicknameCacheTTL = 24 * time.Hour
	geoTimeout       = 3 * time.Second
	defaultGeoAPI    = "http://ip-api.com"
)

// GetOrCreateUser looks up the visitor by client IP, lazily creating
// the record on first contact. The nickname comes from a best-effort
// reverse geolocation lookup and is derived exactly once.
func (s *Service) GetOrCreateUser(ctx context.Context, ip string) (*models.User, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, errors.New("client ip is required")
	}
	if u, err := s.userByIP(ctx, ip); err == nil {
		return u, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	nickname := s.lookupNickname(ctx, ip)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (ip, nickname, avatar, created_at) VALUES (?, ?, ?, ?)`,
		ip, nickname, "", now,
	)
	if err != nil {
		// Lost the race against a concurrent first request from this IP.
		if u, selErr := s.userByIP(ctx, ip); selErr == nil {
			return u, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, IP: ip, Nickname: nickname, CreatedAt: now}, nil
}

func (s *Service) userByIP(ctx context.Context, ip string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ip, nickname, avatar, created_at FROM users WHERE ip = ?`, ip)
	var u models.User
	if err := row.Scan(&u.ID, &u.IP, &u.Nickname, &u.Avatar, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// lookupNickname resolves a display nickname from the visitor's IP.
// Private addresses and lookup failures fall back to generic names;
// successful lookups are cached in redis to spare the geo API.
func (s *Service) lookupNickname(ctx context.Context, ip string) string {
	if IsPrivateIP(ip) {
		return nicknameLocal
	}
	cacheKey := "nickname:" + ip
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != "" {
		return cached
	} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("nickname cache read failed")
	}

	nickname, err := s.geoNickname(ctx, ip)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", ip).Msg("geolocation lookup failed")
		return nicknameUnknown
	}
	if err := s.cache.Set(ctx, cacheKey, nickname, nicknameCacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("nickname cache write failed")
	}
	return nickname
}

func (s *Service) geoNickname(ctx context.Context, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, geoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.geoBaseURL+"/json/"+ip, nil)
	if err != nil {
		return "", fmt.Errorf("build geo request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo api status %d", resp.StatusCode)
	}

	var result struct {
		Status     string `json:"status"`
		City       string `json:"city"`
		RegionName string `json:"regionName"`
		Country    string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode geo response: %w", err)
	}
	if result.Status != "success" {
		return "", fmt.Errorf("geo lookup status %q", result.Status)
	}
	place := result.City
	if place == "" {
		place = result.RegionName
	}
	switch {
	case place == "":
		place = result.Country
	case result.Country != "":
		place += ", " + result.Country
	}
	if place == "" {
		return "", errors.New("geo lookup returned no place")
	}
	return "Friend from " + place, nil
}

// IsPrivateIP reports whether the address is loopback or from a
// private range, in which case no geolocation is attempted.
func IsPrivateIP(ip string) bool {
	if ip == "127.0.0.1" || ip == "localhost" || ip == "::1" {
		return true
	}
	if strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "10.") {
		return true
	}
	if strings.HasPrefix(ip, "172.") {
		parts := strings.Split(ip, ".")
		if len(parts) >= 2 {
			if second, err := strconv.Atoi(parts[1]); err == nil && second >= 16 && second <= 31 {
				return true
			}
		}
	}
	return false
}
