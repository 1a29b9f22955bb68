package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"picchat/internal/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Append stores a new chat turn and returns it with id and timestamp
// filled in.
func (s *Service) Append(ctx context.Context, m *models.Message) (*models.Message, error) {
	if m.AgentID <= 0 || m.UserID <= 0 {
		return nil, errors.New("agent and user ids are required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (agent_id, user_id, kind, content, image_data, reference_images_json,
			type, generation_time_ms, is_published, user_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AgentID, m.UserID, m.Kind, m.Content,
		nullString(m.ImageData),
		nullString(models.EncodeReferenceImages(m.ReferenceImages)),
		m.Type, nullInt(m.GenerationTime), m.IsPublished, nullInt(m.UserMessageID), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	stored := *m
	stored.ID = id
	stored.CreatedAt = now
	return &stored, nil
}

// HistoryItem is one chat turn joined with display metadata for the
// sender (user nickname/avatar or agent name/avatar).
type HistoryItem struct {
	models.Message
	Sender       models.MessageKind `json:"sender"`
	SenderName   string             `json:"senderName"`
	SenderAvatar string             `json:"senderAvatar"`
}

// History returns one page of the conversation between a user and an
// agent. Pagination is keyset based: `before` is the id of the oldest
// turn the caller already has, pages walk backwards in time, and each
// page is re-reversed into ascending order for display. nextCursor is
// the id of the oldest returned turn when more data exists.
func (s *Service) History(ctx context.Context, agentID, userID, before int64, limit int) ([]HistoryItem, bool, int64, error) {
	limit = clampLimit(limit)
	q := sq.Select(
		"m.id", "m.agent_id", "m.user_id", "m.kind", "m.content",
		"m.image_data", "m.reference_images_json", "m.type",
		"m.generation_time_ms", "m.is_published", "m.user_message_id", "m.created_at",
		"u.nickname", "u.avatar", "a.name", "a.avatar",
	).
		From("messages m").
		Join("users u ON m.user_id = u.id").
		Join("agents a ON m.agent_id = a.id").
		Where(sq.Eq{"m.agent_id": agentID, "m.user_id": userID}).
		OrderBy("m.id DESC").
		Limit(uint64(limit + 1))
	if before > 0 {
		q = q.Where(sq.Lt{"m.id": before})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, false, 0, fmt.Errorf("build history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var items []HistoryItem
	for rows.Next() {
		var (
			item                     HistoryItem
			userNickname, userAvatar string
			agentName, agentAvatar   string
		)
		if err := scanMessage(rows, &item.Message, &userNickname, &userAvatar, &agentName, &agentAvatar); err != nil {
			return nil, false, 0, err
		}
		item.Sender = item.SenderKind()
		if item.Sender == models.KindAgent {
			item.SenderName = agentName
			item.SenderAvatar = agentAvatar
		} else {
			item.SenderName = userNickname
			item.SenderAvatar = userAvatar
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, 0, fmt.Errorf("history rows: %w", err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	var nextCursor int64
	if hasMore && len(items) > 0 {
		nextCursor = items[len(items)-1].ID
	}
	reverse(items)
	return items, hasMore, nextCursor, nil
}

// FeedItem is one published generation result joined with the request
// that produced it, for the public square.
type FeedItem struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"userId"`
	Content         string    `json:"content"`
	ImageData       string    `json:"imageData"`
	ReferenceImages []string  `json:"referenceImages,omitempty"`
	Type            string    `json:"type"`
	UserNickname    string    `json:"userNickname"`
	UserIP          string    `json:"userIp"`
	AgentName       string    `json:"agentName"`
	AgentAvatar     string    `json:"agentAvatar"`
	Timestamp       time.Time `json:"timestamp"`
	GenerationTime  int64     `json:"generationTime"`
}

// Feed returns published, completed generation turns across all users.
// A turn only qualifies when it carries both a generated image and a
// recorded generation time; the publish flag alone is not enough.
func (s *Service) Feed(ctx context.Context, before int64, limit int) ([]FeedItem, bool, int64, error) {
	limit = clampLimit(limit)
	q := sq.Select(
		"ai.id", "ai.user_id", "ai.content", "ai.image_data", "ai.type",
		"ai.generation_time_ms", "ai.created_at",
		"u.nickname", "u.ip",
		"a.name", "a.avatar",
		"um.content", "um.reference_images_json",
	).
		From("messages ai").
		LeftJoin("users u ON ai.user_id = u.id").
		LeftJoin("agents a ON ai.agent_id = a.id").
		LeftJoin("messages um ON ai.user_message_id = um.id").
		Where(sq.Eq{"ai.is_published": true}).
		Where("ai.image_data IS NOT NULL AND ai.image_data != ''").
		Where("ai.generation_time_ms IS NOT NULL").
		OrderBy("ai.id DESC").
		Limit(uint64(limit + 1))
	if before > 0 {
		q = q.Where(sq.Lt{"ai.id": before})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, false, 0, fmt.Errorf("build feed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, 0, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var items []FeedItem
	for rows.Next() {
		var (
			item                     FeedItem
			nickname, ip             sql.NullString
			agentName, agentAvatar   sql.NullString
			userContent, userRefJSON sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Content, &item.ImageData, &item.Type,
			&item.GenerationTime, &item.Timestamp,
			&nickname, &ip, &agentName, &agentAvatar,
			&userContent, &userRefJSON,
		); err != nil {
			return nil, false, 0, fmt.Errorf("scan feed row: %w", err)
		}
		// Show the originating request text next to the result when the
		// linked user turn still exists.
		if userContent.Valid && userContent.String != "" {
			item.Content = userContent.String
		}
		item.ReferenceImages = models.DecodeReferenceImages(userRefJSON.String)
		item.UserNickname = nickname.String
		if item.UserNickname == "" {
			item.UserNickname = "Visitor"
		}
		item.UserIP = ip.String
		item.AgentName = agentName.String
		item.AgentAvatar = agentAvatar.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, 0, fmt.Errorf("feed rows: %w", err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	var nextCursor int64
	if hasMore && len(items) > 0 {
		nextCursor = items[len(items)-1].ID
	}
	return items, hasMore, nextCursor, nil
}

// AdminQuery filters the admin message browser.
type AdminQuery struct {
	AgentID  int64
	Type     string
	Keyword  string
	OrderAsc bool
	Page     int
	PageSize int
}

// AdminItem is one row of the admin message browser.
type AdminItem struct {
	models.Message
	UserNickname string `json:"userNickname"`
	UserIP       string `json:"userIp"`
	AgentName    string `json:"agentName"`
}

// AdminSearch pages through all messages with optional filters and
// returns the total match count alongside the page.
func (s *Service) AdminSearch(ctx context.Context, q AdminQuery) ([]AdminItem, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 10
	}
	if q.PageSize > 50 {
		q.PageSize = 50
	}

	base := sq.Select().
		From("messages m").
		Join("users u ON m.user_id = u.id").
		Join("agents a ON m.agent_id = a.id")
	if q.AgentID > 0 {
		base = base.Where(sq.Eq{"m.agent_id": q.AgentID})
	}
	if q.Type == string(models.TypeText) || q.Type == string(models.TypeImage) {
		base = base.Where(sq.Eq{"m.type": q.Type})
	}
	if q.Keyword != "" {
		pattern := "%" + q.Keyword + "%"
		base = base.Where(sq.Or{
			sq.Like{"m.content": pattern},
			sq.Like{"u.nickname": pattern},
			sq.Like{"u.ip": pattern},
			sq.Like{"a.name": pattern},
		})
	}

	countQuery, countArgs, err := base.Column("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	order := "m.id DESC"
	if q.OrderAsc {
		order = "m.id ASC"
	}
	pageQuery, pageArgs, err := base.Columns(
		"m.id", "m.agent_id", "m.user_id", "m.kind", "m.content",
		"m.image_data", "m.reference_images_json", "m.type",
		"m.generation_time_ms", "m.is_published", "m.user_message_id", "m.created_at",
		"u.nickname", "u.ip", "a.name",
	).
		OrderBy(order).
		Limit(uint64(q.PageSize)).
		Offset(uint64((q.Page - 1) * q.PageSize)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []AdminItem
	for rows.Next() {
		var item AdminItem
		if err := scanMessage(rows, &item.Message, &item.UserNickname, &item.UserIP, &item.AgentName); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// Delete removes one message.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Get returns one message by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, user_id, kind, content, image_data, reference_images_json,
		        type, generation_time_ms, is_published, user_message_id, created_at
		 FROM messages WHERE id = ?`, id)
	var (
		m              models.Message
		imageData      sql.NullString
		refJSON        sql.NullString
		generationTime sql.NullInt64
		userMessageID  sql.NullInt64
	)
	if err := row.Scan(
		&m.ID, &m.AgentID, &m.UserID, &m.Kind, &m.Content, &imageData, &refJSON,
		&m.Type, &generationTime, &m.IsPublished, &userMessageID, &m.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	applyNullables(&m, imageData, refJSON, generationTime, userMessageID)
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rows rowScanner, m *models.Message, extra ...*string) error {
	var (
		imageData      sql.NullString
		refJSON        sql.NullString
		generationTime sql.NullInt64
		userMessageID  sql.NullInt64
	)
	dest := []any{
		&m.ID, &m.AgentID, &m.UserID, &m.Kind, &m.Content, &imageData, &refJSON,
		&m.Type, &generationTime, &m.IsPublished, &userMessageID, &m.CreatedAt,
	}
	for _, e := range extra {
		dest = append(dest, e)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan message: %w", err)
	}
	applyNullables(m, imageData, refJSON, generationTime, userMessageID)
	return nil
}

func applyNullables(m *models.Message, imageData, refJSON sql.NullString, generationTime, userMessageID sql.NullInt64) {
	m.ImageData = imageData.String
	m.ReferenceImages = models.DecodeReferenceImages(refJSON.String)
	if generationTime.Valid {
		v := generationTime.Int64
		m.GenerationTime = &v
	}
	if userMessageID.Valid {
		v := userMessageID.Int64
		m.UserMessageID = &v
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func reverse(items []HistoryItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
