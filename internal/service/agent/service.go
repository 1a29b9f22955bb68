package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"picchat/internal/models"
)

// Service handles agent persona lifecycle. Agents are created and
// edited by admins and read both publicly (sanitized) and by the
// generation flow (full record).
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Input carries the writable agent fields.
type Input struct {
	Name               string
	Avatar             string
	Description        string
	Skills             string
	SystemPrompt       string
	PolicyPrompt       string
	IsActive           bool
	MinContentLength   int
	MinReferenceImages int
}

// Create inserts a new agent and returns the stored record.
func (s *Service) Create(ctx context.Context, in Input) (*models.Agent, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New("agent name is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (name, avatar, description, skills, system_prompt, policy_prompt,
			is_active, min_content_length, min_reference_images, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.Avatar, in.Description, in.Skills, in.SystemPrompt, in.PolicyPrompt,
		in.IsActive, in.MinContentLength, in.MinReferenceImages, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns the full agent record, including the persona prompts.
func (s *Service) Get(ctx context.Context, id int64) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, avatar, description, skills, system_prompt, policy_prompt,
		        is_active, min_content_length, min_reference_images, created_at, updated_at
		 FROM agents WHERE id = ?`, id)
	var a models.Agent
	if err := row.Scan(
		&a.ID, &a.Name, &a.Avatar, &a.Description, &a.Skills, &a.SystemPrompt, &a.PolicyPrompt,
		&a.IsActive, &a.MinContentLength, &a.MinReferenceImages, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// List returns agents newest first, optionally restricted to active
// ones (the public listing).
func (s *Service) List(ctx context.Context, onlyActive bool) ([]*models.Agent, error) {
	query := `SELECT id, name, avatar, description, skills, system_prompt, policy_prompt,
	                 is_active, min_content_length, min_reference_images, created_at, updated_at
	          FROM agents`
	if onlyActive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a := new(models.Agent)
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Avatar, &a.Description, &a.Skills, &a.SystemPrompt, &a.PolicyPrompt,
			&a.IsActive, &a.MinContentLength, &a.MinReferenceImages, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Patch holds partial agent updates; nil fields are left untouched.
type Patch struct {
	Name               *string
	Avatar             *string
	Description        *string
	Skills             *string
	SystemPrompt       *string
	PolicyPrompt       *string
	IsActive           *bool
	MinContentLength   *int
	MinReferenceImages *int
}

// Update applies a partial update and returns the fresh record.
func (s *Service) Update(ctx context.Context, id int64, p Patch) (*models.Agent, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Avatar != nil {
		a.Avatar = *p.Avatar
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Skills != nil {
		a.Skills = *p.Skills
	}
	if p.SystemPrompt != nil {
		a.SystemPrompt = *p.SystemPrompt
	}
	if p.PolicyPrompt != nil {
		a.PolicyPrompt = *p.PolicyPrompt
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	if p.MinContentLength != nil {
		a.MinContentLength = *p.MinContentLength
	}
	if p.MinReferenceImages != nil {
		a.MinReferenceImages = *p.MinReferenceImages
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, avatar = ?, description = ?, skills = ?,
			system_prompt = ?, policy_prompt = ?, is_active = ?,
			min_content_length = ?, min_reference_images = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, a.Avatar, a.Description, a.Skills,
		a.SystemPrompt, a.PolicyPrompt, a.IsActive,
		a.MinContentLength, a.MinReferenceImages, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes the agent; chat history cascades through the foreign
// key.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
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
