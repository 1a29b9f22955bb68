package models

import "time"

// Agent is a configured persona visitors chat with. SystemPrompt and
// PolicyPrompt are admin-only fields and must never be returned to
// public callers.
type Agent struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Avatar             string    `json:"avatar"`
	Description        string    `json:"description"`
	Skills             string    `json:"skills"`
	SystemPrompt       string    `json:"systemPrompt"`
	PolicyPrompt       string    `json:"policyPrompt"`
	IsActive           bool      `json:"isActive"`
	MinContentLength   int       `json:"minContentLength"`
	MinReferenceImages int       `json:"minReferenceImages"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// AgentPublic is the safe subset exposed to non-admin callers.
type AgentPublic struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Avatar             string    `json:"avatar"`
	Description        string    `json:"description"`
	Skills             string    `json:"skills"`
	IsActive           bool      `json:"isActive"`
	MinContentLength   int       `json:"minContentLength"`
	MinReferenceImages int       `json:"minReferenceImages"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Public strips the persona and policy prompts for public responses.
func (a *Agent) Public() AgentPublic {
	return AgentPublic{
		ID:                 a.ID,
		Name:               a.Name,
		Avatar:             a.Avatar,
		Description:        a.Description,
		Skills:             a.Skills,
		IsActive:           a.IsActive,
		MinContentLength:   a.MinContentLength,
		MinReferenceImages: a.MinReferenceImages,
		CreatedAt:          a.CreatedAt,
	}
}
