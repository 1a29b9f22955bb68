package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"picchat/internal/ai"
	"picchat/internal/auth"
	"picchat/internal/flow"
	"picchat/internal/service/agent"
	"picchat/internal/service/chat"
	"picchat/internal/service/settings"
)

type adminLoginRequest struct {
	Password string `json:"password"`
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "a password is required")
		return
	}

	st, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("load settings failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "login failed")
		return
	}

	// Until the admin sets a password, the default one works.
	var valid bool
	if st.AdminPasswordHash != "" {
		valid = auth.HashPassword(req.Password) == st.AdminPasswordHash
	} else {
		valid = req.Password == auth.DefaultAdminPassword
	}
	if !valid {
		respondError(c, http.StatusUnauthorized, flow.CodeValidation, "wrong password")
		return
	}

	token, err := h.auth.IssueToken()
	if err != nil {
		h.logger.Error().Err(err).Msg("issue token failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "login failed")
		return
	}
	respondOK(c, gin.H{"token": token})
}

func (h *Handler) adminVerify(c *gin.Context) {
	// The auth middleware already rejected bad tokens.
	respondOK(c, gin.H{"valid": true})
}

type agentRequest struct {
	Name               string `json:"name"`
	Avatar             string `json:"avatar"`
	Description        string `json:"description"`
	Skills             string `json:"skills"`
	SystemPrompt       string `json:"systemPrompt"`
	PolicyPrompt       string `json:"policyPrompt"`
	IsActive           *bool  `json:"isActive"`
	MinContentLength   *int   `json:"minContentLength"`
	MinReferenceImages *int   `json:"minReferenceImages"`
}

func (h *Handler) createAgent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "invalid request body")
		return
	}
	in := agent.Input{
		Name:         req.Name,
		Avatar:       req.Avatar,
		Description:  req.Description,
		Skills:       req.Skills,
		SystemPrompt: req.SystemPrompt,
		PolicyPrompt: req.PolicyPrompt,
		IsActive:     true,
	}
	if req.IsActive != nil {
		in.IsActive = *req.IsActive
	}
	if req.MinContentLength != nil {
		in.MinContentLength = *req.MinContentLength
	}
	if req.MinReferenceImages != nil {
		in.MinReferenceImages = *req.MinReferenceImages
	}

	a, err := h.agents.Create(c.Request.Context(), in)
	if err != nil {
		if strings.Contains(err.Error(), "required") {
			respondError(c, http.StatusBadRequest, flow.CodeValidation, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("create agent failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to create agent")
		return
	}
	respondOK(c, a)
}

type agentPatchRequest struct {
	Name               *string `json:"name"`
	Avatar             *string `json:"avatar"`
	Description        *string `json:"description"`
	Skills             *string `json:"skills"`
	SystemPrompt       *string `json:"systemPrompt"`
	PolicyPrompt       *string `json:"policyPrompt"`
	IsActive           *bool   `json:"isActive"`
	MinContentLength   *int    `json:"minContentLength"`
	MinReferenceImages *int    `json:"minReferenceImages"`
}

func (h *Handler) updateAgent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req agentPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "invalid request body")
		return
	}

	a, err := h.agents.Update(c.Request.Context(), id, agent.Patch{
		Name:               req.Name,
		Avatar:             req.Avatar,
		Description:        req.Description,
		Skills:             req.Skills,
		SystemPrompt:       req.SystemPrompt,
		PolicyPrompt:       req.PolicyPrompt,
		IsActive:           req.IsActive,
		MinContentLength:   req.MinContentLength,
		MinReferenceImages: req.MinReferenceImages,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, flow.CodeNotFound, "agent not found")
			return
		}
		h.logger.Error().Err(err).Msg("update agent failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to update agent")
		return
	}
	respondOK(c, a)
}

func (h *Handler) deleteAgent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.agents.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, flow.CodeNotFound, "agent not found")
			return
		}
		h.logger.Error().Err(err).Msg("delete agent failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to delete agent")
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

type settingsPatchRequest struct {
	ImageAPIURL      *string `json:"imageApiUrl"`
	ImageAPIKey      *string `json:"imageApiKey"`
	ImageModel       *string `json:"imageModel"`
	ModerationAPIURL *string `json:"moderationApiUrl"`
	ModerationAPIKey *string `json:"moderationApiKey"`
	ModerationModel  *string `json:"moderationModel"`
	SpeechAPIURL     *string `json:"speechApiUrl"`
	SpeechAPIKey     *string `json:"speechApiKey"`
	ImagebedURL      *string `json:"imagebedUrl"`
	ImagebedToken    *string `json:"imagebedToken"`
	AdminPassword    *string `json:"adminPassword"`
}

// keepMasked drops secret fields the client echoed back unchanged, so
// a masked form submit never clobbers stored credentials.
func keepMasked(v *string) *string {
	if v != nil && strings.HasPrefix(*v, settings.MaskPrefix) {
		return nil
	}
	return v
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "invalid request body")
		return
	}

	patch := settings.Patch{
		ImageAPIURL:      req.ImageAPIURL,
		ImageAPIKey:      keepMasked(req.ImageAPIKey),
		ImageModel:       req.ImageModel,
		ModerationAPIURL: req.ModerationAPIURL,
		ModerationAPIKey: keepMasked(req.ModerationAPIKey),
		ModerationModel:  req.ModerationModel,
		SpeechAPIURL:     req.SpeechAPIURL,
		SpeechAPIKey:     keepMasked(req.SpeechAPIKey),
		ImagebedURL:      req.ImagebedURL,
		ImagebedToken:    keepMasked(req.ImagebedToken),
	}
	if req.AdminPassword != nil && *req.AdminPassword != "" {
		hashed := auth.HashPassword(*req.AdminPassword)
		patch.AdminPassword = &hashed
	}

	st, err := h.settings.Update(c.Request.Context(), patch)
	if err != nil {
		h.logger.Error().Err(err).Msg("update settings failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to update settings")
		return
	}
	respondOK(c, settings.Mask(st))
}

func (h *Handler) adminListMessages(c *gin.Context) {
	query := chat.AdminQuery{
		Keyword:  strings.TrimSpace(c.Query("keyword")),
		Type:     c.Query("type"),
		OrderAsc: c.Query("order") == "asc",
	}
	if raw := c.Query("agentId"); raw != "" {
		query.AgentID, _ = strconv.ParseInt(raw, 10, 64)
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "10"))

	items, total, err := h.chat.AdminSearch(c.Request.Context(), query)
	if err != nil {
		h.logger.Error().Err(err).Msg("admin message search failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to search messages")
		return
	}
	if items == nil {
		items = []chat.AdminItem{}
	}
	respondOK(c, gin.H{
		"messages": items,
		"total":    total,
		"page":     query.Page,
		"pageSize": query.PageSize,
	})
}

func (h *Handler) adminDeleteMessage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.chat.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, flow.CodeNotFound, "message not found")
			return
		}
		h.logger.Error().Err(err).Msg("delete message failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to delete message")
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

type polishRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	Description  string `json:"description"`
	Skills       string `json:"skills"`
	PolicyPrompt string `json:"policyPrompt"`
}

func (h *Handler) adminPolishAgent(c *gin.Context) {
	var req polishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SystemPrompt) == "" {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "a system prompt is required")
		return
	}

	result, err := h.ai.PolishAgentProfile(c.Request.Context(), ai.PolishInput{
		Name:         strings.TrimSpace(req.Name),
		SystemPrompt: strings.TrimSpace(req.SystemPrompt),
		Description:  strings.TrimSpace(req.Description),
		Skills:       strings.TrimSpace(req.Skills),
		PolicyPrompt: strings.TrimSpace(req.PolicyPrompt),
	})
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrNotConfigured):
			respondError(c, http.StatusInternalServerError, flow.CodeConfigMissing,
				"the moderation model is not configured; fill in its endpoint and model name on the admin console")
		case errors.Is(err, ai.ErrUnparseableReply):
			respondError(c, http.StatusBadGateway, flow.CodeParse, "could not parse the model reply")
		default:
			h.logger.Error().Err(err).Msg("polish failed")
			respondError(c, http.StatusBadGateway, flow.CodeAIService, "the model request failed")
		}
		return
	}
	respondOK(c, result)
}
