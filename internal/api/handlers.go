// Package api wires the HTTP surface: public chat and feed routes,
// the admin console, and the SSE generation endpoint.
package api

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"picchat/internal/ai"
	"picchat/internal/auth"
	"picchat/internal/flow"
	"picchat/internal/models"
	"picchat/internal/policy"
	"picchat/internal/service/agent"
	"picchat/internal/service/chat"
	"picchat/internal/service/settings"
	"picchat/internal/sse"
)

// Handler wires HTTP routes to the services behind them.
type Handler struct {
	agents   *agent.Service
	chat     *chat.Service
	settings *settings.Service
	auth     *auth.Service
	ai       *ai.Client
	orch     *flow.Orchestrator
	logger   zerolog.Logger
}

func NewHandler(agents *agent.Service, chatSvc *chat.Service, settingsSvc *settings.Service, authSvc *auth.Service, aiClient *ai.Client, orch *flow.Orchestrator, logger zerolog.Logger) *Handler {
	return &Handler{
		agents:   agents,
		chat:     chatSvc,
		settings: settingsSvc,
		auth:     authSvc,
		ai:       aiClient,
		orch:     orch,
		logger:   logger,
	}
}

// RegisterRoutes attaches every route to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/agents", h.listAgents)
		api.GET("/agents/:id", h.getAgent)
		api.GET("/agents/:id/messages", h.getHistory)
		api.POST("/agents/:id/messages", h.postMessage)
		api.GET("/square", h.getFeed)
		api.GET("/user", h.getUser)
		api.GET("/settings", h.getSettings)
		api.POST("/speech-to-text", h.speechToText)

		api.POST("/admin/login", h.adminLogin)
		admin := api.Group("/admin", h.auth.Middleware())
		{
			admin.GET("/verify", h.adminVerify)
			admin.GET("/messages", h.adminListMessages)
			admin.DELETE("/messages/:id", h.adminDeleteMessage)
			admin.POST("/agents/polish", h.adminPolishAgent)
		}

		adminOnly := h.auth.Middleware()
		api.POST("/agents", adminOnly, h.createAgent)
		api.PATCH("/agents/:id", adminOnly, h.updateAgent)
		api.DELETE("/agents/:id", adminOnly, h.deleteAgent)
		api.PATCH("/settings", adminOnly, h.updateSettings)
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}

// clientIP resolves the visitor address, trusting proxy headers in the
// order the deployment sets them.
func clientIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}
	return c.ClientIP()
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "invalid id")
		return 0, false
	}
	return id, true
}

func parseCursor(c *gin.Context) (before int64, limit int) {
	if raw := c.Query("before"); raw != "" {
		before, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	return before, limit
}

func (h *Handler) listAgents(c *gin.Context) {
	// Admins see every agent with full fields; the public listing is
	// active agents with the prompts stripped.
	isAdmin := h.auth.IsAdmin(c)
	agents, err := h.agents.List(c.Request.Context(), !isAdmin)
	if err != nil {
		h.logger.Error().Err(err).Msg("list agents failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to list agents")
		return
	}
	if isAdmin {
		respondOK(c, agents)
		return
	}
	public := make([]models.AgentPublic, 0, len(agents))
	for _, a := range agents {
		public = append(public, a.Public())
	}
	respondOK(c, public)
}

func (h *Handler) getAgent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := h.agents.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, flow.CodeNotFound, "agent not found")
			return
		}
		h.logger.Error().Err(err).Msg("get agent failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to load agent")
		return
	}
	if h.auth.IsAdmin(c) {
		respondOK(c, a)
		return
	}
	respondOK(c, a.Public())
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.chat.GetOrCreateUser(c.Request.Context(), clientIP(c))
	if err != nil {
		h.logger.Error().Err(err).Msg("resolve user failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to resolve user")
		return
	}
	respondOK(c, user)
}

func (h *Handler) getHistory(c *gin.Context) {
	agentID, ok := parseID(c)
	if !ok {
		return
	}
	user, err := h.chat.GetOrCreateUser(c.Request.Context(), clientIP(c))
	if err != nil {
		h.logger.Error().Err(err).Msg("resolve user failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to load history")
		return
	}

	before, limit := parseCursor(c)
	items, hasMore, nextCursor, err := h.chat.History(c.Request.Context(), agentID, user.ID, before, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("load history failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to load history")
		return
	}

	payload := gin.H{
		"messages": items,
		"hasMore":  hasMore,
	}
	if hasMore {
		payload["nextCursor"] = nextCursor
	} else {
		payload["nextCursor"] = nil
	}
	if items == nil {
		payload["messages"] = []chat.HistoryItem{}
	}
	respondOK(c, payload)
}

func (h *Handler) getFeed(c *gin.Context) {
	before, limit := parseCursor(c)
	items, hasMore, nextCursor, err := h.chat.Feed(c.Request.Context(), before, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("load feed failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to load the square")
		return
	}
	if items == nil {
		items = []chat.FeedItem{}
	}
	payload := gin.H{
		"messages": items,
		"hasMore":  hasMore,
	}
	if hasMore {
		payload["nextCursor"] = nextCursor
	} else {
		payload["nextCursor"] = nil
	}
	respondOK(c, payload)
}

type postMessageRequest struct {
	Content         string   `json:"content"`
	ReferenceImages []string `json:"referenceImages"`
	PublishToSquare bool     `json:"publishToSquare"`
}

const maxReferenceImagesDefault = 5

func (h *Handler) postMessage(c *gin.Context) {
	agentID, ok := parseID(c)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "message content is required")
		return
	}
	refs := make([]string, 0, len(req.ReferenceImages))
	for _, r := range req.ReferenceImages {
		if strings.TrimSpace(r) != "" {
			refs = append(refs, r)
		}
	}

	if hit := policy.Precheck(req.Content); hit != "" {
		respondError(c, http.StatusBadRequest, flow.CodeContentBlocked, "the message contains a blocked keyword")
		return
	}

	a, err := h.agents.Get(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, flow.CodeNotFound, "agent not found")
			return
		}
		h.logger.Error().Err(err).Msg("get agent failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to load agent")
		return
	}

	if a.MinContentLength > 0 && utf8.RuneCountInString(strings.TrimSpace(req.Content)) < a.MinContentLength {
		respondError(c, http.StatusBadRequest, flow.CodeContentTooShort,
			"this agent needs at least "+strconv.Itoa(a.MinContentLength)+" characters")
		return
	}
	// A request with no reference images at all proceeds on text
	// alone; the minimum only applies once the user attaches some.
	if a.MinReferenceImages > 0 && len(refs) > 0 && len(refs) < a.MinReferenceImages {
		respondError(c, http.StatusBadRequest, flow.CodeReferenceRequired,
			"this agent needs at least "+strconv.Itoa(a.MinReferenceImages)+" reference images")
		return
	}
	maxRefs := maxReferenceImagesDefault
	if a.MinReferenceImages > maxRefs {
		maxRefs = a.MinReferenceImages
	}
	if len(refs) > maxRefs {
		refs = refs[:maxRefs]
	}

	user, err := h.chat.GetOrCreateUser(c.Request.Context(), clientIP(c))
	if err != nil {
		h.logger.Error().Err(err).Msg("resolve user failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to resolve user")
		return
	}

	stream, err := sse.New(c)
	if err != nil {
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "streaming not supported")
		return
	}
	h.orch.Run(c.Request.Context(), flow.Request{
		Agent:           a,
		User:            user,
		Content:         req.Content,
		ReferenceImages: refs,
		PublishToFeed:   req.PublishToSquare,
	}, stream)
}

func (h *Handler) getSettings(c *gin.Context) {
	st, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("load settings failed")
		respondError(c, http.StatusInternalServerError, flow.CodeInternal, "failed to load settings")
		return
	}
	respondOK(c, settings.Mask(st))
}

type speechRequest struct {
	AudioFile struct {
		Data string `json:"data"`
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"audio_file"`
}

func (h *Handler) speechToText(c *gin.Context) {
	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AudioFile.Data == "" {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "an audio file is required")
		return
	}
	audio, err := decodeBase64(req.AudioFile.Data)
	if err != nil {
		respondError(c, http.StatusBadRequest, flow.CodeValidation, "audio data is not valid base64")
		return
	}

	text, err := h.ai.Transcribe(c.Request.Context(), audio, req.AudioFile.Type, req.AudioFile.Name)
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			respondError(c, http.StatusInternalServerError, flow.CodeConfigMissing,
				"speech recognition is not configured; set SPEECH_API_URL or fill it in on the admin console")
			return
		}
		h.logger.Error().Err(err).Msg("transcription failed")
		respondError(c, http.StatusInternalServerError, flow.CodeAIService, "speech recognition failed")
		return
	}
	respondOK(c, gin.H{"text": text, "language": ""})
}

func decodeBase64(data string) ([]byte, error) {
	// Recorders sometimes send the full data URI.
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(data)
}
