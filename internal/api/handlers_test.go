package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"picchat/internal/ai"
	"picchat/internal/auth"
	"picchat/internal/config"
	"picchat/internal/flow"
	"picchat/internal/metrics"
	"picchat/internal/models"
	"picchat/internal/policy"
	"picchat/internal/service/agent"
	"picchat/internal/service/chat"
	"picchat/internal/service/settings"
	"picchat/internal/storage"
)

type testEnv struct {
	router   *gin.Engine
	db       *sql.DB
	agents   *agent.Service
	settings *settings.Service
	auth     *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	logger := zerolog.Nop()
	settingsSvc := settings.NewService(db)
	agentSvc := agent.NewService(db)
	chatSvc := chat.NewService(db, nil, logger)
	authSvc := auth.NewService("test-secret", time.Hour)
	aiClient := ai.NewClient(settingsSvc, logger)
	gate := policy.NewGate(settingsSvc, false, logger)
	orch := flow.NewOrchestrator(chatSvc, settingsSvc, gate, aiClient, metrics.Global(), logger)

	router := gin.New()
	NewHandler(agentSvc, chatSvc, settingsSvc, authSvc, aiClient, orch, logger).RegisterRoutes(router)

	return &testEnv{router: router, db: db, agents: agentSvc, settings: settingsSvc, auth: authSvc}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "127.0.0.1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.auth.IssueToken()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) seedAgent(t *testing.T, in agent.Input) int64 {
	t.Helper()
	a, err := e.agents.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return a.ID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestAgentListHidesPromptsFromPublic(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, agent.Input{Name: "Painter", SystemPrompt: "secret prompt", IsActive: true})

	rec := env.request(t, http.MethodGet, "/api/agents", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret prompt") {
		t.Fatal("public listing leaked the system prompt")
	}

	rec = env.request(t, http.MethodGet, "/api/agents", env.adminToken(t), nil)
	if !strings.Contains(rec.Body.String(), "secret prompt") {
		t.Fatal("admin listing missing the system prompt")
	}
}

func TestAgentCreateRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/agents", "", map[string]any{"name": "X"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/api/agents", env.adminToken(t), map[string]any{
		"name":         "Painter",
		"systemPrompt": "you paint",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.seedAgent(t, agent.Input{
		Name: "Painter", SystemPrompt: "p", IsActive: true,
		MinContentLength: 5, MinReferenceImages: 2,
	})
	base := fmt.Sprintf("/api/agents/%d/messages", agentID)

	rec := env.request(t, http.MethodPost, base, "", map[string]any{"content": "   "})
	if code := errorCode(t, rec); code != flow.CodeValidation {
		t.Fatalf("empty content code = %q", code)
	}

	rec = env.request(t, http.MethodPost, base, "", map[string]any{"content": "some nsfw words"})
	if code := errorCode(t, rec); code != flow.CodeContentBlocked {
		t.Fatalf("banned keyword code = %q", code)
	}

	rec = env.request(t, http.MethodPost, "/api/agents/999/messages", "", map[string]any{"content": "hello there"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing agent status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, base, "", map[string]any{"content": "hey"})
	if code := errorCode(t, rec); code != flow.CodeContentTooShort {
		t.Fatalf("short content code = %q", code)
	}

	// One reference image when two are required.
	rec = env.request(t, http.MethodPost, base, "", map[string]any{
		"content":         "a nice long request",
		"referenceImages": []string{"https://img.example/1.png"},
	})
	if code := errorCode(t, rec); code != flow.CodeReferenceRequired {
		t.Fatalf("one reference code = %q", code)
	}

	// No reference images at all proceeds to the stream, where the
	// unconfigured generator surfaces as an in-band error event.
	rec = env.request(t, http.MethodPost, base, "", map[string]any{"content": "a nice long request"})
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q, want event stream", got)
	}
	if !strings.Contains(rec.Body.String(), flow.CodeConfigMissing) {
		t.Fatalf("stream body missing config error: %s", rec.Body.String())
	}
}

func TestPostMessageCapsReferenceImages(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.seedAgent(t, agent.Input{
		Name: "Painter", SystemPrompt: "p", IsActive: true,
		MinReferenceImages: 2,
	})

	refs := make([]string, 7)
	for i := range refs {
		refs[i] = fmt.Sprintf("https://img.example/%d.png", i)
	}
	rec := env.request(t, http.MethodPost, fmt.Sprintf("/api/agents/%d/messages", agentID), "",
		map[string]any{"content": "paint from these", "referenceImages": refs})
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q, want event stream", got)
	}

	// The user turn is persisted before generation, so the stored row
	// shows what survived the cap of five images, in submission order.
	var raw string
	if err := env.db.QueryRow(
		`SELECT reference_images_json FROM messages WHERE kind = 'user' ORDER BY id DESC LIMIT 1`,
	).Scan(&raw); err != nil {
		t.Fatalf("load user turn: %v", err)
	}
	stored := models.DecodeReferenceImages(raw)
	if len(stored) != 5 {
		t.Fatalf("stored %d reference images, want 5", len(stored))
	}
	for i, got := range stored {
		if got != refs[i] {
			t.Fatalf("reference %d = %q, want %q", i, got, refs[i])
		}
	}
}

func TestPostMessageStreamsGeneration(t *testing.T) {
	env := newTestEnv(t)
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"![img](https://cdn.example/out.png)"}}]}`)
	}))
	defer gen.Close()

	url := gen.URL
	key := "k"
	model := "img"
	if _, err := env.settings.Update(context.Background(), settings.Patch{
		ImageAPIURL: &url, ImageAPIKey: &key, ImageModel: &model,
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	agentID := env.seedAgent(t, agent.Input{Name: "Painter", SystemPrompt: "p", IsActive: true})
	rec := env.request(t, http.MethodPost, fmt.Sprintf("/api/agents/%d/messages", agentID), "",
		map[string]any{"content": "a red fox", "publishToSquare": true})

	body := rec.Body.String()
	for _, event := range []string{"event: user-message", "event: generating", "event: ai-message", "event: done"} {
		if !strings.Contains(body, event) {
			t.Fatalf("stream missing %q:\n%s", event, body)
		}
	}
	if !strings.Contains(body, "https://cdn.example/out.png") {
		t.Fatalf("stream missing image url:\n%s", body)
	}

	// The published pair must now appear on the square.
	rec = env.request(t, http.MethodGet, "/api/square", "", nil)
	if !strings.Contains(rec.Body.String(), "a red fox") {
		t.Fatalf("square missing published message: %s", rec.Body.String())
	}
}

func TestAdminLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/admin/login", "", map[string]any{"password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/api/admin/login", "", map[string]any{"password": auth.DefaultAdminPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("default password status = %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	rec = env.request(t, http.MethodGet, "/api/admin/verify", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	rec = env.request(t, http.MethodGet, "/api/admin/verify", "bogus", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus verify status = %d", rec.Code)
	}
}

func TestAdminLoginAfterPasswordChange(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodPatch, "/api/settings", token, map[string]any{"adminPassword": "new-pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.request(t, http.MethodPost, "/api/admin/login", "", map[string]any{"password": auth.DefaultAdminPassword})
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("default password still accepted after change")
	}
	rec = env.request(t, http.MethodPost, "/api/admin/login", "", map[string]any{"password": "new-pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("new password status = %d", rec.Code)
	}
}

func TestSettingsMaskingRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodPatch, "/api/settings", token, map[string]any{
		"imageApiUrl": "https://gen.example",
		"imageApiKey": "sk-realsecret1234",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "sk-realsecret") {
		t.Fatal("response leaked the api key")
	}
	if !strings.Contains(body, settings.MaskPrefix+"1234") {
		t.Fatalf("response missing masked key: %s", body)
	}

	// Echoing the masked value back must not clobber the stored key.
	rec = env.request(t, http.MethodPatch, "/api/settings", token, map[string]any{
		"imageApiKey": settings.MaskPrefix + "1234",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second patch status = %d", rec.Code)
	}
	st, err := env.settings.Get(context.Background())
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if st.ImageAPIKey != "sk-realsecret1234" {
		t.Fatalf("stored key = %q, want original preserved", st.ImageAPIKey)
	}
}

func TestGetUserCreatesVisitor(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/user", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	if data["nickname"] != "Local visitor" {
		t.Fatalf("nickname = %v", data["nickname"])
	}
}

func TestAdminMessageBrowser(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	agentID := env.seedAgent(t, agent.Input{Name: "Painter", SystemPrompt: "p", IsActive: true})

	// Seed one turn through the repository.
	chatSvc := chat.NewService(env.db, nil, zerolog.Nop())
	user, err := chatSvc.GetOrCreateUser(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	turn, err := chatSvc.Append(context.Background(), &models.Message{
		AgentID: agentID, UserID: user.ID, Kind: models.KindUser,
		Content: "browse me", Type: models.TypeText,
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := env.request(t, http.MethodGet, "/api/admin/messages?keyword=browse", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	if total := data["total"].(float64); total != 1 {
		t.Fatalf("total = %v", total)
	}

	rec = env.request(t, http.MethodDelete, fmt.Sprintf("/api/admin/messages/%d", turn.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = env.request(t, http.MethodDelete, fmt.Sprintf("/api/admin/messages/%d", turn.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}
