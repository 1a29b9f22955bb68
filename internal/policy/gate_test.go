package policy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"picchat/internal/service/settings"
)

type fakeResolver struct {
	moderation settings.ModerationConfig
}

func (f fakeResolver) ImageConfig(ctx context.Context) (settings.ImageConfig, error) {
	return settings.ImageConfig{}, nil
}
func (f fakeResolver) ModerationConfig(ctx context.Context) (settings.ModerationConfig, error) {
	return f.moderation, nil
}
func (f fakeResolver) SpeechConfig(ctx context.Context) (settings.SpeechConfig, error) {
	return settings.SpeechConfig{}, nil
}
func (f fakeResolver) ImagebedConfig(ctx context.Context) (settings.ImagebedConfig, error) {
	return settings.ImagebedConfig{}, nil
}

func moderationServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGate(resolver settings.Resolver, failClosed bool) *Gate {
	return NewGate(resolver, failClosed, zerolog.Nop())
}

func TestPrecheck(t *testing.T) {
	if hit := Precheck("draw a cat on a roof"); hit != "" {
		t.Fatalf("clean content flagged with %q", hit)
	}
	if hit := Precheck("some NSFW thing"); hit != "nsfw" {
		t.Fatalf("hit = %q, want nsfw", hit)
	}
	if hit := Precheck("画一张色情图片"); hit != "色情" {
		t.Fatalf("hit = %q, want 色情", hit)
	}
}

func TestAuditDisabledAllows(t *testing.T) {
	gate := newGate(fakeResolver{}, false)
	v, err := gate.Audit(context.Background(), "anything", 0, "")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !v.Allowed {
		t.Fatal("unconfigured audit should allow")
	}
}

func TestAuditBlocked(t *testing.T) {
	srv := moderationServer(t, `{"allowed":false,"reason":"too spicy"}`)
	gate := newGate(fakeResolver{moderation: settings.ModerationConfig{APIURL: srv.URL, Model: "m"}}, false)

	v, err := gate.Audit(context.Background(), "spicy request", 2, "no spice allowed")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if v.Allowed {
		t.Fatal("expected block")
	}
	if v.Reason != "too spicy" {
		t.Fatalf("reason = %q", v.Reason)
	}
}

func TestAuditAllowsWithSurroundingProse(t *testing.T) {
	srv := moderationServer(t, "Sure, here is my verdict: {\"allowed\":true} hope that helps")
	gate := newGate(fakeResolver{moderation: settings.ModerationConfig{APIURL: srv.URL, Model: "m"}}, true)

	v, err := gate.Audit(context.Background(), "a cat", 0, "")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected allow, got reason %q", v.Reason)
	}
}

func TestAuditUnparseableFailOpen(t *testing.T) {
	srv := moderationServer(t, "I cannot answer in JSON today")
	gate := newGate(fakeResolver{moderation: settings.ModerationConfig{APIURL: srv.URL, Model: "m"}}, false)

	v, err := gate.Audit(context.Background(), "a cat", 0, "")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !v.Allowed {
		t.Fatal("fail-open gate should allow unparseable replies")
	}
}

func TestAuditUnparseableFailClosed(t *testing.T) {
	srv := moderationServer(t, "no json here either")
	gate := newGate(fakeResolver{moderation: settings.ModerationConfig{APIURL: srv.URL, Model: "m"}}, true)

	v, err := gate.Audit(context.Background(), "a cat", 0, "")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if v.Allowed {
		t.Fatal("fail-closed gate should block unparseable replies")
	}
}

func TestAuditTransportErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	gate := newGate(fakeResolver{moderation: settings.ModerationConfig{APIURL: srv.URL, Model: "m"}}, false)

	if _, err := gate.Audit(context.Background(), "a cat", 0, ""); err == nil {
		t.Fatal("expected transport error")
	}
}
