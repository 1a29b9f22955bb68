package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"picchat/internal/ai"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"wrapped deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), CodeTimeout},
		{"no image", ai.ErrNoImageInResponse, CodeParse},
		{"not configured", ai.ErrNotConfigured, CodeConfigMissing},
		{"upstream", &ai.UpstreamError{Status: 502, Message: "bad gateway"}, CodeAIService},
		{"unknown", errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := classify(tc.err)
			if ce.Code != tc.want {
				t.Fatalf("classify(%v).Code = %q, want %q", tc.err, ce.Code, tc.want)
			}
			if ce.Message == "" {
				t.Fatalf("classify(%v) has empty message", tc.err)
			}
		})
	}
}

func TestCodedErrorString(t *testing.T) {
	ce := NewCodedError(CodeAIService, "upstream said no")
	if got := ce.Error(); got != "AI_SERVICE_ERROR: upstream said no" {
		t.Fatalf("Error() = %q", got)
	}
}
