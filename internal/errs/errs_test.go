package errs

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConstructorsSetExpectedFields(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name      string
		err       *Error
		wantKind  Kind
		wantRetry bool
	}{
		{"input", InputInvalid("bad url", cause), KindInputInvalid, false},
		{"transport", Transport("connection reset", cause), KindTransport, true},
		{"auth", Auth("expired session", nil), KindAuth, false},
		{"notfound", NotFound("404", nil), KindNotFound, false},
		{"ratelimited", RateLimited("429", 60*time.Second, nil), KindRateLimited, true},
		{"mismatch", ContentMismatch("html body", nil), KindContentMismatch, true},
		{"integrity", IntegrityFailure("sha256 mismatch", nil), KindIntegrityFailure, false},
		{"engine", EngineUnavailable("no engine", nil), KindEngineUnavailable, false},
		{"compliance", Compliance("blocked"), KindCompliance, false},
		{"unexpected", Unexpected("panic", cause), KindUnexpected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.wantKind)
			}
			if tt.err.IsRetryable() != tt.wantRetry {
				t.Errorf("IsRetryable = %v, want %v", tt.err.IsRetryable(), tt.wantRetry)
			}
		})
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	e := RateLimited("too many requests", 90*time.Second, nil)
	if e.RetryAfter != 90*time.Second {
		t.Errorf("RetryAfter = %v, want 90s", e.RetryAfter)
	}
}

func TestUnwrapAndAs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	wrapped := Transport("failed to connect", cause)

	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatal("errors.As failed to match *errs.Error")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is failed to find wrapped cause")
	}

	got, ok := As(wrapped)
	if !ok || got.Kind != KindTransport {
		t.Errorf("As() = %v, %v; want Transport kind", got, ok)
	}
}

func TestUserMessageHasThreeParts(t *testing.T) {
	e := NotFound("file removed", nil).WithURL("https://example.com/f/1")
	msg := e.UserMessage()
	lines := strings.Split(msg, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), msg)
	}
	if !strings.Contains(lines[1], "https://example.com/f/1") {
		t.Errorf("remediation line missing URL: %q", lines[1])
	}
}

func TestUserMessageDefaultRemediationWithoutURL(t *testing.T) {
	e := Transport("reset", nil)
	msg := e.UserMessage()
	if strings.Contains(msg, "download manually") {
		t.Errorf("expected generic remediation without URL, got %q", msg)
	}
}
