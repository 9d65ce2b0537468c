package jsgated

import (
	"testing"

	"github.com/nexusforge/modcache/internal/errs"
)

func TestCanHandleMatchesGatedDomain(t *testing.T) {
	h := New()
	if !h.CanHandle("https://www.js-gated.example/mod/1") {
		t.Error("expected gated domain to be handled")
	}
	if h.CanHandle("https://example.com/mod/1") {
		t.Error("expected unrelated domain to be rejected")
	}
}

func TestDownloadAlwaysFailsHonestly(t *testing.T) {
	h := New()
	res, err := h.Download(t.Context(), "https://js-gated.example/mod/1", t.TempDir(), nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Status != "Failed" {
		t.Errorf("status = %v, want Failed", res.Status)
	}
	e, ok := errs.As(err)
	if !ok || e.Message == "" {
		t.Error("expected a human-readable explanation")
	}
}

func TestResolveFilenamesAlsoFails(t *testing.T) {
	h := New()
	if _, err := h.ResolveFilenames(t.Context(), "https://js-gated.example/mod/1"); err == nil {
		t.Fatal("expected an error")
	}
}
