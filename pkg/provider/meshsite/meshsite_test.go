package meshsite

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanHandleMatchesSiteDomain(t *testing.T) {
	h := New()
	if !h.CanHandle("https://www.mesh-protected.example/files/file/123") {
		t.Error("expected site domain to be handled")
	}
	if h.CanHandle("https://example.com/files/file/123") {
		t.Error("expected unrelated domain to be rejected")
	}
}

func TestCsrfKeyExtractedFromInlineScript(t *testing.T) {
	html := `<script>var settings = {csrfKey: "abc123XYZ"};</script>`
	key, ok := csrfKey(html)
	if !ok || key != "abc123XYZ" {
		t.Errorf("csrfKey = %q, %v", key, ok)
	}
}

func TestCsrfKeyFallsBackToLinkRegex(t *testing.T) {
	html := `<a href="/files/file/1/?do=download&csrfKey=linkKey99">Download</a>`
	key, ok := csrfKey(html)
	if !ok || key != "linkKey99" {
		t.Errorf("csrfKey = %q, %v", key, ok)
	}
}

func TestConfirmedDownloadLinkTriesCandidatesInOrder(t *testing.T) {
	html := `<a data-action="download" href="/real/download/path">Click</a>`
	link, ok := confirmedDownloadLink(html)
	if !ok || link != "/real/download/path" {
		t.Errorf("link = %q, %v", link, ok)
	}
}

func TestFetchMetadataPopulatesSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div data-fileid="42" data-changelogid="7" data-versionid="3"
			data-version="1.2.0" data-updated="2026-01-15" data-filesize="104857600"></div>`))
	}))
	defer srv.Close()

	h := New()
	h.client = srv.Client()

	meta, err := h.FetchMetadata(t.Context(), srv.URL+"/files/file/42")
	if err != nil {
		t.Fatal(err)
	}
	if got := meta["size"].AsInt(); got != 104857600 {
		t.Errorf("size = %d, want 104857600", got)
	}
	if got := meta["filePageId"].AsString(); got != "42" {
		t.Errorf("filePageId = %q, want 42", got)
	}
}

func TestFetchMetadataDefaultsSizeToZeroWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div data-fileid="42"></div>`))
	}))
	defer srv.Close()

	h := New()
	h.client = srv.Client()

	meta, err := h.FetchMetadata(t.Context(), srv.URL+"/files/file/42")
	if err != nil {
		t.Fatal(err)
	}
	if got := meta["size"].AsInt(); got != 0 {
		t.Errorf("size = %d, want 0", got)
	}
}

func TestDownloadFullConfirmationSequence(t *testing.T) {
	payload := []byte("binary-mod-contents")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files/file/1" && r.URL.Query().Get("do") == "":
			w.Write([]byte(`<script>csrfKey: "tok123"</script>`))
		case r.URL.Query().Get("do") == "download":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<a data-action="download" href="/raw/payload">go</a>`))
		case r.URL.Path == "/raw/payload":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(payload)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := New()
	h.client = srv.Client()

	dir := t.TempDir()
	res, err := h.Download(t.Context(), srv.URL+"/files/file/1", dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "Completed" {
		t.Fatalf("status = %v", res.Status)
	}
	if !strings.Contains(res.FilePath, "payload") {
		t.Errorf("FilePath = %q", res.FilePath)
	}
}
