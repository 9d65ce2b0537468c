package anoncloud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCanHandleMatchesCloudDomain(t *testing.T) {
	h := New(nil)
	if !h.CanHandle("https://www.anon-cloud.example/file/abc#key") {
		t.Error("expected cloud domain to be handled")
	}
	if h.CanHandle("https://example.com/file/abc") {
		t.Error("expected unrelated domain to be rejected")
	}
}

func TestNormalizeLegacyFileFragment(t *testing.T) {
	got, err := NormalizeLegacyURL("https://anon-cloud.example/#!NODEID!SECRETKEY")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://anon-cloud.example/file/NODEID#SECRETKEY"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeLegacyFolderFragment(t *testing.T) {
	got, err := NormalizeLegacyURL("https://anon-cloud.example/#F!NODEID!SECRETKEY")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://anon-cloud.example/folder/NODEID#SECRETKEY"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeLegacyURLPassesThroughModernForm(t *testing.T) {
	modern := "https://anon-cloud.example/file/NODEID#SECRETKEY"
	got, err := NormalizeLegacyURL(modern)
	if err != nil {
		t.Fatal(err)
	}
	if got != modern {
		t.Errorf("got %q, want unchanged %q", got, modern)
	}
}

func TestSingleInFlightSessionSerializes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	h := New(srv.Client())

	release1, err := h.login(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := h.login(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second login acquired while first session still held")
	case <-time.After(100 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second login never acquired after release")
	}
}

func TestFetchMetadataPopulatesHeadFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD request, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "2048")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Header().Set("Content-Disposition", `attachment; filename="mod.zip"`)
	}))
	defer srv.Close()

	h := New(srv.Client())
	meta, err := h.FetchMetadata(context.Background(), srv.URL+"/file/NODEID#KEY")
	if err != nil {
		t.Fatal(err)
	}
	if got := meta["size"].AsInt(); got != 2048 {
		t.Errorf("size = %d, want 2048", got)
	}
	if got := meta["hash"].AsString(); got != "abc123" {
		t.Errorf("hash = %q, want abc123", got)
	}
	if got := meta["name"].AsString(); got != "mod.zip" {
		t.Errorf("name = %q, want mod.zip", got)
	}
	if got := meta["mtime"].AsInt(); got == 0 {
		t.Errorf("mtime = %d, want nonzero", got)
	}
}

func TestDownloadUsesRealSizeForTimeout(t *testing.T) {
	payload := make([]byte, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	h := New(srv.Client())
	info := h.fetchHeadInfo(context.Background(), srv.URL+"/file/NODEID")
	if info.Size != 4096 {
		t.Errorf("fetchHeadInfo size = %d, want 4096", info.Size)
	}
	if got := downloadTimeoutFor(info.Size); got != minDownloadTimeout {
		t.Errorf("downloadTimeoutFor(%d) = %v, want floor %v", info.Size, got, minDownloadTimeout)
	}
}

func TestDownloadTimeoutScalesWithSize(t *testing.T) {
	if got := downloadTimeoutFor(0); got != minDownloadTimeout {
		t.Errorf("downloadTimeoutFor(0) = %v, want floor %v", got, minDownloadTimeout)
	}
	large := int64(1000 * 100 * 1024) // 1000 seconds worth
	if got := downloadTimeoutFor(large); got != 1000*time.Second {
		t.Errorf("downloadTimeoutFor(large) = %v, want 1000s", got)
	}
}
