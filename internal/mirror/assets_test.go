package mirror

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaterializerDownloadWritesAsset(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "png-bytes")
	}))
	defer srv.Close()

	outdir := t.TempDir()
	m := NewMaterializer(testFetcher(srv.URL+"/web"), outdir, discardLogger())

	outcome, written := m.Download(context.Background(), "20210101000000", "http://example.com/img/logo.png")
	if !outcome.OK {
		t.Fatalf("download should succeed: %+v", outcome)
	}
	if outcome.Local != "img/logo.png" {
		t.Fatalf("unexpected local path: %s", outcome.Local)
	}
	if outcome.ContentType != "image/png" {
		t.Fatalf("unexpected content type: %s", outcome.ContentType)
	}
	data, err := os.ReadFile(written)
	if err != nil {
		t.Fatalf("asset file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected asset bytes: %q", data)
	}

	// Same local path again: served from the seen set, no second fetch.
	again, _ := m.Download(context.Background(), "20210101000000", "http://example.com/img/logo.png")
	if !again.OK {
		t.Fatalf("cached download should report the original outcome: %+v", again)
	}
	if hits != 1 {
		t.Fatalf("expected exactly one fetch, got %d", hits)
	}
}

func TestMaterializerDownloadFallsBackOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "id_/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, "body{}")
	}))
	defer srv.Close()

	m := NewMaterializer(testFetcher(srv.URL+"/web"), t.TempDir(), discardLogger())
	outcome, _ := m.Download(context.Background(), "20210101000000", "http://example.com/style.css")
	if !outcome.OK {
		t.Fatalf("fallback mode should have rescued the asset: %+v", outcome)
	}
}

func TestMaterializerDownloadRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	outdir := t.TempDir()
	m := NewMaterializer(testFetcher(srv.URL+"/web"), outdir, discardLogger())
	outcome, _ := m.Download(context.Background(), "20210101000000", "http://example.com/gone.js")

	if outcome.OK {
		t.Fatal("missing asset must not report OK")
	}
	if outcome.Local != "gone.js" {
		t.Fatalf("failed outcome should still carry the computed path: %+v", outcome)
	}
	if _, err := os.Stat(filepath.Join(outdir, "gone.js")); !os.IsNotExist(err) {
		t.Fatal("failed download must not create a file")
	}
}
