package fetcher

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(endpoint string, timeout time.Duration) *Client {
	return NewClient(Options{
		RawEndpoint: endpoint,
		UserAgent:   "test-agent",
		Timeout:     timeout,
		Limiter:     NewLimiter(1000, 10),
		Logger:      testLogger(),
	})
}

func TestFetchModes(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html></html>")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL+"/web", time.Second)

	resp := client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeIdentity)
	if resp.StatusCode != 200 || resp.Synthetic() {
		t.Fatalf("identity fetch failed: %+v", resp)
	}
	resp = client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeFallback)
	if resp.StatusCode != 200 {
		t.Fatalf("fallback fetch failed: %+v", resp)
	}

	if len(paths) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(paths))
	}
	if !strings.Contains(paths[0], "20200101000000id_/") {
		t.Errorf("identity path missing id_ infix: %s", paths[0])
	}
	if !strings.Contains(paths[1], "20200101000000if_/") {
		t.Errorf("fallback path missing if_ infix: %s", paths[1])
	}
}

func TestFetchSynthesizes504OnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL+"/web", 30*time.Millisecond)
	resp := client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeIdentity)

	if !resp.Synthetic() {
		t.Fatal("expected synthetic response")
	}
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestFetchSynthesizes500OnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := newTestClient(srv.URL+"/web", time.Second)
	resp := client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeIdentity)

	if !resp.Synthetic() {
		t.Fatal("expected synthetic response")
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestFetchDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, "<html>compressed</html>")
		gz.Close()
	}))
	defer srv.Close()

	client := newTestClient(srv.URL+"/web", time.Second)
	resp := client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeIdentity)

	if resp.StatusCode != 200 {
		t.Fatalf("fetch failed: %+v", resp)
	}
	if string(resp.Body) != "<html>compressed</html>" {
		t.Fatalf("body not decoded: %q", resp.Body)
	}
}

func TestFetchSynthesizesOnCorruptGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		io.WriteString(w, "this is not gzip")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL+"/web", time.Second)
	resp := client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeIdentity)

	if !resp.Synthetic() {
		t.Fatal("undecodable body should degrade to a synthetic failure")
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestFetchEnforcesBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	client := NewClient(Options{
		RawEndpoint:  srv.URL + "/web",
		Timeout:      time.Second,
		MaxBodyBytes: 1024,
		Limiter:      NewLimiter(1000, 10),
		Logger:       testLogger(),
	})
	resp := client.Fetch(context.Background(), "20200101000000", "http://example.com/", ModeIdentity)

	if !resp.Synthetic() {
		t.Fatal("oversized body should degrade to a synthetic failure")
	}
}
