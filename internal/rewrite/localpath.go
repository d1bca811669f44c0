// Package rewrite transforms archived HTML and CSS so every same-site
// reference points at a relative local path, making the mirror navigable
// offline. Local path derivation lives here too because three independent
// call sites (HTML rewrite, CSS rewrite, asset download) must agree on it.
package rewrite

import (
	"bytes"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// LocalPath maps a URL path component to its deterministic on-disk location:
// empty or trailing-slash paths gain an implicit index.html, query string and
// fragment are stripped, and a single leading separator is trimmed. Pure by
// contract; identical input always yields identical output.
func LocalPath(urlPath string) string {
	if urlPath == "" || strings.HasSuffix(urlPath, "/") {
		if urlPath == "" {
			urlPath = "/"
		}
		urlPath += "index.html"
	}
	if i := strings.Index(urlPath, "?"); i >= 0 {
		urlPath = urlPath[:i]
	}
	if i := strings.Index(urlPath, "#"); i >= 0 {
		urlPath = urlPath[:i]
	}
	return strings.TrimPrefix(urlPath, "/")
}

// SameSite reports whether rawURL's host equals rootHost or is a subdomain
// of it.
func SameSite(rawURL, rootHost string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	root := strings.ToLower(rootHost)
	return host == root || strings.HasSuffix(host, "."+root)
}

// relativeTo returns the slash-separated path from fromDir to targetLocal.
// Both are mirror-root-relative.
func relativeTo(targetLocal, fromDir string) string {
	if fromDir == "" {
		fromDir = "."
	}
	rel, err := filepath.Rel(fromDir, targetLocal)
	if err != nil {
		return targetLocal
	}
	return filepath.ToSlash(rel)
}

// pageDir returns the mirror-root-relative directory a page at urlPath is
// written into.
func pageDir(urlPath string) string {
	dir := path.Dir(LocalPath(urlPath))
	if dir == "" {
		return "."
	}
	return dir
}

// decodePermissive never fails on malformed input: valid UTF-8 is taken
// as-is, otherwise the charset is sniffed from a BOM or meta declaration
// (defaulting to windows-1252), and as a last resort bytes are decoded
// byte-preserving as Latin-1.
func decodePermissive(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if r, err := charset.NewReader(bytes.NewReader(b), ""); err == nil {
		if out, err := io.ReadAll(r); err == nil {
			return string(out)
		}
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
