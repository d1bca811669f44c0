package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestFixupStylesheetsInsertsMissingLink(t *testing.T) {
	outdir := t.TempDir()
	writeTree(t, outdir, map[string]string{
		"assets/stylesheets/application.css": "body{}",
		"bare.html":                          "<html><head><title>t</title></head><body></body></html>",
	})

	fixed := FixupStylesheets(outdir, canonicalStylesheet, discardLogger())
	if fixed != 1 {
		t.Fatalf("expected 1 fixed page, got %d", fixed)
	}

	out, err := os.ReadFile(filepath.Join(outdir, "bare.html"))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !strings.Contains(string(out), `href="assets/stylesheets/application.css"`) {
		t.Fatalf("link not inserted:\n%s", out)
	}
}

func TestFixupStylesheetsRetargetsDeadLinks(t *testing.T) {
	outdir := t.TempDir()
	writeTree(t, outdir, map[string]string{
		"assets/stylesheets/application.css": "body{}",
		"good.css":                           "p{}",
		"en/page/index.html": `<html><head>` +
			`<link rel="stylesheet" href="missing.css">` +
			`<link rel="stylesheet" href="../../good.css">` +
			`</head><body></body></html>`,
	})

	fixed := FixupStylesheets(outdir, canonicalStylesheet, discardLogger())
	if fixed != 1 {
		t.Fatalf("expected 1 fixed page, got %d", fixed)
	}

	out, err := os.ReadFile(filepath.Join(outdir, "en", "page", "index.html"))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	markup := string(out)
	if strings.Contains(markup, "missing.css") {
		t.Error("dead stylesheet link should be retargeted")
	}
	if !strings.Contains(markup, `href="../../assets/stylesheets/application.css"`) {
		t.Errorf("retargeted link should be depth-relative:\n%s", markup)
	}
	if !strings.Contains(markup, `href="../../good.css"`) {
		t.Error("resolvable stylesheet link must be left alone")
	}
}

func TestFixupStylesheetsIsIdempotent(t *testing.T) {
	outdir := t.TempDir()
	writeTree(t, outdir, map[string]string{
		"assets/stylesheets/application.css": "body{}",
		"index.html": `<html><head><link rel="stylesheet" href="assets/stylesheets/application.css"></head><body></body></html>`,
	})

	if fixed := FixupStylesheets(outdir, canonicalStylesheet, discardLogger()); fixed != 0 {
		t.Fatalf("already-correct tree should not change, got %d", fixed)
	}
}

func TestFixupStylesheetsSkipsWithoutCanonical(t *testing.T) {
	outdir := t.TempDir()
	writeTree(t, outdir, map[string]string{
		"index.html": "<html><head></head><body></body></html>",
	})
	if fixed := FixupStylesheets(outdir, canonicalStylesheet, discardLogger()); fixed != 0 {
		t.Fatalf("fixup without a canonical stylesheet should be a no-op, got %d", fixed)
	}
}
