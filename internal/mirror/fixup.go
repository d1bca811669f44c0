package mirror

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FixupStylesheets is the best-effort post-pass over the finished tree: pages
// without any stylesheet link gain one pointing at the canonical stylesheet,
// and links whose target file does not exist are retargeted to it. The pass
// is idempotent; per-file failures are logged and leave the original file
// untouched. Returns the number of pages changed.
func FixupStylesheets(outdir, canonicalRel string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(filepath.Join(outdir, filepath.FromSlash(canonicalRel))); err != nil {
		logger.Warn("canonical stylesheet missing, skipping fixup", "path", canonicalRel)
		return 0
	}

	fixed := 0
	err := filepath.WalkDir(outdir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".html") {
			return nil
		}
		changed, ferr := fixupPage(outdir, p, canonicalRel)
		if ferr != nil {
			logger.Warn("stylesheet fixup failed", "path", p, "error", ferr)
			return nil
		}
		if changed {
			fixed++
		}
		return nil
	})
	if err != nil {
		logger.Warn("stylesheet fixup walk failed", "error", err)
	}
	return fixed
}

func fixupPage(outdir, htmlPath, canonicalRel string) (bool, error) {
	raw, err := os.ReadFile(htmlPath)
	if err != nil {
		return false, fmt.Errorf("read page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return false, fmt.Errorf("parse page: %w", err)
	}

	pageRel, err := filepath.Rel(outdir, htmlPath)
	if err != nil {
		return false, fmt.Errorf("page outside mirror root: %w", err)
	}
	pageDir := filepath.Dir(pageRel)
	canonicalHref := relativeHref(canonicalRel, pageDir)

	changed := false
	var links []*goquery.Selection
	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if strings.Contains(strings.ToLower(rel), "stylesheet") {
			links = append(links, s)
		}
	})

	if len(links) == 0 {
		if head := doc.Find("head"); head.Length() > 0 {
			head.AppendHtml(fmt.Sprintf(`<link href=%q rel="stylesheet" type="text/css"/>`, canonicalHref))
			changed = true
		}
	} else {
		for _, link := range links {
			href, ok := link.Attr("href")
			if !ok || href == "" {
				continue
			}
			target := filepath.Join(outdir, pageDir, filepath.FromSlash(href))
			if _, err := os.Stat(target); err == nil {
				continue
			}
			if href == canonicalHref {
				continue
			}
			link.SetAttr("href", canonicalHref)
			changed = true
		}
	}

	if !changed {
		return false, nil
	}

	out, err := doc.Html()
	if err != nil {
		return false, fmt.Errorf("serialise page: %w", err)
	}
	if err := os.WriteFile(htmlPath, []byte(out), 0o644); err != nil {
		return false, fmt.Errorf("write page: %w", err)
	}
	return true, nil
}

func relativeHref(targetRel, fromDir string) string {
	if fromDir == "" || fromDir == "." {
		return targetRel
	}
	rel, err := filepath.Rel(fromDir, filepath.FromSlash(targetRel))
	if err != nil {
		return targetRel
	}
	return filepath.ToSlash(rel)
}
