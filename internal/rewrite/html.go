package rewrite

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// toolbarID is the element identifier of the archive's injected replay
// toolbar, removed from every mirrored page.
const toolbarID = "wm-ipp"

// PageOptions controls one HTML rewrite pass.
type PageOptions struct {
	RootHost        string
	BannerHTML      string
	StripAllScripts bool
}

// Page rewrites fetched markup against its base URL. Same-site anchors,
// images, and stylesheet/icon links become paths relative to the page's
// directory; images and links are additionally collected as assets to
// download. Scripts are stripped entirely (StripAllScripts) or only when
// third-party; surviving same-site scripts are collected but keep their
// original reference. Returns the serialized markup and the sorted asset URLs.
func Page(body []byte, baseURL string, opts PageOptions) (string, []string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse base url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(decodePermissive(body)))
	if err != nil {
		return "", nil, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("#" + toolbarID).Remove()

	if opts.BannerHTML != "" {
		if bodySel := doc.Find("body"); bodySel.Length() > 0 {
			bodySel.PrependHtml(opts.BannerHTML)
		} else {
			doc.Find("html").PrependHtml(opts.BannerHTML)
		}
	}

	fromDir := pageDir(base.Path)
	assets := make(map[string]struct{})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if opts.StripAllScripts {
			s.Remove()
			return
		}
		src, ok := s.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		abs, err := base.Parse(src)
		if err != nil {
			return
		}
		if !SameSite(abs.String(), opts.RootHost) {
			s.Remove()
			return
		}
		assets[abs.String()] = struct{}{}
	})

	rewriteAttr := func(selector, attr string, collect bool) {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			val, ok := s.Attr(attr)
			if !ok || strings.TrimSpace(val) == "" {
				return
			}
			abs, err := base.Parse(val)
			if err != nil {
				return
			}
			if !SameSite(abs.String(), opts.RootHost) {
				return
			}
			s.SetAttr(attr, relativeTo(LocalPath(abs.Path), fromDir))
			if collect {
				assets[abs.String()] = struct{}{}
			}
		})
	}

	rewriteAttr("a", "href", false)
	rewriteAttr("img", "src", true)

	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		if !isStylesheetOrIcon(s) {
			return
		}
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs, err := base.Parse(href)
		if err != nil {
			return
		}
		if !SameSite(abs.String(), opts.RootHost) {
			return
		}
		s.SetAttr("href", relativeTo(LocalPath(abs.Path), fromDir))
		assets[abs.String()] = struct{}{}
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, ok := s.Attr("style")
		if !ok {
			return
		}
		s.SetAttr("style", rewriteCSSText(style, base, opts.RootHost, fromDir))
	})

	out, err := doc.Html()
	if err != nil {
		return "", nil, fmt.Errorf("serialise html: %w", err)
	}

	urls := make([]string, 0, len(assets))
	for u := range assets {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	return out, urls, nil
}

// RetargetStylesheets points every stylesheet link at the canonical run-wide
// stylesheet, relative to the page's on-disk location. Used by the second
// HTML pass once a stylesheet has actually been materialized.
func RetargetStylesheets(markup, pageLocal, canonicalLocal string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	fromDir := pageDir("/" + pageLocal)
	rel := relativeTo(canonicalLocal, fromDir)

	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		relAttr, _ := s.Attr("rel")
		if !strings.Contains(strings.ToLower(relAttr), "stylesheet") {
			return
		}
		if _, ok := s.Attr("href"); !ok {
			return
		}
		s.SetAttr("href", rel)
	})

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialise html: %w", err)
	}
	return out, nil
}

func isStylesheetOrIcon(s *goquery.Selection) bool {
	rel, ok := s.Attr("rel")
	if !ok {
		return false
	}
	rel = strings.ToLower(rel)
	return strings.Contains(rel, "stylesheet") || strings.Contains(rel, "icon")
}
