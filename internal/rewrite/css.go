package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// cssURLRE matches url(...) references: double-quoted, single-quoted, or bare.
var cssURLRE = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^'")]+?))\s*\)`)

// Stylesheet rewrites a fetched stylesheet's url(...) references. Same-site
// references become paths relative to cssDir (the directory the stylesheet is
// written into); data: URIs, pure-fragment references, and third-party
// references are left untouched. Decoding is permissive and never fails.
func Stylesheet(body []byte, baseURL, rootHost, cssDir string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return decodePermissive(body)
	}
	return rewriteCSSText(decodePermissive(body), base, rootHost, cssDir)
}

// rewriteCSSText is shared between stylesheet files and inline style
// attributes; only the directory relative paths are computed against differs.
func rewriteCSSText(css string, base *url.URL, rootHost, fromDir string) string {
	return cssURLRE.ReplaceAllStringFunc(css, func(match string) string {
		ref := extractCSSRef(match)
		if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "#") {
			return match
		}
		abs, err := base.Parse(ref)
		if err != nil {
			return match
		}
		if !SameSite(abs.String(), rootHost) {
			return match
		}
		return "url(" + relativeTo(LocalPath(abs.Path), fromDir) + ")"
	})
}

func extractCSSRef(match string) string {
	groups := cssURLRE.FindStringSubmatch(match)
	if groups == nil {
		return ""
	}
	for _, g := range groups[1:] {
		if g != "" {
			return strings.TrimSpace(g)
		}
	}
	return ""
}
