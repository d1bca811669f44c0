package mirror

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/mgifford/wayback-extractor/pkg/types"
)

var timestampRE = regexp.MustCompile(`^\d{14}$`)

// CandidateOptions filters the raw enumeration down to candidates.
type CandidateOptions struct {
	CutoffTS       string
	PathPrefix     string
	IncludeNonHTML bool
	NormalizeQuery bool
}

// BuildCandidates reduces raw capture records to one latest-before-cutoff
// candidate per logical URL. Records with malformed timestamps, timestamps
// past the cutoff, robots.txt paths, paths outside PathPrefix, or (unless
// IncludeNonHTML) non-HTML mimetypes are dropped. The key is the raw original
// URL, or scheme://host/path with the query stripped when NormalizeQuery is
// set. Output is sorted by key so identical input always yields identical
// order.
func BuildCandidates(records []types.CaptureRecord, opts CandidateOptions) []types.CaptureRecord {
	latest := make(map[string]types.CaptureRecord)

	for _, rec := range records {
		if rec.Original == "" || !timestampRE.MatchString(rec.Timestamp) {
			continue
		}
		if rec.Timestamp > opts.CutoffTS {
			continue
		}

		parsed, err := url.Parse(rec.Original)
		if err != nil {
			continue
		}
		if strings.HasSuffix(parsed.Path, "/robots.txt") {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(parsed.Path, opts.PathPrefix) {
			continue
		}
		if !opts.IncludeNonHTML && !htmlish(rec.MimeType) {
			continue
		}

		key := rec.Original
		if opts.NormalizeQuery {
			key = parsed.Scheme + "://" + parsed.Host + parsed.Path
		}

		if existing, ok := latest[key]; !ok || rec.Timestamp > existing.Timestamp {
			latest[key] = rec
		}
	}

	keys := make([]string, 0, len(latest))
	for key := range latest {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	candidates := make([]types.CaptureRecord, 0, len(keys))
	for _, key := range keys {
		candidates = append(candidates, latest[key])
	}
	return candidates
}

// htmlish matches the content classes the mirror treats as pages by default.
func htmlish(mimeOrContentType string) bool {
	ct := strings.ToLower(mimeOrContentType)
	return strings.HasPrefix(ct, "text/html") ||
		strings.HasPrefix(ct, "application/xhtml+xml") ||
		strings.Contains(ct, "html")
}
