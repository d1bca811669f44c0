package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/mgifford/wayback-extractor/internal/fetcher"
	"github.com/mgifford/wayback-extractor/pkg/types"
)

// ErrNoUsableSnapshot is returned when every supplied capture fails the
// usability checks.
var ErrNoUsableSnapshot = errors.New("no usable snapshot")

// originStatusHeader carries the status code the original server returned
// when the capture was taken, as opposed to the archive's own status.
const originStatusHeader = "X-Archive-Orig-Status"

// Resolver picks the newest usable capture from a set of records for one URL.
type Resolver struct {
	fetcher        *fetcher.Client
	includeNonHTML bool
	logger         *slog.Logger
}

// NewResolver constructs a resolver over the shared archive fetcher.
func NewResolver(client *fetcher.Client, includeNonHTML bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: client, includeNonHTML: includeNonHTML, logger: logger}
}

// Resolution verdicts for one fetched capture.
const (
	verdictUsable      = "usable"
	verdictBadStatus   = "bad_status"
	verdictOriginError = "origin_error"
	verdictNotHTML     = "not_html"
)

// Resolve iterates the records newest-to-oldest, fetching each in identity
// mode (retrying once in fallback mode when identity hits a transport
// failure) and returning the first capture that is usable: archive status
// 200, original-server status in the 2xx range, and HTML-ish content unless
// non-HTML is allowed.
func (r *Resolver) Resolve(ctx context.Context, records []types.CaptureRecord) (*types.ResolvedSnapshot, error) {
	sorted := make([]types.CaptureRecord, 0, len(records))
	for _, rec := range records {
		if timestampRE.MatchString(rec.Timestamp) && rec.Original != "" {
			sorted = append(sorted, rec)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	for _, rec := range sorted {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp := r.fetcher.Fetch(ctx, rec.Timestamp, rec.Original, fetcher.ModeIdentity)
		if resp.Synthetic() {
			resp = r.fetcher.Fetch(ctx, rec.Timestamp, rec.Original, fetcher.ModeFallback)
		}

		verdict := r.classify(resp)
		if verdict != verdictUsable {
			r.logger.Debug("snapshot skipped",
				"url", rec.Original, "timestamp", rec.Timestamp,
				"verdict", verdict, "status", resp.StatusCode)
			continue
		}

		return &types.ResolvedSnapshot{Record: rec, Body: resp.Body, Header: resp.Header}, nil
	}

	return nil, ErrNoUsableSnapshot
}

func (r *Resolver) classify(resp *fetcher.Response) string {
	if resp.StatusCode != 200 {
		return verdictBadStatus
	}
	if !originOK(resp) {
		return verdictOriginError
	}
	if !r.includeNonHTML && !htmlish(resp.ContentType()) {
		return verdictNotHTML
	}
	return verdictUsable
}

// originOK distinguishes "the archive served bytes" from "the original server
// actually returned success". When the origin status header is absent the
// archive's outer status stands in.
func originOK(resp *fetcher.Response) bool {
	raw := resp.Header.Get(originStatusHeader)
	if raw != "" {
		first := strings.Fields(raw)
		if len(first) > 0 {
			if code, err := strconv.Atoi(first[0]); err == nil {
				return code >= 200 && code < 300
			}
		}
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
