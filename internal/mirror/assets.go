package mirror

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/mgifford/wayback-extractor/internal/fetcher"
	"github.com/mgifford/wayback-extractor/internal/rewrite"
	"github.com/mgifford/wayback-extractor/pkg/types"
)

// Materializer downloads discovered assets into the mirror tree. A run-wide
// seen set keyed by local path avoids refetching an asset that several pages
// reference; the first download of a path always writes the file.
type Materializer struct {
	fetcher *fetcher.Client
	outdir  string
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]types.AssetOutcome
}

// NewMaterializer constructs a materializer writing under outdir.
func NewMaterializer(client *fetcher.Client, outdir string, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		fetcher: client,
		outdir:  outdir,
		logger:  logger,
		seen:    make(map[string]types.AssetOutcome),
	}
}

// Download fetches one asset at the page's timestamp, identity mode first and
// fallback mode on a non-200, and writes it to its deterministic local path.
// On failure no file is created but the computed path and content type are
// still reported. The second return value is the absolute written path.
func (m *Materializer) Download(ctx context.Context, timestamp, assetURL string) (types.AssetOutcome, string) {
	parsed, err := url.Parse(assetURL)
	if err != nil {
		return types.AssetOutcome{URL: assetURL}, ""
	}
	local := rewrite.LocalPath(parsed.Path)
	outPath := filepath.Join(m.outdir, filepath.FromSlash(local))

	m.mu.Lock()
	if cached, ok := m.seen[local]; ok {
		m.mu.Unlock()
		cached.URL = assetURL
		return cached, outPath
	}
	m.mu.Unlock()

	outcome := types.AssetOutcome{URL: assetURL, Local: local}

	resp := m.fetcher.Fetch(ctx, timestamp, assetURL, fetcher.ModeIdentity)
	if resp.StatusCode != 200 {
		resp = m.fetcher.Fetch(ctx, timestamp, assetURL, fetcher.ModeFallback)
	}
	outcome.ContentType = resp.ContentType()

	if resp.StatusCode == 200 {
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			m.logger.Warn("asset directory create failed", "path", outPath, "error", err)
		} else if err := os.WriteFile(outPath, resp.Body, 0o644); err != nil {
			m.logger.Warn("asset write failed", "path", outPath, "error", err)
		} else {
			outcome.OK = true
		}
	}

	m.mu.Lock()
	m.seen[local] = outcome
	m.mu.Unlock()

	return outcome, outPath
}
