package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mgifford/wayback-extractor/internal/cdx"
	"github.com/mgifford/wayback-extractor/internal/config"
	"github.com/mgifford/wayback-extractor/internal/fetcher"
	"github.com/mgifford/wayback-extractor/internal/rewrite"
	"github.com/mgifford/wayback-extractor/pkg/types"
)

// canonicalStylesheet is the run-wide stylesheet path every page's stylesheet
// links are retargeted to. The first stylesheet materialized during the run
// is copied here and treated as the site's dominant stylesheet. Deliberately
// lossy on multi-stylesheet sites.
const canonicalStylesheet = "assets/stylesheets/application.css"

// Failure reasons beyond no_good_snapshot surfaced in reports.
const (
	reasonRewriteFailed = "rewrite_failed"
	reasonWriteFailed   = "write_failed"
)

// Engine drives the pipeline: enumerate, select candidates, resolve, rewrite,
// materialize, report. It owns the candidate set and the accumulating report
// entries for the run's lifetime.
type Engine struct {
	cfg      config.Config
	logger   *slog.Logger
	fetcher  *fetcher.Client
	index    *cdx.Client
	resolver *Resolver

	cutoffTS string
	outdir   string
	banner   string
	rootHost string

	mu           sync.Mutex
	hasCanonical bool
}

// NewEngine builds a mirror engine from configuration.
func NewEngine(cfg config.Config) (*Engine, error) {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	cutoffTS, err := cfg.CutoffTimestamp()
	if err != nil {
		return nil, err
	}

	limiter := fetcher.NewLimiter(cfg.Limiter.RPS, cfg.Limiter.Burst)
	client := fetcher.NewClient(fetcher.Options{
		RawEndpoint:  cfg.Archive.RawEndpoint,
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.HTTP.Timeout.Duration,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Limiter:      limiter,
		Logger:       logger,
	})

	index := cdx.NewClient(cdx.Options{
		Endpoint:             cfg.Archive.CDXEndpoint,
		AlternateEndpoint:    cfg.Archive.CDXAlternateEndpoint,
		AvailabilityEndpoint: cfg.Archive.AvailabilityEndpoint,
		UserAgent:            cfg.HTTP.UserAgent,
		HTTPClient:           client.HTTPClient(),
		Logger:               logger,
	})

	engine := &Engine{
		cfg:      cfg,
		logger:   logger,
		fetcher:  client,
		index:    index,
		resolver: NewResolver(client, cfg.Mirror.IncludeNonHTML, logger),
		cutoffTS: cutoffTS,
		outdir:   cfg.OutputDir(cutoffTS),
		rootHost: cfg.Mirror.Domain,
	}
	if cfg.Mirror.Banner {
		engine.banner = bannerHTML(cfg.Mirror.Domain, cutoffTS)
	}
	return engine, nil
}

// pageResult pairs the report entry with the manifest record for one
// candidate, indexed by candidate position so report order stays
// deterministic under concurrency.
type pageResult struct {
	entry types.MirrorEntry
	page  *types.PageManifest
}

// Run executes the mirror until completion or context cancellation. Reports
// are written for whatever completed either way.
func (e *Engine) Run(ctx context.Context) error {
	if err := os.MkdirAll(e.outdir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	e.logger.Info("enumerating captures",
		"domain", e.rootHost, "cutoff", e.cutoffTS, "subdomains", e.cfg.Mirror.IncludeSubdomains)

	rows := e.index.Enumerate(ctx, e.rootHost, e.cutoffTS, e.cfg.Mirror.IncludeSubdomains)
	if len(rows) == 0 {
		e.logger.Warn("enumeration produced no capture rows")
	}

	if path := e.cfg.Mirror.ExportCDX; path != "" {
		if err := WriteCDXExport(path, rows); err != nil {
			e.logger.Warn("cdx export failed", "path", path, "error", err)
		} else {
			e.logger.Info("exported cdx rows", "path", path, "rows", len(rows))
		}
	}

	candidates := BuildCandidates(rows, CandidateOptions{
		CutoffTS:       e.cutoffTS,
		PathPrefix:     e.cfg.Mirror.PathPrefix,
		IncludeNonHTML: e.cfg.Mirror.IncludeNonHTML,
		NormalizeQuery: e.cfg.Mirror.NormalizeQuery,
	})
	if max := e.cfg.Mirror.MaxPages; max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}

	e.logger.Info("candidates selected", "rows", len(rows), "candidates", len(candidates), "outdir", e.outdir)

	materializer := NewMaterializer(e.fetcher, e.outdir, e.logger)

	pool, err := newWorkerPool(ctx, e.cfg.Worker.Concurrency)
	if err != nil {
		return err
	}

	results := make([]pageResult, len(candidates))
	meter := newProgress(len(candidates))

	for i, cand := range candidates {
		i, cand := i, cand
		if err := pool.submit(ctx, func(jobCtx context.Context) {
			results[i] = e.processCandidate(jobCtx, materializer, cand, meter)
		}); err != nil {
			break
		}
	}
	pool.close()

	manifest := types.Manifest{Domain: e.rootHost, CutoffTS: e.cutoffTS}
	var entries []types.MirrorEntry
	okPages := 0
	for _, res := range results {
		if res.entry.Original == "" {
			continue
		}
		entries = append(entries, res.entry)
		if res.page != nil {
			manifest.Pages = append(manifest.Pages, *res.page)
		}
		if res.entry.Status == types.StatusOK {
			okPages++
		}
	}

	if e.canonicalReady() {
		fixed := FixupStylesheets(e.outdir, canonicalStylesheet, e.logger)
		if fixed > 0 {
			e.logger.Info("repaired stylesheet references", "pages", fixed)
		}
	} else if okPages > 0 {
		e.logger.Warn("no stylesheet was materialized, pages may be unstyled")
	}

	if err := WriteReports(e.outdir, manifest, entries); err != nil {
		return err
	}

	e.logger.Info("mirror complete",
		"ok", okPages, "failed", len(entries)-okPages, "outdir", e.outdir)

	return ctx.Err()
}

// processCandidate runs one candidate through resolve, rewrite, write, and
// asset materialization, producing exactly one report entry.
func (e *Engine) processCandidate(ctx context.Context, materializer *Materializer, cand types.CaptureRecord, meter *progress) pageResult {
	idx, total, perMin := meter.tick()
	e.logger.Info("page", "index", idx, "total", total, "url", cand.Original, "urls_per_min", fmt.Sprintf("%.1f", perMin))

	snapshot, err := e.resolver.Resolve(ctx, []types.CaptureRecord{cand})
	if err != nil && ctx.Err() == nil {
		// The primary candidate failed; widen to the URL's full history.
		e.logger.Info("no good snapshot from candidate, checking history", "url", cand.Original)
		history := e.index.History(ctx, cand.Original, e.cutoffTS)
		if len(history) > 0 {
			snapshot, err = e.resolver.Resolve(ctx, history)
		}
	}
	if err != nil {
		// A cancelled run is not a resolution verdict; leave the candidate
		// out of the report entirely.
		if ctx.Err() != nil {
			return pageResult{}
		}
		e.logger.Info("page failed", "url", cand.Original, "reason", types.ReasonNoGoodSnapshot)
		return failedResult(cand.Original, types.ReasonNoGoodSnapshot)
	}

	chosen := snapshot.Record
	parsed, err := url.Parse(chosen.Original)
	if err != nil {
		return failedResult(cand.Original, types.ReasonNoGoodSnapshot)
	}

	baseURL := pageBaseURL(parsed)
	localRel := rewrite.LocalPath(parsed.Path)
	localPath := filepath.Join(e.outdir, filepath.FromSlash(localRel))

	markup, assetURLs, err := rewrite.Page(snapshot.Body, baseURL, rewrite.PageOptions{
		RootHost:        e.rootHost,
		BannerHTML:      e.banner,
		StripAllScripts: e.cfg.Mirror.StripAllScripts,
	})
	if err != nil {
		e.logger.Warn("rewrite failed", "url", chosen.Original, "error", err)
		return failedResult(cand.Original, reasonRewriteFailed)
	}

	if err := writePage(localPath, markup); err != nil {
		e.logger.Warn("page write failed", "path", localPath, "error", err)
		return failedResult(cand.Original, reasonWriteFailed)
	}

	var outcomes []types.AssetOutcome
	type cssFile struct {
		abs      string
		localDir string
	}
	var stylesheets []cssFile

	for _, assetURL := range assetURLs {
		outcome, written := materializer.Download(ctx, chosen.Timestamp, assetURL)
		outcomes = append(outcomes, outcome)
		if e.cfg.Mirror.LogAssets {
			e.logger.Info("asset", "url", assetURL, "local", outcome.Local, "ok", outcome.OK)
		}
		if outcome.OK && isStylesheet(outcome) {
			stylesheets = append(stylesheets, cssFile{abs: written, localDir: path.Dir(outcome.Local)})
			e.ensureCanonicalCSS(written)
		}
	}

	// Rewrite url(...) references inside stylesheets this page pulled in.
	for _, css := range stylesheets {
		raw, err := os.ReadFile(css.abs)
		if err != nil {
			e.logger.Warn("stylesheet read failed", "path", css.abs, "error", err)
			continue
		}
		rewritten := rewrite.Stylesheet(raw, baseURL, e.rootHost, css.localDir)
		if err := os.WriteFile(css.abs, []byte(rewritten), 0o644); err != nil {
			e.logger.Warn("stylesheet rewrite failed", "path", css.abs, "error", err)
		}
	}

	// Second pass: once any stylesheet exists run-wide, retarget every
	// stylesheet link at the canonical copy and overwrite the page. The first
	// write could not know the canonical path, so this pass is intentional.
	if e.canonicalReady() {
		retargeted, err := rewrite.RetargetStylesheets(markup, localRel, canonicalStylesheet)
		if err != nil {
			e.logger.Warn("stylesheet retarget failed", "url", chosen.Original, "error", err)
		} else if err := writePage(localPath, retargeted); err != nil {
			e.logger.Warn("page rewrite failed", "path", localPath, "error", err)
		}
	}

	okAssets := 0
	for _, outcome := range outcomes {
		if outcome.OK {
			okAssets++
		}
	}

	e.logger.Info("page ok", "url", chosen.Original, "local", localRel, "assets", len(outcomes))

	return pageResult{
		entry: types.MirrorEntry{
			Original:  chosen.Original,
			Timestamp: chosen.Timestamp,
			Local:     localRel,
			Status:    types.StatusOK,
			Assets:    okAssets,
		},
		page: &types.PageManifest{
			Original:  chosen.Original,
			Timestamp: chosen.Timestamp,
			Local:     localRel,
			Assets:    outcomes,
		},
	}
}

// ensureCanonicalCSS copies the first materialized stylesheet of the run to
// the canonical path. Later stylesheets never displace it.
func (e *Engine) ensureCanonicalCSS(absPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasCanonical {
		return
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		e.logger.Warn("canonical stylesheet read failed", "path", absPath, "error", err)
		return
	}
	target := filepath.Join(e.outdir, filepath.FromSlash(canonicalStylesheet))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		e.logger.Warn("canonical stylesheet dir create failed", "error", err)
		return
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		e.logger.Warn("canonical stylesheet copy failed", "error", err)
		return
	}
	e.hasCanonical = true
}

func (e *Engine) canonicalReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasCanonical
}

func failedResult(original, reason string) pageResult {
	return pageResult{
		entry: types.MirrorEntry{
			Original: original,
			Status:   types.StatusFailed,
			Reason:   reason,
		},
	}
}

func writePage(path, markup string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create page directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	return nil
}

func pageBaseURL(parsed *url.URL) string {
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	p := parsed.Path
	if p == "" {
		p = "/"
	}
	return scheme + "://" + parsed.Host + p
}

func isStylesheet(outcome types.AssetOutcome) bool {
	if strings.Contains(strings.ToLower(outcome.ContentType), "text/css") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(outcome.Local), ".css")
}

func bannerHTML(domain, cutoffTS string) string {
	date := cutoffTS[:4] + "-" + cutoffTS[4:6] + "-" + cutoffTS[6:8]
	return `<div style="background:#222;color:#fff;padding:8px 16px;font-size:1rem;text-align:center;z-index:9999;position:relative;box-shadow:0 2px 6px #0003;">` +
		`Snapshot <b>` + domain + `</b> from <a href="https://archive.org/web/" style="color:#ffd700;text-decoration:underline;">Archive.org</a> (Date: <b>` + date + `</b>)</div>`
}

// progress keeps a rolling window of completion times for the urls/min figure
// in page logs.
type progress struct {
	mu     sync.Mutex
	total  int
	count  int
	stamps []time.Time
}

func newProgress(total int) *progress {
	return &progress{total: total}
}

func (p *progress) tick() (index, total int, perMin float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	now := time.Now()
	p.stamps = append(p.stamps, now)
	if len(p.stamps) > 50 {
		p.stamps = p.stamps[1:]
	}
	if len(p.stamps) > 1 {
		window := p.stamps[len(p.stamps)-1].Sub(p.stamps[0]).Minutes()
		if window > 0 {
			perMin = float64(len(p.stamps)-1) / window
		}
	}
	return p.count, p.total, perMin
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
