// Package cdx queries the archive's capture index across several parameter
// strategies and merges the results. Every sub-query here is best-effort: a
// network or parse failure contributes zero rows instead of aborting
// enumeration.
package cdx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mgifford/wayback-extractor/pkg/types"
)

// fields requested from the capture index, in row order.
const recordFields = "timestamp,original,mimetype,statuscode,digest,length"

const (
	// Below this many combined rows the same queries are retried against the
	// alternate endpoint address.
	alternateThreshold = 10
	// Below this many unique originals the availability API fallback kicks in.
	availabilityFloor = 5
)

// Options configures a capture index client.
type Options struct {
	Endpoint             string
	AlternateEndpoint    string
	AvailabilityEndpoint string
	UserAgent            string
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

// Client enumerates captures from the archive's CDX API.
type Client struct {
	client       *http.Client
	endpoint     string
	alternate    string
	availability string
	userAgent    string
	logger       *slog.Logger
}

// NewClient constructs a capture index client.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:       client,
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		alternate:    strings.TrimRight(opts.AlternateEndpoint, "/"),
		availability: strings.TrimRight(opts.AvailabilityEndpoint, "/"),
		userAgent:    opts.UserAgent,
		logger:       logger,
	}
}

// Enumerate returns every capture the index knows for the domain and its
// spelling variants. No date filter is applied upstream: the archive's own
// time filtering is unreliable at scale, so cutoff filtering happens in the
// candidate builder.
func (c *Client) Enumerate(ctx context.Context, domain, cutoffTS string, includeSubdomains bool) []types.CaptureRecord {
	variants := domainVariants(domain)
	paramSets := make([]url.Values, 0, 2*len(variants))
	for _, d := range variants {
		wildcard := baseParams()
		wildcard.Set("url", d+"*")
		paramSets = append(paramSets, wildcard)

		scoped := baseParams()
		scoped.Set("url", d+"/*")
		if includeSubdomains {
			scoped.Set("matchType", "domain")
		} else {
			scoped.Set("matchType", "host")
		}
		paramSets = append(paramSets, scoped)
	}

	var rows []types.CaptureRecord
	for _, params := range paramSets {
		rows = append(rows, c.query(ctx, c.endpoint, params)...)
	}

	if len(rows) < alternateThreshold && c.alternate != "" && c.alternate != c.endpoint {
		c.logger.Debug("few capture rows, retrying alternate endpoint", "rows", len(rows))
		for _, params := range paramSets {
			rows = append(rows, c.query(ctx, c.alternate, params)...)
		}
	}

	rows = dedupe(rows)

	if countOriginals(rows) < availabilityFloor {
		rows = append(rows, c.availabilityLookup(ctx, domain, cutoffTS)...)
		rows = dedupe(rows)
	}

	return rows
}

// History returns the full capture history for one URL up to the cutoff,
// newest and oldest alike, for the resolution fallback path.
func (c *Client) History(ctx context.Context, original, cutoffTS string) []types.CaptureRecord {
	params := url.Values{}
	params.Set("url", original)
	params.Set("output", "json")
	params.Set("gzip", "false")
	params.Set("to", cutoffTS)
	params.Set("fl", recordFields)
	return c.query(ctx, c.endpoint, params)
}

func baseParams() url.Values {
	params := url.Values{}
	params.Set("output", "json")
	params.Set("fl", recordFields)
	params.Set("collapse", "urlkey")
	params.Set("filter", "statuscode:200")
	return params
}

// domainVariants lists the spellings queried for a domain: as given,
// lowercased, and with the www. label toggled.
func domainVariants(domain string) []string {
	seen := make(map[string]struct{}, 4)
	var variants []string
	add := func(d string) {
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		variants = append(variants, d)
	}

	add(domain)
	add(strings.ToLower(domain))
	if strings.HasPrefix(domain, "www.") {
		add(domain[4:])
	} else {
		add("www." + domain)
	}
	if lower := strings.ToLower(domain); !strings.HasPrefix(lower, "www.") {
		add("www." + lower)
	}
	return variants
}

// query runs one CDX request and parses its JSON rows. Failures are logged
// and yield zero rows.
func (c *Client) query(ctx context.Context, endpoint string, params url.Values) []types.CaptureRecord {
	target := endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.logger.Warn("cdx request build failed", "error", err)
		return nil
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("cdx query failed", "url", params.Get("url"), "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("cdx query returned error status", "url", params.Get("url"), "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("cdx response read failed", "url", params.Get("url"), "error", err)
		return nil
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}

	records, err := parseRows(body)
	if err != nil {
		c.logger.Warn("cdx response parse failed", "url", params.Get("url"), "error", err)
		return nil
	}
	return records
}

// parseRows decodes the CDX array-of-arrays form: the first row names the
// fields, every following row is one capture. Rows missing the required
// timestamp or original are dropped at this boundary.
func parseRows(body []byte) ([]types.CaptureRecord, error) {
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]types.CaptureRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := types.CaptureRecord{
			Timestamp:  field(row, "timestamp"),
			Original:   field(row, "original"),
			MimeType:   field(row, "mimetype"),
			StatusCode: field(row, "statuscode"),
			Digest:     field(row, "digest"),
			Length:     field(row, "length"),
		}
		if rec.Timestamp == "" || rec.Original == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// availabilitySnapshot mirrors the single-URL nearest-snapshot lookup schema.
type availabilitySnapshot struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// availabilityLookup is the last-resort enumeration: a point query for the
// domain and its www. variant, each returning at most one closest snapshot.
func (c *Client) availabilityLookup(ctx context.Context, domain, cutoffTS string) []types.CaptureRecord {
	hosts := []string{domain}
	if !strings.HasPrefix(domain, "www.") {
		hosts = append(hosts, "www."+domain)
	}

	var records []types.CaptureRecord
	for _, host := range hosts {
		rec, ok := c.availabilityOne(ctx, host, cutoffTS)
		if ok {
			records = append(records, rec)
		}
	}
	return records
}

func (c *Client) availabilityOne(ctx context.Context, host, cutoffTS string) (types.CaptureRecord, bool) {
	target := c.availability + "?url=" + url.QueryEscape(host) + "&timestamp=" + url.QueryEscape(cutoffTS)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return types.CaptureRecord{}, false
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("availability query failed", "host", host, "error", err)
		return types.CaptureRecord{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.CaptureRecord{}, false
	}

	var payload availabilitySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("availability response parse failed", "host", host, "error", err)
		return types.CaptureRecord{}, false
	}

	closest := payload.ArchivedSnapshots.Closest
	if !closest.Available || closest.URL == "" || closest.Timestamp == "" {
		return types.CaptureRecord{}, false
	}

	original := closest.URL
	// The lookup returns the replay URL; recover the original behind the
	// /web/{timestamp}/ prefix when present.
	if i := strings.Index(original, "/"+closest.Timestamp+"/"); i >= 0 {
		original = original[i+len(closest.Timestamp)+2:]
	}

	return types.CaptureRecord{
		Timestamp:  closest.Timestamp,
		Original:   original,
		MimeType:   "text/html",
		StatusCode: "200",
	}, true
}

func dedupe(records []types.CaptureRecord) []types.CaptureRecord {
	type key struct{ original, timestamp string }
	seen := make(map[key]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		k := key{rec.Original, rec.Timestamp}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func countOriginals(records []types.CaptureRecord) int {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seen[rec.Original] = struct{}{}
	}
	return len(seen)
}
