package types

import "net/http"

// CaptureRecord is one row from the archive's capture index. Timestamp is the
// archive's 14-digit YYYYMMDDhhmmss form, which sorts chronologically as text.
type CaptureRecord struct {
	Timestamp  string `json:"timestamp"`
	Original   string `json:"original"`
	MimeType   string `json:"mimetype"`
	StatusCode string `json:"statuscode"`
	Digest     string `json:"digest"`
	Length     string `json:"length"`
}

// ResolvedSnapshot is the outcome of resolving one URL: the capture that passed
// all usability checks plus its raw body bytes.
type ResolvedSnapshot struct {
	Record CaptureRecord
	Body   []byte
	Header http.Header
}

// AssetOutcome records one asset download attempt for the manifest.
type AssetOutcome struct {
	URL         string `json:"url"`
	Local       string `json:"local"`
	OK          bool   `json:"ok"`
	ContentType string `json:"content_type"`
}

// PageManifest describes one mirrored page and its assets.
type PageManifest struct {
	Original  string         `json:"original"`
	Timestamp string         `json:"timestamp"`
	Local     string         `json:"local"`
	Assets    []AssetOutcome `json:"assets"`
}

// Manifest is the run-level record written alongside the mirror tree.
type Manifest struct {
	Domain   string         `json:"domain"`
	CutoffTS string         `json:"cutoff_ts"`
	Pages    []PageManifest `json:"pages"`
}

// Mirror entry statuses and failure reasons surfaced in reports.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"

	ReasonNoGoodSnapshot = "no_good_snapshot"
)

// MirrorEntry is one row of the flat per-URL report. Entries are created once
// per processed candidate and never mutated afterwards.
type MirrorEntry struct {
	Original  string
	Timestamp string
	Local     string
	Status    string
	Reason    string
	Assets    int
}
