package mirror

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mgifford/wayback-extractor/pkg/types"
)

// Report artifacts written at the mirror root.
const (
	manifestFile = "manifest.json"
	reportCSV    = "report.csv"
	reportMD     = "report.md"
)

// WriteReports persists the manifest, the flat CSV report, and the Markdown
// summary alongside the mirror tree.
func WriteReports(outdir string, manifest types.Manifest, entries []types.MirrorEntry) error {
	if err := writeManifest(outdir, manifest); err != nil {
		return err
	}
	if err := writeCSV(outdir, entries); err != nil {
		return err
	}
	return writeMarkdown(outdir, manifest, entries)
}

// WriteCDXExport dumps the raw enumeration rows to a CSV file for
// troubleshooting, before any candidate filtering is applied.
func WriteCDXExport(path string, rows []types.CaptureRecord) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cdx export: %w", err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	if err := w.Write([]string{"timestamp", "original", "mimetype", "statuscode", "digest", "length"}); err != nil {
		return fmt.Errorf("write cdx export header: %w", err)
	}
	for _, rec := range rows {
		row := []string{rec.Timestamp, rec.Original, rec.MimeType, rec.StatusCode, rec.Digest, rec.Length}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write cdx export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush cdx export: %w", err)
	}
	return nil
}

func writeManifest(outdir string, manifest types.Manifest) error {
	if manifest.Pages == nil {
		manifest.Pages = []types.PageManifest{}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outdir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeCSV(outdir string, entries []types.MirrorEntry) error {
	fh, err := os.Create(filepath.Join(outdir, reportCSV))
	if err != nil {
		return fmt.Errorf("create report csv: %w", err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	if err := w.Write([]string{"original", "timestamp", "local", "status", "reason", "assets"}); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, entry := range entries {
		row := []string{
			entry.Original,
			entry.Timestamp,
			entry.Local,
			entry.Status,
			entry.Reason,
			strconv.Itoa(entry.Assets),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush report csv: %w", err)
	}
	return nil
}

func writeMarkdown(outdir string, manifest types.Manifest, entries []types.MirrorEntry) error {
	total := len(entries)
	ok := 0
	for _, entry := range entries {
		if entry.Status == types.StatusOK {
			ok++
		}
	}

	var b strings.Builder
	b.WriteString("# Wayback Static Mirror Report\n\n")
	fmt.Fprintf(&b, "- Domain: `%s`\n", manifest.Domain)
	fmt.Fprintf(&b, "- Cutoff: `%s`\n", manifest.CutoffTS)
	fmt.Fprintf(&b, "- Pages processed: `%d`\n", total)
	fmt.Fprintf(&b, "- OK: `%d`  Failed: `%d`\n\n", ok, total-ok)

	if total-ok > 0 {
		b.WriteString("## Failures\n\n")
		for _, entry := range entries {
			if entry.Status != types.StatusOK {
				fmt.Fprintf(&b, "- %s  reason: %s\n", entry.Original, entry.Reason)
			}
		}
		b.WriteString("\nSee `report.csv` and `manifest.json` for details.\n")
	}

	if err := os.WriteFile(filepath.Join(outdir, reportMD), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report markdown: %w", err)
	}
	return nil
}
