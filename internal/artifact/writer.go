// Package artifact writes a run's CSV outputs: the results table and the
// cam_sku staging variant consumed by the warehouse merge.
package artifact

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/normalize"
	"github.com/treadline-ai/treadline/internal/observability"
)

// Writer shapes recommendation rows into the artifact contract and writes
// them under its output directory.
type Writer struct {
	dir    string
	logger *observability.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, logger *observability.Logger) *Writer {
	return &Writer{dir: dir, logger: logger.WithOperation("artifact")}
}

// WriteResults writes results_<runID>.csv and returns its basename.
func (w *Writer) WriteResults(runID string, recs []domain.Recommendation) (string, error) {
	name := fmt.Sprintf("results_%s.csv", runID)
	rows := shapeRows(recs)
	if err := w.writeCSV(name, baseColumns(), rows); err != nil {
		return "", err
	}
	w.logger.Info().Str("file", name).Int("rows", len(rows)).Msg("results artifact written")
	return name, nil
}

// WriteStaging writes cam_sku_<runID>.csv, the results shape plus a
// last_modified UTC timestamp, and returns its basename.
func (w *Writer) WriteStaging(runID string, recs []domain.Recommendation) (string, error) {
	name := fmt.Sprintf("cam_sku_%s.csv", runID)
	stamp := time.Now().UTC().Format(time.RFC3339)

	rows := shapeRows(recs)
	for i := range rows {
		rows[i] = append(rows[i], stamp)
	}

	if err := w.writeCSV(name, append(baseColumns(), "last_modified"), rows); err != nil {
		return "", err
	}
	w.logger.Info().Str("file", name).Int("rows", len(rows)).Msg("staging artifact written")
	return name, nil
}

func (w *Writer) writeCSV(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write artifact header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write artifact rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}
	return nil
}

// baseColumns is the artifact column order: identity, four hotboxes,
// twenty SKUs.
func baseColumns() []string {
	cols := []string{"Vehicle", "Size", "HB1", "HB2", "HB3", "HB4"}
	for i := 1; i <= domain.SKUCount; i++ {
		cols = append(cols, fmt.Sprintf("SKU%d", i))
	}
	return cols
}

// shapeRows applies the artifact contract: vehicle/size repair, duplicate
// SKU suppression, FormatError row drops, blank-cell normalization, and
// first-wins dedup on the (Vehicle, Size) key.
func shapeRows(recs []domain.Recommendation) [][]string {
	rows := make([][]string, 0, len(recs))
	seen := make(map[string]bool, len(recs))

	for _, rec := range recs {
		vehicle, size := normalize.Repair(rec.Vehicle, rec.Size)

		cells := productCells(rec)
		if hasFormatError(vehicle, size, cells) {
			continue
		}
		suppressDuplicateSKUs(cells)
		for i, c := range cells {
			cells[i] = cleanCell(c)
		}

		key := vehicle + "\x00" + size
		if seen[key] {
			continue
		}
		seen[key] = true

		rows = append(rows, append([]string{vehicle, size}, cells...))
	}
	return rows
}

// productCells lays out the 24 product slots: hotboxes first, then SKUs
// padded or truncated to twenty.
func productCells(rec domain.Recommendation) []string {
	hb := rec.Hotboxes()
	cells := make([]string, 0, domain.SlotCount)
	cells = append(cells, hb[:]...)
	for i := 0; i < domain.SKUCount; i++ {
		if i < len(rec.SKUs) {
			cells = append(cells, rec.SKUs[i])
		} else {
			cells = append(cells, "")
		}
	}
	return cells
}

// suppressDuplicateSKUs blanks repeat SKU values, keeping the first. Only
// the SKU slots are scanned: engine-built rows are already globally
// unique, this guards rows arriving over the batch surface from engines
// that only dedup within the SKU tail.
func suppressDuplicateSKUs(cells []string) {
	seen := make(map[string]bool, domain.SKUCount)
	for i := domain.HotboxCount; i < len(cells); i++ {
		s := strings.TrimSpace(cells[i])
		if s == "" || s == domain.Placeholder {
			continue
		}
		if seen[s] {
			cells[i] = domain.Placeholder
			continue
		}
		seen[s] = true
	}
}

func hasFormatError(vehicle, size string, cells []string) bool {
	if strings.Contains(vehicle, "FormatError") || strings.Contains(size, "FormatError") {
		return true
	}
	for _, c := range cells {
		if strings.Contains(c, "FormatError") {
			return true
		}
	}
	return false
}

// cleanCell normalizes a product cell: placeholders, "nan" leakage, and
// exact "FormatError" markers become empty, and the ".0" numeric-export
// artifact is stripped.
func cleanCell(cell string) string {
	s := strings.TrimSpace(cell)
	if s == domain.Placeholder || s == "FormatError" || strings.EqualFold(s, "nan") {
		return ""
	}
	s = strings.TrimSuffix(s, ".0")
	return strings.TrimSpace(s)
}
