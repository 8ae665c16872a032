package source

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/portfolio-intel/internal/model"
)

// XLSXOptions configures the workbook layout.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// XLSXSource reads company observations from a spreadsheet. The first
// row is the header; columns are matched by name (case-insensitive),
// so analysts can reorder or add columns freely.
type XLSXSource struct {
	cfg  SourceConfig
	path string
	opts XLSXOptions
}

// NewXLSXSource creates a source over the workbook at path.
func NewXLSXSource(cfg SourceConfig, path string, opts XLSXOptions) *XLSXSource {
	return &XLSXSource{cfg: cfg, path: path, opts: opts}
}

func (s *XLSXSource) Name() string           { return s.cfg.Name }
func (s *XLSXSource) Type() model.SourceType { return s.cfg.Type }

// Available reports whether the workbook exists on disk.
func (s *XLSXSource) Available(context.Context) bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Discover opens the workbook and yields one observation per data row.
// Rows with no cells at all, or outside the country scope, are skipped.
func (s *XLSXSource) Discover(ctx context.Context, yield func(model.DiscoveredCompany) error) error {
	f, err := xlsx.OpenFile(s.path)
	if err != nil {
		return eris.Wrapf(err, "source: open workbook %q", s.path)
	}

	sheet, err := pickSheet(f, s.opts)
	if err != nil {
		return err
	}
	if len(sheet.Rows) == 0 {
		return nil
	}

	cols := headerIndex(sheet.Rows[0])
	if _, ok := cols["name"]; !ok {
		return eris.Errorf("source: workbook %q has no 'name' column", s.path)
	}

	for _, row := range sheet.Rows[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}

		cells := rowToStrings(row)
		if len(cells) == 0 {
			continue
		}

		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[i])
		}

		if !s.cfg.inScope(get("country")) {
			continue
		}

		if err := yield(model.DiscoveredCompany{
			Name:           get("name"),
			Country:        get("country"),
			Source:         s.cfg.Name,
			SourceType:     s.cfg.Type,
			LEI:            get("lei"),
			VATID:          get("vat_id"),
			Website:        get("website"),
			Sector:         get("sector"),
			Description:    get("description"),
			MoatSignals:    splitList(get("moat_signals")),
			Certifications: splitList(get("certifications")),
		}); err != nil {
			return err
		}
	}
	return nil
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("source: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("source: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func headerIndex(row *xlsx.Row) map[string]int {
	cols := make(map[string]int, len(row.Cells))
	for i, cell := range row.Cells {
		key := strings.ToLower(strings.TrimSpace(cell.String()))
		if key != "" {
			cols[key] = i
		}
	}
	return cols
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
