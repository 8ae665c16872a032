package source

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-intel/internal/model"
)

// csvRow is the expected column layout of a company import file. List
// columns use semicolon separators.
type csvRow struct {
	Name           string `csv:"name"`
	Country        string `csv:"country"`
	LEI            string `csv:"lei,omitempty"`
	VATID          string `csv:"vat_id,omitempty"`
	Website        string `csv:"website,omitempty"`
	Sector         string `csv:"sector,omitempty"`
	Description    string `csv:"description,omitempty"`
	MoatSignals    string `csv:"moat_signals,omitempty"`
	Certifications string `csv:"certifications,omitempty"`
}

// CSVSource reads company observations from a CSV stream. Manually
// curated import files are treated as manual-source observations.
type CSVSource struct {
	cfg    SourceConfig
	reader io.Reader
}

// NewCSVSource creates a CSV source over r. Rows are decoded against
// the header; extra columns are ignored.
func NewCSVSource(cfg SourceConfig, r io.Reader) *CSVSource {
	return &CSVSource{cfg: cfg, reader: r}
}

func (s *CSVSource) Name() string           { return s.cfg.Name }
func (s *CSVSource) Type() model.SourceType { return s.cfg.Type }

// Available reports whether the stream is wired up. A CSV source reads
// an in-process stream, so there is no remote endpoint to probe.
func (s *CSVSource) Available(context.Context) bool { return s.reader != nil }

// Discover decodes rows and yields one observation per row. Rows
// outside the configured country scope are skipped.
func (s *CSVSource) Discover(ctx context.Context, yield func(model.DiscoveredCompany) error) error {
	csvReader := csv.NewReader(s.reader)
	csvReader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return eris.Wrapf(err, "source: csv header of %q", s.cfg.Name)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var row csvRow
		if err := dec.Decode(&row); err == io.EOF {
			return nil
		} else if err != nil {
			return eris.Wrapf(err, "source: csv row in %q", s.cfg.Name)
		}

		if !s.cfg.inScope(row.Country) {
			continue
		}

		if err := yield(model.DiscoveredCompany{
			Name:           row.Name,
			Country:        row.Country,
			Source:         s.cfg.Name,
			SourceType:     s.cfg.Type,
			LEI:            row.LEI,
			VATID:          row.VATID,
			Website:        row.Website,
			Sector:         row.Sector,
			Description:    row.Description,
			MoatSignals:    splitList(row.MoatSignals),
			Certifications: splitList(row.Certifications),
		}); err != nil {
			return err
		}
	}
}
