package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// OpenFoodFacts column names
const (
	colProductName   = "product_name"
	colEnergy        = "energy_100g"
	colProteins      = "proteins_100g"
	colCarbohydrates = "carbohydrates_100g"
	colFat           = "fat_100g"
)

const (
	// DefaultMaxRows caps accepted OpenFoodFacts rows
	DefaultMaxRows = 100_000
	// DefaultChunkSize is the number of rows read per window
	DefaultChunkSize = 50_000

	// kJThreshold marks energy values assumed to be kilojoules. This is a
	// magnitude heuristic: a few very energy-dense foods really are above
	// 500 kcal per 100 g and get misread.
	kJThreshold = 500.0
	kJPerKcal   = 4.184

	minNameRunes = 2
)

// OpenFoodFactsOptions bounds an OpenFoodFacts parse
type OpenFoodFactsOptions struct {
	MaxRows   int // stop after this many accepted rows, 0 means DefaultMaxRows
	ChunkSize int // rows per window, 0 means DefaultChunkSize
}

func (o OpenFoodFactsOptions) withDefaults() OpenFoodFactsOptions {
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// offColumns holds header positions; -1 means the column is absent
type offColumns struct {
	name, energy, proteins, carbohydrates, fat int
}

// offRow is the projected subset of one export row
type offRow struct {
	name, energy, proteins, carbohydrates, fat string
}

// ParseOpenFoodFacts streams the gzip-compressed, tab-separated
// OpenFoodFacts export. Rows are read in windows of ChunkSize and only the
// five projected columns are kept, so memory is bounded by one window.
func ParseOpenFoodFacts(ctx context.Context, r io.Reader, opts OpenFoodFactsOptions, yield YieldFunc) (Stats, error) {
	opts = opts.withDefaults()
	stats := newStats(SourceOpenFoodFacts)

	gz, err := gzip.NewReader(r)
	if err != nil {
		return stats, formatError(fmt.Errorf("open gzip stream: %w", err), SourceOpenFoodFacts)
	}
	defer gz.Close()

	reader := csv.NewReader(gz)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return stats, formatError(fmt.Errorf("read header: %w", err), SourceOpenFoodFacts)
	}
	cols, err := locateColumns(header)
	if err != nil {
		return stats, formatError(err, SourceOpenFoodFacts)
	}

	window := make([]offRow, 0, opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var eof bool
		window, eof, err = fillWindow(reader, cols, window[:0], opts.ChunkSize, &stats)
		if err != nil {
			return stats, formatError(err, SourceOpenFoodFacts)
		}

		for i := range window {
			record, reason := window[i].toRecord()
			if reason != "" {
				stats.skip(reason)
				continue
			}
			if err := yield(record); err != nil {
				return stats, err
			}
			stats.Accepted++
			if stats.Accepted >= opts.MaxRows {
				stats.Capped = true
				return stats, nil
			}
		}

		if eof {
			return stats, nil
		}
	}
}

// fillWindow appends up to size rows to buf and reports eof once the
// stream is exhausted. Rows the csv reader rejects are counted and skipped.
func fillWindow(reader *csv.Reader, cols offColumns, buf []offRow, size int, stats *Stats) ([]offRow, bool, error) {
	for len(buf) < size {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return buf, true, nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				stats.skip(SkipMalformedRow)
				continue
			}
			return buf, false, fmt.Errorf("read row: %w", err)
		}
		buf = append(buf, cols.project(fields))
	}
	return buf, false, nil
}

func locateColumns(header []string) (offColumns, error) {
	cols := offColumns{name: -1, energy: -1, proteins: -1, carbohydrates: -1, fat: -1}
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case colProductName:
			cols.name = i
		case colEnergy:
			cols.energy = i
		case colProteins:
			cols.proteins = i
		case colCarbohydrates:
			cols.carbohydrates = i
		case colFat:
			cols.fat = i
		}
	}

	if cols.name < 0 {
		return cols, fmt.Errorf("header has no %s column", colProductName)
	}
	if cols.energy < 0 && cols.proteins < 0 && cols.carbohydrates < 0 && cols.fat < 0 {
		return cols, fmt.Errorf("header has no nutrient columns")
	}
	return cols, nil
}

func (c offColumns) project(fields []string) offRow {
	at := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return fields[i]
	}
	return offRow{
		name:          at(c.name),
		energy:        at(c.energy),
		proteins:      at(c.proteins),
		carbohydrates: at(c.carbohydrates),
		fat:           at(c.fat),
	}
}

func (row *offRow) toRecord() (RawFoodRecord, SkipReason) {
	name := strings.TrimSpace(row.name)
	if name == "" {
		return RawFoodRecord{}, SkipMissingName
	}
	if utf8.RuneCountInString(name) < minNameRunes {
		return RawFoodRecord{}, SkipShortName
	}

	var n Nutrients
	var err error
	if n.EnergyKcal, err = parseCell(row.energy); err != nil {
		return RawFoodRecord{}, SkipBadNumber
	}
	if n.ProteinG, err = parseCell(row.proteins); err != nil {
		return RawFoodRecord{}, SkipBadNumber
	}
	if n.CarbohydratesG, err = parseCell(row.carbohydrates); err != nil {
		return RawFoodRecord{}, SkipBadNumber
	}
	if n.FatG, err = parseCell(row.fat); err != nil {
		return RawFoodRecord{}, SkipBadNumber
	}

	if n.Count() == 0 {
		return RawFoodRecord{}, SkipNoNutrients
	}

	if n.EnergyKcal != nil && *n.EnergyKcal > kJThreshold {
		*n.EnergyKcal = KilojoulesToKcal(*n.EnergyKcal)
	}

	return RawFoodRecord{Source: SourceOpenFoodFacts, RawName: name, Nutrients: n}, ""
}

// parseCell reads one numeric cell. Empty and "nan" cells are absent.
func parseCell(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) {
		return nil, nil
	}
	return &v, nil
}

// KilojoulesToKcal converts an energy value from kJ to kcal
func KilojoulesToKcal(kj float64) float64 {
	return kj / kJPerKcal
}
