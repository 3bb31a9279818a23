package datastore

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/errors"
)

// CSVHeader is the column order of the delimited catalog copy
var CSVHeader = []string{
	"source", "fdc_id", "name",
	"energy_kcal", "protein_g", "carbohydrates_g", "fat_g",
	"name_normalized",
}

// WriteCSV writes items to path through a temporary file and a rename, so a
// reader never sees a half-written catalog. Numbers use the shortest
// representation that parses back to the same float64; absent values are
// empty cells.
func WriteCSV(path string, items []catalog.CanonicalIngredient) error {
	tmp, err := StageCSV(path, items)
	if err != nil {
		return err
	}
	return CommitCSV(tmp, path)
}

// StageCSV writes items next to path and returns the staged file. The file
// at path is untouched until CommitCSV.
func StageCSV(path string, items []catalog.CanonicalIngredient) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.FileError(err, path)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // path comes from configuration
	if err != nil {
		return "", errors.FileError(err, tmp)
	}

	if err := writeCatalogCSV(f, items); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", errors.FileError(err, tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", errors.FileError(err, tmp)
	}
	return tmp, nil
}

// CommitCSV moves a staged catalog over path
func CommitCSV(staged, path string) error {
	if err := os.Rename(staged, path); err != nil {
		_ = os.Remove(staged)
		return errors.FileError(fmt.Errorf("failed to rename catalog csv: %w", err), path)
	}
	return nil
}

func writeCatalogCSV(w io.Writer, items []catalog.CanonicalIngredient) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	record := make([]string, len(CSVHeader))
	for i := range items {
		c := &items[i]
		record[0] = string(c.Source)
		record[1] = c.ExternalID
		record[2] = c.Name
		record[3] = formatNutrient(c.EnergyKcal)
		record[4] = formatNutrient(c.ProteinG)
		record[5] = formatNutrient(c.CarbohydratesG)
		record[6] = formatNutrient(c.FatG)
		record[7] = c.NameNormalized
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

func formatNutrient(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ReadCSV loads a catalog written by WriteCSV
func ReadCSV(path string) ([]catalog.CanonicalIngredient, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, errors.FileError(err, path)
	}
	defer func() { _ = f.Close() }()

	items, err := readCatalogCSV(f)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			FileContext(path).
			Build()
	}
	return items, nil
}

func readCatalogCSV(r io.Reader) ([]catalog.CanonicalIngredient, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = len(CSVHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, name := range CSVHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], name)
		}
	}

	var items []catalog.CanonicalIngredient
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, err
		}

		c := catalog.CanonicalIngredient{
			Source:         catalog.Source(rec[0]),
			ExternalID:     rec[1],
			Name:           rec[2],
			NameNormalized: rec[7],
		}
		targets := []**float64{&c.EnergyKcal, &c.ProteinG, &c.CarbohydratesG, &c.FatG}
		for j, target := range targets {
			cell := rec[3+j]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				line, _ := cr.FieldPos(3 + j)
				return nil, fmt.Errorf("line %d column %s: %w", line, CSVHeader[3+j], err)
			}
			*target = &v
		}
		items = append(items, c)
	}
}

// Verify checks that two copies of the catalog agree row by row, with
// nutrient values compared bit for bit.
func Verify(table, delimited []catalog.CanonicalIngredient) error {
	if len(table) != len(delimited) {
		return errors.Newf("catalog row count differs: table has %d, csv has %d", len(table), len(delimited)).
			Category(errors.CategoryState).
			Build()
	}

	for i := range table {
		if col, ok := rowsEqual(&table[i], &delimited[i]); !ok {
			return errors.Newf("catalog row %d differs in column %s", i, col).
				Category(errors.CategoryState).
				Context("name_normalized", table[i].NameNormalized).
				Build()
		}
	}
	return nil
}

func rowsEqual(a, b *catalog.CanonicalIngredient) (string, bool) {
	switch {
	case a.Source != b.Source:
		return "source", false
	case a.ExternalID != b.ExternalID:
		return "fdc_id", false
	case a.Name != b.Name:
		return "name", false
	case a.NameNormalized != b.NameNormalized:
		return "name_normalized", false
	case !sameBits(a.EnergyKcal, b.EnergyKcal):
		return "energy_kcal", false
	case !sameBits(a.ProteinG, b.ProteinG):
		return "protein_g", false
	case !sameBits(a.CarbohydratesG, b.CarbohydratesG):
		return "carbohydrates_g", false
	case !sameBits(a.FatG, b.FatG):
		return "fat_g", false
	}
	return "", true
}

func sameBits(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Float64bits(*a) == math.Float64bits(*b)
}
