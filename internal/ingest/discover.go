package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// Raw directory layout written by the downloader
const (
	FoundationDir     = "foundation_food"
	SRLegacyDir       = "sr_legacy"
	OpenFoodFactsFile = "en.openfoodfacts.org.products.csv.gz"
)

// DiscoverJSON returns every *.json file under dir in lexical order.
// A missing dir yields no files and no error.
func DiscoverJSON(dir string) ([]string, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("operation", "discover-json").
			Build()
	}

	// WalkDir already visits entries in lexical order
	return files, nil
}

// SourceLocation maps a source to its raw file or directory under rawDir
func SourceLocation(rawDir string, source SourceID) string {
	switch source {
	case SourceFoundation:
		return filepath.Join(rawDir, FoundationDir)
	case SourceSRLegacy:
		return filepath.Join(rawDir, SRLegacyDir)
	default:
		return filepath.Join(rawDir, OpenFoodFactsFile)
	}
}
