package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nutrigraph/internal/buildinfo"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/ingest"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

const foundationFixture = `{"FoundationFoods": [
  {"fdcId": 100, "description": "Hummus, commercial", "foodNutrients": [
    {"nutrient": {"id": 1008}, "amount": 229},
    {"nutrient": {"id": 1003}, "amount": 7.35}]},
  {"fdcId": 101, "description": "Kale, raw", "foodNutrients": [
    {"nutrient": {"id": 1008}, "amount": 35},
    {"nutrient": {"id": 1005}, "amount": 4.42}]}
]}`

// writeConfig lays out a workspace under a temp dir and returns the config path
func writeConfig(t *testing.T) (configPath, rawDir string) {
	t.Helper()
	dir := t.TempDir()
	rawDir = filepath.Join(dir, "raw")
	processed := filepath.Join(dir, "processed")
	configPath = filepath.Join(dir, "config.yaml")

	config := fmt.Sprintf(`
logging:
  defaultlevel: error
  console:
    enabled: true
    level: error
data:
  rawdir: %q
  processeddir: %q
embedding:
  provider: hash
  dimension: 64
  cachettl: 0s
`, rawDir, processed)
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return configPath, rawDir
}

// execute runs one CLI invocation the way main does
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	appCtx := runtime.NewContext(buildinfo.NewContext("test", "today"))
	defer Shutdown(appCtx)

	root := RootCommand(appCtx)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCleanIndexQuery(t *testing.T) {
	configPath, rawDir := writeConfig(t)
	foundation := filepath.Join(ingest.SourceLocation(rawDir, ingest.SourceFoundation), "foundation.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(foundation), 0o755))
	require.NoError(t, os.WriteFile(foundation, []byte(foundationFixture), 0o644))

	out, err := execute(t, "--config", configPath, "clean")
	require.NoError(t, err, out)
	assert.Contains(t, out, "catalog: 2 rows")
	assert.Contains(t, out, "FAILED", "the missing sources are reported")

	out, err = execute(t, "--config", configPath, "index", "-n", "10", "--recreate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "indexed 2 of 2")

	out, err = execute(t, "--config", configPath, "query", "kale,", "raw", "-k", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Kale, raw")
	assert.Contains(t, out, "usda_foundation")
	assert.NotContains(t, out, "Hummus")
}

func TestCleanWithNoSourcesFails(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, err := execute(t, "--config", configPath, "clean")
	require.Error(t, err)
	assert.Equal(t, ExitSourceFormat, ExitCode(err))
}

func TestQueryWithoutIndexFails(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, err := execute(t, "--config", configPath, "query", "kale")
	require.Error(t, err)
	assert.Equal(t, ExitIndexUnavailable, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"index", errors.IndexUnavailableError(errors.NewStd("locked"), "open"), ExitIndexUnavailable},
		{"embedding", errors.EmbeddingFailureError(errors.NewStd("refused"), "http:minilm", 4), ExitEmbeddingFailure},
		{"sources", errors.SourceFormatError(errors.NewStd("no root key"), "foundation", "x.json"), ExitSourceFormat},
		{"validation", errors.ValidationError("bad"), ExitConfiguration},
		{"other", errors.NewStd("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
