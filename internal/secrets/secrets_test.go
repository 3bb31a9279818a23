package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	t.Setenv("NUTRIGRAPH_TEST_TOKEN", "sk-123")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"literal", "literal-value", "literal-value", false},
		{"variable", "${NUTRIGRAPH_TEST_TOKEN}", "sk-123", false},
		{"embedded", "Bearer ${NUTRIGRAPH_TEST_TOKEN}!", "Bearer sk-123!", false},
		{"fallback unused", "${NUTRIGRAPH_TEST_TOKEN:-other}", "sk-123", false},
		{"fallback used", "${NUTRIGRAPH_TEST_UNSET:-other}", "other", false},
		{"empty fallback", "${NUTRIGRAPH_TEST_UNSET:-}", "", false},
		{"missing", "${NUTRIGRAPH_TEST_UNSET}", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "NUTRIGRAPH_TEST_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "apikey")
	require.NoError(t, os.WriteFile(path, []byte(" sk-file \n"), 0o600))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, " sk-file ", got, "only trailing newlines are trimmed")
	assert.False(t, PermissiveFile(path))

	open := filepath.Join(dir, "open")
	require.NoError(t, os.WriteFile(open, []byte("x"), 0o644))
	assert.True(t, PermissiveFile(open))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = ReadFile(empty)
	require.Error(t, err)

	_, err = ReadFile(filepath.Join(dir, "missing"))
	require.Error(t, err)

	_, err = ReadFile(dir)
	require.Error(t, err, "directories are rejected")

	_, err = ReadFile("")
	require.Error(t, err)
}

func TestResolvePrefersFile(t *testing.T) {
	t.Setenv("NUTRIGRAPH_TEST_DSN", "from-env")
	path := filepath.Join(t.TempDir(), "dsn")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	got, err := Resolve(path, "${NUTRIGRAPH_TEST_DSN}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	got, err = Resolve("", "${NUTRIGRAPH_TEST_DSN}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
