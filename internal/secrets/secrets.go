// Package secrets resolves credential settings such as the embedding API key
// and the mysql DSN. A value may reference environment variables with
// ${VAR} or ${VAR:-fallback}, or come from a mounted secret file.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// maxFileSize bounds secret file reads, secrets are tokens and DSNs
const maxFileSize = 64 * 1024

// ExpandString replaces ${VAR} and ${VAR:-fallback} references with their
// environment values. A reference without a fallback to an unset variable
// is an error naming the variable, never its value.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from a regular file, dropping trailing newlines.
// Files readable by group or other are accepted; the caller decides whether
// to warn through PermissiveFile.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.ValidationError("secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(errors.NewStd("not a regular file"), clean)
	}
	if info.Size() > maxFileSize {
		return "", fileError(errors.NewStd("secret file too large"), clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(err, clean)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(errors.NewStd("secret file is empty"), clean)
	}
	return secret, nil
}

// PermissiveFile reports whether a secret file grants any access beyond its owner
func PermissiveFile(path string) bool {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o077 != 0
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded. Both empty resolves to "".
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
