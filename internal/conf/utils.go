package conf

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in search order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "nutrigraph"),
		"/etc/nutrigraph",
	}, nil
}

// defaultConfigDir is where a default config is created when none exists
func defaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}
	return filepath.Join(homeDir, ".config", "nutrigraph"), nil
}

// ConfigFileUsed returns the path of the config file viper loaded, or ""
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
