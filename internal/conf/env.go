// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/secrets"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings lists variables that are checked before use. Every other
// key is still reachable through AutomaticEnv, e.g. NUTRIGRAPH_INDEX_TOPN.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"embedding.provider", "NUTRIGRAPH_EMBEDDING_PROVIDER", validateEnvProvider},
		{"embedding.endpoint", "NUTRIGRAPH_EMBEDDING_ENDPOINT", validateEnvURL},
		{"embedding.apikey", "NUTRIGRAPH_EMBEDDING_APIKEY", validateEnvSecret},
		{"embedding.workers", "NUTRIGRAPH_EMBEDDING_WORKERS", validateEnvNonNegativeInt},

		{"catalog.driver", "NUTRIGRAPH_CATALOG_DRIVER", validateEnvDriver},
		{"catalog.dsn", "NUTRIGRAPH_CATALOG_DSN", nil},

		{"telemetry.enabled", "NUTRIGRAPH_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "NUTRIGRAPH_TELEMETRY_DSN", validateEnvURL},

		{"server.listen", "NUTRIGRAPH_SERVER_LISTEN", nil},
		{"debug", "NUTRIGRAPH_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					// secrets never appear in the message
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvProvider(value string) error {
	switch value {
	case ProviderHash, ProviderHTTP:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", ProviderHash, ProviderHTTP)
	}
}

func validateEnvDriver(value string) error {
	switch value {
	case DriverSQLite, DriverMySQL:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", DriverSQLite, DriverMySQL)
	}
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

// validateEnvSecret rejects values that were obviously pasted with quotes or whitespace
func validateEnvSecret(value string) error {
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("must not have leading or trailing whitespace")
	}
	if strings.HasPrefix(value, `"`) || strings.HasPrefix(value, "'") {
		return fmt.Errorf("must not be quoted")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}

// resolveSecrets expands the credential settings in place. A secret file
// takes precedence over the inline value.
func resolveSecrets(s *Settings) error {
	apiKey, err := secrets.Resolve(s.Embedding.APIKeyFile, s.Embedding.APIKey)
	if err != nil {
		return fmt.Errorf("embedding.apikey: %w", err)
	}
	s.Embedding.APIKey = apiKey

	dsn, err := secrets.Resolve(s.Catalog.DSNFile, s.Catalog.DSN)
	if err != nil {
		return fmt.Errorf("catalog.dsn: %w", err)
	}
	s.Catalog.DSN = dsn

	for _, path := range []string{s.Embedding.APIKeyFile, s.Catalog.DSNFile} {
		if path != "" && secrets.PermissiveFile(path) {
			logger.Global().Module("config").Warn("secret file is readable by group or other",
				logger.String("path", path))
		}
	}
	return nil
}
