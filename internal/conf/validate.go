// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateSourceSettings,
		validateCatalogSettings,
		validateEmbeddingSettings,
		validateIndexSettings,
		validateRetrievalSettings,
		validateServerSettings,
		validateTelemetrySettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSourceSettings(s *Settings) []string {
	var errs []string
	off := s.Sources.OpenFoodFacts
	if off.MaxRows <= 0 {
		errs = append(errs, "sources.openfoodfacts.maxrows must be positive")
	}
	if off.ChunkSize <= 0 {
		errs = append(errs, "sources.openfoodfacts.chunksize must be positive")
	}
	return errs
}

func validateCatalogSettings(s *Settings) []string {
	var errs []string
	switch s.Catalog.Driver {
	case DriverSQLite:
		if s.Catalog.Path == "" {
			errs = append(errs, "catalog.path is required for the sqlite driver")
		}
	case DriverMySQL:
		if s.Catalog.DSN == "" {
			errs = append(errs, "catalog.dsn is required for the mysql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.driver must be %q or %q, got %q", DriverSQLite, DriverMySQL, s.Catalog.Driver))
	}
	if s.Catalog.CSVPath == "" {
		errs = append(errs, "catalog.csvpath is required")
	}
	return errs
}

func validateEmbeddingSettings(s *Settings) []string {
	var errs []string
	e := s.Embedding

	switch e.Provider {
	case ProviderHash:
	case ProviderHTTP:
		if e.Endpoint == "" {
			errs = append(errs, "embedding.endpoint is required for the http provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("embedding.provider must be %q or %q, got %q", ProviderHash, ProviderHTTP, e.Provider))
	}

	if e.Dimension <= 0 {
		errs = append(errs, "embedding.dimension must be positive")
	}
	if e.BatchSize <= 0 {
		errs = append(errs, "embedding.batchsize must be positive")
	}
	if e.Workers < 0 {
		errs = append(errs, "embedding.workers must not be negative")
	}
	if e.MaxRetries < 0 {
		errs = append(errs, "embedding.maxretries must not be negative")
	}
	if e.MaxRetryDelay > 0 && e.RetryDelay > e.MaxRetryDelay {
		errs = append(errs, "embedding.retrydelay must not exceed embedding.maxretrydelay")
	}
	if e.RateLimit < 0 {
		errs = append(errs, "embedding.ratelimit must not be negative")
	}
	return errs
}

func validateIndexSettings(s *Settings) []string {
	var errs []string
	if s.Index.Path == "" {
		errs = append(errs, "index.path is required")
	}
	if strings.TrimSpace(s.Index.Collection) == "" {
		errs = append(errs, "index.collection is required")
	}
	if s.Index.TopN <= 0 {
		errs = append(errs, "index.topn must be positive")
	}
	return errs
}

func validateRetrievalSettings(s *Settings) []string {
	var errs []string
	r := s.Retrieval
	if r.MaxK <= 0 {
		errs = append(errs, "retrieval.maxk must be positive")
	}
	if r.DefaultK <= 0 || (r.MaxK > 0 && r.DefaultK > r.MaxK) {
		errs = append(errs, fmt.Sprintf("retrieval.defaultk must be between 1 and %d", r.MaxK))
	}
	if r.KeywordBoost < 0 || r.KeywordBoost > 1 {
		errs = append(errs, "retrieval.keywordboost must be between 0 and 1")
	}
	return errs
}

func validateServerSettings(s *Settings) []string {
	var errs []string
	if _, _, err := net.SplitHostPort(s.Server.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("server.listen %q is not host:port", s.Server.Listen))
	}
	if s.Server.ReadTimeout < 0 || s.Server.WriteTimeout < 0 || s.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server timeouts must not be negative")
	}
	return errs
}

func validateTelemetrySettings(s *Settings) []string {
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		return []string{"telemetry.dsn is required when telemetry is enabled"}
	}
	return nil
}
