// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root configuration
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug logging

	Logging logger.LoggingConfig `yaml:"logging"`

	Data      DataSettings      `yaml:"data"`
	Sources   SourcesSettings   `yaml:"sources"`
	Catalog   CatalogSettings   `yaml:"catalog"`
	Embedding EmbeddingSettings `yaml:"embedding"`
	Index     IndexSettings     `yaml:"index"`
	Retrieval RetrievalSettings `yaml:"retrieval"`
	Server    ServerSettings    `yaml:"server"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
	Download  DownloadSettings  `yaml:"download"`
}

// DataSettings locates raw inputs and processed outputs
type DataSettings struct {
	RawDir       string `yaml:"rawdir"`       // downloaded datasets
	ProcessedDir string `yaml:"processeddir"` // catalog and index files
}

// SourcesSettings tunes per-source ingestion
type SourcesSettings struct {
	OpenFoodFacts OpenFoodFactsSettings `yaml:"openfoodfacts"`
}

// OpenFoodFactsSettings bounds ingestion of the OpenFoodFacts export
type OpenFoodFactsSettings struct {
	MaxRows   int `yaml:"maxrows"`   // stop after this many accepted rows
	ChunkSize int `yaml:"chunksize"` // rows read per window
}

// CatalogSettings controls where the cleaned catalog is written
type CatalogSettings struct {
	Driver  string `yaml:"driver"`  // sqlite or mysql
	Path    string `yaml:"path"`    // sqlite database file
	DSN     string `yaml:"dsn"`     // mysql data source name, may reference ${VAR}
	DSNFile string `yaml:"dsnfile"` // secret file holding the DSN, wins over dsn
	CSVPath string `yaml:"csvpath"` // delimited copy of the catalog
}

// EmbeddingSettings selects and tunes the text embedder
type EmbeddingSettings struct {
	Provider      string        `yaml:"provider"`      // hash or http
	Dimension     int           `yaml:"dimension"`     // vector length
	BatchSize     int           `yaml:"batchsize"`     // texts per embedding call
	Workers       int           `yaml:"workers"`       // concurrent batches, 0 means NumCPU
	MaxRetries    int           `yaml:"maxretries"`    // retries per batch after the first attempt
	RetryDelay    time.Duration `yaml:"retrydelay"`    // initial backoff
	MaxRetryDelay time.Duration `yaml:"maxretrydelay"` // backoff ceiling
	Timeout       time.Duration `yaml:"timeout"`       // per-call timeout on the query path
	Endpoint      string        `yaml:"endpoint"`      // OpenAI-compatible embeddings URL
	Model         string        `yaml:"model"`         // model name sent to the endpoint
	APIKey        string        `yaml:"apikey"`        // bearer token for the endpoint, may reference ${VAR}
	APIKeyFile    string        `yaml:"apikeyfile"`    // secret file holding the token, wins over apikey
	CacheTTL      time.Duration `yaml:"cachettl"`      // query embedding cache lifetime, 0 disables
	RateLimit     float64       `yaml:"ratelimit"`     // requests per second to the endpoint, 0 is unlimited
}

// IndexSettings controls the persisted vector index
type IndexSettings struct {
	Path        string        `yaml:"path"`        // bbolt file
	Collection  string        `yaml:"collection"`  // bucket name
	TopN        int           `yaml:"topn"`        // working set size
	OpenTimeout time.Duration `yaml:"opentimeout"` // wait for the file lock
}

// RetrievalSettings controls the query path
type RetrievalSettings struct {
	DefaultK     int           `yaml:"defaultk"`
	MaxK         int           `yaml:"maxk"`
	QueryTimeout time.Duration `yaml:"querytimeout"`
	KeywordBoost float64       `yaml:"keywordboost"` // added when the name contains the query, 0 disables
}

// ServerSettings controls the HTTP API
type ServerSettings struct {
	Listen          string        `yaml:"listen"`
	Debug           bool          `yaml:"debug"`
	AllowedOrigins  []string      `yaml:"allowedorigins"`  // CORS, empty allows any origin
	BodyLimit       string        `yaml:"bodylimit"`       // e.g. "1M"
	ReadTimeout     time.Duration `yaml:"readtimeout"`
	WriteTimeout    time.Duration `yaml:"writetimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdowntimeout"` // grace period for in-flight requests
}

// TelemetrySettings controls error reporting to Sentry
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// DownloadSettings lists the upstream dataset locations
type DownloadSettings struct {
	FoundationURL    string        `yaml:"foundationurl"`
	SRLegacyURL      string        `yaml:"srlegacyurl"`
	OpenFoodFactsURL string        `yaml:"openfoodfactsurl"`
	Timeout          time.Duration `yaml:"timeout"` // per-file timeout, 0 means none
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
// A non-empty configFile replaces the search path lookup.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds the environment and reads the config file.
// A missing file in the search path is created from the embedded default.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &configFileNotFoundError) {
			dir, dirErr := defaultConfigDir()
			if dirErr != nil {
				return dirErr
			}
			return createDefaultConfig(dir)
		}
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the settings loaded by Load, or nil
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SyncViper copies flag-overridable values from viper back into settings.
// Cobra binds flags into viper, so after flag parsing viper holds the
// values that take precedence.
func SyncViper(settings *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings.Debug = viper.GetBool("debug")
	settings.Index.TopN = viper.GetInt("index.topn")
	settings.Retrieval.DefaultK = viper.GetInt("retrieval.defaultk")
	settings.Server.Listen = viper.GetString("server.listen")

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}
}

// CatalogPath returns the configured sqlite path, resolving a bare file
// name against the processed data directory.
func (s *Settings) CatalogPath() string {
	return resolveDataPath(s.Data.ProcessedDir, s.Catalog.Path)
}

// CatalogCSVPath returns the CSV copy's path.
func (s *Settings) CatalogCSVPath() string {
	return resolveDataPath(s.Data.ProcessedDir, s.Catalog.CSVPath)
}

// IndexPath returns the bbolt index file path.
func (s *Settings) IndexPath() string {
	return resolveDataPath(s.Data.ProcessedDir, s.Index.Path)
}

func resolveDataPath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || filepath.Base(path) != path {
		return path
	}
	return filepath.Join(dir, path)
}
