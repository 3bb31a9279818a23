// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.fileoutput.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.fileoutput.path", logger.DefaultLogPath)
	viper.SetDefault("logging.fileoutput.level", logger.DefaultLogLevel)

	viper.SetDefault("data.rawdir", "data/raw")
	viper.SetDefault("data.processeddir", "data/processed")

	viper.SetDefault("sources.openfoodfacts.maxrows", 100_000)
	viper.SetDefault("sources.openfoodfacts.chunksize", 50_000)

	viper.SetDefault("catalog.driver", DriverSQLite)
	viper.SetDefault("catalog.path", "ingredients_clean.db")
	viper.SetDefault("catalog.dsn", "")
	viper.SetDefault("catalog.dsnfile", "")
	viper.SetDefault("catalog.csvpath", "ingredients_clean.csv")

	viper.SetDefault("embedding.provider", ProviderHash)
	viper.SetDefault("embedding.dimension", 384)
	viper.SetDefault("embedding.batchsize", 64)
	viper.SetDefault("embedding.workers", 0)
	viper.SetDefault("embedding.maxretries", 3)
	viper.SetDefault("embedding.retrydelay", 200*time.Millisecond)
	viper.SetDefault("embedding.maxretrydelay", 5*time.Second)
	viper.SetDefault("embedding.timeout", 10*time.Second)
	viper.SetDefault("embedding.endpoint", "http://localhost:8080/v1/embeddings")
	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.apikey", "")
	viper.SetDefault("embedding.apikeyfile", "")
	viper.SetDefault("embedding.cachettl", 10*time.Minute)
	viper.SetDefault("embedding.ratelimit", 0.0)

	viper.SetDefault("index.path", "nutrigraph_index.db")
	viper.SetDefault("index.collection", DefaultCollection)
	viper.SetDefault("index.topn", 1000)
	viper.SetDefault("index.opentimeout", time.Second)

	viper.SetDefault("retrieval.defaultk", 5)
	viper.SetDefault("retrieval.maxk", 50)
	viper.SetDefault("retrieval.querytimeout", 5*time.Second)
	viper.SetDefault("retrieval.keywordboost", 0.0)

	viper.SetDefault("server.listen", ":8000")
	viper.SetDefault("server.debug", false)
	viper.SetDefault("server.allowedorigins", []string{"*"})
	viper.SetDefault("server.bodylimit", "1M")
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.shutdowntimeout", 10*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")

	viper.SetDefault("download.foundationurl", "https://fdc.nal.usda.gov/fdc-datasets/FoodData_Central_foundation_food_json_2025-12-18.zip")
	viper.SetDefault("download.srlegacyurl", "https://fdc.nal.usda.gov/fdc-datasets/FoodData_Central_sr_legacy_food_json_2018-04.zip")
	viper.SetDefault("download.openfoodfactsurl", "https://static.openfoodfacts.org/data/en.openfoodfacts.org.products.csv.gz")
	viper.SetDefault("download.timeout", time.Duration(0))
}
