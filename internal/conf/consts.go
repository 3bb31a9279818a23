package conf

// Catalog drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Embedding providers
const (
	ProviderHash = "hash"
	ProviderHTTP = "http"
)

// DefaultCollection is the vector index collection name
const DefaultCollection = "nutrigraph_ingredients"

// EnvPrefix prefixes every environment variable override
const EnvPrefix = "NUTRIGRAPH"
