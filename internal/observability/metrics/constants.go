// Package metrics provides constants used across metric definitions.
package metrics

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
	// StatusEmpty marks a query that succeeded with no results
	StatusEmpty = "empty"
)

// Pipeline stages, used as the "stage" label
const (
	StageParse     = "parse"
	StageDedupe    = "dedupe"
	StageWrite     = "write"
	StageVerify    = "verify"
	StageSelect    = "select"
	StageEmbed     = "embed"
	StageIndex     = "index"
	StageDownload  = "download"
	StageQuery     = "query"
	StageQueryEmbd = "query_embed"
)

// Histogram bucket parameters
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~32s range).
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
