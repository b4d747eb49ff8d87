// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Facility operation label values used when recording facility client operations.
// These keep the "operation" label on facility metrics to a fixed, low-cardinality set.
const (
	// FacilityOpSubmit represents submission of a new observation request.
	FacilityOpSubmit = "submit"
	// FacilityOpDelete represents withdrawal of an observation request.
	FacilityOpDelete = "delete"
)

// Search pipeline stage label values used when recording similarity search timings.
const (
	// SearchStageEmbedding covers the embedding API round trip.
	SearchStageEmbedding = "embedding"
	// SearchStageVectorQuery covers the vector database query.
	SearchStageVectorQuery = "vector_query"
	// SearchStageTotal covers the whole search pipeline end to end.
	SearchStageTotal = "total"
)

// Document direction label values for facility payload size metrics.
const (
	// DirectionRequest labels documents sent to a facility.
	DirectionRequest = "request"
	// DirectionResponse labels documents received from a facility.
	DirectionResponse = "response"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0
	// BucketStart100B is the starting bucket for 100 byte histograms (100B to ~100MB range).
	BucketStart100B = 100.0
	// BucketStart1KB is the starting bucket for 1KB histograms (1KB to ~1GB range).
	BucketStart1KB = 1024.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor10 is the exponential growth factor of 10 for larger ranges.
	BucketFactor10 = 10

	// BucketCount6 defines 6 exponential buckets.
	BucketCount6 = 6
	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// Time and conversion constants.
const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)
