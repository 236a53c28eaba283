// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Recognition constants
const (
	// DefaultDistanceThreshold is the default maximum distance for an identity match.
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.4

	// UnknownName is reported for faces that match no registered identity
	UnknownName = "Unknown"

	// UnknownDistance is the sentinel distance reported together with UnknownName.
	// It is a convention, not a measured value.
	UnknownDistance = 1.0

	// ReportPrecision is the number of decimals used for reported scores
	ReportPrecision = 3
)

// Gallery constants
const (
	// RepresentationsPrefix is the filename prefix of the serialized representation table
	RepresentationsPrefix = "representations_"

	// RepresentationsExt is the extension of the serialized representation table
	RepresentationsExt = ".gob"

	// DefaultImageExt is used for uploads without a filename extension
	DefaultImageExt = ".jpg"

	// ReferenceFilePrefix prefixes every stored reference image
	ReferenceFilePrefix = "face_"

	// MaxIdentityNameLength is the maximum length of an identity name in bytes
	MaxIdentityNameLength = 128

	// MaxRebuildAttempts bounds how often a rebuild is retried when the store
	// changes while the rebuild is in flight
	MaxRebuildAttempts = 3

	// DefaultRebuildWorkers is the default number of parallel reference embeddings
	DefaultRebuildWorkers = 4

	// GenerationFile holds the store generation shared by every process on one store root
	GenerationFile = ".generation"

	// GenerationLockStale is the age after which a leftover generation lock is broken
	GenerationLockStale = 10 * time.Second

	// LeftoverGracePeriod is how old a staging or trash directory must be before
	// a starting process removes it. Younger ones may belong to a live process.
	LeftoverGracePeriod = time.Hour
)

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchCandidates is the number of neighbours requested from the graph
	// before the exact distances are recomputed.
	HNSWSearchCandidates = 8
)

// Recognition fan-out
const (
	// DefaultMatchConcurrency is the number of faces of one frame matched in parallel
	DefaultMatchConcurrency = 4
)

// File upload constants
const (
	// MaxUploadSize is the maximum file upload size in bytes (100MB)
	MaxUploadSize = 100 << 20
)
