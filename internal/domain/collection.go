// Package domain holds the core data model shared by every component:
// collections, documents, embedding records, cache entries, queue items,
// and the transient query-analysis / execution-plan values that flow
// between the query strategy engine and the search executor.
package domain

import (
	"regexp"
	"time"
)

// EmbeddingStatus toggles whether a collection auto-generates embeddings.
type EmbeddingStatus string

const (
	EmbeddingEnabled  EmbeddingStatus = "enabled"
	EmbeddingDisabled EmbeddingStatus = "disabled"
)

// ProcessingStatus reflects a collection's background-indexing health.
type ProcessingStatus string

const (
	ProcessingIdle     ProcessingStatus = "idle"
	ProcessingRunning  ProcessingStatus = "running"
	ProcessingDegraded ProcessingStatus = "degraded"
)

// SupportedDimensions is the fixed set of embedding dimensionalities a
// collection may declare (spec §3).
var SupportedDimensions = map[int]bool{
	256: true, 384: true, 512: true, 768: true, 1024: true, 1536: true, 3072: true,
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// ValidCollectionName reports whether name satisfies the identity
// constraint: ASCII, <=50 chars, [A-Za-z0-9_-].
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// TextPreprocessing configures the C1 text-processing pipeline a
// collection applies before hashing/embedding its documents.
type TextPreprocessing struct {
	Lowercase           bool
	StripSpecialChars   bool
	MaxCharacters        int
	MaxTokens            int
	TruncationStrategy   string // head | tail | middle
	PreserveWordBoundary bool
	TruncationIndicator  string
}

// Collection is a named group of documents sharing one embedding
// configuration. Dimensions and provider/model are immutable after
// creation (spec §3 invariant).
type Collection struct {
	Name             string
	ProviderID       string
	ModelID          string
	Dimensions       int
	AutoGenerate     bool
	TextPreprocessing TextPreprocessing
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SchemaVersion    int
	EmbeddingStatus  EmbeddingStatus
	ProcessingStatus ProcessingStatus
}
