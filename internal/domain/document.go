package domain

import "time"

// Document is a user payload belonging to a collection. At least one of
// Title/Content must be present; (Collection, ID) is unique.
type Document struct {
	ID         string
	Collection string
	Title      string
	Content    string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// EmbeddingRecord is the dense vector attached to a document.
type EmbeddingRecord struct {
	Collection  string
	DocumentID  string
	Vector      []float32
	ProviderID  string
	ModelID     string
	CreatedAt   time.Time
	ContentHash string
}
