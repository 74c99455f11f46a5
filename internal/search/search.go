package search

import (
	"context"
	"time"
)

// DocumentMetadata describes the dataset behind an indexed document.
type DocumentMetadata struct {
	FilePath   string    `json:"file_path"`
	FileName   string    `json:"file_name"`
	Columns    []string  `json:"columns,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// Document is a dataset descriptor ranked by similarity to a query.
type Document struct {
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Service is the semantic-search collaborator. It may return fewer than k
// documents, including zero.
type Service interface {
	Search(ctx context.Context, query string, k int) ([]Document, error)
}
