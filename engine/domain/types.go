// Package domain defines the core types, error taxonomy, and boundary
// validation shared by the ingestion path and the call path.
package domain

import "time"

// Document is an uploaded file. Re-uploading produces a new Document.
type Document struct {
	ID            string    `json:"document_id"`
	Filename      string    `json:"filename"`
	OwnerIdentity string    `json:"owner_identity"`
	CreatedAt     time.Time `json:"created_at"`
}

// Chunk is a slice of a document's normalised text. Index is the position
// of the chunk inside its document; Offset is its first character in the
// normalised text.
type Chunk struct {
	ID         string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Offset     int    `json:"offset"`
	Text       string `json:"text"`
	Length     int    `json:"length"`
}

// Payload is the metadata stored with every index point.
type Payload struct {
	Text          string    `json:"text"`
	OwnerIdentity string    `json:"owner_identity"`
	Filename      string    `json:"filename"`
	DocumentID    string    `json:"document_id"`
	ChunkIndex    int       `json:"chunk_index"`
	ChunkLength   int       `json:"chunk_length"`
	CreatedAt     time.Time `json:"created_at"`
}

// IndexPoint is a vector plus payload. Its ID is minted per point and is
// independent of the chunk ID.
type IndexPoint struct {
	ID      string    `json:"point_id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// SearchResult is a single nearest-neighbour hit.
type SearchResult struct {
	PointID string  `json:"point_id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// Citation identifies a chunk that contributed to an answer.
type Citation struct {
	Filename   string    `json:"filename"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// Confidence grades an answer by the similarity of the context it used.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceError  Confidence = "error"
)

// AnswerStatus is "success" unless the completion provider failed.
type AnswerStatus string

const (
	StatusSuccess AnswerStatus = "success"
	StatusError   AnswerStatus = "error"
)

// Answer is the result of one question against the corpus.
type Answer struct {
	Status     AnswerStatus `json:"status"`
	Text       string       `json:"answer"`
	Sources    []Citation   `json:"sources"`
	Confidence Confidence   `json:"confidence"`
	Query      string       `json:"query"`

	TotalSourcesFound int     `json:"total_sources_found"`
	ContextUsed       int     `json:"context_used"`
	AverageScore      float64 `json:"average_similarity_score"`
}
