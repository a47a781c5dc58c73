package ingest

import (
	"time"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

// extracted is an upload after PDF text extraction and normalisation.
type extracted struct {
	Upload   domain.Upload
	Document domain.Document
	Text     string
}

// chunked is an extracted document split into chunks.
type chunked struct {
	extracted
	Chunks []domain.Chunk
}

// embedded pairs every chunk with the vector computed from its text.
type embedded struct {
	chunked
	Vectors [][]float32
}

// Report is returned to the uploader.
type Report struct {
	Status              string    `json:"status"`
	DocumentID          string    `json:"document_id"`
	Filename            string    `json:"filename"`
	OwnerIdentity       string    `json:"owner_identity"`
	FileSizeBytes       int       `json:"file_size_bytes"`
	ExtractedTextLength int       `json:"extracted_text_length"`
	TotalChunks         int       `json:"total_chunks"`
	ChunksStored        int       `json:"chunks_stored"`
	ChunkSize           int       `json:"chunk_size"`
	Overlap             int       `json:"overlap"`
	CreatedAt           time.Time `json:"created_at"`
}

// DocumentIngested is announced on SubjectIngested after a successful upload.
type DocumentIngested struct {
	DocumentID    string    `json:"document_id"`
	Filename      string    `json:"filename"`
	OwnerIdentity string    `json:"owner_identity"`
	Chunks        int       `json:"chunks"`
	CreatedAt     time.Time `json:"created_at"`
}

// Request is a queued upload carried over NATS.
type Request struct {
	Filename      string `json:"filename"`
	OwnerIdentity string `json:"owner_identity"`
	Content       []byte `json:"content"`
	ChunkSize     int    `json:"chunk_size"`
	Overlap       int    `json:"overlap"`
}

// Reply answers a queued Request.
type Reply struct {
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
	Status int     `json:"status"`
}
