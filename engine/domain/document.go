package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// MinExtractedText is the least amount of non-space text an upload must yield.
const MinExtractedText = 10

// Upload is a document-upload request as received from the HTTP layer.
type Upload struct {
	Filename      string
	OwnerIdentity string
	Content       []byte
	ChunkSize     int
	Overlap       int
}

// ValidateUpload checks an Upload before any extraction work is done.
func ValidateUpload(u Upload) error {
	if !strings.EqualFold(filepath.Ext(u.Filename), ".pdf") {
		return NewValidationError("file", u.Filename, fmt.Errorf("only PDF files are allowed"))
	}
	if strings.TrimSpace(u.OwnerIdentity) == "" {
		return NewValidationError("owner_identity", u.OwnerIdentity, fmt.Errorf("owner identity is required"))
	}
	if len(u.Content) == 0 {
		return NewValidationError("file", u.Filename, fmt.Errorf("empty file uploaded"))
	}
	return ValidateChunking(u.ChunkSize, u.Overlap)
}

// ValidateChunking requires chunkSize > overlap >= 0.
func ValidateChunking(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return NewValidationError("chunk_size", fmt.Sprint(chunkSize), fmt.Errorf("must be positive"))
	}
	if overlap < 0 || overlap >= chunkSize {
		return NewValidationError("overlap", fmt.Sprint(overlap), fmt.Errorf("must be in [0, chunk_size)"))
	}
	return nil
}

// ValidateExtractedText rejects documents with no readable text.
func ValidateExtractedText(filename, text string) error {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	if n < MinExtractedText {
		return NewValidationError("file", filename, fmt.Errorf("no readable text found in PDF"))
	}
	return nil
}
