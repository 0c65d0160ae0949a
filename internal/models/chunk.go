package models

import (
	"fmt"
	"strconv"
	"time"
)

// ChunkMetadata is the provenance attached to every stored chunk.
type ChunkMetadata struct {
	Source     string    `json:"source"`
	Type       string    `json:"type"`
	Chunk      int       `json:"chunk"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Chunk represents a piece of extracted text with metadata
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Key identifies a chunk as source:chunk.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s:%d", c.Metadata.Source, c.Metadata.Chunk)
}

// Citation projects the chunk metadata for display.
func (c Chunk) Citation() SourceCitation {
	return SourceCitation{
		Source: c.Metadata.Source,
		Chunk:  c.Metadata.Chunk,
		Type:   c.Metadata.Type,
	}
}

// SourceCitation is shown to the user next to an answer.
type SourceCitation struct {
	Source string `json:"source"`
	Chunk  int    `json:"chunk"`
	Type   string `json:"type"`
}

// Record is a chunk ready to be upserted into a vector index.
type Record struct {
	ID        string
	Chunk     Chunk
	Embedding []float32
}

// Match is a chunk returned by a similarity query.
type Match struct {
	ID    string
	Chunk Chunk
	Score float32
}

// metadata keys used by stores that keep flat string maps
const (
	MetaSource     = "source"
	MetaType       = "type"
	MetaChunk      = "chunk"
	MetaUploadedAt = "uploaded_at"
	MetaNamespace  = "namespace"
)

// ToMap flattens the metadata for stores with string-only metadata.
func (m ChunkMetadata) ToMap() map[string]string {
	return map[string]string{
		MetaSource:     m.Source,
		MetaType:       m.Type,
		MetaChunk:      strconv.Itoa(m.Chunk),
		MetaUploadedAt: m.UploadedAt.UTC().Format(time.RFC3339),
	}
}

// MetadataFromMap is the inverse of ToMap. Unparsable fields are left zero.
func MetadataFromMap(m map[string]string) ChunkMetadata {
	meta := ChunkMetadata{
		Source: m[MetaSource],
		Type:   m[MetaType],
	}
	if n, err := strconv.Atoi(m[MetaChunk]); err == nil {
		meta.Chunk = n
	}
	if ts, err := time.Parse(time.RFC3339, m[MetaUploadedAt]); err == nil {
		meta.UploadedAt = ts
	}
	return meta
}
