package models

import (
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace seeds deterministic chunk IDs so that reprocessing the
// same document at the same offsets always produces the same record.
var chunkNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ChunkMetadata carries provenance for citation. Source and Position are
// required; Extra is an open map for provider-specific fields.
type ChunkMetadata struct {
	Source    string            `json:"source"`
	Position  int               `json:"position"`
	DocFormat DocFormat         `json:"doc_format"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Chunk is the unit of indexing and retrieval: a bounded span of a
// document's normalized text.
type Chunk struct {
	ID       uuid.UUID
	Text     string
	Metadata ChunkMetadata
}

// ChunkID derives the deterministic ID for a chunk. The format is part
// of the identity: documents sharing a base name across acquisition
// channels (a scraped page and an OCR'd scan both named intro.md) must
// not overwrite each other in the index.
func ChunkID(source string, format DocFormat, position int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(string(format)+"/"+source+"#"+strconv.Itoa(position)))
}

// RetrievedPassage is a chunk paired with its similarity score,
// produced per query and never persisted.
type RetrievedPassage struct {
	Chunk Chunk
	Score float64
}

// Answer is a generated reply plus the passages used as evidence,
// in ranked order.
type Answer struct {
	Text    string
	Sources []RetrievedPassage
}
