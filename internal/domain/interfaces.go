package domain

import (
	"context"
	"time"
)

// DefaultCollection is the collection used when the caller does not name one.
const DefaultCollection = "documents"

// Page is the extracted text of a single PDF page. Page numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// Extraction is the result of reading a PDF file.
type Extraction struct {
	Pages    []Page
	Title    string
	Author   string
	Subject  string
	Creator  string
	NumPages int
}

// DocumentMetadata is attached to every passage of a document.
type DocumentMetadata struct {
	DocumentID  string    `json:"document_id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	NumPages    int       `json:"num_pages"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PassageMetadata is the full metadata record stored with a passage in the index.
type PassageMetadata struct {
	DocumentMetadata
	PageNumber int `json:"page_number"`
	// ChunkID counts passages across the whole document.
	ChunkID int `json:"chunk_id"`
	// ChunkIndex is the position of the passage in the batch it was indexed with.
	ChunkIndex int `json:"chunk_index"`
}

// Passage is the unit of retrieval.
type Passage struct {
	Text     string
	Metadata PassageMetadata
}

// Document is a successfully ingested PDF.
type Document struct {
	DocumentMetadata
	NumChunks  int    `json:"num_chunks"`
	Collection string `json:"collection"`
}

// Filter restricts a query or deletion by exact metadata match. The zero value matches everything.
type Filter struct {
	DocumentID string
}

// IsZero reports whether the filter matches every passage.
func (f Filter) IsZero() bool { return f.DocumentID == "" }

// Match is a single passage returned by a similarity query.
type Match struct {
	ID       string
	Text     string
	Metadata PassageMetadata
	// Distance is the cosine distance to the query, in [0, 2].
	Distance float64
}

// RetrievedChunk is a passage prepared for prompt assembly.
type RetrievedChunk struct {
	Text       string  `json:"text"`
	PageNumber int     `json:"page_number"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
}

// Source is a cited (document, page) pair.
type Source struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Similarity float64 `json:"similarity"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of caller-supplied chat history.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Answer is the result of a blocking RAG call.
type Answer struct {
	Answer      string   `json:"answer"`
	Sources     []Source `json:"sources"`
	ContextUsed int      `json:"context_used"`
}

// StreamEventType tags the elements of an answer stream.
type StreamEventType string

const (
	EventContent StreamEventType = "content"
	EventSources StreamEventType = "sources"
	EventError   StreamEventType = "error"
)

// StreamEvent is one element of an answer stream. A successful stream ends with
// exactly one EventSources element; a failed one ends with EventError.
type StreamEvent struct {
	Type        StreamEventType `json:"type"`
	Content     string          `json:"content,omitempty"`
	Sources     []Source        `json:"sources,omitempty"`
	ContextUsed int             `json:"context_used,omitempty"`
	Err         error           `json:"-"`
}

// ProcessingResult summarises one ingestion.
type ProcessingResult struct {
	DocumentID string           `json:"document_id"`
	Filename   string           `json:"filename"`
	NumPages   int              `json:"num_pages"`
	NumChunks  int              `json:"num_chunks"`
	Metadata   DocumentMetadata `json:"metadata"`
	Collection string           `json:"collection"`
	Status     string           `json:"status"`
}

// ArchivedFile is a PDF kept in durable storage.
type ArchivedFile struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	Title      string `json:"title,omitempty"`
	NumPages   int    `json:"num_pages,omitempty"`
}

// DocumentListing reports the index size and the archived files of a collection.
// The two are independent and not reconciled.
type DocumentListing struct {
	Collection  string         `json:"collection"`
	TotalChunks int            `json:"total_chunks"`
	Documents   []ArchivedFile `json:"documents"`
}

// Extractor reads per-page text and metadata from a PDF.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// Chunker splits pages into passages.
type Chunker interface {
	ChunkPages(pages []Page, doc DocumentMetadata) []Passage
}

// DeletionResult acknowledges a deletion request. Deletion is best-effort, so
// the status is "deleted" even when nothing was found.
type DeletionResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}
