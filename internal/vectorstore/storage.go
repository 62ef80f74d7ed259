package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"studybuddy/internal/domain"
	"studybuddy/internal/embedding"
)

// ErrCollectionNotFound is returned by backends for operations on a collection that does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Record is a passage ready to be written to a backend.
type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata domain.PassageMetadata
}

// Backend persists vectors and supports cosine similarity search within named collections.
type Backend interface {
	CreateCollection(ctx context.Context, name string, dimension int) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	// Upsert replaces records with the same ID.
	Upsert(ctx context.Context, collection string, records []Record) error
	// Search returns at most n matches ordered by ascending cosine distance.
	Search(ctx context.Context, collection string, vector []float32, n int, filter domain.Filter) ([]domain.Match, error)
	Delete(ctx context.Context, collection string, filter domain.Filter) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// Collection describes a ready collection.
type Collection struct {
	Name     string
	Distance string
}

// Index stores passages with their embeddings and answers similarity queries.
// It owns the embedder so callers only deal in text.
type Index struct {
	backend  Backend
	embedder embedding.Embedder
	log      *zap.Logger
}

// NewIndex wires a backend and an embedder. A nil logger disables logging.
func NewIndex(backend Backend, embedder embedding.Embedder, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{backend: backend, embedder: embedder, log: log}
}

// EnsureCollection returns the named collection, creating it if needed.
// With replace set an existing collection is dropped first.
func (x *Index) EnsureCollection(ctx context.Context, name string, replace bool) (Collection, error) {
	if name == "" {
		name = domain.DefaultCollection
	}
	exists, err := x.backend.CollectionExists(ctx, name)
	if err != nil {
		return Collection{}, fmt.Errorf("%w: check collection %q: %w", domain.ErrIndex, name, err)
	}
	if exists && replace {
		if err := x.backend.DeleteCollection(ctx, name); err != nil {
			return Collection{}, fmt.Errorf("%w: drop collection %q: %w", domain.ErrIndex, name, err)
		}
		x.log.Info("collection dropped", zap.String("collection", name))
		exists = false
	}
	if !exists {
		if err := x.backend.CreateCollection(ctx, name, x.embedder.Dimension()); err != nil {
			return Collection{}, fmt.Errorf("%w: create collection %q: %w", domain.ErrIndex, name, err)
		}
		x.log.Info("collection created", zap.String("collection", name), zap.Int("dimension", x.embedder.Dimension()))
	}
	return Collection{Name: name, Distance: "cosine"}, nil
}

// AddPassages embeds and stores passages under ids "{document_id}_chunk_{i}",
// where i is the position in this batch. Re-adding the same batch overwrites.
func (x *Index) AddPassages(ctx context.Context, collection, documentID string, passages []domain.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	if collection == "" {
		collection = domain.DefaultCollection
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed passages: %w", domain.ErrIndex, err)
	}
	if len(vectors) != len(passages) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d passages", domain.ErrIndex, len(vectors), len(passages))
	}
	records := make([]Record, len(passages))
	for i, p := range passages {
		meta := p.Metadata
		meta.DocumentID = documentID
		meta.ChunkIndex = i
		records[i] = Record{
			ID:       PassageID(documentID, i),
			Text:     p.Text,
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	if err := x.backend.Upsert(ctx, collection, records); err != nil {
		return fmt.Errorf("%w: upsert into %q: %w", domain.ErrIndex, collection, err)
	}
	x.log.Debug("passages indexed",
		zap.String("collection", collection),
		zap.String("document_id", documentID),
		zap.Int("count", len(records)))
	return nil
}

// Query returns up to n passages closest to text. A collection that was never
// created yields no matches.
func (x *Index) Query(ctx context.Context, collection, text string, n int, filter domain.Filter) ([]domain.Match, error) {
	if collection == "" {
		collection = domain.DefaultCollection
	}
	if n <= 0 {
		return nil, nil
	}
	vectors, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrIndex, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one query", domain.ErrIndex, len(vectors))
	}
	matches, err := x.backend.Search(ctx, collection, vectors[0], n, filter)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %w", domain.ErrIndex, collection, err)
	}
	return matches, nil
}

// DeleteDocument removes every passage of documentID. Failures are logged, never returned.
func (x *Index) DeleteDocument(ctx context.Context, collection, documentID string) {
	if collection == "" {
		collection = domain.DefaultCollection
	}
	err := x.backend.Delete(ctx, collection, domain.Filter{DocumentID: documentID})
	switch {
	case errors.Is(err, ErrCollectionNotFound):
		x.log.Debug("delete on missing collection", zap.String("collection", collection), zap.String("document_id", documentID))
	case err != nil:
		x.log.Warn("delete document passages failed",
			zap.String("collection", collection),
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}

// Count returns the number of passages in collection, 0 when it does not exist.
func (x *Index) Count(ctx context.Context, collection string) (int, error) {
	if collection == "" {
		collection = domain.DefaultCollection
	}
	n, err := x.backend.Count(ctx, collection)
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count %q: %w", domain.ErrIndex, collection, err)
	}
	return n, nil
}

// Close releases the backend.
func (x *Index) Close() error { return x.backend.Close() }

// PassageID is the stable identifier of the i-th passage of a document.
func PassageID(documentID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, i)
}
