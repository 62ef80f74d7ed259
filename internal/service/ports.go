package service

import (
	"context"

	"studybuddy/internal/domain"
	"studybuddy/internal/vectorstore"
)

// PassageIndex is the part of vectorstore.Index the services depend on.
type PassageIndex interface {
	EnsureCollection(ctx context.Context, name string, replace bool) (vectorstore.Collection, error)
	AddPassages(ctx context.Context, collection, documentID string, passages []domain.Passage) error
	Query(ctx context.Context, collection, text string, n int, filter domain.Filter) ([]domain.Match, error)
	DeleteDocument(ctx context.Context, collection, documentID string)
	Count(ctx context.Context, collection string) (int, error)
}

// FileArchive keeps the original PDFs keyed by document id.
type FileArchive interface {
	Store(ctx context.Context, src, documentID string) (string, error)
	Remove(ctx context.Context, documentID string) (bool, error)
	List(ctx context.Context) ([]domain.ArchivedFile, error)
}

// DocumentCatalog records ingested documents.
type DocumentCatalog interface {
	Save(ctx context.Context, doc domain.Document) error
	Delete(ctx context.Context, documentID string) error
	List(ctx context.Context, collection string) ([]domain.Document, error)
}

// ProgressReporter is told when an ingestion enters its next stage.
type ProgressReporter interface {
	Advance(message string)
}

type nopReporter struct{}

func (nopReporter) Advance(string) {}
