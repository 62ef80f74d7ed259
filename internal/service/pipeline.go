package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"studybuddy/internal/domain"
)

const tracerName = "studybuddy/service"

// Pipeline drives documents through extraction, chunking, indexing and archival.
type Pipeline struct {
	extractor  domain.Extractor
	chunker    domain.Chunker
	index      PassageIndex
	archive    FileArchive
	catalog    DocumentCatalog
	collection string
	log        *zap.Logger
	now        func() time.Time
}

type PipelineOption func(*Pipeline)

// WithCatalog records every ingested document in c.
func WithCatalog(c DocumentCatalog) PipelineOption {
	return func(p *Pipeline) { p.catalog = c }
}

// WithCollection changes the default collection.
func WithCollection(name string) PipelineOption {
	return func(p *Pipeline) {
		if name != "" {
			p.collection = name
		}
	}
}

// WithClock replaces time.Now for processed_at timestamps.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(extractor domain.Extractor, chunker domain.Chunker, index PassageIndex, archive FileArchive, log *zap.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		extractor:  extractor,
		chunker:    chunker,
		index:      index,
		archive:    archive,
		collection: domain.DefaultCollection,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessOptions tunes a single ingestion. The zero value is valid.
type ProcessOptions struct {
	// DocumentID defaults to the file name without extension.
	DocumentID string
	Collection string
	Progress   ProgressReporter
}

// ProcessDocument ingests one PDF. Each step requires the previous one to
// succeed; the source is archived only after its passages are indexed, so an
// indexing failure leaves nothing to clean up in the archive.
func (p *Pipeline) ProcessDocument(ctx context.Context, path string, opts ProcessOptions) (*domain.ProcessingResult, error) {
	filename := filepath.Base(path)
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	documentID := opts.DocumentID
	if documentID == "" {
		documentID = stem
	}
	collection := opts.Collection
	if collection == "" {
		collection = p.collection
	}
	progress := opts.Progress
	if progress == nil {
		progress = nopReporter{}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.process_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", documentID),
		attribute.String("document.filename", filename),
		attribute.String("collection", collection),
	)
	fail := func(err error) (*domain.ProcessingResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Error("ingestion failed", zap.String("document_id", documentID), zap.String("path", path), zap.Error(err))
		return nil, err
	}

	log := p.log.With(zap.String("document_id", documentID), zap.String("collection", collection))
	log.Info("processing document", zap.String("path", path))
	progress.Advance("File uploaded successfully")

	progress.Advance("Extracting text from PDF...")
	extraction, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return fail(err)
	}

	meta := domain.DocumentMetadata{
		DocumentID:  documentID,
		Filename:    filename,
		Title:       extraction.Title,
		Author:      extraction.Author,
		NumPages:    extraction.NumPages,
		ProcessedAt: p.now(),
	}
	if meta.Title == "" {
		meta.Title = stem
	}

	progress.Advance("Chunking text for processing...")
	passages := p.chunker.ChunkPages(extraction.Pages, meta)
	log.Debug("document chunked", zap.Int("pages", len(extraction.Pages)), zap.Int("passages", len(passages)))

	progress.Advance("Generating embeddings...")
	if _, err := p.index.EnsureCollection(ctx, collection, false); err != nil {
		return fail(err)
	}
	if err := p.index.AddPassages(ctx, collection, documentID, passages); err != nil {
		return fail(err)
	}

	progress.Advance("Storing in database...")
	if _, err := p.archive.Store(ctx, path, documentID); err != nil {
		return fail(fmt.Errorf("archive %s: %w", filename, err))
	}
	if p.catalog != nil {
		doc := domain.Document{DocumentMetadata: meta, NumChunks: len(passages), Collection: collection}
		if err := p.catalog.Save(ctx, doc); err != nil {
			log.Warn("catalog write failed", zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("document.num_chunks", len(passages)))
	log.Info("document processed", zap.Int("num_pages", meta.NumPages), zap.Int("num_chunks", len(passages)))
	return &domain.ProcessingResult{
		DocumentID: documentID,
		Filename:   filename,
		NumPages:   extraction.NumPages,
		NumChunks:  len(passages),
		Metadata:   meta,
		Collection: collection,
		Status:     "success",
	}, nil
}

// DeleteDocument removes the passages and the archived file of documentID.
// Both halves are best-effort and failures are only logged.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID, collection string) domain.DeletionResult {
	if collection == "" {
		collection = p.collection
	}
	log := p.log.With(zap.String("document_id", documentID), zap.String("collection", collection))

	p.index.DeleteDocument(ctx, collection, documentID)
	removed, err := p.archive.Remove(ctx, documentID)
	if err != nil {
		log.Warn("archive removal failed", zap.Error(err))
	}
	if p.catalog != nil {
		if err := p.catalog.Delete(ctx, documentID); err != nil {
			log.Warn("catalog delete failed", zap.Error(err))
		}
	}
	log.Info("document deleted", zap.Bool("archived_file_removed", removed))
	return domain.DeletionResult{DocumentID: documentID, Status: "deleted"}
}

// ListDocuments reports the passage count of collection and the archived files.
// The two sources are not reconciled. Catalog details are added where known.
func (p *Pipeline) ListDocuments(ctx context.Context, collection string) (*domain.DocumentListing, error) {
	if collection == "" {
		collection = p.collection
	}
	count, err := p.index.Count(ctx, collection)
	if err != nil {
		return nil, err
	}
	files, err := p.archive.List(ctx)
	if err != nil {
		return nil, err
	}
	if p.catalog != nil && len(files) > 0 {
		p.annotate(ctx, files)
	}
	if files == nil {
		files = []domain.ArchivedFile{}
	}
	return &domain.DocumentListing{Collection: collection, TotalChunks: count, Documents: files}, nil
}

func (p *Pipeline) annotate(ctx context.Context, files []domain.ArchivedFile) {
	docs, err := p.catalog.List(ctx, "")
	if err != nil {
		p.log.Warn("catalog read failed", zap.Error(err))
		return
	}
	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		byID[d.DocumentID] = d
	}
	for i := range files {
		if d, ok := byID[files[i].DocumentID]; ok {
			files[i].Title = d.Title
			files[i].NumPages = d.NumPages
		}
	}
}

// QueryDocuments is a raw similarity search over collection.
func (p *Pipeline) QueryDocuments(ctx context.Context, query, collection string, n int) ([]domain.Match, error) {
	if collection == "" {
		collection = p.collection
	}
	return p.index.Query(ctx, collection, query, n, domain.Filter{})
}
