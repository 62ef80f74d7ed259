package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/catalog"
	"studybuddy/internal/chunker"
	"studybuddy/internal/domain"
	"studybuddy/internal/embedding/hashing"
	"studybuddy/internal/llm"
	"studybuddy/internal/llm/extractive"
	"studybuddy/internal/progress"
	"studybuddy/internal/storage"
	"studybuddy/internal/vectorstore"
	"studybuddy/internal/vectorstore/memory"
)

type stubExtractor struct {
	out *domain.Extraction
	err error
}

func (s stubExtractor) Extract(context.Context, string) (*domain.Extraction, error) {
	return s.out, s.err
}

type stubGenerator struct {
	parts     []string
	err       error
	streamErr error
	block     bool
	got       []llm.Message
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	g.got = msgs
	if g.err != nil {
		return "", g.err
	}
	return strings.Join(g.parts, ""), nil
}

func (g *stubGenerator) Stream(ctx context.Context, msgs []llm.Message) (<-chan llm.Delta, error) {
	g.got = msgs
	if g.err != nil {
		return nil, g.err
	}
	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		for _, p := range g.parts {
			select {
			case out <- llm.Delta{Content: p}:
			case <-ctx.Done():
				return
			}
		}
		if g.block {
			<-ctx.Done()
			return
		}
		if g.streamErr != nil {
			select {
			case out <- llm.Delta{Err: g.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

type failingIndex struct{ PassageIndex }

func (failingIndex) Query(context.Context, string, string, int, domain.Filter) ([]domain.Match, error) {
	return nil, domain.ErrIndex
}

func newIndex(t *testing.T) *vectorstore.Index {
	t.Helper()
	backend, err := memory.NewStorage(context.Background(), "")
	require.NoError(t, err)
	return vectorstore.NewIndex(backend, hashing.NewEmbedder(256), nil)
}

func collect(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func dedupInput() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{
		{Text: "a", DocumentID: "doc1", Filename: "bio.pdf", PageNumber: 1, Similarity: .9},
		{Text: "b", DocumentID: "doc1", Filename: "bio.pdf", PageNumber: 1, Similarity: .7},
		{Text: "c", DocumentID: "doc1", Filename: "bio.pdf", PageNumber: 2, Similarity: .6},
		{Text: "d", DocumentID: "doc1", Filename: "bio.pdf", Similarity: .5},
	}
}

func TestGenerateAnswer_SourcesDeduplicated(t *testing.T) {
	svc := NewRAGService(newIndex(t), &stubGenerator{parts: []string{"answer"}}, nil)

	got, err := svc.GenerateAnswer(context.Background(), "q", dedupInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", got.Answer)
	assert.Equal(t, 4, got.ContextUsed)
	require.Len(t, got.Sources, 2)
	assert.Equal(t, domain.Source{DocumentID: "doc1", Filename: "bio.pdf", PageNumber: 1, Similarity: .9}, got.Sources[0])
	assert.Equal(t, 2, got.Sources[1].PageNumber)
}

func TestGenerateAnswer_WrapsGenerationError(t *testing.T) {
	svc := NewRAGService(newIndex(t), &stubGenerator{err: errors.New("429")}, nil)
	_, err := svc.GenerateAnswer(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, domain.ErrGeneration)

	_, err = svc.GenerateAnswerStream(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestGenerateAnswerStream_EndsWithSources(t *testing.T) {
	gen := &stubGenerator{parts: []string{"Plants ", "", "make ", "sugar."}}
	svc := NewRAGService(newIndex(t), gen, nil)

	ch, err := svc.GenerateAnswerStream(context.Background(), "q", dedupInput(), nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventSources, last.Type)
	assert.Len(t, last.Sources, 2)
	assert.Equal(t, 4, last.ContextUsed)

	var sb strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, domain.EventContent, ev.Type)
		sb.WriteString(ev.Content)
	}
	blocking, err := svc.GenerateAnswer(context.Background(), "q", dedupInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, blocking.Answer, sb.String())
}

func TestGenerateAnswerStream_EmptyContextStillEndsWithSources(t *testing.T) {
	svc := NewRAGService(newIndex(t), extractive.New(3), nil)
	ch, err := svc.GenerateAnswerStream(context.Background(), "anything", nil, nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, extractive.NothingFound, events[0].Content)
	assert.Equal(t, domain.EventSources, events[1].Type)
	assert.Empty(t, events[1].Sources)
}

func TestGenerateAnswerStream_MidStreamFailure(t *testing.T) {
	gen := &stubGenerator{parts: []string{"partial"}, streamErr: errors.New("connection reset")}
	svc := NewRAGService(newIndex(t), gen, nil)

	ch, err := svc.GenerateAnswerStream(context.Background(), "q", dedupInput(), nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventContent, events[0].Type)
	assert.Equal(t, domain.EventError, events[1].Type)
	assert.ErrorIs(t, events[1].Err, domain.ErrGeneration)
}

func TestGenerateAnswerStream_Cancel(t *testing.T) {
	gen := &stubGenerator{parts: []string{"one"}, block: true}
	svc := NewRAGService(newIndex(t), gen, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := svc.GenerateAnswerStream(ctx, "q", nil, nil)
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, "one", first.Content)
	cancel()

	for ev := range ch {
		assert.NotEqual(t, domain.EventSources, ev.Type)
	}
}

func TestBuildMessages_TruncatesHistory(t *testing.T) {
	var history []domain.ConversationTurn
	for i := 0; i < 10; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		history = append(history, domain.ConversationTurn{Role: role, Content: string(rune('a' + i))})
	}

	msgs := BuildMessages("q", nil, history)
	require.Len(t, msgs, 8)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.SystemPrompt, msgs[0].Content)
	assert.Equal(t, "e", msgs[1].Content)
	assert.Equal(t, "j", msgs[6].Content)
	assert.Equal(t, llm.UserPrompt(llm.NoContext, "q"), msgs[7].Content)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "No relevant context found in the documents.", FormatContext(nil))

	got := FormatContext([]domain.RetrievedChunk{
		{Text: "first", Filename: "a.pdf", PageNumber: 1},
		{Text: "second"},
	})
	assert.Equal(t, "[Source 1 - a.pdf, Page 1]\nfirst\n\n---\n\n[Source 2 - Unknown, Page N/A]\nsecond", got)
}

func TestChat_RetrievalFailureAnswersWithoutContext(t *testing.T) {
	gen := &stubGenerator{parts: []string{"I don't know."}}
	svc := NewRAGService(failingIndex{}, gen, nil)

	got, err := svc.Chat(context.Background(), ChatRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", got.Answer)
	assert.Zero(t, got.ContextUsed)
	assert.Contains(t, gen.got[len(gen.got)-1].Content, llm.NoContext)
}

func pdfFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 stub"), 0o644))
	return path
}

func newPipeline(t *testing.T, extraction *domain.Extraction, index PassageIndex) (*Pipeline, *storage.Archive, *catalog.Store) {
	t.Helper()
	ctx := context.Background()
	ch, err := chunker.NewRecursiveChunker(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
	require.NoError(t, err)
	archive, err := storage.NewArchive(ctx, filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	cat, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	p := NewPipeline(stubExtractor{out: extraction}, ch, index, archive, nil,
		WithCatalog(cat), WithClock(func() time.Time { return fixed }))
	return p, archive, cat
}

func twoPageExtraction() *domain.Extraction {
	page1 := strings.Repeat("lorem ipsum dolor sit amet ", 100)[:2400]
	return &domain.Extraction{
		NumPages: 2,
		Pages: []domain.Page{
			{Number: 1, Text: page1},
			{Number: 2, Text: strings.Repeat("z", 50)},
		},
	}
}

func TestPipeline_ProcessDocumentEndToEnd(t *testing.T) {
	ctx := context.Background()
	index := newIndex(t)
	p, archive, cat := newPipeline(t, twoPageExtraction(), index)
	tracker := progress.NewTracker()
	tracker.Start("task")

	res, err := p.ProcessDocument(ctx, pdfFile(t, "lecture-notes.pdf"), ProcessOptions{Progress: tracker.Handle("task")})
	require.NoError(t, err)

	assert.Equal(t, "lecture-notes", res.DocumentID)
	assert.Equal(t, "lecture-notes.pdf", res.Filename)
	assert.Equal(t, "lecture-notes", res.Metadata.Title)
	assert.Equal(t, 2, res.NumPages)
	assert.Equal(t, domain.DefaultCollection, res.Collection)
	assert.Equal(t, "success", res.Status)
	assert.GreaterOrEqual(t, res.NumChunks, 4)

	page1, page2 := 0, 0
	matches, err := index.Query(ctx, "", "lorem ipsum", 100, domain.Filter{DocumentID: "lecture-notes"})
	require.NoError(t, err)
	require.Len(t, matches, res.NumChunks)
	for _, m := range matches {
		switch m.Metadata.PageNumber {
		case 1:
			page1++
		case 2:
			page2++
		}
	}
	assert.GreaterOrEqual(t, page1, 3)
	assert.Equal(t, 1, page2)

	files, err := archive.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "lecture-notes", files[0].DocumentID)

	docs, err := cat.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.NumChunks, docs[0].NumChunks)

	st, _ := tracker.Get("task")
	assert.Equal(t, "Complete", st.Stage)
}

func TestPipeline_ExtractionFailureIndexesNothing(t *testing.T) {
	ctx := context.Background()
	index := newIndex(t)
	ch, err := chunker.NewRecursiveChunker(100, 10)
	require.NoError(t, err)
	archive, err := storage.NewArchive(ctx, filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	p := NewPipeline(stubExtractor{err: domain.ErrExtraction}, ch, index, archive, nil)

	_, err = p.ProcessDocument(ctx, "missing.pdf", ProcessOptions{})
	assert.ErrorIs(t, err, domain.ErrExtraction)

	files, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPipeline_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	index := newIndex(t)
	extraction := &domain.Extraction{NumPages: 1, Title: "Genetics", Pages: []domain.Page{{Number: 1, Text: "Genes carry traits."}}}
	p, _, _ := newPipeline(t, extraction, index)

	_, err := p.ProcessDocument(ctx, pdfFile(t, "gen.pdf"), ProcessOptions{DocumentID: "g1"})
	require.NoError(t, err)

	listing, err := p.ListDocuments(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.TotalChunks)
	require.Len(t, listing.Documents, 1)
	assert.Equal(t, "g1", listing.Documents[0].DocumentID)
	assert.Equal(t, "Genetics", listing.Documents[0].Title)

	hits, err := p.QueryDocuments(ctx, "Genes carry traits.", "", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "g1_chunk_0", hits[0].ID)

	res := p.DeleteDocument(ctx, "g1", "")
	assert.Equal(t, domain.DeletionResult{DocumentID: "g1", Status: "deleted"}, res)
	// idempotent
	p.DeleteDocument(ctx, "g1", "")

	listing, err = p.ListDocuments(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, listing.TotalChunks)
	assert.Empty(t, listing.Documents)
}

func TestChat_EndToEndWithExtractiveGenerator(t *testing.T) {
	ctx := context.Background()
	index := newIndex(t)
	extraction := &domain.Extraction{NumPages: 2, Pages: []domain.Page{
		{Number: 1, Text: "Mitochondria produce ATP for the cell."},
		{Number: 2, Text: "Ribosomes build proteins from amino acids."},
	}}
	p, _, _ := newPipeline(t, extraction, index)
	_, err := p.ProcessDocument(ctx, pdfFile(t, "cell.pdf"), ProcessOptions{})
	require.NoError(t, err)

	svc := NewRAGService(index, extractive.New(1), nil)
	req := ChatRequest{Query: "What do ribosomes build?", NResults: 2}

	answer, err := svc.Chat(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Ribosomes build proteins from amino acids.", answer.Answer)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, 2, answer.Sources[0].PageNumber)

	ch, err := svc.ChatStream(ctx, req)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, answer.Answer, events[0].Content)
	assert.Equal(t, answer.Sources, events[1].Sources)
}
