package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"studybuddy/internal/domain"
	"studybuddy/internal/llm"
)

// HistoryLimit is how many trailing history messages are sent to the model.
const HistoryLimit = 6

// DefaultNResults is the number of passages retrieved per question.
const DefaultNResults = 5

// RAGService answers questions from indexed passages. It holds no state
// between calls; conversation history is supplied by the caller.
type RAGService struct {
	index     PassageIndex
	generator llm.Generator
	log       *zap.Logger
}

func NewRAGService(index PassageIndex, generator llm.Generator, log *zap.Logger) *RAGService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RAGService{index: index, generator: generator, log: log}
}

// ChatRequest is one question plus its retrieval scope.
type ChatRequest struct {
	Query      string
	Collection string
	// DocumentID restricts retrieval to one document when set.
	DocumentID string
	History    []domain.ConversationTurn
	NResults   int
}

// RetrieveContext returns up to n passages ordered by descending similarity.
func (s *RAGService) RetrieveContext(ctx context.Context, query, collection string, n int, documentID string) ([]domain.RetrievedChunk, error) {
	if collection == "" {
		collection = domain.DefaultCollection
	}
	if n <= 0 {
		n = DefaultNResults
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.retrieve_context")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("n_results", n))

	matches, err := s.index.Query(ctx, collection, query, n, domain.Filter{DocumentID: documentID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	chunks := make([]domain.RetrievedChunk, len(matches))
	for i, m := range matches {
		chunks[i] = domain.RetrievedChunk{
			Text:       m.Text,
			PageNumber: m.Metadata.PageNumber,
			DocumentID: m.Metadata.DocumentID,
			Filename:   m.Metadata.Filename,
			Similarity: 1 - m.Distance,
		}
	}
	span.SetAttributes(attribute.Int("retrieved", len(chunks)))
	return chunks, nil
}

// FormatContext renders chunks as labelled source blocks in retrieval order.
func FormatContext(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return llm.NoContext
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		filename := c.Filename
		if filename == "" {
			filename = "Unknown"
		}
		page := "N/A"
		if c.PageNumber > 0 {
			page = fmt.Sprint(c.PageNumber)
		}
		parts[i] = fmt.Sprintf("[Source %d - %s, Page %s]\n%s", i+1, filename, page, c.Text)
	}
	return strings.Join(parts, llm.ContextDelimiter)
}

// BuildMessages assembles the system prompt, the last HistoryLimit history
// turns and the user prompt carrying context and question.
func BuildMessages(query string, chunks []domain.RetrievedChunk, history []domain.ConversationTurn) []llm.Message {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: domain.RoleSystem, Content: llm.SystemPrompt})
	for _, turn := range history {
		// only user and assistant turns are replayed
		if turn.Role != domain.RoleUser && turn.Role != domain.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, llm.Message{Role: domain.RoleUser, Content: llm.UserPrompt(FormatContext(chunks), query)})
	return msgs
}

// Sources keeps the first chunk per (document, page) in retrieval order and
// drops chunks without a page number.
func Sources(chunks []domain.RetrievedChunk) []domain.Source {
	type key struct {
		doc  string
		page int
	}
	seen := make(map[key]struct{}, len(chunks))
	sources := make([]domain.Source, 0, len(chunks))
	for _, c := range chunks {
		if c.PageNumber <= 0 {
			continue
		}
		k := key{c.DocumentID, c.PageNumber}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		sources = append(sources, domain.Source{
			DocumentID: c.DocumentID,
			Filename:   c.Filename,
			PageNumber: c.PageNumber,
			Similarity: c.Similarity,
		})
	}
	return sources
}

// GenerateAnswer waits for the full completion.
func (s *RAGService) GenerateAnswer(ctx context.Context, query string, chunks []domain.RetrievedChunk, history []domain.ConversationTurn) (*domain.Answer, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.generate_answer")
	defer span.End()
	span.SetAttributes(attribute.String("llm.generator", s.generator.Name()), attribute.Int("context_used", len(chunks)))

	text, err := s.generator.Complete(ctx, BuildMessages(query, chunks, history))
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &domain.Answer{Answer: text, Sources: Sources(chunks), ContextUsed: len(chunks)}, nil
}

// GenerateAnswerStream yields content events as they arrive. On success the
// last event is the single EventSources; on failure it is an EventError.
// Cancelling ctx stops generation and closes the channel without a final event.
func (s *RAGService) GenerateAnswerStream(ctx context.Context, query string, chunks []domain.RetrievedChunk, history []domain.ConversationTurn) (<-chan domain.StreamEvent, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.generate_answer_stream")
	span.SetAttributes(attribute.String("llm.generator", s.generator.Name()), attribute.Int("context_used", len(chunks)))

	deltas, err := s.generator.Stream(ctx, BuildMessages(query, chunks, history))
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	sources := Sources(chunks)
	out := make(chan domain.StreamEvent)
	go func() {
		defer span.End()
		defer close(out)

		emit := func(ev domain.StreamEvent) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deltas:
				if !ok {
					emit(domain.StreamEvent{Type: domain.EventSources, Sources: sources, ContextUsed: len(chunks)})
					return
				}
				if d.Err != nil {
					err := fmt.Errorf("%w: %w", domain.ErrGeneration, d.Err)
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					s.log.Warn("answer stream failed", zap.Error(err))
					emit(domain.StreamEvent{Type: domain.EventError, Err: err})
					return
				}
				if d.Content == "" {
					continue
				}
				if !emit(domain.StreamEvent{Type: domain.EventContent, Content: d.Content}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Chat retrieves context and generates a blocking answer. Retrieval problems
// degrade to an empty context; generation failures are returned.
func (s *RAGService) Chat(ctx context.Context, req ChatRequest) (*domain.Answer, error) {
	chunks := s.retrieveOrEmpty(ctx, req)
	return s.GenerateAnswer(ctx, req.Query, chunks, req.History)
}

// ChatStream is Chat with a streamed answer.
func (s *RAGService) ChatStream(ctx context.Context, req ChatRequest) (<-chan domain.StreamEvent, error) {
	chunks := s.retrieveOrEmpty(ctx, req)
	return s.GenerateAnswerStream(ctx, req.Query, chunks, req.History)
}

func (s *RAGService) retrieveOrEmpty(ctx context.Context, req ChatRequest) []domain.RetrievedChunk {
	chunks, err := s.RetrieveContext(ctx, req.Query, req.Collection, req.NResults, req.DocumentID)
	if err != nil {
		s.log.Warn("retrieval failed, answering without context",
			zap.String("collection", req.Collection),
			zap.String("document_id", req.DocumentID),
			zap.Error(err))
		return nil
	}
	return chunks
}
