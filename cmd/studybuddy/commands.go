package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studybuddy/internal/domain"
	"studybuddy/internal/progress"
	"studybuddy/internal/service"
	"studybuddy/internal/tui"
)

func newIngestCmd(get func() *app) *cobra.Command {
	var (
		collection  string
		documentID  string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf> [file.pdf ...]",
		Short: "Extract, chunk, index and archive PDFs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if documentID != "" && len(args) > 1 {
				return errors.New("--id can only be used with a single file")
			}
			a := get()
			log := a.log.Named("ingest")
			tracker := progress.NewTracker(progress.WithListener(func(taskID string, s progress.Status) {
				log.Info(s.Message,
					zap.String("task_id", taskID),
					zap.String("status", string(s.State)),
					zap.Int("progress", s.Progress))
			}))

			var (
				mu      sync.Mutex
				results []domain.ProcessingResult
			)
			// files are independent; one failure does not cancel the rest
			ctx := cmd.Context()
			var g errgroup.Group
			g.SetLimit(max(1, concurrency))
			for _, path := range args {
				path := path
				g.Go(func() error {
					taskID := uuid.NewString()
					tracker.Start(taskID)
					defer tracker.Forget(taskID)
					res, err := a.pipeline.ProcessDocument(ctx, path, service.ProcessOptions{
						DocumentID: documentID,
						Collection: collection,
						Progress:   tracker.Handle(taskID),
					})
					if err != nil {
						tracker.Fail(taskID, err)
						return fmt.Errorf("%s: %w", path, err)
					}
					tracker.Complete(taskID, *res)
					mu.Lock()
					results = append(results, *res)
					mu.Unlock()
					return nil
				})
			}
			err := g.Wait()
			if werr := writeJSON(cmd.OutOrStdout(), results); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "target collection (default from config)")
	cmd.Flags().StringVar(&documentID, "id", "", "document id (default: file name without extension)")
	cmd.Flags().IntVarP(&concurrency, "jobs", "j", 2, "number of files processed in parallel")
	return cmd
}

func newListCmd(get func() *app) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show indexed chunk count and archived documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listing, err := get().pipeline.ListDocuments(cmd.Context(), collection)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), listing)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection (default from config)")
	return cmd
}

func newDeleteCmd(get func() *app) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document's passages and archived file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := deleteDocument(cmd.Context(), get(), args[0], collection)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection (default from config)")
	return cmd
}

type deleteReport struct {
	domain.DeletionResult
	// Document is the catalog record that was removed, when there was one.
	Document *domain.Document `json:"document,omitempty"`
}

func deleteDocument(ctx context.Context, a *app, documentID, collection string) (deleteReport, error) {
	doc, err := a.catalog.Get(ctx, documentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return deleteReport{}, err
	}
	res := a.pipeline.DeleteDocument(ctx, documentID, collection)
	return deleteReport{DeletionResult: res, Document: doc}, nil
}

type matchView struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Metadata   domain.PassageMetadata `json:"metadata"`
	Similarity float64                `json:"similarity"`
}

func newQueryCmd(get func() *app) *cobra.Command {
	var (
		collection string
		n          int
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Show the passages most similar to a text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := get().pipeline.QueryDocuments(cmd.Context(), args[0], collection, n)
			if err != nil {
				return err
			}
			views := make([]matchView, len(matches))
			for i, m := range matches {
				views[i] = matchView{ID: m.ID, Text: m.Text, Metadata: m.Metadata, Similarity: 1 - m.Distance}
			}
			return writeJSON(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection (default from config)")
	cmd.Flags().IntVarP(&n, "limit", "n", service.DefaultNResults, "maximum number of passages")
	return cmd
}

func newAskCmd(get func() *app) *cobra.Command {
	var (
		collection string
		documentID string
		n          int
		stream     bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			req := service.ChatRequest{
				Query:      args[0],
				Collection: collectionOr(collection, a.cfg.VectorStore.Collection),
				DocumentID: documentID,
				NResults:   resultsOr(n, a.cfg.RAG.NResults),
			}
			if !stream {
				answer, err := a.rag.Chat(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), answer)
			}
			events, err := a.rag.ChatStream(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printStream(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection (default from config)")
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "only use passages from this document")
	cmd.Flags().IntVarP(&n, "limit", "n", 0, "passages to retrieve (default from config)")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "print the answer as it is generated")
	return cmd
}

func newChatCmd(get func() *app) *cobra.Command {
	var (
		collection string
		documentID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat over the indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			m := tui.New(a.rag, tui.Options{
				Collection: collectionOr(collection, a.cfg.VectorStore.Collection),
				DocumentID: documentID,
				NResults:   a.cfg.RAG.NResults,
			})
			_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection (default from config)")
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "only use passages from this document")
	return cmd
}

// printStream writes content increments as they arrive, then the sources.
func printStream(w io.Writer, events <-chan domain.StreamEvent) error {
	for ev := range events {
		switch ev.Type {
		case domain.EventContent:
			fmt.Fprint(w, ev.Content)
		case domain.EventSources:
			fmt.Fprintln(w)
			fmt.Fprintln(w)
			for _, s := range ev.Sources {
				fmt.Fprintf(w, "  - %s, page %d (%.2f)\n", s.Filename, s.PageNumber, s.Similarity)
			}
			return nil
		case domain.EventError:
			fmt.Fprintln(w)
			return ev.Err
		}
	}
	return errors.New("answer interrupted")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func collectionOr(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func resultsOr(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}
