package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studybuddy/internal/catalog"
	"studybuddy/internal/chunker"
	"studybuddy/internal/config"
	"studybuddy/internal/embedding"
	"studybuddy/internal/embedding/hashing"
	embedopenai "studybuddy/internal/embedding/openai"
	"studybuddy/internal/llm"
	"studybuddy/internal/llm/extractive"
	llmopenai "studybuddy/internal/llm/openai"
	"studybuddy/internal/logging"
	"studybuddy/internal/pdf"
	"studybuddy/internal/service"
	"studybuddy/internal/storage"
	"studybuddy/internal/vectorstore"
	"studybuddy/internal/vectorstore/memory"
	"studybuddy/internal/vectorstore/qdrant"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, sess := newRootCmd()
	err := root.ExecuteContext(ctx)
	// cobra skips PersistentPostRun when RunE fails
	sess.close()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the assembled components for the lifetime of one command.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	index    *vectorstore.Index
	catalog  *catalog.Store
	pipeline *service.Pipeline
	rag      *service.RAGService
}

// session owns the app built for the running command.
type session struct {
	app *app
}

func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

func newRootCmd() (*cobra.Command, *session) {
	var cfgPath string
	sess := &session{}
	root := &cobra.Command{
		Use:          "studybuddy",
		Short:        "Ask questions about your PDFs",
		Long:         "Study Buddy indexes PDF documents and answers questions about them with cited pages.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			sess.app = a
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (default ./config.yaml or ~/.config/studybuddy/config.yaml)")

	get := func() *app { return sess.app }
	root.AddCommand(
		newIngestCmd(get),
		newListCmd(get),
		newDeleteCmd(get),
		newQueryCmd(get),
		newAskCmd(get),
		newChatCmd(get),
	)
	return root, sess
}

func setup(ctx context.Context, cfgPath string) (*app, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	a, err := build(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	index := vectorstore.NewIndex(backend, emb, log.Named("index"))

	ch, err := chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	archive, err := storage.NewArchive(ctx, cfg.Storage.UploadsDir)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	cat, err := catalog.Open(cfg.Storage.CatalogPath)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	gen, err := newGenerator(cfg.LLM)
	if err != nil {
		_ = index.Close()
		_ = cat.Close()
		return nil, err
	}
	log.Debug("components ready",
		zap.String("embedder", emb.Name()),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("generator", gen.Name()))

	pipeline := service.NewPipeline(pdf.NewExtractor(), ch, index, archive, log.Named("pipeline"),
		service.WithCatalog(cat),
		service.WithCollection(cfg.VectorStore.Collection))
	return &app{
		cfg:      cfg,
		log:      log,
		index:    index,
		catalog:  cat,
		pipeline: pipeline,
		rag:      service.NewRAGService(index, gen, log.Named("rag")),
	}, nil
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		a.log.Warn("close index", zap.Error(err))
	}
	if err := a.catalog.Close(); err != nil {
		a.log.Warn("close catalog", zap.Error(err))
	}
	_ = a.log.Sync()
}

func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := embedopenai.NewClient(embedopenai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Dimension: cfg.Dimension,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newBackend(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Backend, error) {
	switch cfg.Type {
	case "memory", "":
		var path string
		if cfg.Memory != nil {
			path = cfg.Memory.Path
		}
		return memory.NewStorage(ctx, path)
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		var key string
		if cfg.Qdrant.APIKeyEnv != "" {
			key = os.Getenv(cfg.Qdrant.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			Host:    cfg.Qdrant.Host,
			Port:    cfg.Qdrant.Port,
			APIKey:  key,
			Timeout: time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

func newGenerator(cfg config.LLMConfig) (llm.Generator, error) {
	if cfg.Provider == "extractive" {
		return extractive.New(0), nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		known, ok := llm.KnownProviders[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown llm provider %q and no base_url", cfg.Provider)
		}
		baseURL = known
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return llmopenai.New(llmopenai.Config{
		APIKey:      key,
		Model:       cfg.Model,
		BaseURL:     baseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
	}), nil
}
