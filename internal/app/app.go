// Package app wires configuration into the stores, the index, the backends
// and the services shared by the API server and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ragassist/internal/config"
	"ragassist/internal/files"
	"ragassist/internal/indexer"
	"ragassist/internal/llm"
	"ragassist/internal/metrics"
	"ragassist/internal/rag"
	"ragassist/internal/registry"
	"ragassist/internal/service"
	"ragassist/internal/storage"
	"ragassist/internal/vectorstore"
)

// ModelChecker reports whether the generation model can be served.
type ModelChecker interface {
	ModelAvailable(ctx context.Context) (bool, error)
}

// App holds the wired components.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Index     vectorstore.VectorIndex
	Registry  *registry.Registry
	Pipeline  *indexer.Pipeline
	Documents service.DocumentService
	Engine    rag.Engine
	Generator rag.Generator
	// Models is nil when the provider has no model listing.
	Models ModelChecker

	closers []func() error
}

// New opens the database, loads the registry, connects the vector backend and
// builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	shutdownTracing, err := metrics.SetupTracing(cfg.TracesExporter, os.Stderr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := storage.Migrate(db); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database initialized", "path", cfg.DBPath)

	documentRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)

	reg, err := registry.Load(ctx, storage.NewVectorRepo(db))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to load vector registry: %w", err)
	}
	a.Registry = reg

	index, err := a.openIndex(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Index = index

	if info, err := index.Info(ctx); err == nil {
		metrics.IndexVectors.Set(float64(info.Count))
		slog.Info("vector index opened",
			"backend", info.Backend,
			"vectors", info.Count,
			"dim", info.Dimension,
			"registered", reg.Len(),
		)
	}

	fileStore, err := files.NewDiskStore(cfg.FilesDir)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}

	embedder := llm.NewEmbeddingsClient(
		cfg.EmbeddingBaseURL,
		cfg.EmbeddingAPIKey,
		cfg.EmbeddingModelName,
		cfg.EmbeddingDim,
		cfg.LLMTimeout,
	)

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		a.Generator = llm.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTimeout)
	default:
		ollama := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.LLMTimeout)
		a.Generator = ollama
		a.Models = ollama
	}
	slog.Debug("generation backend configured", "provider", a.Generator.Provider(), "model", a.Generator.ModelName())

	a.Pipeline = indexer.NewPipeline(
		documentRepo,
		chunkRepo,
		fileStore,
		embedder,
		index,
		reg,
		indexer.Options{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			// The API server and ragctl may append to the same index.
			CommitLock: vectorstore.NewProcessLock(filepath.Join(cfg.DataDir, "commit.lock")),
		},
	)

	a.Documents = service.NewDocumentService(documentRepo, chunkRepo, fileStore, a.Pipeline, reg)

	a.Engine = rag.NewEngine(
		embedder,
		index,
		reg,
		chunkRepo,
		documentRepo,
		a.Generator,
		rag.Options{
			MinScore:      &cfg.MinScore,
			MaxUniqueHits: cfg.MaxUniqueHits,
			MaxChunkChars: cfg.MaxChunkChars,
			SnippetChars:  cfg.SnippetChars,
		},
	)

	return a, nil
}

func (a *App) openIndex(ctx context.Context) (vectorstore.VectorIndex, error) {
	cfg := a.Config
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		store, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		return store, nil
	default:
		store, err := vectorstore.OpenFileStore(cfg.IndexPath, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to open index file: %w", err)
		}
		return store, nil
	}
}

// Close releases the database and backend connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
