package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks ragassist/internal/rag Embedder
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_generator.go -package=mocks ragassist/internal/rag Generator
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks ragassist/internal/rag Engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ragassist/internal/contextutil"
	"ragassist/internal/llm"
	"ragassist/internal/metrics"
	"ragassist/internal/storage"
	"ragassist/internal/vectorstore"
)

// DefaultTopK is the number of chunks retrieved when a request does not set one.
const DefaultTopK = 5

// Engine answers questions from the indexed documents.
type Engine interface {
	// Search embeds the query and returns the closest chunks, best first.
	Search(ctx context.Context, query string, topK int) (SearchResult, error)
	// Ask retrieves context and generates a complete answer.
	Ask(ctx context.Context, req AskRequest) (AskResponse, error)
	// AskStream retrieves context and streams the answer as events.
	// Retrieval errors are returned directly; the channel is closed after the
	// final event or when ctx is cancelled.
	AskStream(ctx context.Context, req AskRequest) (<-chan StreamEvent, error)
}

// Embedder turns a query into a unit-length vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Generator is a text generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error
	Provider() string
	ModelName() string
}

// ChunkResolver maps an index id to the chunk it was registered for.
// Sync picks up registrations made by other processes.
type ChunkResolver interface {
	Resolve(internalID int64) (string, bool)
	Sync(ctx context.Context) error
}

// Options tunes retrieval and prompt assembly. Zero fields take the defaults.
type Options struct {
	DefaultTopK int
	// MinScore is the guardrail threshold; nil takes the default. Zero and
	// negative thresholds are honored.
	MinScore      *float32
	MaxUniqueHits int
	MaxChunkChars int
	SnippetChars  int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DefaultTopK:   DefaultTopK,
		MinScore:      ptr(DefaultMinScore),
		MaxUniqueHits: DefaultMaxUniqueHits,
		MaxChunkChars: DefaultMaxChunkChars,
		SnippetChars:  DefaultSnippetChars,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = d.DefaultTopK
	}
	if o.MinScore == nil {
		o.MinScore = d.MinScore
	}
	if o.MaxUniqueHits <= 0 {
		o.MaxUniqueHits = d.MaxUniqueHits
	}
	if o.MaxChunkChars <= 0 {
		o.MaxChunkChars = d.MaxChunkChars
	}
	if o.SnippetChars <= 0 {
		o.SnippetChars = d.SnippetChars
	}
	return o
}

func ptr[T any](v T) *T {
	return &v
}

// ragEngine implements the Engine interface.
type ragEngine struct {
	embedder  Embedder
	index     vectorstore.VectorIndex
	resolver  ChunkResolver
	chunks    storage.ChunkStore
	documents storage.DocumentStore
	generator Generator
	opts      Options
}

// NewEngine creates a new query engine.
func NewEngine(
	embedder Embedder,
	index vectorstore.VectorIndex,
	resolver ChunkResolver,
	chunks storage.ChunkStore,
	documents storage.DocumentStore,
	generator Generator,
	opts Options,
) Engine {
	return &ragEngine{
		embedder:  embedder,
		index:     index,
		resolver:  resolver,
		chunks:    chunks,
		documents: documents,
		generator: generator,
		opts:      opts.withDefaults(),
	}
}

// Search embeds the query, searches the index and hydrates the matches.
func (e *ragEngine) Search(ctx context.Context, query string, topK int) (SearchResult, error) {
	start := time.Now()
	logger := contextutil.LoggerFromContext(ctx)

	if topK <= 0 {
		topK = e.opts.DefaultTopK
	}
	ctx, span := metrics.StartSpan(ctx, "rag.search", attribute.Int("rag.top_k", topK))
	defer span.End()

	result := SearchResult{
		Query:          query,
		TopK:           topK,
		EmbeddingModel: e.embedder.ModelName(),
		Hits:           []SearchHit{},
	}

	ready, err := e.index.Ready(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to check index readiness: %w", err)
	}
	if !ready {
		return result, vectorstore.ErrIndexNotReady
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		logger.ErrorContext(ctx, "failed to embed query", "error", err)
		return result, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := e.index.Search(ctx, vector, topK)
	if err != nil {
		return result, fmt.Errorf("failed to search index: %w", err)
	}

	hits, err := e.hydrate(ctx, matches)
	if err != nil {
		return result, err
	}
	slices.SortStableFunc(hits, func(a, b SearchHit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	result.Hits = hits

	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("rag.matches", len(matches)), attribute.Int("rag.hits", len(hits)))
	logger.DebugContext(ctx, "search complete",
		"top_k", topK,
		"matches", len(matches),
		"hits", len(hits),
	)

	return result, nil
}

// hydrate resolves matches to chunks and documents, dropping sentinel ids and
// references whose rows no longer exist. Match order is preserved.
func (e *ragEngine) hydrate(ctx context.Context, matches []vectorstore.Match) ([]SearchHit, error) {
	logger := contextutil.LoggerFromContext(ctx)

	type resolved struct {
		chunkID string
		score   float32
	}
	refs := make([]resolved, 0, len(matches))
	ids := make([]string, 0, len(matches))
	synced := false
	for _, m := range matches {
		if m.ID < 0 {
			continue
		}
		chunkID, ok := e.resolver.Resolve(m.ID)
		if !ok && !synced {
			synced = true
			if err := e.resolver.Sync(ctx); err != nil {
				logger.WarnContext(ctx, "failed to sync vector registry", "error", err)
			}
			chunkID, ok = e.resolver.Resolve(m.ID)
		}
		if !ok {
			logger.DebugContext(ctx, "dropping unresolved vector", "internal_id", m.ID)
			continue
		}
		refs = append(refs, resolved{chunkID: chunkID, score: m.Score})
		ids = append(ids, chunkID)
	}
	if len(refs) == 0 {
		return []SearchHit{}, nil
	}

	chunks, err := e.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	documents := make(map[string]*storage.DocumentRecord)
	hits := make([]SearchHit, 0, len(refs))
	for _, ref := range refs {
		chunk, ok := chunks[ref.chunkID]
		if !ok {
			logger.DebugContext(ctx, "dropping stale chunk reference", "chunk_id", ref.chunkID)
			continue
		}

		doc, seen := documents[chunk.DocumentID]
		if !seen {
			doc, err = e.documents.GetByID(ctx, chunk.DocumentID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("failed to load document: %w", err)
			}
			documents[chunk.DocumentID] = doc
		}
		if doc == nil {
			continue
		}

		hits = append(hits, SearchHit{
			Score:      ref.score,
			ChunkID:    chunk.ID,
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			ChunkIndex: chunk.ChunkIndex,
			Text:       chunk.Text,
			StartChar:  chunk.StartChar,
			EndChar:    chunk.EndChar,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return hits, nil
}

// retrieve runs Search and deduplicates the hits.
func (e *ragEngine) retrieve(ctx context.Context, req AskRequest) ([]SearchHit, error) {
	result, err := e.Search(ctx, req.Question, req.TopK)
	if err != nil {
		return nil, err
	}
	return Dedupe(result.Hits, e.opts.MaxUniqueHits), nil
}

// Ask answers a question with a single generation call.
func (e *ragEngine) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	start := time.Now()
	logger := contextutil.LoggerFromContext(ctx)
	provider := e.generator.Provider()

	ctx, span := metrics.StartSpan(ctx, "rag.ask", attribute.String("llm.provider", provider))
	defer span.End()

	hits, err := e.retrieve(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return AskResponse{}, err
	}

	if !HasSufficientContext(hits, *e.opts.MinScore) {
		metrics.GuardrailRejections.Inc()
		logger.InfoContext(ctx, "insufficient context, skipping generation", "hits", len(hits))
		return AskResponse{
			Answer:    InsufficientContextAnswer,
			Provider:  provider,
			Model:     noBackendModel,
			LatencyMS: time.Since(start).Milliseconds(),
			Citations: []Citation{},
		}, nil
	}

	prompt := BuildPrompt(req.Question, hits, e.opts.MaxChunkChars)

	genStart := time.Now()
	answer, err := e.generator.Generate(ctx, prompt)
	observeGeneration(provider, "batch", genStart, err)
	if err != nil {
		logger.ErrorContext(ctx, "generation failed", "provider", provider, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return AskResponse{}, generationError(err)
	}

	logger.InfoContext(ctx, "answered question",
		"provider", provider,
		"model", e.generator.ModelName(),
		"hits", len(hits),
		"answer_length", len(answer),
	)

	return AskResponse{
		Answer:    answer,
		Provider:  provider,
		Model:     e.generator.ModelName(),
		LatencyMS: time.Since(start).Milliseconds(),
		Citations: BuildCitations(hits, e.opts.SnippetChars),
	}, nil
}

// AskStream answers a question token by token.
func (e *ragEngine) AskStream(ctx context.Context, req AskRequest) (<-chan StreamEvent, error) {
	start := time.Now()
	logger := contextutil.LoggerFromContext(ctx)
	provider := e.generator.Provider()

	hits, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)

	if !HasSufficientContext(hits, *e.opts.MinScore) {
		metrics.GuardrailRejections.Inc()
		logger.InfoContext(ctx, "insufficient context, skipping generation", "hits", len(hits))
		go func() {
			defer close(events)
			if !send(ctx, events, StreamEvent{Type: EventToken, Token: InsufficientContextAnswer}) {
				return
			}
			send(ctx, events, StreamEvent{Type: EventDone})
		}()
		return events, nil
	}

	prompt := BuildPrompt(req.Question, hits, e.opts.MaxChunkChars)
	citations := BuildCitations(hits, e.opts.SnippetChars)

	go func() {
		defer close(events)

		ctx, span := metrics.StartSpan(ctx, "rag.ask_stream", attribute.String("llm.provider", provider))
		defer span.End()

		genStart := time.Now()
		tokens := 0
		err := e.generator.GenerateStream(ctx, prompt, func(token string) error {
			if !send(ctx, events, StreamEvent{Type: EventToken, Token: token}) {
				return ctx.Err()
			}
			tokens++
			return nil
		})
		observeGeneration(provider, "stream", genStart, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "stream cancelled", "tokens", tokens)
				return
			}
			logger.ErrorContext(ctx, "stream generation failed", "provider", provider, "error", err)
			send(ctx, events, StreamEvent{Type: EventError, Err: generationError(err)})
			return
		}

		meta := &StreamMeta{
			Provider:  provider,
			Model:     e.generator.ModelName(),
			LatencyMS: time.Since(start).Milliseconds(),
			Citations: citations,
		}
		if !send(ctx, events, StreamEvent{Type: EventMeta, Meta: meta}) {
			return
		}
		send(ctx, events, StreamEvent{Type: EventDone})
		logger.InfoContext(ctx, "streamed answer", "provider", provider, "tokens", tokens)
	}()

	return events, nil
}

// send delivers ev unless ctx is cancelled first.
func send(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func observeGeneration(provider, mode string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.GenerationRequests.WithLabelValues(provider, mode, outcome).Inc()
	metrics.GenerationDuration.WithLabelValues(provider, mode).Observe(time.Since(start).Seconds())
}

// generationError makes sure backend failures classify as generation failures.
func generationError(err error) error {
	if errors.Is(err, llm.ErrGenerationFailure) {
		return fmt.Errorf("failed to generate answer: %w", err)
	}
	return fmt.Errorf("failed to generate answer: %w: %w", llm.ErrGenerationFailure, err)
}
