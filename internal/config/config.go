package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFile   = "file"
	BackendQdrant = "qdrant"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config holds all configuration for the application.
type Config struct {
	APIPort     string
	CORSOrigins []string

	DataDir   string
	DBPath    string
	FilesDir  string
	IndexPath string

	VectorBackend    string
	QdrantURL        string
	QdrantCollection string

	EmbeddingBaseURL   string
	EmbeddingModelName string
	EmbeddingAPIKey    string
	// EmbeddingDim is the expected vector size, 0 to infer it from the first batch.
	EmbeddingDim int

	LLMProvider   string
	OllamaBaseURL string
	OllamaModel   string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	LLMTimeout    time.Duration

	ChunkSize     int
	ChunkOverlap  int
	MinScore      float32
	MaxUniqueHits int
	MaxChunkChars int
	SnippetChars  int

	LogLevel  slog.Level
	LogFormat string

	// TracesExporter is "none" or "stdout".
	TracesExporter string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates the rest.
// If a .env file exists in the current directory or a parent, it is loaded first;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	loadDotEnv()

	dataDir := getEnv("DATA_DIR", "./data")
	cfg := &Config{
		APIPort:     getEnv("API_PORT", "9000"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),

		DataDir:   dataDir,
		DBPath:    getEnv("DB_PATH", filepath.Join(dataDir, "app.db")),
		FilesDir:  getEnv("FILES_DIR", filepath.Join(dataDir, "files")),
		IndexPath: getEnv("INDEX_PATH", filepath.Join(dataDir, "faiss.index")),

		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", BackendFile)),
		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "chunks"),

		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "sentence-transformers/all-MiniLM-L6-v2"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),

		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", ProviderOllama)),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3.2:3b"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TracesExporter: strings.ToLower(getEnv("OTEL_TRACES_EXPORTER", "none")),
	}

	var err error
	if cfg.EmbeddingDim, err = getInt("EMBEDDING_DIM", 0, 0); err != nil {
		return nil, err
	}
	timeoutSeconds, err := getInt("LLM_TIMEOUT_SECONDS", 120, 1)
	if err != nil {
		return nil, err
	}
	cfg.LLMTimeout = time.Duration(timeoutSeconds) * time.Second

	if cfg.ChunkSize, err = getInt("CHUNK_SIZE", 800, 1); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = getInt("CHUNK_OVERLAP", 120, 0); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be less than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.MaxUniqueHits, err = getInt("MAX_UNIQUE_HITS", 5, 1); err != nil {
		return nil, err
	}
	if cfg.MaxChunkChars, err = getInt("MAX_CHUNK_CHARS", 900, 1); err != nil {
		return nil, err
	}
	if cfg.SnippetChars, err = getInt("SNIPPET_CHARS", 240, 1); err != nil {
		return nil, err
	}

	minScore, err := strconv.ParseFloat(getEnv("MIN_SCORE", "0.15"), 32)
	if err != nil {
		return nil, fmt.Errorf("MIN_SCORE must be a valid number: %w", err)
	}
	if minScore < -1 || minScore > 1 {
		return nil, fmt.Errorf("MIN_SCORE must be between -1 and 1")
	}
	cfg.MinScore = float32(minScore)

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.TracesExporter != "none" && cfg.TracesExporter != "stdout" {
		return nil, fmt.Errorf("OTEL_TRACES_EXPORTER must be none or stdout, got %q", cfg.TracesExporter)
	}

	switch cfg.VectorBackend {
	case BackendFile:
	case BackendQdrant:
		if cfg.EmbeddingDim == 0 {
			return nil, fmt.Errorf("EMBEDDING_DIM is required when VECTOR_BACKEND is qdrant")
		}
	default:
		return nil, fmt.Errorf("VECTOR_BACKEND must be file or qdrant, got %q", cfg.VectorBackend)
	}

	if cfg.LLMProvider != ProviderOllama && cfg.LLMProvider != ProviderOpenAI {
		return nil, fmt.Errorf("LLM_PROVIDER must be ollama or openai, got %q", cfg.LLMProvider)
	}

	for _, dir := range []string{cfg.DataDir, cfg.FilesDir, filepath.Dir(cfg.DBPath), filepath.Dir(cfg.IndexPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured level and format.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// loadDotEnv loads .env from the current directory, then from the nearest parent that has one.
func loadDotEnv() {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ { // Limit search depth
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt parses an integer variable and checks it is at least minValue.
func getInt(key string, defaultValue, minValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	if value < minValue {
		return 0, fmt.Errorf("%s must be at least %d", key, minValue)
	}
	return value, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
