package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ragassist/internal/handlers"
	"ragassist/internal/metrics"
	"ragassist/internal/rag"
	"ragassist/internal/service"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Documents   service.DocumentService
	Engine      rag.Engine
	Index       handlers.IndexProbe
	Models      handlers.ModelChecker // nil when the provider has no model listing
	CORSOrigins []string
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(deps.CORSOrigins))

	documentHandler := handlers.NewDocumentHandler(deps.Documents)
	indexHandler := handlers.NewIndexHandler(deps.Documents)
	searchHandler := handlers.NewSearchHandler(deps.Engine)
	chatHandler := handlers.NewChatHandler(deps.Engine)
	healthHandler := handlers.NewHealthHandler(deps.Index, deps.Models)

	r.Get("/health", handlers.Liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Upload)
			r.Get("/", documentHandler.List)
			r.Get("/{id}", documentHandler.Get)
			r.Delete("/{id}", documentHandler.Delete)
			r.Get("/{id}/chunks", documentHandler.ListChunks)
			r.Post("/{id}/index", documentHandler.Index)
		})

		r.Method(http.MethodPost, "/index", indexHandler)
		r.Get("/index/stats", indexHandler.Stats)

		r.Method(http.MethodPost, "/search", searchHandler)
		r.Method(http.MethodPost, "/chat", chatHandler)
		r.Get("/chat/stream", chatHandler.Stream)
	})

	return r
}
