package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"ragassist/internal/contextutil"
	"ragassist/internal/rag"
	"ragassist/internal/service"
)

// ChatHandler handles HTTP requests for questions answered from the documents.
type ChatHandler struct {
	engine rag.Engine
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(engine rag.Engine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

// ChatRequest represents the HTTP request payload for chat.
type ChatRequest struct {
	Question string `json:"question"`
	// TopK defaults to 5 when omitted.
	TopK *int `json:"top_k,omitempty"`
}

// ServeHTTP handles POST /api/chat.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	topK := rag.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	askReq, err := validateAsk(req.Question, topK)
	if err != nil {
		handleServiceError(ctx, w, err, "Invalid request")
		return
	}

	resp, err := h.engine.Ask(ctx, askReq)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to answer question")
		return
	}
	if resp.Citations == nil {
		resp.Citations = []rag.Citation{}
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// Stream handles GET /api/chat/stream?question=...&top_k=... with Server-Sent Events.
// Each event is "event: <type>\ndata: <json>\n\n": token events carry {"text": ...},
// meta carries provider, model, latency and citations, done carries {} and error {"error": ...}.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	topK := rag.DefaultTopK
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(ctx, w, &service.ValidationError{Field: "top_k", Message: "must be an integer"}, "Invalid request")
			return
		}
		topK = n
	}
	askReq, err := validateAsk(r.URL.Query().Get("question"), topK)
	if err != nil {
		handleServiceError(ctx, w, err, "Invalid request")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	events, err := h.engine.AskStream(ctx, askReq)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to answer question")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if err := writeEvent(w, ev); err != nil {
			// Client went away; returning cancels the request context and stops the producer.
			logger.WarnContext(ctx, "failed to write stream event", "error", err)
			return
		}
		flusher.Flush()
		if ev.Type == rag.EventError {
			logger.ErrorContext(ctx, "error streaming answer", "error", ev.Err)
		}
	}
}

func validateAsk(question string, topK int) (rag.AskRequest, error) {
	if err := service.ValidateQuery("question", question); err != nil {
		return rag.AskRequest{}, err
	}
	if err := service.ValidateTopK(topK, service.MaxChatTopK); err != nil {
		return rag.AskRequest{}, err
	}
	return rag.AskRequest{Question: question, TopK: topK}, nil
}

type tokenData struct {
	Text string `json:"text"`
}

type errorData struct {
	Error string `json:"error"`
}

// writeEvent writes one SSE frame for ev.
func writeEvent(w http.ResponseWriter, ev rag.StreamEvent) error {
	var payload any
	switch ev.Type {
	case rag.EventToken:
		payload = tokenData{Text: ev.Token}
	case rag.EventMeta:
		meta := ev.Meta
		if meta == nil {
			meta = &rag.StreamMeta{}
		}
		if meta.Citations == nil {
			meta.Citations = []rag.Citation{}
		}
		payload = meta
	case rag.EventError:
		msg := "generation failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		payload = errorData{Error: msg}
	default:
		payload = struct{}{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
