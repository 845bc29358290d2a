package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hearthhq/hearth/pkg/httputil"
	"github.com/hearthhq/hearth/pkg/middleware"
	"github.com/hearthhq/hearth/pkg/ollama"
)

// OpenAIHandlers serves the OpenAI-compatible /v1 surface, authenticated
// with bearer API keys. Unlike /api/chat, these endpoints are stateless:
// nothing is written to conversation history.
type OpenAIHandlers struct {
	ollama *ollama.Client
	authn  *middleware.Authenticator
	logger *logrus.Logger
}

// NewOpenAIHandlers creates the /v1 handler group.
func NewOpenAIHandlers(ollamaClient *ollama.Client, authn *middleware.Authenticator, logger *logrus.Logger) *OpenAIHandlers {
	return &OpenAIHandlers{
		ollama: ollamaClient,
		authn:  authn,
		logger: logger,
	}
}

// RegisterRoutes registers the OpenAI-compatible routes
func (h *OpenAIHandlers) RegisterRoutes(router *mux.Router) {
	keyed := func(fn http.HandlerFunc) http.Handler {
		return h.authn.APIKeyAuth(fn)
	}

	router.Handle("/v1/models", keyed(h.listModels)).Methods("GET")
	router.Handle("/v1/chat/completions", keyed(h.chatCompletions)).Methods("POST")
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	httputil.WriteJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	})
}

// listModels handles GET /v1/models
func (h *OpenAIHandlers) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.ollama.ListModels(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("listing models")
		writeOpenAIError(w, http.StatusBadGateway, "server_error", "Failed to list models.")
		return
	}

	data := make([]openAIModel, 0, len(models))
	for _, m := range models {
		data = append(data, openAIModel{
			ID:      m.Name,
			Object:  "model",
			Created: m.ModifiedAt.Unix(),
			OwnedBy: "local",
		})
	}
	httputil.WriteJSON(w, http.StatusOK, openAIModelsResponse{Object: "list", Data: data})
}

// chatCompletions handles POST /v1/chat/completions, streaming and not.
// Decoding is lenient here: OpenAI SDKs send parameters beyond the ones we
// model (user, seed, tools, response_format), and those must not fail the
// request.
func (h *OpenAIHandlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "Could not parse request body.")
		return
	}
	if req.Model == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "Missing required parameter: 'model'.")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "Missing required parameter: 'messages'.")
		return
	}

	id := newCompletionID()
	created := time.Now().Unix()

	if req.Stream {
		h.streamCompletion(w, r, &req, id, created)
		return
	}

	resp, err := h.ollama.Chat(r.Context(), req.Model, req.Messages)
	if err != nil {
		h.logger.WithError(err).Error("inference failed")
		writeOpenAIError(w, http.StatusBadGateway, "server_error", "Model inference failed.")
		return
	}

	finishReason := "stop"
	httputil.WriteJSON(w, http.StatusOK, openAIResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []openAIChoice{{
			Index:        0,
			Message:      &openAIMessage{Role: "assistant", Content: resp.Message.Content},
			FinishReason: &finishReason,
		}},
		Usage: &openAIUsage{},
	})
}

func (h *OpenAIHandlers) streamCompletion(w http.ResponseWriter, r *http.Request, req *openAIRequest, id string, created int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, http.StatusInternalServerError, "server_error", "Streaming not supported.")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	chunk := func(delta *openAIMessage, finish *string) openAIResponse {
		return openAIResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []openAIChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	// First event carries the assistant role, per the OpenAI protocol.
	writeSSEJSON(w, flusher, chunk(&openAIMessage{Role: "assistant"}, nil))

	err := h.ollama.ChatStream(r.Context(), req.Model, req.Messages, func(c ollama.StreamChunk) error {
		if c.Done {
			return nil
		}
		return writeSSEJSON(w, flusher, chunk(&openAIMessage{Content: c.Content}, nil))
	})
	if err != nil {
		h.logger.WithError(err).Error("stream failed")
		return
	}

	finishReason := "stop"
	writeSSEJSON(w, flusher, chunk(&openAIMessage{}, &finishReason))
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
