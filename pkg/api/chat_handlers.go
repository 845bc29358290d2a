package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/contextkeys"
	"github.com/hearthhq/hearth/pkg/cryptobox"
	"github.com/hearthhq/hearth/pkg/httputil"
	"github.com/hearthhq/hearth/pkg/middleware"
	"github.com/hearthhq/hearth/pkg/ollama"
	"github.com/hearthhq/hearth/pkg/storage"
)

// titleLimit truncates conversation titles derived from the first message.
const titleLimit = 60

// ChatHandlers serves the chat API and conversation history. Message
// bodies are encrypted before they reach the database and decrypted on the
// way out; rows written before encryption was enabled pass through as-is.
type ChatHandlers struct {
	store  *storage.Store
	ollama *ollama.Client
	codec  *cryptobox.Codec
	authn  *middleware.Authenticator
	logger *logrus.Logger
}

// NewChatHandlers creates the chat handler group.
func NewChatHandlers(store *storage.Store, ollamaClient *ollama.Client, codec *cryptobox.Codec, authn *middleware.Authenticator, logger *logrus.Logger) *ChatHandlers {
	return &ChatHandlers{
		store:  store,
		ollama: ollamaClient,
		codec:  codec,
		authn:  authn,
		logger: logger,
	}
}

// RegisterRoutes registers chat and conversation routes
func (h *ChatHandlers) RegisterRoutes(router *mux.Router) {
	authed := func(fn http.HandlerFunc) http.Handler {
		return h.authn.SessionAuth(fn)
	}

	router.Handle("/api/models", authed(h.listModels)).Methods("GET")
	router.Handle("/api/chat", authed(h.chat)).Methods("POST")
	router.Handle("/api/chat/stream", authed(h.chatStream)).Methods("POST")

	router.Handle("/api/conversations", authed(h.listConversations)).Methods("GET")
	router.Handle("/api/conversations/{id}", authed(h.getConversation)).Methods("GET")
	router.Handle("/api/conversations/{id}", authed(h.deleteConversation)).Methods("DELETE")
}

// saveMessage encrypts and stores one message body.
func (h *ChatHandlers) saveMessage(conversationID int64, role, content string) error {
	ciphertext, iv, err := h.codec.Encrypt([]byte(content))
	if err != nil {
		return fmt.Errorf("encrypting message: %w", err)
	}
	_, err = h.store.AppendMessage(conversationID, role, ciphertext, iv)
	return err
}

// loadHistory decrypts a conversation's messages into chat form. A row
// that fails to decrypt aborts the load; serving garbage as history would
// silently corrupt the model context.
func (h *ChatHandlers) loadHistory(conversationID int64) ([]ollama.ChatMessage, error) {
	rows, err := h.store.ListMessages(conversationID)
	if err != nil {
		return nil, err
	}

	messages := make([]ollama.ChatMessage, 0, len(rows))
	for _, row := range rows {
		plaintext, err := h.codec.Decrypt(row.Content, row.ContentIV)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", row.ID, err)
		}
		messages = append(messages, ollama.ChatMessage{Role: row.Role, Content: string(plaintext)})
	}
	return messages, nil
}

// resolveConversation returns the existing thread or starts a new one
// titled after the first message.
func (h *ChatHandlers) resolveConversation(principal *auth.Principal, req *chatRequest) (*storage.Conversation, error) {
	if req.ConversationID != nil {
		return h.store.GetConversation(*req.ConversationID, principal.User.ID)
	}

	title := req.Message
	if len(title) > titleLimit {
		cut := titleLimit
		// Back up to a rune boundary so the cut cannot split a character.
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	return h.store.CreateConversation(principal.User.ID, title, req.Model)
}

// listModels handles GET /api/models
func (h *ChatHandlers) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.ollama.ListModels(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("listing models")
		httputil.WriteBadGateway(w, "failed to list models")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"models": models})
}

// chat handles POST /api/chat: one non-streaming exchange, persisted to the
// conversation.
func (h *ChatHandlers) chat(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var req chatRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Model, "model") ||
		!httputil.RequireNonEmpty(w, req.Message, "message") {
		return
	}

	convo, err := h.resolveConversation(principal, &req)
	if err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).Error("resolving conversation")
		httputil.WriteInternalError(w)
		return
	}

	history, err := h.loadHistory(convo.ID)
	if err != nil {
		h.logger.WithError(err).Error("loading history")
		httputil.WriteInternalError(w)
		return
	}
	history = append(history, ollama.ChatMessage{Role: "user", Content: req.Message})

	resp, err := h.ollama.Chat(r.Context(), req.Model, history)
	if err != nil {
		h.logger.WithError(err).Error("inference failed")
		httputil.WriteBadGateway(w, "inference failed")
		return
	}

	if err := h.saveMessage(convo.ID, "user", req.Message); err != nil {
		h.logger.WithError(err).Error("saving user message")
	}
	if err := h.saveMessage(convo.ID, "assistant", resp.Message.Content); err != nil {
		h.logger.WithError(err).Error("saving assistant message")
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"conversation_id": convo.ID,
		"model":           resp.Model,
		"message":         resp.Message,
	})
}

// chatStream handles POST /api/chat/stream, relaying tokens as SSE. The
// first event names the conversation so a client that started a new thread
// learns its ID.
func (h *ChatHandlers) chatStream(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var req chatRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Model, "model") ||
		!httputil.RequireNonEmpty(w, req.Message, "message") {
		return
	}

	convo, err := h.resolveConversation(principal, &req)
	if err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).Error("resolving conversation")
		httputil.WriteInternalError(w)
		return
	}

	history, err := h.loadHistory(convo.ID)
	if err != nil {
		h.logger.WithError(err).Error("loading history")
		httputil.WriteInternalError(w)
		return
	}
	history = append(history, ollama.ChatMessage{Role: "user", Content: req.Message})

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSEJSON(w, flusher, map[string]int64{"conversation_id": convo.ID})

	if err := h.saveMessage(convo.ID, "user", req.Message); err != nil {
		h.logger.WithError(err).Error("saving user message")
	}

	var fullResponse string
	err = h.ollama.ChatStream(r.Context(), req.Model, history, func(chunk ollama.StreamChunk) error {
		fullResponse += chunk.Content
		return writeSSEJSON(w, flusher, chunk)
	})
	if err != nil {
		h.logger.WithError(err).Error("stream failed")
		writeSSEJSON(w, flusher, map[string]string{"error": "inference failed"})
		return
	}

	if err := h.saveMessage(convo.ID, "assistant", fullResponse); err != nil {
		h.logger.WithError(err).Error("saving assistant message")
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// listConversations handles GET /api/conversations
func (h *ChatHandlers) listConversations(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	convos, err := h.store.ListConversations(principal.User.ID)
	if err != nil {
		h.logger.WithError(err).Error("listing conversations")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"conversations": convos})
}

// getConversation handles GET /api/conversations/{id}, returning the thread
// with its decrypted messages.
func (h *ChatHandlers) getConversation(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	convo, err := h.store.GetConversation(id, principal.User.ID)
	if err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).Error("querying conversation")
		httputil.WriteInternalError(w)
		return
	}

	messages, err := h.loadHistory(convo.ID)
	if err != nil {
		h.logger.WithError(err).Error("loading history")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"conversation": convo,
		"messages":     messages,
	})
}

// deleteConversation handles DELETE /api/conversations/{id}
func (h *ChatHandlers) deleteConversation(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteConversation(id, principal.User.ID); err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).Error("deleting conversation")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "deleted"})
}

// writeSSEJSON writes one JSON payload as a server-sent event and flushes.
func writeSSEJSON(w http.ResponseWriter, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
	return nil
}
