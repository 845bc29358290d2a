package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/cryptobox"
)

// userID reads the caller's own ID via /api/auth/me.
func (e *testEnv) userID(t *testing.T, cookie *http.Cookie) int64 {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeBody(t, rec)["user"].(map[string]interface{})
	return int64(user["id"].(float64))
}

func TestChatPersistsEncrypted(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":   "llama3",
		"message": "hello there",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	convoID := int64(body["conversation_id"].(float64))
	reply := body["message"].(map[string]interface{})
	assert.Equal(t, "canned reply", reply["content"])

	// On disk both messages are ciphertext under a random GCM nonce, not
	// the words the user typed.
	rows, err := env.store.ListMessages(convoID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row.ContentIV, cryptobox.NonceSize)
		assert.False(t, cryptobox.IsPlaintext(row.ContentIV))
		assert.False(t, bytes.Contains(row.Content, []byte("hello there")))
		assert.False(t, bytes.Contains(row.Content, []byte("canned reply")))
	}

	// The API still serves them decrypted.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", convoID), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hello there", first["content"])
	assert.Equal(t, "assistant", messages[1].(map[string]interface{})["role"])
}

func TestChatContinuesConversation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":   "llama3",
		"message": "first",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	convoID := int64(decodeBody(t, rec)["conversation_id"].(float64))

	rec = env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":           "llama3",
		"message":         "second",
		"conversation_id": convoID,
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, convoID, decodeBody(t, rec)["conversation_id"])

	rows, err := env.store.ListMessages(convoID)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestLegacyPlaintextRowStillReadable(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)
	adminID := env.userID(t, admin)

	convo, err := env.store.CreateConversation(adminID, "old thread", "llama3")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(convo.ID, "user", []byte("written before encryption"), cryptobox.PlaintextSentinel)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", convo.ID), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeBody(t, rec)["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "written before encryption", messages[0].(map[string]interface{})["content"])
}

func TestConversationTitleTruncatesOnRuneBoundary(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	// One leading ASCII byte shifts every following two-byte rune off the
	// byte limit, so a byte-index cut would land mid-rune.
	message := "a" + strings.Repeat("é", 40)
	rec := env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":   "llama3",
		"message": message,
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	convoID := int64(decodeBody(t, rec)["conversation_id"].(float64))

	convo, err := env.store.GetConversation(convoID, env.userID(t, admin))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(convo.Title))
	assert.True(t, strings.HasPrefix(message, convo.Title))
	assert.LessOrEqual(t, len(convo.Title), titleLimit)
	assert.NotEmpty(t, convo.Title)
}

func TestConversationOwnerScoping(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)
	member := env.registerMember(t, admin, "bob")

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":   "llama3",
		"message": "private note",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	convoID := int64(decodeBody(t, rec)["conversation_id"].(float64))

	// Another user cannot read, continue, or delete someone else's thread.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", convoID), nil, member)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":           "llama3",
		"message":         "hijack",
		"conversation_id": convoID,
	}, member)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", convoID), nil, member)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/conversations", nil, member)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["conversations"])
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	rec := env.do(t, http.MethodPost, "/api/chat/stream", map[string]interface{}{
		"model":   "llama3",
		"message": "hello",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.GreaterOrEqual(t, len(events), 3)
	assert.Contains(t, events[0], `"conversation_id"`)
	assert.Equal(t, "data: [DONE]", events[len(events)-1])

	// The accumulated reply is persisted like a non-streaming exchange.
	var convoID int64
	fmt.Sscanf(events[0], "data: {\"conversation_id\":%d}", &convoID)
	require.NotZero(t, convoID)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", convoID), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeBody(t, rec)["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "streamed reply", messages[1].(map[string]interface{})["content"])
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"message": "no model",
	}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model": "llama3",
	}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":           "llama3",
		"message":         "hi",
		"conversation_id": 999,
	}, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"model":   "llama3",
		"message": "ephemeral",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	convoID := int64(decodeBody(t, rec)["conversation_id"].(float64))

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", convoID), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", convoID), nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)
	admin := env.completeSetup(t)

	rec := env.do(t, http.MethodGet, "/api/models", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	models := decodeBody(t, rec)["models"].([]interface{})
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:latest", models[0].(map[string]interface{})["name"])
}
