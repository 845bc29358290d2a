package api

import "github.com/hearthhq/hearth/pkg/ollama"

// Request bodies for the browser-facing JSON API.

type setupRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ServerName string `json:"server_name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type createInviteRequest struct {
	ExpiresIn string `json:"expires_in"` // e.g. "24h", empty for never
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type updateSettingsRequest struct {
	ServerName   *string `json:"server_name"`
	DefaultModel *string `json:"default_model"`
}

type chatRequest struct {
	Model          string `json:"model"`
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
}

type modelNameRequest struct {
	Name string `json:"name"`
}

// OpenAI-compatible wire types. These match what the openai Python client,
// LangChain, and similar tooling expect.

type openAIRequest struct {
	Model            string               `json:"model"`
	Messages         []ollama.ChatMessage `json:"messages"`
	Stream           bool                 `json:"stream"`
	Temperature      *float64             `json:"temperature,omitempty"`
	MaxTokens        *int                 `json:"max_tokens,omitempty"`
	MaxCompTokens    *int                 `json:"max_completion_tokens,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	Stop             interface{}          `json:"stop,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	N                *int                 `json:"n,omitempty"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
}

type openAIChoice struct {
	Index        int            `json:"index"`
	Message      *openAIMessage `json:"message,omitempty"`
	Delta        *openAIMessage `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type openAIMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIModelsResponse struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
