package apimodels

import "encoding/json"

const (
	ActionAnalyze  = "analyze"
	ActionValidate = "validate"
)

type AnalysisRequest struct {
	// Action selects the default policy ("analyze" or "validate")
	Action string `json:"action"`

	// Model overrides the policy model when non-empty
	Model string `json:"model,omitempty"`

	// Messages is the chat transcript, forwarded to the upstream untouched
	Messages json.RawMessage `json:"messages"`

	// MaxTokens limits the completion length
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-2.0)
	Temperature *float64 `json:"temperature,omitempty"`

	// ResponseFormat asks the model for structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	// One of "text", "json_object" or "json_schema"
	Type string `json:"type"`

	// Schema definition, only used with "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatCompletionRequest is the body sent to the upstream chat-completions endpoint.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       json.RawMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
