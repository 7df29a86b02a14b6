// Package transport defines the normalized model request and the handler
// chain every call passes through.
package transport

import (
	"net/http"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Image is decoded image content ready to be attached to a message.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Part is one piece of a message: text or an image, never both.
type Part struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// TextPart builds a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart builds an image part.
func ImagePart(img Image) Part { return Part{Image: &img} }

// Message is one chat turn with interleaved content.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Request is a normalized chat request. Messages end with the user turn
// being asked.
type Request struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	MaxTokens   int64   `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Control fields; they do not affect the response and are not part of
	// the request identity.
	Timeout time.Duration `json:"-"`
	TraceID string        `json:"-"`
}

// Response is normalized provider output.
type Response struct {
	Content            string          `json:"content"`
	FinishReason       string          `json:"finish_reason"`
	ProviderRequestIDs []string        `json:"provider_request_ids,omitempty"`
	Usage              NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
