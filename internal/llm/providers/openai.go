package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

// placeholderAPIKey is sent to self-hosted servers that ignore credentials
// but still require the header.
const placeholderAPIKey = "pseudo_api_key"

// OpenAIAdapter speaks the chat/completions API of OpenAI and of
// OpenAI-compatible inference servers such as vllm and lmdeploy. Images
// travel as base64 data URLs.
type OpenAIAdapter struct {
	config configuration.ProviderConfig
	client *http.Client

	mu           sync.Mutex
	defaultModel string
}

// NewOpenAIAdapter creates an adapter. Without an endpoint it targets the
// OpenAI service.
func NewOpenAIAdapter(cfg configuration.ProviderConfig, client *http.Client) *OpenAIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.APIKey == "" {
		cfg.APIKey = placeholderAPIKey
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIAdapter{config: cfg, client: client}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string {
	return configuration.ProviderOpenAI
}

// Build constructs a chat/completions request.
func (a *OpenAIAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	model := req.Model
	if model == "" {
		var err error
		if model, err = a.firstModel(ctx); err != nil {
			return nil, err
		}
	}

	body := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   int(req.MaxTokens),
		Temperature: float32(req.Temperature),
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (a *OpenAIAdapter) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		r.Header.Set(k, v)
	}
}

func toOpenAIMessages(msgs []transport.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == transport.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Image != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL(*p.Image)},
				})
				continue
			}
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

func dataURL(img transport.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Parse extracts the first choice of a chat/completions response.
func (a *OpenAIAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError(httpResp, body)
	}

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrInvalidResponse, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", llmerrors.ErrInvalidResponse)
	}

	var requestIDs []string
	if reqID := httpResp.Header.Get("x-request-id"); reqID != "" {
		requestIDs = append(requestIDs, reqID)
	}

	return &transport.Response{
		Content:            resp.Choices[0].Message.Content,
		FinishReason:       string(resp.Choices[0].FinishReason),
		ProviderRequestIDs: requestIDs,
		Usage: transport.NormalizedUsage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
		Headers: httpResp.Header,
	}, nil
}

// firstModel asks the server for its model list and remembers the first
// entry. Self-hosted servers usually serve exactly one model.
func (a *OpenAIAdapter) firstModel(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.defaultModel != "" {
		return a.defaultModel, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.Endpoint+"/models", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create models request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", parseOpenAIError(httpResp, body)
	}

	var list openai.ModelsList
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("%w: %w", llmerrors.ErrInvalidResponse, err)
	}
	if len(list.Models) == 0 {
		return "", fmt.Errorf("%w: server lists no models", llmerrors.ErrInvalidResponse)
	}
	a.defaultModel = list.Models[0].ID
	return a.defaultModel, nil
}

// parseOpenAIError converts an error response to a ProviderError.
func parseOpenAIError(httpResp *http.Response, body []byte) error {
	provErr := &llmerrors.ProviderError{
		Provider:   configuration.ProviderOpenAI,
		StatusCode: httpResp.StatusCode,
		Message:    string(body),
	}
	if ra, err := strconv.Atoi(httpResp.Header.Get("Retry-After")); err == nil {
		provErr.RetryAfter = ra
	}

	var errResp openai.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		provErr.Message = errResp.Error.Message
		if errResp.Error.Code != nil {
			provErr.Code = fmt.Sprint(errResp.Error.Code)
		}
		provErr.Type = llmerrors.Classify(httpResp.StatusCode, provErr.Code+" "+errResp.Error.Type)
		return provErr
	}

	provErr.Type = llmerrors.Classify(httpResp.StatusCode, "")
	return provErr
}
