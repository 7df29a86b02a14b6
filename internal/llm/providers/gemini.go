package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

// GeminiAdapter calls the Gemini API through the genai SDK, which owns
// the HTTP exchange. Images are sent as inline bytes.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates the SDK client. A configured endpoint replaces
// the public API base URL.
func NewGeminiAdapter(ctx context.Context, cfg configuration.ProviderConfig, httpClient *http.Client) (*GeminiAdapter, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}
	if len(cfg.Headers) > 0 {
		cc.HTTPOptions.Headers = http.Header{}
		for k, v := range cfg.Headers {
			cc.HTTPOptions.Headers.Set(k, v)
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

// Name returns the provider name.
func (a *GeminiAdapter) Name() string {
	return configuration.ProviderGemini
}

// Build is not used; the SDK issues its own requests through Call.
func (a *GeminiAdapter) Build(context.Context, *transport.Request) (*http.Request, error) {
	return nil, errors.ErrUnsupported
}

// Parse is not used; see Build.
func (a *GeminiAdapter) Parse(*http.Response) (*transport.Response, error) {
	return nil, errors.ErrUnsupported
}

// Call sends the conversation to GenerateContent.
func (a *GeminiAdapter) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == transport.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Image != nil {
				parts = append(parts, genai.NewPartFromBytes(p.Image.Data, p.Image.MIMEType))
				continue
			}
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, geminiError(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", llmerrors.ErrInvalidResponse)
	}

	out := &transport.Response{
		Content:      resp.Text(),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = transport.NormalizedUsage{
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
			TotalTokens:      int64(u.TotalTokenCount),
		}
	}
	return out, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) {
			return err
		}
		apiErr = *ptr
	}
	return &llmerrors.ProviderError{
		Provider:   configuration.ProviderGemini,
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
		Code:       apiErr.Status,
		Type:       llmerrors.Classify(apiErr.Code, apiErr.Status),
	}
}
