package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Router selects the adapter serving a provider/model pair.
type Router interface {
	Pick(provider, model string) (ProviderAdapter, error)
}

// ProviderAdapter translates between normalized requests and a provider's
// HTTP API.
type ProviderAdapter interface {
	// Build constructs the provider-specific HTTP request.
	Build(ctx context.Context, req *Request) (*http.Request, error)

	// Parse extracts a normalized response, or a classified error for
	// non-success statuses.
	Parse(httpResp *http.Response) (*Response, error)

	// Name returns the canonical provider identifier.
	Name() string
}

// Caller is implemented by adapters that wrap a provider SDK owning its
// own HTTP exchange. The core handler calls them directly instead of
// running Build and Parse.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Handler processes a request and returns a response.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler with additional behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares around a handler. The first middleware is the
// outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs the provider call.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	return &httpHandler{
		client: client,
		router: router,
		logger: slog.Default().With("component", "transport"),
	}
}

type httpHandler struct {
	client *http.Client
	router Router
	logger *slog.Logger
}

// Handle implements Handler by routing to the request's provider adapter.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := h.router.Pick(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	var resp *Response
	if caller, ok := adapter.(Caller); ok {
		resp, err = caller.Call(reqCtx, req)
		if err != nil {
			return nil, err
		}
	} else {
		resp, err = h.roundTrip(reqCtx, adapter, req)
		if err != nil {
			return nil, err
		}
	}
	resp.Usage.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func (h *httpHandler) roundTrip(ctx context.Context, adapter ProviderAdapter, req *Request) (*Response, error) {
	httpReq, err := adapter.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			h.logger.Debug("close response body", "error", closeErr)
		}
	}()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", adapter.Name(), err)
	}
	return resp, nil
}
