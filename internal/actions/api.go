package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// APIOption configures an APIHandler.
type APIOption func(*APIHandler)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) APIOption {
	return func(h *APIHandler) { h.client = c }
}

// WithBaseURL resolves relative payload URLs against base.
func WithBaseURL(base string) APIOption {
	return func(h *APIHandler) { h.baseURL = base }
}

// APIHandler performs an HTTP request and merges the JSON response into the
// context.
//
// Payload fields:
//
//	url           request URL, absolute or relative to the base URL
//	method        HTTP method; GET without a body, POST with one
//	headers       object of header values
//	body          literal request body
//	toBody        JMESPath over the context producing the body
//	fromResponse  JMESPath over the response producing the merged value
//	resultPath    context path the value is merged at; root when empty
type APIHandler struct {
	client  *http.Client
	baseURL string

	mu      sync.RWMutex
	queries map[string]*jmespath.JMESPath
}

// NewAPIHandler creates the api handler.
func NewAPIHandler(opts ...APIOption) *APIHandler {
	h := &APIHandler{
		client:  http.DefaultClient,
		queries: make(map[string]*jmespath.JMESPath),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Type implements Handler.
func (*APIHandler) Type() string { return TypeAPI }

// Run implements Handler.
func (h *APIHandler) Run(ctx context.Context, doc ir.Document, action ir.Action, _ machine.API) (ir.Document, error) {
	target, err := h.resolveURL(action.PayloadString("url"))
	if err != nil {
		return nil, err
	}

	body, hasBody, err := h.requestBody(doc, action)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(action.PayloadString("method"))
	if method == "" {
		method = http.MethodGet
		if hasBody {
			method = http.MethodPost
		}
	}

	var reader io.Reader
	if hasBody {
		js, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api action: encode body: %w", err)
		}
		reader = bytes.NewReader(js)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("api action: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	headers, err := payloadMap(action, "headers")
	if err != nil {
		return nil, fmt.Errorf("api action: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprint(v))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api action: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("api action: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var result any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("api action: decode response: %w", err)
		}
	}

	if expr := action.PayloadString("fromResponse"); expr != "" {
		if result, err = h.search(expr, result); err != nil {
			return nil, err
		}
	}

	resultPath := action.PayloadString("resultPath")
	if result == nil {
		return doc, nil
	}
	out, err := doc.MergeAt(resultPath, result)
	if err != nil {
		return nil, fmt.Errorf("api action: %w", err)
	}
	return out, nil
}

func (h *APIHandler) resolveURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("api action: payload.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("api action: url: %w", err)
	}
	if u.IsAbs() || h.baseURL == "" {
		return raw, nil
	}
	base, err := url.Parse(h.baseURL)
	if err != nil {
		return "", fmt.Errorf("api action: base url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

func (h *APIHandler) requestBody(doc ir.Document, action ir.Action) (any, bool, error) {
	if expr := action.PayloadString("toBody"); expr != "" {
		data, err := ir.Normalize(map[string]any(doc))
		if err != nil {
			return nil, false, err
		}
		body, err := h.search(expr, data)
		if err != nil {
			return nil, false, err
		}
		return body, true, nil
	}
	body, ok := action.Payload["body"]
	if !ok || body == nil {
		return nil, false, nil
	}
	return body, true, nil
}

func (h *APIHandler) search(expr string, data any) (any, error) {
	h.mu.RLock()
	q, ok := h.queries[expr]
	h.mu.RUnlock()
	if !ok {
		var err error
		if q, err = jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("api action: jmespath %q: %w", expr, err)
		}
		h.mu.Lock()
		h.queries[expr] = q
		h.mu.Unlock()
	}
	out, err := q.Search(data)
	if err != nil {
		return nil, fmt.Errorf("api action: jmespath %q: %w", expr, err)
	}
	return out, nil
}
