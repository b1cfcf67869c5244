package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTool is a generic Tool that issues an HTTP request, for workflows
// whose tasks call out to a REST API or webhook rather than an in-process
// function. It supports GET and POST and returns the response status,
// headers, and body as a plain map so it passes through the Tool Execution
// Layer's output-schema validation like any other tool result.
//
// Input:
//   - method: "GET" or "POST" (default "GET")
//   - url: target URL (required)
//   - headers: optional map of request headers
//   - body: optional request body (POST)
//
// Output:
//   - status_code: int
//   - headers: map[string]any
//   - body: string
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool constructs an HTTPTool with a default client. Request timeouts
// are governed by the ctx passed to Call, not the client itself, so the
// caller's TaskSpec.Timeout applies uniformly.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{}}
}

// Name returns the tool identifier "http_request".
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Call executes the HTTP request described by input.
func (h *HTTPTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("http_request: url parameter required (string)")
	}

	method := "GET"
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("http_request: unsupported method %q (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("http_request: build request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]any); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_request: execute: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http_request: read response body: %w", err)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
