// Package httpadapter implements the built-in "http.request" connector:
// an SSRF-guarded net/http client bound to the registry.Adapter contract.
// Grounded on the reference's worker.HTTPWorker.executeHTTPRequest, adapted
// off its Redis-stream/token plumbing onto the AdapterContext/AdapterResult
// contract this core uses instead.
package httpadapter

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/workflowcore/internal/registry"
)

// Adapter executes "http.request" nodes. Config fields read from
// AdapterContext.ResolvedConfig: url (required), method (default GET),
// headers (map[string]string), body (string).
type Adapter struct {
	Client    *http.Client
	Validator *URLValidator
}

// New builds an Adapter with the given timeout and the default SSRF
// validator.
func New(timeout time.Duration) *Adapter {
	return &Adapter{
		Client:    &http.Client{Timeout: timeout},
		Validator: NewURLValidator(),
	}
}

func (a *Adapter) Execute(actx registry.AdapterContext) (registry.AdapterResult, error) {
	start := time.Now()

	config, ok := actx.ResolvedConfig.(map[string]any)
	if !ok {
		return registry.AdapterResult{Success: false, ErrorMessage: "http.request: config is not an object"}, nil
	}

	rawURL, _ := config["url"].(string)
	if rawURL == "" {
		return registry.AdapterResult{Success: false, ErrorMessage: "http.request: missing url"}, nil
	}
	if err := a.Validator.Validate(rawURL); err != nil {
		return registry.AdapterResult{Success: false, ErrorMessage: fmt.Sprintf("http.request: %v", err)}, nil
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if payload, _ := config["body"].(string); payload != "" {
		bodyReader = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(actx.Context, strings.ToUpper(method), rawURL, bodyReader)
	if err != nil {
		return registry.AdapterResult{Success: false, ErrorMessage: fmt.Sprintf("http.request: build request: %v", err)}, nil
	}
	req.Header.Set("User-Agent", "workflowcore/1.0")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := a.Client.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return registry.AdapterResult{
			Success: false, Retryable: true, DurationMs: duration,
			ErrorMessage: fmt.Sprintf("http.request: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return registry.AdapterResult{
			Success: false, Retryable: true, DurationMs: duration,
			ErrorMessage: fmt.Sprintf("http.request: read response: %v", err),
		}, nil
	}

	output := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    flattenHeaders(resp.Header),
		"body":       string(respBody),
	}

	if resp.StatusCode >= 500 {
		return registry.AdapterResult{
			Success: false, Retryable: true, DurationMs: duration, Output: output,
			ErrorMessage: fmt.Sprintf("http.request: server error %d", resp.StatusCode),
		}, nil
	}
	if resp.StatusCode >= 400 {
		return registry.AdapterResult{
			Success: false, Retryable: false, DurationMs: duration, Output: output,
			ErrorMessage: fmt.Sprintf("http.request: client error %d", resp.StatusCode),
		}, nil
	}

	return registry.AdapterResult{Success: true, Output: output, DurationMs: duration}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
