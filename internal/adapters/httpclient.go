package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buger/jsonparser"
)

const maxResponseBytes = 1 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type apiRequest struct {
	Method   string
	URL      string
	Body     []byte
	Headers  map[string]string
	User     string // basic auth
	Password string
}

// do sends req and returns the body of a 2xx response. Transport failures and
// 5xx answers match ErrProviderUnavailable.
func do(ctx context.Context, client *http.Client, provider string, req apiRequest) ([]byte, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", provider, err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.User != "" {
		httpReq.SetBasicAuth(req.User, req.Password)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", provider, ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %v", provider, ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{Provider: provider, StatusCode: resp.StatusCode}
		perr.Code = firstString(raw, []string{"error", "code"}, []string{"code"})
		perr.Message = firstString(raw, []string{"error", "description"}, []string{"message"})
		return nil, perr
	}
	return raw, nil
}

// firstString returns the first non-empty string found at any of the paths.
func firstString(data []byte, paths ...[]string) string {
	for _, p := range paths {
		v, dt, _, err := jsonparser.Get(data, p...)
		if err != nil || len(v) == 0 {
			continue
		}
		switch dt {
		case jsonparser.String:
			if s, err := jsonparser.ParseString(v); err == nil && s != "" {
				return s
			}
		case jsonparser.Number, jsonparser.Boolean:
			return string(v)
		}
	}
	return ""
}

// firstInt returns the first integer found at any of the paths.
func firstInt(data []byte, paths ...[]string) (int64, bool) {
	for _, p := range paths {
		if n, err := jsonparser.GetInt(data, p...); err == nil {
			return n, true
		}
	}
	return 0, false
}
