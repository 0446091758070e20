// ABOUTME: Shared HTTP plumbing embedded by all provider adapters.
// ABOUTME: Handles JSON and multipart request building, auth headers, rate limiting, and image reference loading.

package tryon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"time"

	"golang.org/x/time/rate"
)

// BaseAdapter provides common HTTP functionality shared across provider
// adapters. Provider-specific adapters embed BaseAdapter to reuse request
// building, header management, and client-side rate limiting.
type BaseAdapter struct {
	APIKey         string
	BaseURL        string
	DefaultHeaders map[string]string
	HTTPClient     *http.Client
	Limiter        *rate.Limiter
}

// NewBaseAdapter creates a BaseAdapter with the given API key, base URL, and
// per-request timeout. The rate limiter defaults to unlimited.
func NewBaseAdapter(apiKey, baseURL string, timeout time.Duration) *BaseAdapter {
	return &BaseAdapter{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		DefaultHeaders: make(map[string]string),
		HTTPClient:     &http.Client{Timeout: timeout},
		Limiter:        rate.NewLimiter(rate.Inf, 1),
	}
}

// DoRequest builds and executes a JSON HTTP request against the provider's
// API. The limiter is consulted before the request is sent; a saturated
// limiter waits rather than failing. The request respects the provided
// context for timeout and cancellation.
func (b *BaseAdapter) DoRequest(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	if err := b.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// FilePart names one file part of a multipart submission. Ref is a local path
// or a hosted URL; hosted refs are fetched before upload.
type FilePart struct {
	Field string
	Ref   string
}

// DoMultipart builds and executes a multipart/form-data POST for providers
// that require raw image bytes rather than hosted URLs. Field values are
// written first, then each file part in order.
func (b *BaseAdapter) DoMultipart(ctx context.Context, urlPath string, fields map[string]string, files []FilePart) (*http.Response, error) {
	if err := b.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("writing field %q: %w", k, err)
		}
	}

	for _, f := range files {
		rc, name, err := b.openImageRef(ctx, f.Ref)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", f.Ref, err)
		}
		part, err := w.CreateFormFile(f.Field, name)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("creating form file %q: %w", f.Field, err)
		}
		if _, err := io.Copy(part, rc); err != nil {
			rc.Close()
			return nil, fmt.Errorf("copying %q: %w", f.Ref, err)
		}
		rc.Close()
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+urlPath, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	for k, v := range b.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// openImageRef opens an image reference for reading. Hosted URLs are fetched
// with the adapter's HTTP client; anything else is treated as a local path.
func (b *BaseAdapter) openImageRef(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	if isHostedURL(ref) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := b.HTTPClient.Do(req)
		if err != nil {
			return nil, "", err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("fetching image: status %d", resp.StatusCode)
		}
		return resp.Body, path.Base(req.URL.Path), nil
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, "", err
	}
	return f, path.Base(ref), nil
}

// ReadBody drains and closes a response body, returning its bytes.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}
