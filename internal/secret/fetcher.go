package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxDictionarySize bounds the secret dictionary body
const maxDictionarySize = 1 << 20

// Fetcher retrieves the secret dictionary
type Fetcher interface {
	Fetch(ctx context.Context) (Dictionary, error)
}

// StatusError reports a non-success response from the dictionary endpoint
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("secret dictionary returned status %d", e.Code)
}

// Temporary reports whether retrying may help
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// MalformedError reports a dictionary body that could not be decoded
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return "malformed secret dictionary: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// HTTPFetcher fetches the dictionary from a URL
type HTTPFetcher struct {
	client    *http.Client
	url       string
	userAgent string
}

// NewHTTPFetcher creates a fetcher for url. A nil client uses http.DefaultClient.
func NewHTTPFetcher(client *http.Client, url, userAgent string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, url: url, userAgent: userAgent}
}

// Fetch performs a single GET of the dictionary
func (f *HTTPFetcher) Fetch(ctx context.Context) (Dictionary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build secret request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch secret dictionary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxDictionarySize))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var dict Dictionary
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDictionarySize)).Decode(&dict); err != nil {
		return nil, &MalformedError{Err: err}
	}

	return dict, nil
}
