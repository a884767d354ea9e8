package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteStorage implements Storage against a vigil server's /v1/cache
// endpoints, letting several machines share one result cache.
type RemoteStorage struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// RemoteOption configures a RemoteStorage.
type RemoteOption func(*RemoteStorage)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *RemoteStorage) { s.httpClient = client }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) RemoteOption {
	return func(s *RemoteStorage) { s.token = token }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) RemoteOption {
	return func(s *RemoteStorage) { s.httpClient.Timeout = timeout }
}

// NewRemoteStorage creates a client for the server at baseURL.
func NewRemoteStorage(baseURL string, opts ...RemoteOption) *RemoteStorage {
	s := &RemoteStorage{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteStorage) keyURL(key string) string {
	return fmt.Sprintf("%s/v1/cache/%s", s.baseURL, url.PathEscape(key))
}

func (s *RemoteStorage) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

func unexpected(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (s *RemoteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, s.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, ErrCacheMiss
	default:
		return nil, unexpected(resp)
	}
}

func (s *RemoteStorage) Put(ctx context.Context, key string, data []byte) error {
	resp, err := s.do(ctx, http.MethodPut, s.keyURL(key), data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return unexpected(resp)
	}
	return nil
}

// Delete treats an already missing entry as success.
func (s *RemoteStorage) Delete(ctx context.Context, key string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.keyURL(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return unexpected(resp)
	}
}

func (s *RemoteStorage) List(ctx context.Context) ([]string, error) {
	resp, err := s.do(ctx, http.MethodGet, s.baseURL+"/v1/cache", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpected(resp)
	}
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return body.Keys, nil
}

// Ping checks that the server is reachable.
func (s *RemoteStorage) Ping(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
