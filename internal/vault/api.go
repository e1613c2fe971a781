package vault

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

// DefaultAPITimeout bounds every Local REST API call.
const DefaultAPITimeout = 2 * time.Second

// APIClient talks to the Obsidian Local REST API plugin.
type APIClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewAPIClient creates a client for baseURL, e.g. http://127.0.0.1:27124.
// A non-positive timeout uses DefaultAPITimeout.
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = DefaultAPITimeout
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Probe reports whether GET /vault/ answers 200 within the timeout.
func (c *APIClient) Probe(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/vault/", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// List returns all notes known to the API.
func (c *APIClient) List(ctx context.Context) ([]NoteInfo, error) {
	var notes []NoteInfo
	if err := c.getJSON(ctx, "/vault/notes", &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Read returns a note's content.
func (c *APIClient) Read(ctx context.Context, path string) (string, error) {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.getJSON(ctx, "/vault/note?path="+url.QueryEscape(path), &body); err != nil {
		return "", err
	}
	return body.Content, nil
}

// Create writes a new note.
func (c *APIClient) Create(ctx context.Context, path, content string) error {
	return c.postNote(ctx, "/vault/create", path, content)
}

// Update replaces a note's content.
func (c *APIClient) Update(ctx context.Context, path, content string) error {
	return c.postNote(ctx, "/vault/update", path, content)
}

// Search runs the API's own note search.
func (c *APIClient) Search(ctx context.Context, query string) ([]NoteInfo, error) {
	var notes []NoteInfo
	if err := c.getJSON(ctx, "/vault/search?query="+url.QueryEscape(query), &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

type notePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (c *APIClient) postNote(ctx context.Context, endpoint, path, content string) error {
	body, err := json.Marshal(notePayload{Path: path, Content: content})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", endpoint, path, resp.StatusCode)
	}
	return nil
}

func (c *APIClient) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", endpoint, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return nil
}

// do reads the whole body before returning so the timeout covers it.
func (c *APIClient) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, endpoint, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}
