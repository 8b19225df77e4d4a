// Package ollama is a thin request/response client for an Ollama-compatible
// generation backend. It exposes two logical backends to the rest of the
// system, a vision-capable model and a text model, both driven through the
// same /api/generate endpoint.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultBaseURL = "http://localhost:11434"

// ErrMalformedResponse marks transport/format problems: the backend answered
// with a success status but the body could not be decoded. Distinct from
// *BackendError, which carries a backend-declared failure.
var ErrMalformedResponse = errors.New("malformed backend response")

// BackendError is a non-success response from the generation backend. Calls
// that hit one fail immediately: no retry, no model fallback.
type BackendError struct {
	StatusCode int
	Detail     string
}

func (e *BackendError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given backend base URL. The underlying
// HTTP client carries no timeout: a hung backend call hangs its job, a
// documented non-guarantee of this service.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// GenerateRequest selects a model and carries the prompt plus optional image
// payloads. Images are raw bytes; base64 encoding happens at the transport
// boundary.
type GenerateRequest struct {
	Model  string
	Prompt string
	Images [][]byte
}

type generatePayload struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate performs one blocking call and returns the complete generated
// text.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if chunk.Error != "" {
		return "", &BackendError{StatusCode: resp.StatusCode, Detail: chunk.Error}
	}
	return chunk.Response, nil
}

// GenerateStream performs one streaming call, invoking emit for every text
// fragment as it arrives. The backend answers with newline-delimited JSON
// chunks; the final chunk has done=true.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest, emit func(fragment string) error) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if chunk.Error != "" {
			return &BackendError{StatusCode: resp.StatusCode, Detail: chunk.Error}
		}
		if chunk.Response != "" {
			if err := emit(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read backend stream: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, req GenerateRequest, stream bool) (*http.Response, error) {
	payload := generatePayload{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: stream,
	}
	for _, img := range req.Images {
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(img))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send generate request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Detail:     parseErrorDetail(resp.Body),
		}
	}
	return resp, nil
}

func parseErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8*1024))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(raw))
}
