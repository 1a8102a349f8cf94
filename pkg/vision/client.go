package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"photovault/pkg/domain"
)

// Tool identifiers understood by the vision API.
const (
	ToolEnhance       = "enhance"
	ToolFaceDetection = "face-detection"
	ToolExtractTags   = "tags/extract"
)

// Invoker runs one vision tool against an image and returns the envelope payload.
type Invoker interface {
	Invoke(ctx context.Context, tool, imageURL string, params map[string]any) (json.RawMessage, error)
}

// Client calls the vision HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for baseURL; apiKey may be empty.
func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("vision base URL required")
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type toolRequest struct {
	ImageURL string         `json:"imageUrl"`
	Params   map[string]any `json:"params,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Invoke posts to <baseURL>/tools/<tool>. Transport failures, HTTP errors and
// envelopes with success=false all come back as *domain.NetworkError.
func (c *Client) Invoke(ctx context.Context, tool, imageURL string, params map[string]any) (json.RawMessage, error) {
	op := "vision " + tool
	if strings.TrimSpace(imageURL) == "" {
		return nil, &domain.ValidationError{Field: "imageUrl", Reason: "required"}
	}
	body, err := json.Marshal(toolRequest{ImageURL: imageURL, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/"+tool, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, &domain.NetworkError{Op: op, Err: errors.New(msg)}
	}
	if decodeErr != nil {
		return nil, &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return nil, &domain.NetworkError{Op: op, Err: errors.New(msg)}
	}
	return env.Data, nil
}
