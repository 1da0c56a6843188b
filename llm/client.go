package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Error taxonomy: permanent errors (bad request, auth) are not worth a
// retry; transient ones (network, 5xx, 429) get one shot at the fallback
// model.
var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

const (
	defaultMaxTokens = 512
	maxTokensCeiling = 4000
	fallbackBackoff  = 250 * time.Millisecond
)

// Message is one chat turn in the OpenAI-compatible request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Model   string
	Content string
}

// Client talks to any OpenAI-compatible /chat/completions endpoint.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	HTTP          *http.Client
}

// NewClientFromEnv reads OPENAI_BASE_URL, OPENAI_API_KEY, OPENAI_MODEL,
// OPENAI_FALLBACK_MODEL, and LLM_MAX_TOKENS.
func NewClientFromEnv() *Client {
	base := os.Getenv("OPENAI_BASE_URL")
	if base == "" {
		base = "http://127.0.0.1:8000/v1"
	}
	maxTokens := maxTokensCeiling
	if mt := os.Getenv("LLM_MAX_TOKENS"); mt != "" {
		if parsed, err := strconv.Atoi(mt); err == nil && parsed > 0 {
			maxTokens = parsed
		}
	}
	return &Client{
		BaseURL:       strings.TrimRight(base, "/"),
		APIKey:        os.Getenv("OPENAI_API_KEY"),
		Model:         os.Getenv("OPENAI_MODEL"),
		FallbackModel: os.Getenv("OPENAI_FALLBACK_MODEL"),
		MaxTokens:     maxTokens,
		HTTP:          &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateChatCompletion posts the request, trying the fallback model once
// when the primary fails transiently.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = "local"
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if c.MaxTokens > 0 && req.MaxTokens > c.MaxTokens {
		req.MaxTokens = c.MaxTokens
	}

	resp, err := c.post(ctx, model, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != model {
		time.Sleep(fallbackBackoff)
		if resp, ferr := c.post(ctx, c.FallbackModel, req); ferr == nil {
			return resp, nil
		}
	}
	return ChatResponse{}, err
}

func (c *Client) post(ctx context.Context, model string, req ChatRequest) (ChatResponse, error) {
	payload := ChatRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ChatResponse{}, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
		}
		if len(out.Choices) == 0 {
			return ChatResponse{}, fmt.Errorf("%w: empty choices", ErrTransient)
		}
		return ChatResponse{Model: model, Content: out.Choices[0].Message.Content}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return ChatResponse{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		return ChatResponse{}, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}
}
