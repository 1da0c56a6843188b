package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler func(model string) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		status, content := handler(req.Model)
		if status != http.StatusOK {
			http.Error(w, "err", status)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(url string) *Client {
	return &Client{
		BaseURL:       url,
		Model:         "primary",
		FallbackModel: "backup",
		MaxTokens:     4000,
		HTTP:          &http.Client{Timeout: 5 * time.Second},
	}
}

func TestModelFallbackOnTransientError(t *testing.T) {
	srv := chatServer(t, func(model string) (int, string) {
		if model == "primary" {
			return http.StatusInternalServerError, ""
		}
		return http.StatusOK, "ok from " + model
	})
	defer srv.Close()

	resp, err := testClient(srv.URL).CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("expected success via fallback, got: %v", err)
	}
	if resp.Content != "ok from backup" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Model != "backup" {
		t.Errorf("model = %q, want backup", resp.Model)
	}
}

func TestPermanentErrorSkipsFallback(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(model string) (int, string) {
		atomic.AddInt32(&calls, 1)
		return http.StatusUnauthorized, ""
	})
	defer srv.Close()

	_, err := testClient(srv.URL).CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("permanent error should not retry, got %d calls", got)
	}
}

func TestTransientErrorWithoutFallbackModel(t *testing.T) {
	srv := chatServer(t, func(model string) (int, string) {
		return http.StatusTooManyRequests, ""
	})
	defer srv.Close()

	c := testClient(srv.URL)
	c.FallbackModel = ""
	_, err := c.CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestMaxTokensClamped(t *testing.T) {
	var seen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		seen = req.MaxTokens
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.MaxTokens = 100
	if _, err := c.CreateChatCompletion(context.Background(), ChatRequest{
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 9999,
	}); err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if seen != 100 {
		t.Errorf("max_tokens = %d, want clamped to 100", seen)
	}
}
