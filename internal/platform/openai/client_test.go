package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", server.URL)
	t.Setenv("OPENAI_MAX_RETRIES", "0")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewClient(log)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if _, err := NewClient(log); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestEmbed_PreservesInputOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// Return data out of order; the client must restore input order.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))

	vectors, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("vectors not mapped back by index: %v", vectors)
	}
}

func TestChat_SurfacesAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad auth"}}`, http.StatusUnauthorized)
	}))

	_, err := c.Chat(context.Background(), "sys", "user", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", apiErr.StatusCode)
	}
}

func TestChatStream_AccumulatesDeltas(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo", " there"} {
			chunk := map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]any{"content": delta}},
				},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	var tokens []string
	full, err := c.ChatStream(context.Background(), "sys", "user", func(delta string) {
		tokens = append(tokens, delta)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if full != "Hello there" {
		t.Fatalf("unexpected accumulated text: %q", full)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(tokens))
	}
}

func TestChatJSON_ParsesFirstTry(t *testing.T) {
	var gotMaxTokens float64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if v, ok := req["max_tokens"].(float64); ok {
			gotMaxTokens = v
		}
		json.NewEncoder(w).Encode(chatCompletion(`{"answer": 42}`))
	}))

	obj, err := c.ChatJSON(context.Background(), "sys", "user", "test_schema", map[string]any{"type": "object"}, 900)
	if err != nil {
		t.Fatalf("chat json: %v", err)
	}
	if obj["answer"] != float64(42) {
		t.Fatalf("unexpected payload: %v", obj)
	}
	if gotMaxTokens != 900 {
		t.Fatalf("expected max_tokens 900, got %v", gotMaxTokens)
	}
}

func TestChatJSON_StripsMarkdownFences(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatCompletion("```json\n{\"ok\": true}\n```"))
	}))

	obj, err := c.ChatJSON(context.Background(), "sys", "user", "test_schema", map[string]any{"type": "object"}, 0)
	if err != nil {
		t.Fatalf("chat json: %v", err)
	}
	if obj["ok"] != true {
		t.Fatalf("unexpected payload: %v", obj)
	}
}

func TestChatJSON_RepairsOnceThenFails(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			json.NewEncoder(w).Encode(chatCompletion(`{"broken":`))
		default:
			json.NewEncoder(w).Encode(chatCompletion(`{"fixed": true}`))
		}
	}))

	obj, err := c.ChatJSON(context.Background(), "sys", "user", "test_schema", map[string]any{"type": "object"}, 0)
	if err != nil {
		t.Fatalf("chat json: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one repair call, got %d total calls", calls)
	}
	if obj["fixed"] != true {
		t.Fatalf("unexpected payload: %v", obj)
	}
}

func TestChatJSON_SecondParseFailureIsJSONParseError(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(chatCompletion("still not json"))
	}))

	_, err := c.ChatJSON(context.Background(), "sys", "user", "test_schema", map[string]any{"type": "object"}, 0)
	var parseErr *JSONParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *JSONParseError, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("repair is capped at one attempt, got %d calls", calls)
	}
}
