package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/brightpath/brightpath-backend/internal/platform/envutil"
	"github.com/brightpath/brightpath-backend/internal/platform/httpx"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
)

// Client wraps the chat-completion and embeddings endpoints. All generation
// in the backend goes through these four call shapes.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Plain text, single non-streaming call.
	Chat(ctx context.Context, system string, user string, opts *ChatOptions) (string, error)

	// Streaming deltas; the full accumulated text is returned after the
	// stream ends. One pass over one network stream; calling again issues
	// a new request.
	ChatStream(ctx context.Context, system string, user string, onDelta func(delta string)) (string, error)

	// JSON-constrained call at temperature 0, with an optional output
	// token budget (0 means provider default). On a malformed payload it
	// issues exactly one repair call before giving up with *JSONParseError.
	ChatJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any, maxTokens int) (map[string]any, error)
}

type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// APIError is a non-2xx response from the provider. Not retried beyond the
// transport-level backoff; surfaced to the caller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// JSONParseError means the model output was not valid JSON even after the
// single repair round-trip.
type JSONParseError struct {
	Raw string
	Err error
}

func (e *JSONParseError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %v", e.Err)
}

func (e *JSONParseError) Unwrap() error { return e.Err }

// SchemaValidationError means the output parsed as JSON but failed shape or
// constraint validation. Distinguishable from a parse failure.
type SchemaValidationError struct {
	Field  string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("schema validation failed at %s: %s", e.Field, e.Reason)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"), "/")
	model := envutil.Str("OPENAI_MODEL", "gpt-4o-mini")
	embedModel := envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small")
	timeoutSec := envutil.Int("OPENAI_TIMEOUT_SECONDS", 180)
	maxRetries := envutil.Int("OPENAI_MAX_RETRIES", 4)

	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}

	var resp embeddingsResponse
	if err := c.do(ctx, "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d model=%s", i, len(clean), len(resp.Data), c.embedModel)
		}
	}
	return out, nil
}

// -------------------- Chat completions --------------------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Stream         bool           `json:"stream,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func buildMessages(system, user string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: strings.TrimSpace(system)})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: user})
	return msgs
}

func (c *client) Chat(ctx context.Context, system string, user string, opts *ChatOptions) (string, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: buildMessages(system, user),
	}
	if opts != nil {
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
	}

	var resp chatResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	if r := strings.TrimSpace(resp.Choices[0].Message.Refusal); r != "" {
		return "", fmt.Errorf("model refused: %s", r)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty completion content")
	}
	return text, nil
}

// ChatStream streams content deltas from the chat completions SSE stream.
// Every non-empty delta is forwarded to onDelta and accumulated into the
// returned text.
func (c *client) ChatStream(ctx context.Context, system string, user string, onDelta func(delta string)) (string, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: buildMessages(system, user),
		Stream:   true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var full strings.Builder
	err = streamSSE(resp.Body, func(event string, data string) error {
		if strings.TrimSpace(data) == "" || strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error map[string]any `json:"error,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			return fmt.Errorf("openai stream error: %s", string(b))
		}
		for _, ch := range chunk.Choices {
			d := ch.Delta.Content
			if d == "" {
				continue
			}
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func (c *client) ChatJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any, maxTokens int) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	system = strings.TrimSpace(system) + "\nReturn raw JSON only. No markdown fences, no prose around the object."
	zero := 0.0

	req := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(system, user),
		Temperature: &zero,
		MaxTokens:   maxTokens,
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"schema": schema,
				"strict": true,
			},
		},
	}

	var resp chatResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	if r := strings.TrimSpace(resp.Choices[0].Message.Refusal); r != "" {
		return nil, fmt.Errorf("model refused: %s", r)
	}

	raw := resp.Choices[0].Message.Content
	obj, parseErr := parseJSONObject(raw)
	if parseErr == nil {
		return obj, nil
	}

	// One repair attempt: hand the malformed output back and ask for a fix.
	// This is content repair, not a transient-fault retry.
	c.log.Warn("ChatJSON parse failed; attempting repair", "schema", schemaName, "error", parseErr.Error())

	repairUser := fmt.Sprintf("The following output was supposed to be a single valid JSON object but is malformed. Return the corrected JSON object and nothing else.\n\n%s", raw)
	repairReq := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(system, repairUser),
		Temperature: &zero,
		MaxTokens:   maxTokens,
	}

	var repairResp chatResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", repairReq, &repairResp); err != nil {
		return nil, err
	}
	if len(repairResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in repair response")
	}

	repaired := repairResp.Choices[0].Message.Content
	obj, parseErr = parseJSONObject(repaired)
	if parseErr != nil {
		return nil, &JSONParseError{Raw: repaired, Err: parseErr}
	}
	return obj, nil
}

func parseJSONObject(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	// Models occasionally fence the payload despite instructions.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
