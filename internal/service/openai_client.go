package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrTruncatedStream is returned by CompletionStream.Recv when the provider
// connection drops before the [DONE] sentinel. Callers must never persist a
// truncated reply as complete.
var ErrTruncatedStream = errors.New("completion stream truncated before terminal marker")

// CompletionMessage is one role-tagged turn sent to the completion provider.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams shape response variety and are passed through unchanged
// per request.
type GenerationParams struct {
	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
}

// CompletionClient wraps the external language-model provider.
type CompletionClient interface {
	// StreamCompletion opens a streaming completion. Fragments are delivered
	// through the returned stream as they arrive.
	StreamCompletion(ctx context.Context, messages []CompletionMessage, params GenerationParams) (*CompletionStream, error)
	// Complete runs a non-streaming completion and returns the full text.
	Complete(ctx context.Context, messages []CompletionMessage, params GenerationParams) (string, error)
}

// OpenAIConfig carries the provider settings the client needs.
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type openAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
	logger zerolog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible chat completions
// endpoint.
func NewOpenAIClient(cfg OpenAIConfig, logger zerolog.Logger) CompletionClient {
	return &openAIClient{
		cfg: cfg,
		// No client-level timeout: streaming responses outlive any fixed
		// deadline, so cancellation is driven by the request context.
		client: &http.Client{},
		logger: logger.With().Str("service", "OpenAIClient").Logger(),
	}
}

type chatCompletionRequest struct {
	Model            string              `json:"model"`
	Messages         []CompletionMessage `json:"messages"`
	Stream           bool                `json:"stream"`
	Temperature      float64             `json:"temperature"`
	FrequencyPenalty float64             `json:"frequency_penalty"`
	PresencePenalty  float64             `json:"presence_penalty"`
	MaxTokens        int                 `json:"max_tokens"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// permanentError marks a provider failure that must not be retried
// (malformed request, auth, quota).
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("provider rejected request: status %d: %s", e.status, e.body)
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// post sends the completion request with exponential backoff on transient
// failures. Retries happen only here, before any fragment has been
// delivered to a caller.
func (c *openAIClient) post(ctx context.Context, payload chatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling completion request: %w", err)
	}

	backoff := c.cfg.BackoffInitial
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating completion request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if !retryableStatus(resp.StatusCode) {
				return nil, &permanentError{status: resp.StatusCode, body: string(respBody)}
			}
			lastErr = fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
		} else {
			lastErr = err
		}

		c.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("Completion request failed, retrying")
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	return nil, fmt.Errorf("completion request failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *openAIClient) StreamCompletion(ctx context.Context, messages []CompletionMessage, params GenerationParams) (*CompletionStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)

	resp, err := c.post(ctx, chatCompletionRequest{
		Model:            c.cfg.Model,
		Messages:         messages,
		Stream:           true,
		Temperature:      params.Temperature,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxTokens:        params.MaxTokens,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &CompletionStream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

func (c *openAIClient) Complete(ctx context.Context, messages []CompletionMessage, params GenerationParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.post(ctx, chatCompletionRequest{
		Model:            c.cfg.Model,
		Messages:         messages,
		Stream:           false,
		Temperature:      params.Temperature,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxTokens:        params.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatCompletionChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion response contained no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// CompletionStream is a finite lazy sequence of text fragments. Recv returns
// io.EOF only after the provider's terminal marker; any earlier end of input
// is reported as ErrTruncatedStream.
type CompletionStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	full   strings.Builder
	done   bool
}

// Recv returns the next non-empty text fragment.
func (s *CompletionStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrTruncatedStream
			}
			return "", fmt.Errorf("reading completion stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if strings.TrimSpace(data) == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip frames we cannot parse rather than killing the stream.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		s.full.WriteString(content)
		return content, nil
	}
}

// Text returns the full reply accumulated so far. Complete only once Recv
// has returned io.EOF.
func (s *CompletionStream) Text() string {
	return s.full.String()
}

// Close aborts the in-flight provider call and releases the connection. Safe
// to call on every exit path.
func (s *CompletionStream) Close() error {
	s.cancel()
	return s.body.Close()
}
