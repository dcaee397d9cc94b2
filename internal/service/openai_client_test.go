package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testOpenAIConfig(baseURL string) OpenAIConfig {
	return OpenAIConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "gpt-4o",
		RequestTimeout: 5 * time.Second,
		StreamTimeout:  5 * time.Second,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func sseBody(fragments ...string) string {
	out := ""
	for _, f := range fragments {
		out += fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", f)
	}
	return out + "data: [DONE]\n\n"
}

func collectStream(t *testing.T, stream *CompletionStream) []string {
	t.Helper()
	var got []string
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return got
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got = append(got, fragment)
	}
}

func TestStreamCompletionDeliversFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody("Hello", ", ", "world"))
	}))
	defer srv.Close()

	client := NewOpenAIClient(testOpenAIConfig(srv.URL), zerolog.Nop())
	stream, err := client.StreamCompletion(context.Background(), []CompletionMessage{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	defer stream.Close()

	got := collectStream(t, stream)
	if len(got) != 3 || got[0] != "Hello" || got[2] != "world" {
		t.Fatalf("fragments = %v", got)
	}
	if stream.Text() != "Hello, world" {
		t.Fatalf("Text() = %q", stream.Text())
	}
}

func TestStreamCompletionRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, sseBody("ok"))
	}))
	defer srv.Close()

	client := NewOpenAIClient(testOpenAIConfig(srv.URL), zerolog.Nop())
	stream, err := client.StreamCompletion(context.Background(), nil, GenerationParams{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	defer stream.Close()

	got := collectStream(t, stream)
	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("fragments = %v", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestStreamCompletionDoesNotRetryPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewOpenAIClient(testOpenAIConfig(srv.URL), zerolog.Nop())
	if _, err := client.StreamCompletion(context.Background(), nil, GenerationParams{}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestStreamCompletionGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewOpenAIClient(testOpenAIConfig(srv.URL), zerolog.Nop())
	if _, err := client.StreamCompletion(context.Background(), nil, GenerationParams{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestStreamCompletionReportsTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stream ends without the terminal marker.
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
	}))
	defer srv.Close()

	client := NewOpenAIClient(testOpenAIConfig(srv.URL), zerolog.Nop())
	stream, err := client.StreamCompletion(context.Background(), nil, GenerationParams{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	defer stream.Close()

	if fragment, err := stream.Recv(); err != nil || fragment != "partial" {
		t.Fatalf("Recv = %q, %v", fragment, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("Recv error = %v, want ErrTruncatedStream", err)
	}
}

func TestStreamCompletionAbortsStalledStreamOnDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		// Stall without ever sending the terminal marker.
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testOpenAIConfig(srv.URL)
	cfg.StreamTimeout = 100 * time.Millisecond
	client := NewOpenAIClient(cfg, zerolog.Nop())
	stream, err := client.StreamCompletion(context.Background(), nil, GenerationParams{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	defer stream.Close()

	if fragment, err := stream.Recv(); err != nil || fragment != "partial" {
		t.Fatalf("Recv = %q, %v", fragment, err)
	}
	_, err = stream.Recv()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Recv error = %v, want deadline failure", err)
	}
}

func TestCompleteReturnsFullText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"full evaluation text"}}]}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(testOpenAIConfig(srv.URL), zerolog.Nop())
	text, err := client.Complete(context.Background(), nil, GenerationParams{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "full evaluation text" {
		t.Fatalf("text = %q", text)
	}
}
