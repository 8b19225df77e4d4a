package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateBlocking(t *testing.T) {
	var gotPayload struct {
		Model  string   `json:"model"`
		Prompt string   `json:"prompt"`
		Images []string `json:"images"`
		Stream bool     `json:"stream"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "a summary", "done": true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	text, err := client.Generate(context.Background(), GenerateRequest{
		Model:  "deepseek-r1:1.5b",
		Prompt: "summarize this",
		Images: [][]byte{[]byte("fake-image-bytes")},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "a summary" {
		t.Fatalf("expected generated text, got %q", text)
	}

	if gotPayload.Stream {
		t.Fatal("expected blocking call to set stream=false")
	}
	if gotPayload.Model != "deepseek-r1:1.5b" {
		t.Fatalf("unexpected model %q", gotPayload.Model)
	}
	want := base64.StdEncoding.EncodeToString([]byte("fake-image-bytes"))
	if len(gotPayload.Images) != 1 || gotPayload.Images[0] != want {
		t.Fatal("expected image to be base64 encoded at the transport boundary")
	}
}

func TestGenerateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "missing", Prompt: "hi"})

	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected *BackendError, got %v", err)
	}
	if backendErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", backendErr.StatusCode)
	}
	if backendErr.Detail != "model not found" {
		t.Fatalf("expected parsed detail, got %q", backendErr.Detail)
	}
}

func TestGenerateMalformedBodyIsNotABackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("this is not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		t.Fatal("decode failures must stay distinct from backend-declared errors")
	}
}

func TestGenerateStreamConcatenatesFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		chunks := []string{
			`{"response":"The ","done":false}`,
			`{"response":"quick ","done":false}`,
			``,
			`{"response":"fox.","done":true}`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n"))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	var b strings.Builder
	err := client.GenerateStream(context.Background(), GenerateRequest{Model: "m", Prompt: "p"}, func(fragment string) error {
		b.WriteString(fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if b.String() != "The quick fox." {
		t.Fatalf("unexpected concatenation %q", b.String())
	}
}

func TestGenerateStreamStopsOnEmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"fragment","done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"response":"more","done":true}` + "\n"))
	}))
	defer srv.Close()

	stop := errors.New("consumer gone")
	client := NewClient(srv.URL)
	err := client.GenerateStream(context.Background(), GenerateRequest{Model: "m", Prompt: "p"}, func(string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected emit error to propagate, got %v", err)
	}
}
