package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListModels(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3:latest","model":"llama3","size":4000000000}]}`)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3:latest" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModelsBackendDown(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	if _, err := c.ListModels(context.Background()); err == nil {
		t.Fatal("expected error for unreachable backend")
	}
}

func TestChat(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Stream {
			t.Error("Chat must request stream=false")
		}
		if req.Model != "llama3" {
			t.Errorf("model = %q", req.Model)
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hi there"},"done":true}`)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	resp, err := c.Chat(context.Background(), "llama3", []ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Message.Content != "hi there" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestChatStream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	var got string
	var sawDone bool
	err := c.ChatStream(context.Background(), "llama3", nil, func(chunk StreamChunk) error {
		got += chunk.Content
		if chunk.Done {
			sawDone = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("assembled content = %q, want hello", got)
	}
	if !sawDone {
		t.Error("final chunk must carry done=true")
	}
}

func TestChatStreamCallbackAbort(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"x"},"done":false}`)
		}
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	calls := 0
	err := c.ChatStream(context.Background(), "llama3", nil, func(chunk StreamChunk) error {
		calls++
		return fmt.Errorf("client went away")
	})
	if err == nil {
		t.Fatal("expected the callback error to propagate")
	}
	if calls != 1 {
		t.Errorf("callback ran %d times after abort, want 1", calls)
	}
}

func TestChatBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	_, err := c.Chat(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for backend 404")
	}
}

func TestDeleteModel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "llama3" {
			t.Errorf("name = %q", body["name"])
		}
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	if err := c.DeleteModel(context.Background(), "llama3"); err != nil {
		t.Fatalf("DeleteModel() error = %v", err)
	}
}

func TestHealthy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, time.Second)
	if !c.Healthy(context.Background()) {
		t.Error("expected healthy backend")
	}

	down := NewClient("http://127.0.0.1:1", time.Second)
	if down.Healthy(context.Background()) {
		t.Error("unreachable backend must not report healthy")
	}
}
