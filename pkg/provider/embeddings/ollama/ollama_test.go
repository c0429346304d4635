package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/cherry/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with vec and counts requests.
func embedServer(t *testing.T, wantModel string, vec []float32, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel || len(req.Input) != 1 {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": wantModel, "embeddings": [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()

	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := embedServer(t, "nomic-embed-text", []float32{0.1, 0.2, 0.3}, nil)
	p, err := ollama.New(srv.URL+"/", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID = %q", p.ModelID())
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		opts  []ollama.Option
		want  int
	}{
		{model: "nomic-embed-text", want: 768},
		{model: "mxbai-embed-large:latest", want: 1024},
		{model: "all-minilm", want: 384},
		{model: "custom", opts: []ollama.Option{ollama.WithDimensions(42)}, want: 42},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			// Unreachable server: no probe may be issued.
			p, err := ollama.New("http://127.0.0.1:1", tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDimensions_ProbesOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := embedServer(t, "my-embedder", make([]float32, 5), &hits)
	p, _ := ollama.New(srv.URL, "my-embedder")

	for range 3 {
		if got := p.Dimensions(); got != 5 {
			t.Fatalf("Dimensions = %d, want 5", got)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("probe requests = %d, want 1", hits.Load())
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "m")
		if _, err := p.Embed(context.Background(), "x"); err == nil {
			t.Error("expected error on 500")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "m")
		if _, err := p.Embed(context.Background(), "x"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("empty embeddings", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"model":"m","embeddings":[]}`))
		}))
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "m")
		if _, err := p.Embed(context.Background(), "x"); err == nil {
			t.Error("expected error for empty embeddings")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "m")
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := p.Embed(ctx, "x"); err == nil {
			t.Error("expected error on cancelled context")
		}
	})
}
