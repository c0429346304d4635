package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/cherry/internal/config"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tests := []struct {
		kind string
		want []string
	}{
		{"llm", []string{"anthropic", "ollama", "openai", "openai-native"}},
		{"stt", []string{"deepgram", "whisper", "whisper-native"}},
		{"tts", []string{"coqui", "elevenlabs"}},
		{"embeddings", []string{"ollama", "openai"}},
	}
	for _, tt := range tests {
		names := reg.Names(tt.kind)
		for _, w := range tt.want {
			if !slices.Contains(names, w) {
				t.Errorf("%s providers %v missing %q", tt.kind, names, w)
			}
		}
	}
}

func TestOptInt(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"int": 768, "float": 1536.0, "str": "512", "bad": "many", "bool": true}
	tests := map[string]int{"int": 768, "float": 1536, "str": 512, "bad": 0, "bool": 0, "absent": 0}
	for key, want := range tests {
		if got := optInt(opts, key); got != want {
			t.Errorf("optInt(%q) = %d, want %d", key, got, want)
		}
	}
	if got := optInt(nil, "int"); got != 0 {
		t.Errorf("optInt(nil) = %d", got)
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"language": "en", "n": 3}
	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString(language) = %q", got)
	}
	if got := optString(opts, "n"); got != "" {
		t.Errorf("optString(n) = %q, want empty", got)
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if code := run([]string{"voices", "--config", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "not found") {
		t.Errorf("stderr = %q, want a not found hint", stderr.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"dance"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestRun_Status(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"online","system_stats":"CPU: 3%"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"status", "--url", srv.URL}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "status: online") || !strings.Contains(out, "CPU: 3%") {
		t.Errorf("stdout = %q", out)
	}
}

func TestRun_StatusUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"status", "--url", url}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}
