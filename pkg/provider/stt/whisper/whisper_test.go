package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/stt"
	"github.com/MrWong99/cherry/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type inferenceRequest struct {
	language string
	model    string
	wav      audio.Frame
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and records the last request.
func newMockServer(t *testing.T, responseText string, last *atomic.Pointer[inferenceRequest]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		frame, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if last != nil {
			last.Store(&inferenceRequest{
				language: r.FormValue("language"),
				model:    r.FormValue("model"),
				wav:      frame,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speech(rate int, d time.Duration) audio.Frame {
	n := int(d.Seconds() * float64(rate))
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.3
	}
	return audio.Frame{Samples: s, SampleRate: rate}
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_PostsWAVAndReturnsText(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[inferenceRequest]
	srv := newMockServer(t, "  open the calculator \n", &last)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"), whisper.WithModel("small"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), speech(16000, 500*time.Millisecond))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "open the calculator" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v", tr.Duration)
	}

	req := last.Load()
	if req == nil {
		t.Fatal("server saw no request")
	}
	if req.language != "de" || req.model != "small" {
		t.Errorf("fields language=%q model=%q", req.language, req.model)
	}
	if req.wav.SampleRate != 16000 || len(req.wav.Samples) != 8000 {
		t.Errorf("wav rate=%d samples=%d", req.wav.SampleRate, len(req.wav.Samples))
	}
}

func TestTranscribe_ResamplesTo16k(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[inferenceRequest]
	srv := newMockServer(t, "hi", &last)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), speech(48000, time.Second)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := last.Load().wav; got.SampleRate != 16000 || len(got.Samples) != 16000 {
		t.Errorf("wav rate=%d samples=%d, want 16000/16000", got.SampleRate, len(got.Samples))
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), audio.Frame{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speech(16000, 100*time.Millisecond)); err == nil {
		t.Error("expected error on HTTP 500")
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speech(16000, 100*time.Millisecond)); err == nil {
		t.Error("expected error on malformed JSON")
	}
}
