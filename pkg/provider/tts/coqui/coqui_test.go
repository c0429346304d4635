package coqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/types"
)

// ---- test helpers ----

// testWAV returns a WAV file with n samples of a constant level at rate.
func testWAV(n, rate int) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.EncodeWAV(audio.Frame{Samples: samples, SampleRate: rate})
}

func drainAudio(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
		if p.SampleRate() != defaultOutputRate {
			t.Errorf("SampleRate = %d, want %d", p.SampleRate(), defaultOutputRate)
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002",
			WithLanguage("de"),
			WithTimeout(5*time.Second),
			WithAPIMode(APIModeXTTS),
			WithOutputSampleRate(16000),
		)
		if p.language != "de" || p.httpClient.Timeout != 5*time.Second || p.apiMode != APIModeXTTS {
			t.Errorf("options not applied: %+v", p)
		}
		if p.SampleRate() != 16000 {
			t.Errorf("SampleRate = %d, want 16000", p.SampleRate())
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty URL")
		}
		if _, err := New("http://x", WithAPIMode("grpc")); err == nil {
			t.Error("expected error for unknown API mode")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_XTTSRequiresVoice(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://localhost:8002", WithAPIMode(APIModeXTTS))
	_, err := p.Synthesize(context.Background(), "Hello.", types.VoiceProfile{})
	if err == nil || !strings.Contains(err.Error(), "coqui:") {
		t.Fatalf("expected coqui error for empty voice ID, got %v", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://localhost:5002")
	if _, err := p.Synthesize(context.Background(), "   ", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	wav := testWAV(160, 16000)
	var (
		mu   sync.Mutex
		reqs []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithOutputSampleRate(16000))
	ch, err := p.Synthesize(context.Background(), "Hello world. Goodbye now!", types.VoiceProfile{ID: "spk"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	pcm := drainAudio(ch)

	if want := 2 * 160 * 2; len(pcm) != want {
		t.Errorf("PCM bytes = %d, want %d", len(pcm), want)
	}

	mu.Lock()
	defer mu.Unlock()
	texts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		texts = append(texts, r.Text)
		if r.SpeakerWav != "spk" || r.Language != defaultLanguage {
			t.Errorf("unexpected request %+v", r)
		}
	}
	slices.Sort(texts)
	if !slices.Equal(texts, []string{"Goodbye now!", "Hello world."}) {
		t.Errorf("sentences sent = %v", texts)
	}
}

func TestSynthesize_StandardResamples(t *testing.T) {
	t.Parallel()

	wav := testWAV(100, 11025)
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ch, err := p.Synthesize(context.Background(), "Hello world.", types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	pcm := drainAudio(ch)

	// 100 samples at 11025 Hz become 200 samples at 22050 Hz.
	if len(pcm) != 400 {
		t.Errorf("PCM bytes = %d, want 400", len(pcm))
	}
	if gotQuery["text"][0] != "Hello world." || gotQuery["speaker_id"][0] != "p225" || gotQuery["language_id"][0] != "en" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestSynthesize_PreservesSentenceOrder(t *testing.T) {
	t.Parallel()

	// The first sentence is slow and short, the second fast and long. Output
	// must still start with the first sentence's audio.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "First." {
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write(testWAV(10, 22050))
			return
		}
		_, _ = w.Write(audio.EncodeWAV(audio.Frame{Samples: make([]float32, 30), SampleRate: 22050}))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ch, err := p.Synthesize(context.Background(), "First. Second.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	samples := audio.PCM16ToFloat32(drainAudio(ch))
	if len(samples) != 40 {
		t.Fatalf("samples = %d, want 40", len(samples))
	}
	if samples[0] == 0 || samples[39] != 0 {
		t.Errorf("sentence audio out of order: first=%v last=%v", samples[0], samples[39])
	}
}

func TestSynthesize_ServerErrorClosesStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ch, err := p.Synthesize(context.Background(), "A sentence.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if pcm := drainAudio(ch); len(pcm) != 0 {
		t.Errorf("expected no audio on server error, got %d bytes", len(pcm))
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write(testWAV(10, 22050))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Synthesize(ctx, "This should not finish.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		drainAudio(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("audio channel did not close after cancellation")
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []string
	}{
		{"Hello.", []string{"Hello."}},
		{"Hello. World", []string{"Hello.", "World"}},
		{"How? Great!", []string{"How?", "Great!"}},
		{"3.14 is pi", []string{"3.14 is pi"}},
		{"Dr. Smith", []string{"Dr.", "Smith"}},
		{"  ", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := splitSentences(tt.input)
		if !slices.Equal(got, tt.want) {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"speaker_bob": {}, "speaker_alice": {}}`))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "speaker_alice" || voices[1].ID != "speaker_bob" {
		t.Fatalf("voices = %+v", voices)
	}
	for _, v := range voices {
		if v.Provider != "coqui" || v.Metadata["type"] != "studio" {
			t.Errorf("unexpected voice %+v", v)
		}
	}
}

func TestListVoices_Standard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		details  detailsResponse
		wantIDs  []string
		wantType string
	}{
		{
			name:     "multi-speaker",
			details:  detailsResponse{ModelName: "tts_models/en/vctk/vits", Speakers: []string{"p227", "p225", "p226"}},
			wantIDs:  []string{"p225", "p226", "p227"},
			wantType: "speaker",
		},
		{
			name:     "single-speaker",
			details:  detailsResponse{ModelName: "tts_models/en/ljspeech/vits"},
			wantIDs:  []string{"tts_models/en/ljspeech/vits"},
			wantType: "single-speaker",
		},
		{
			name:     "unnamed model",
			details:  detailsResponse{},
			wantIDs:  []string{"default"},
			wantType: "single-speaker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, _ := json.Marshal(tt.details)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write(data)
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			ids := make([]string, len(voices))
			for i, v := range voices {
				ids[i] = v.ID
				if v.Metadata["type"] != tt.wantType {
					t.Errorf("voice %q type = %q, want %q", v.ID, v.Metadata["type"], tt.wantType)
				}
			}
			if !slices.Equal(ids, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil || !strings.Contains(err.Error(), "coqui:") {
		t.Fatalf("expected coqui error, got %v", err)
	}
}
