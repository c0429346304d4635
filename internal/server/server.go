// Package server exposes Cherry's brain over HTTP so a listener on another
// machine can use it.
//
//	GET  /api/status  brain and host status
//	POST /api/voice   multipart WAV + context, returns transcription and reply
//	POST /api/chat    text in, directives executed on the brain host
//
// /healthz, /readyz and /metrics are served alongside.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/health"
	"github.com/MrWong99/cherry/internal/observe"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/types"
)

const (
	// DefaultMaxUpload caps the multipart body of /api/voice.
	DefaultMaxUpload = 32 << 20

	shutdownTimeout = 15 * time.Second
)

// Brain transcribes and answers. Implemented by the local backend.
type Brain interface {
	Transcribe(ctx context.Context, utterance audio.Frame) (string, error)
	Reply(ctx context.Context, text string, history []types.Message) (backend.Reply, error)
	Status(ctx context.Context) (*backend.Status, error)
}

// Dispatcher runs and strips directives. Implemented by the dispatch
// package.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply backend.Reply) string
	Strip(text string) string
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxUpload caps the /api/voice body size in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// Server is the brain HTTP API.
type Server struct {
	brain          Brain
	disp           Dispatcher
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxUpload      int64
}

// New returns a server answering with brain and running directives with d.
func New(brain Brain, d Dispatcher, opts ...Option) *Server {
	s := &Server{brain: brain, disp: d, maxUpload: DefaultMaxUpload}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed API wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/voice", s.handleVoice)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return Serve(ctx, addr, s.Handler())
}

// Serve runs an HTTP server for h on addr until ctx is cancelled. In-flight
// requests get up to 15 seconds to finish.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.brain.Status(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("status failed", "err", err)
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	f, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable audio file")
		return
	}
	utterance, err := audio.DecodeWAV(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio must be a PCM16 WAV file")
		return
	}
	history, err := backend.DecodeHistory(r.FormValue("context"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid context")
		return
	}

	text, err := s.brain.Transcribe(ctx, utterance)
	switch {
	case errors.Is(err, backend.ErrNoSpeech):
		writeError(w, http.StatusBadRequest, "no speech detected")
		return
	case err != nil:
		log.Error("transcription failed", "err", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	log.Info("transcribed", "text", text)

	reply, err := s.brain.Reply(ctx, text, history)
	if err != nil {
		log.Error("reply failed", "err", err)
		writeError(w, http.StatusBadGateway, "language model failed")
		return
	}
	wire, err := backend.EncodeReply(reply)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := backend.VoiceResponse{Transcription: text, Reply: wire}
	if t, ok := reply.(backend.Text); ok {
		resp.Response = s.disp.Strip(t.Content)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Text string `json:"text"`
}

// ChatResponse is the body of a successful POST /api/chat.
type ChatResponse struct {
	OriginalResponse string `json:"original_response"`
	CleanResponse    string `json:"clean_response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := s.brain.Reply(ctx, text, nil)
	if err != nil {
		observe.Logger(ctx).Error("reply failed", "err", err)
		writeError(w, http.StatusBadGateway, "language model failed")
		return
	}
	var original string
	if t, ok := reply.(backend.Text); ok {
		original = t.Content
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		OriginalResponse: original,
		CleanResponse:    s.disp.Dispatch(ctx, reply),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
