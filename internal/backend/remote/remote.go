// Package remote reaches a Cherry brain server over HTTP.
//
// The listener posts each utterance as a WAV file together with the recent
// conversation and receives the transcription and the reply. Calls pass
// through a circuit breaker so a dead brain fails fast instead of holding
// the pipeline in THINKING for a full timeout on every utterance.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/observe"
	"github.com/MrWong99/cherry/internal/resilience"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/types"
)

// Defaults for the startup status probe and requests.
const (
	DefaultStatusAttempts = 15
	DefaultStatusInterval = 2 * time.Second
	DefaultTimeout        = 60 * time.Second

	// maxErrorBody caps how much of an error response is kept for the error
	// message.
	maxErrorBody = 512
)

var _ backend.Client = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithStatusRetry sets how often [Client.WaitReady] probes and how long it
// waits between probes.
func WithStatusRetry(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.interval = interval
	}
}

// WithBreaker tunes the circuit breaker. IsFailure is always replaced so
// that "no speech" answers never trip it.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) { c.breakerCfg = cfg }
}

// WithMetrics records conversation latency and errors.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is a [backend.Client] talking to a brain server.
type Client struct {
	baseURL    string
	http       *http.Client
	attempts   int
	interval   time.Duration
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New returns a Client for the brain at baseURL (e.g.
// "http://192.168.1.20:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote: brain URL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: DefaultTimeout},
		attempts:   DefaultStatusAttempts,
		interval:   DefaultStatusInterval,
		breakerCfg: resilience.CircuitBreakerConfig{Name: "brain"},
	}
	for _, o := range opts {
		o(c)
	}
	c.breakerCfg.IsFailure = isFailure
	c.breaker = resilience.NewCircuitBreaker(c.breakerCfg)
	return c, nil
}

func isFailure(err error) bool {
	return !errors.Is(err, backend.ErrNoSpeech) && !errors.Is(err, context.Canceled)
}

// Converse implements [backend.Client].
func (c *Client) Converse(ctx context.Context, utterance audio.Frame, history []types.Message) (*backend.Result, error) {
	ctx, span := observe.StartSpan(ctx, "backend.remote.Converse")
	start := time.Now()
	res, err := resilience.Call(c.breaker, func() (*backend.Result, error) {
		return c.converse(ctx, utterance, history)
	})
	if c.metrics != nil && !errors.Is(err, backend.ErrNoSpeech) {
		c.metrics.RecordBackend(ctx, "remote", time.Since(start).Seconds(), err)
	}
	observe.EndSpan(span, err)
	return res, err
}

func (c *Client) converse(ctx context.Context, utterance audio.Frame, history []types.Message) (*backend.Result, error) {
	contextField, err := backend.EncodeHistory(history)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("remote: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(utterance)); err != nil {
		return nil, fmt.Errorf("remote: write wav data: %w", err)
	}
	if err := mw.WriteField("context", contextField); err != nil {
		return nil, fmt.Errorf("remote: write context field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice", &body)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, backend.ErrNoSpeech
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, statusError(resp)
	}

	var vr backend.VoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", backend.ErrUnavailable, err)
	}
	reply, err := backend.DecodeReply(vr.Reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	return &backend.Result{Transcription: vr.Transcription, Reply: reply}, nil
}

// Status probes the brain once.
func (c *Client) Status(ctx context.Context) (*backend.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var st backend.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("remote: decode status: %w", err)
	}
	return &st, nil
}

// WaitReady probes the brain until it answers, up to the configured number
// of attempts. It returns the last error when the brain never answered.
func (c *Client) WaitReady(ctx context.Context) (*backend.Status, error) {
	var lastErr error
	n := max(c.attempts, 1)
	for i := range n {
		st, err := c.Status(ctx)
		if err == nil {
			return st, nil
		}
		lastErr = err
		slog.Warn("remote: brain not ready", "url", c.baseURL, "attempt", i+1, "max_attempts", n, "err", err)
		if i == n-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return nil, fmt.Errorf("remote: brain at %s not reachable: %w", c.baseURL, lastErr)
}

// BreakerState reports the circuit breaker state, for health checks.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("%w: HTTP %d", backend.ErrUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d: %s", backend.ErrUnavailable, resp.StatusCode, msg)
}
