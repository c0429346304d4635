// Package wsbridge exposes a WebSocket endpoint that lets a thin remote client
// act as Cherry's microphone and speaker.
//
// The peer streams binary messages containing mono audio at the bridge sample
// rate, encoded with the configured codec (raw PCM16 LE or Opus). Synthesized
// speech flows back over the same connection using the same codec. Only one
// peer may be connected at a time; additional connections are refused with
// 409 Conflict.
//
// Right after the handshake the bridge sends a single text message
// describing the stream:
//
//	{"type":"hello","codec":"opus","sample_rate":48000}
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cherry/pkg/audio"
)

// ErrNoPeer is returned by [Bridge.Play] when no client is connected.
var ErrNoPeer = errors.New("wsbridge: no peer connected")

const (
	defaultSampleRate = 48000
	captureBuffer     = 64

	// playoutLead is how far writes may run ahead of the peer's speaker.
	playoutLead = 200 * time.Millisecond
)

// Bridge is both an [audio.Device] and an [audio.Sink] backed by a single
// WebSocket peer. Mount it on an HTTP mux with [Bridge.ServeHTTP].
type Bridge struct {
	codecName  string
	sampleRate int
	origins    []string

	captured chan []byte

	mu   sync.Mutex
	peer *peer
}

var (
	_ audio.Device = (*Bridge)(nil)
	_ audio.Sink   = (*Bridge)(nil)
)

type peer struct {
	conn  *websocket.Conn
	codec codec
	wmu   sync.Mutex
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithCodec selects the wire codec ("pcm16" or "opus"). Default: "pcm16".
func WithCodec(name string) Option {
	return func(b *Bridge) { b.codecName = name }
}

// WithSampleRate sets the wire sample rate. Default: 48000.
func WithSampleRate(hz int) Option {
	return func(b *Bridge) { b.sampleRate = hz }
}

// WithOriginPatterns sets the accepted cross-origin host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.origins = patterns }
}

// New creates a Bridge.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		codecName:  CodecPCM16,
		sampleRate: defaultSampleRate,
		captured:   make(chan []byte, captureBuffer),
	}
	for _, o := range opts {
		o(b)
	}
	if _, err := newCodec(b.codecName, b.sampleRate); err != nil {
		return nil, err
	}
	return b, nil
}

// NativeRate implements [audio.Device].
func (b *Bridge) NativeRate() int { return b.sampleRate }

// Connected reports whether a peer is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

// Capture implements [audio.Device]. The returned channel stays open across
// peer reconnects and closes only when ctx is cancelled.
func (b *Bridge) Capture(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, captureBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case pcm := <-b.captured:
				select {
				case out <- pcm:
				default:
					slog.Debug("wsbridge: capture consumer behind, dropping buffer")
				}
			}
		}
	}()
	return out, nil
}

// ServeHTTP accepts a peer connection and pumps its audio into the capture
// stream until the peer disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	busy := b.peer != nil
	b.mu.Unlock()
	if busy {
		http.Error(w, "a peer is already connected", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		slog.Warn("wsbridge: accept failed", "err", err)
		return
	}
	c, err := newCodec(b.codecName, b.sampleRate)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "codec unavailable")
		return
	}
	p := &peer{conn: conn, codec: c}

	b.mu.Lock()
	if b.peer != nil {
		b.mu.Unlock()
		conn.Close(websocket.StatusTryAgainLater, "a peer is already connected")
		return
	}
	b.peer = p
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.peer == p {
			b.peer = nil
		}
		b.mu.Unlock()
	}()

	ctx := r.Context()
	hello, _ := json.Marshal(map[string]any{
		"type":        "hello",
		"codec":       b.codecName,
		"sample_rate": b.sampleRate,
	})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return
	}
	slog.Info("wsbridge: peer connected", "remote", r.RemoteAddr, "codec", b.codecName)

	err = b.readLoop(ctx, p)
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		slog.Info("wsbridge: peer disconnected", "remote", r.RemoteAddr)
		return
	}
	slog.Warn("wsbridge: peer connection ended", "remote", r.RemoteAddr, "err", err)
	conn.Close(websocket.StatusInternalError, "read failed")
}

func (b *Bridge) readLoop(ctx context.Context, p *peer) error {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		pcm, err := p.codec.decode(data)
		if err != nil {
			slog.Debug("wsbridge: dropping undecodable packet", "err", err)
			continue
		}
		select {
		case b.captured <- pcm:
		default:
			// Never block the peer on a slow consumer.
		}
	}
}

// Play implements [audio.Sink]. The audio is resampled to the wire rate when
// needed and written to the connected peer. Writes are paced against a
// playout clock and Play returns only once the peer has had time to play
// everything, the way a local speaker blocks. Without a peer the stream is
// drained and [ErrNoPeer] is returned.
func (b *Bridge) Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error {
	b.mu.Lock()
	p := b.peer
	b.mu.Unlock()
	if p == nil {
		audio.Drain(pcm)
		return ErrNoPeer
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	clock := playout{start: time.Now(), rate: b.sampleRate}
	for chunk := range pcm {
		if ctx.Err() != nil {
			go audio.Drain(pcm)
			return ctx.Err()
		}
		if sampleRate != b.sampleRate {
			chunk = audio.Float32ToPCM16(audio.Resample(audio.PCM16ToFloat32(chunk), sampleRate, b.sampleRate))
		}
		packets, err := p.codec.encode(chunk)
		if err != nil {
			go audio.Drain(pcm)
			return err
		}
		if err := writeAll(ctx, p.conn, packets); err != nil {
			go audio.Drain(pcm)
			return err
		}
		clock.samples += len(chunk) / 2
		if err := clock.wait(ctx, playoutLead); err != nil {
			go audio.Drain(pcm)
			return err
		}
	}
	packets, err := p.codec.flush()
	if err != nil {
		return err
	}
	if err := writeAll(ctx, p.conn, packets); err != nil {
		return err
	}
	return clock.wait(ctx, 0)
}

// playout tracks how much audio has been sent since start.
type playout struct {
	start   time.Time
	rate    int
	samples int
}

// end is when the peer finishes playing everything sent so far.
func (c playout) end() time.Time {
	return c.start.Add(time.Duration(c.samples) * time.Second / time.Duration(c.rate))
}

// wait blocks until at most lead of sent audio is still unplayed.
func (c playout) wait(ctx context.Context, lead time.Duration) error {
	d := time.Until(c.end()) - lead
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeAll(ctx context.Context, conn *websocket.Conn, packets [][]byte) error {
	for _, pkt := range packets {
		if err := conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
			return fmt.Errorf("wsbridge: write: %w", err)
		}
	}
	return nil
}
