// Package pipe implements [audio.Device] and [audio.Sink] by streaming raw
// PCM16 through external capture and playback commands (arecord/aplay, sox,
// ffmpeg, parec/pacat, …).
//
// Command templates may contain the placeholder {rate}, replaced with the
// sample rate in Hz before the command is started.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/cherry/pkg/audio"
)

// Default command templates (ALSA utilities).
const (
	DefaultCaptureCommand  = "arecord -q -t raw -f S16_LE -c 1 -r {rate}"
	DefaultPlaybackCommand = "aplay -q -t raw -f S16_LE -c 1 -r {rate}"
)

const readChunk = 4096

// Device captures audio from the stdout of a command.
type Device struct {
	command string
	rate    int
}

var _ audio.Device = (*Device)(nil)

// NewDevice returns a Device that runs command (a template) at rate Hz. An
// empty command selects [DefaultCaptureCommand].
func NewDevice(command string, rate int) *Device {
	if command == "" {
		command = DefaultCaptureCommand
	}
	return &Device{command: command, rate: rate}
}

// NativeRate implements [audio.Device].
func (d *Device) NativeRate() int { return d.rate }

// Capture implements [audio.Device]. The process is killed when ctx is
// cancelled; the returned channel closes when the process exits.
func (d *Device) Capture(ctx context.Context) (<-chan []byte, error) {
	cmd, err := buildCommand(ctx, d.command, d.rate)
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pipe: start %q: %w", cmd.Path, err)
	}

	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		buf := make([]byte, readChunk)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				default:
					slog.Debug("pipe: capture consumer behind, dropping buffer", "bytes", n)
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Warn("pipe: capture read failed", "err", err)
				}
				break
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("pipe: capture command exited", "err", err)
		}
	}()
	return out, nil
}

// Sink plays audio by writing to the stdin of a command started per stream.
type Sink struct {
	command string
}

var _ audio.Sink = (*Sink)(nil)

// NewSink returns a Sink for command (a template). An empty command selects
// [DefaultPlaybackCommand].
func NewSink(command string) *Sink {
	if command == "" {
		command = DefaultPlaybackCommand
	}
	return &Sink{command: command}
}

// Play implements [audio.Sink]. It blocks until the playback command has
// consumed every chunk and exited.
func (s *Sink) Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error {
	cmd, err := buildCommand(ctx, s.command, sampleRate)
	if err != nil {
		audio.Drain(pcm)
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		audio.Drain(pcm)
		return fmt.Errorf("pipe: stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		audio.Drain(pcm)
		return fmt.Errorf("pipe: start %q: %w", cmd.Path, err)
	}

	var writeErr error
	for chunk := range pcm {
		if writeErr != nil {
			continue
		}
		if _, err := stdin.Write(chunk); err != nil {
			writeErr = fmt.Errorf("pipe: write: %w", err)
		}
	}
	stdin.Close()
	waitErr := cmd.Wait()
	if writeErr != nil {
		return writeErr
	}
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("pipe: playback command: %w", waitErr)
	}
	return ctx.Err()
}

func buildCommand(ctx context.Context, template string, rate int) (*exec.Cmd, error) {
	expanded := strings.ReplaceAll(template, "{rate}", strconv.Itoa(rate))
	parts := strings.Fields(expanded)
	if len(parts) == 0 {
		return nil, errors.New("pipe: empty command")
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...), nil
}
