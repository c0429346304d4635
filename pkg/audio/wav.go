package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const bitsPerSample = 16

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a 16-bit
// PCM RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// EncodeWAV wraps a mono frame into a 16-bit PCM WAV container.
func EncodeWAV(f Frame) []byte {
	return encodeWAV(Float32ToPCM16(f.Samples), f.SampleRate, 1)
}

func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a 16-bit PCM WAV stream into a mono frame. Stereo input is
// downmixed. Unknown chunks between "fmt " and "data" are skipped.
func DecodeWAV(b []byte) (Frame, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Frame{}, ErrInvalidWAV
	}

	var (
		channels   int
		sampleRate int
		haveFmt    bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Frame{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if format != 1 || bits != bitsPerSample {
				return Frame{}, fmt.Errorf("%w: unsupported format %d/%d-bit", ErrInvalidWAV, format, bits)
			}
			if channels != 1 && channels != 2 {
				return Frame{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidWAV, channels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Frame{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			pcm := b[body : body+size]
			if channels == 2 {
				pcm = StereoToMono(pcm)
			}
			return Frame{Samples: PCM16ToFloat32(pcm), SampleRate: sampleRate}, nil
		}
		off = body + size + size%2
	}
	return Frame{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
