package wsbridge

import (
	"fmt"

	"layeh.com/gopus"
)

// Supported wire codecs.
const (
	CodecPCM16 = "pcm16"
	CodecOpus  = "opus"
)

// Opus packets on the bridge are mono 20 ms frames.
const (
	opusChannels    = 1
	opusFrameSizeMs = 20
)

// codec converts between bridge wire packets and little-endian mono PCM16.
// One codec instance serves a single peer connection.
type codec interface {
	decode(packet []byte) ([]byte, error)
	encode(pcm []byte) ([][]byte, error)
	flush() ([][]byte, error)
}

func newCodec(name string, sampleRate int) (codec, error) {
	switch name {
	case "", CodecPCM16:
		return pcm16Codec{}, nil
	case CodecOpus:
		return newOpusCodec(sampleRate)
	default:
		return nil, fmt.Errorf("wsbridge: unknown codec %q", name)
	}
}

// pcm16Codec passes raw samples through unchanged.
type pcm16Codec struct{}

func (pcm16Codec) decode(packet []byte) ([]byte, error) { return packet, nil }
func (pcm16Codec) encode(pcm []byte) ([][]byte, error) { return [][]byte{pcm}, nil }
func (pcm16Codec) flush() ([][]byte, error)            { return nil, nil }

// opusCodec wraps a gopus decoder/encoder pair. The encoder only accepts
// whole frames, so partial input is buffered until the next call or flush.
type opusCodec struct {
	dec       *gopus.Decoder
	enc       *gopus.Encoder
	frameSize int
	pending   []int16
}

func newOpusCodec(sampleRate int) (*opusCodec, error) {
	dec, err := gopus.NewDecoder(sampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: create opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(sampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: create opus encoder: %w", err)
	}
	return &opusCodec{
		dec:       dec,
		enc:       enc,
		frameSize: sampleRate * opusFrameSizeMs / 1000,
	}, nil
}

func (c *opusCodec) decode(packet []byte) ([]byte, error) {
	pcm, err := c.dec.Decode(packet, c.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

func (c *opusCodec) encode(pcm []byte) ([][]byte, error) {
	c.pending = append(c.pending, bytesToInt16s(pcm)...)
	var packets [][]byte
	for len(c.pending) >= c.frameSize {
		p, err := c.enc.Encode(c.pending[:c.frameSize], c.frameSize, c.frameSize*2)
		if err != nil {
			return packets, fmt.Errorf("wsbridge: opus encode: %w", err)
		}
		packets = append(packets, p)
		c.pending = c.pending[c.frameSize:]
	}
	return packets, nil
}

// flush pads the buffered remainder with silence and encodes it.
func (c *opusCodec) flush() ([][]byte, error) {
	if len(c.pending) == 0 {
		return nil, nil
	}
	pad := make([]int16, c.frameSize-len(c.pending))
	c.pending = append(c.pending, pad...)
	return c.encode(nil)
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
