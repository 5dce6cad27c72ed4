package daemon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed 16-byte data-plane frame header (spec §4.5).
const HeaderSize = 16

// ErrShortFrame marks a frame too short to contain its declared payload.
var ErrShortFrame = errors.New("short frame")

// FrameHeader is the 16-byte big-endian header preceding every data-plane
// payload, shared by outgoing ADC blocks and incoming DAC bursts.
type FrameHeader struct {
	TimestampUs uint64
	Seqno       uint32
	NSamples    uint16
	NChannels   uint16
}

// EncodeHeader serializes h to its 16-byte big-endian wire form.
func EncodeHeader(h FrameHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], h.TimestampUs)
	binary.BigEndian.PutUint32(buf[8:12], h.Seqno)
	binary.BigEndian.PutUint16(buf[12:14], h.NSamples)
	binary.BigEndian.PutUint16(buf[14:16], h.NChannels)
	return buf
}

// DecodeHeader parses the leading 16 bytes of b.
func DecodeHeader(b []byte) (FrameHeader, error) {
	if len(b) < HeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrShortFrame, HeaderSize, len(b))
	}
	return FrameHeader{
		TimestampUs: binary.BigEndian.Uint64(b[0:8]),
		Seqno:       binary.BigEndian.Uint32(b[8:12]),
		NSamples:    binary.BigEndian.Uint16(b[12:14]),
		NChannels:   binary.BigEndian.Uint16(b[14:16]),
	}, nil
}

// EncodeFrame builds a full wire frame: header followed by nsamples*nchannels
// big-endian float32 samples, channel-interleaved — samples[t*nchannels+ch],
// the same sample-major/channel-minor layout clock.Block already uses, so no
// transpose is needed on the hot path (spec §4.5, §9 "Column-major vs row-major").
func EncodeFrame(h FrameHeader, samples []float32) []byte {
	buf := make([]byte, HeaderSize+4*len(samples))
	copy(buf, EncodeHeader(h))
	off := HeaderSize
	for _, s := range samples {
		binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(s))
		off += 4
	}
	return buf
}

// DecodeSamples decodes n big-endian float32 samples from b.
func DecodeSamples(b []byte, n int) ([]float32, error) {
	need := 4 * n
	if len(b) < need {
		return nil, fmt.Errorf("%w: payload needs %d bytes, got %d", ErrShortFrame, need, len(b))
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out, nil
}
