package daemon

import "testing"

import "github.com/stretchr/testify/require"

func TestHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{TimestampUs: 123456789, Seqno: 42, NSamples: 256, NChannels: 2}
	got, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 10))
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestFrameRoundTrip(t *testing.T) {
	h := FrameHeader{TimestampUs: 1, Seqno: 2, NSamples: 3, NChannels: 2}
	samples := []float32{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}
	buf := EncodeFrame(h, samples)
	require.Len(t, buf, HeaderSize+4*len(samples))

	gotHeader, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)

	gotSamples, err := DecodeSamples(buf[HeaderSize:], len(samples))
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}, toFloat64(gotSamples), 1e-6)
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

func TestDecodeSamplesShort(t *testing.T) {
	_, err := DecodeSamples(make([]byte, 4), 2)
	require.ErrorIs(t, err, ErrShortFrame)
}
