package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression flag byte prefixed to every stored payload. Decode dispatches
// on it without external metadata.
const (
	flagRaw        byte = 0
	flagCompressed byte = 1
)

// DefaultCompressionThreshold is the encoded size above which compression is
// attempted. Payloads at or below it are stored raw: too small to benefit.
const DefaultCompressionThreshold = 512

// maxDecompressedSize bounds decompression output to protect against
// corrupted or hostile entries.
const maxDecompressedSize = 100 * 1024 * 1024

// Compressor applies conditional zstd compression to encoded cache payloads.
// Data is compressed only when it exceeds the threshold AND the compressed
// form is strictly smaller; otherwise it is stored raw. A one-byte flag
// records which path was taken.
type Compressor struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCompressor creates a compressor with the given size threshold.
// A threshold <= 0 selects DefaultCompressionThreshold.
func NewCompressor(threshold int) (*Compressor, error) {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Compressor{
		threshold: threshold,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Pack prefixes data with the compression flag, compressing when beneficial.
// It returns the stored form and the number of bytes saved (zero when stored
// raw).
func (c *Compressor) Pack(data []byte) (packed []byte, saved int) {
	if len(data) > c.threshold {
		compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(compressed) < len(data) {
			out := make([]byte, 0, len(compressed)+1)
			out = append(out, flagCompressed)
			out = append(out, compressed...)
			return out, len(data) - len(compressed)
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, flagRaw)
	out = append(out, data...)
	return out, 0
}

// Unpack strips the flag byte and decompresses when the flag says so.
// Malformed payloads return ErrDecode so callers treat them as misses.
func (c *Compressor) Unpack(packed []byte) ([]byte, error) {
	if len(packed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	flag, data := packed[0], packed[1:]
	switch flag {
	case flagRaw:
		return data, nil
	case flagCompressed:
		decompressed, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecode, err)
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression flag %d", ErrDecode, flag)
	}
}

// Threshold returns the configured compression threshold in bytes.
func (c *Compressor) Threshold() int { return c.threshold }

// Close releases encoder and decoder resources.
func (c *Compressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
