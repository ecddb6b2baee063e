package remotestorage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressor wraps a shared Zstd encoder/decoder pair, mirroring the
// safekeeper's own WAL compressor: one long-lived encoder/decoder
// reused across calls rather than allocated per object.
type compressor struct {
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCompressor() (*compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("remotestorage: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("remotestorage: creating zstd decoder: %w", err)
	}
	return &compressor{encoder: enc, decoder: dec}, nil
}

func (c *compressor) compress(data []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
}

func (c *compressor) decompress(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("remotestorage: decompressing object: %w", err)
	}
	return out, nil
}
