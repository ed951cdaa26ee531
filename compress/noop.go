package compress

// NoOpCompressor stores blocks as is. Uncompressed files keep every block at
// a fixed offset, which the write path uses to skip the size exchange.
type NoOpCompressor struct{}

var _ Codec = (*NoOpCompressor)(nil)

// NewNoOpCompressor creates a new no-operation compressor.
func NewNoOpCompressor() NoOpCompressor {
	return NoOpCompressor{}
}

// Compress returns data itself. The returned slice shares memory with the
// input.
func (c NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns data itself. The returned slice shares memory with the
// input.
func (c NoOpCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
