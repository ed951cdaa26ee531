package compress

import (
	"errors"
	"fmt"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
)

// ErrIncompressible is returned by codecs that cannot shrink a block.
var ErrIncompressible = errors.New("incompressible block")

// Compressor compresses one block payload.
//
// A block payload is the HZ-ordered samples of one variable within one
// block, already passed through the sample codec. Payload sizes are
// typically 4KB-1MB.
type Compressor interface {
	// Compress compresses data and returns the compressed result.
	//
	// Memory management:
	//   - Returned slice is owned by the caller, except for the no-op codec
	//   - Input slice is not modified
	Compress(data []byte) ([]byte, error)
}

// Decompressor decompresses one block payload.
//
// Thread Safety: Decompressor implementations must be safe for concurrent use.
type Decompressor interface {
	// Decompress decompresses data previously produced by the matching
	// Compressor. Corrupt input returns an error.
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both compression and decompression capabilities.
type Codec interface {
	Compressor
	Decompressor
}

// CompressionStats accumulates the block sizes seen by an aggregator.
type CompressionStats struct {
	// Algorithm identifies the compression algorithm used
	Algorithm format.CompressionType

	// Blocks is the number of blocks compressed
	Blocks int

	// OriginalSize is the size of input data before compression
	OriginalSize int64

	// CompressedSize is the size of data after compression
	CompressedSize int64
}

// Add records one compressed block.
func (s *CompressionStats) Add(original, compressed int) {
	s.Blocks++
	s.OriginalSize += int64(original)
	s.CompressedSize += int64(compressed)
}

// CompressionRatio returns the compression ratio (compressed size / original size).
//
// Values less than 1.0 indicate successful compression.
//
// Returns:
//   - float64: Compression ratio (0.0 if original size is zero)
func (s CompressionStats) CompressionRatio() float64 {
	if s.OriginalSize == 0 {
		return 0.0
	}

	return float64(s.CompressedSize) / float64(s.OriginalSize)
}

// SpaceSavings returns the space savings as a percentage (0-100%).
func (s CompressionStats) SpaceSavings() float64 {
	if s.OriginalSize == 0 {
		return 0.0
	}

	return (1.0 - s.CompressionRatio()) * 100.0
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NewNoOpCompressor(),
	format.CompressionZstd: NewZstdCompressor(),
	format.CompressionS2:   NewS2Compressor(),
	format.CompressionLZ4:  NewLZ4Compressor(),
}

// GetCodec retrieves a built-in Codec for the specified compression type.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("%w: unsupported compression type: %s", errs.ErrUnknownCodec, compressionType)
}

// CompressBlock compresses a block with the built-in codec for ct and
// returns the payload with the codec it was stored with. A block that does
// not shrink is stored with CompressionNone. Failures wrap ErrCompress.
func CompressBlock(ct format.CompressionType, data []byte) ([]byte, format.CompressionType, error) {
	codec, err := GetCodec(ct)
	if err != nil {
		return nil, 0, err
	}
	if ct == format.CompressionNone {
		return data, ct, nil
	}

	out, err := codec.Compress(data)
	if errors.Is(err, ErrIncompressible) || (err == nil && len(out) >= len(data)) {
		return data, format.CompressionNone, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", errs.ErrCompress, ct, err)
	}

	return out, ct, nil
}

// DecompressBlock decompresses a block whose original size is known and
// copies the result into dst. A payload that does not decode to exactly
// len(dst) bytes is ErrCorruptBlock.
func DecompressBlock(ct format.CompressionType, data, dst []byte) error {
	codec, err := GetCodec(ct)
	if err != nil {
		return err
	}

	var out []byte
	if lc, ok := codec.(LZ4Compressor); ok {
		out, err = lc.DecompressSized(data, len(dst))
	} else {
		out, err = codec.Decompress(data)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrCorruptBlock, ct, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: %s block decoded to %d bytes, want %d", errs.ErrCorruptBlock, ct, len(out), len(dst))
	}
	copy(dst, out)

	return nil
}
