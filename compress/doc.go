// Package compress provides the block compression codecs of IDX data files.
//
// Compression is the last stage of a write: each block of each variable,
// HZ ordered and passed through the sample codec, is compressed on its own
// so a reader can fetch and decode one block without touching its
// neighbours. The codec of a block is recorded in its header flag.
//
// # Supported Algorithms
//
//   - None (format.CompressionNone): blocks are stored as is and keep their
//     fixed offsets inside the file
//   - Zstd (format.CompressionZstd): best ratio, pooled encoders and decoders
//   - S2 (format.CompressionS2): balanced speed and ratio
//   - LZ4 (format.CompressionLZ4): fastest decompression
//
// # Usage
//
//	codec, err := compress.GetCodec(format.CompressionZstd)
//	if err != nil {
//	    return err
//	}
//	packed, err := codec.Compress(block)
//
// Readers know the uncompressed block size from the dataset geometry and
// use DecompressBlock, which rejects payloads that decode to the wrong size:
//
//	if err := compress.DecompressBlock(rec.Flag.Codec(), payload, block); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// All codecs are stateless values; Zstd and LZ4 draw their working state
// from sync.Pool, so one codec may be shared by every goroutine of a job.
package compress
