package hzbuf

import (
	"fmt"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/internal/pool"
	"github.com/arloliu/idxio/layout"
)

// Stages switches the pipeline stages on and off.
type Stages struct {
	Chunk    bool
	Compress bool
	Encode   bool
}

// AllStages enables every stage.
var AllStages = Stages{Chunk: true, Compress: true, Encode: true}

// Options describes how one variable is encoded.
type Options struct {
	Type       format.DataType
	ChunkSize  geom.Point
	Codec      SampleCodec
	FlipEndian bool
	Stages     Stages
	Res        layout.Resolution
}

func (o Options) chunkSize() geom.Point {
	if !o.Stages.Chunk {
		return geom.Extent()
	}

	return normalizeChunk(o.ChunkSize)
}

func (o Options) codec() SampleCodec {
	if !o.Stages.Compress || o.Codec == nil {
		return Identity
	}

	return o.Codec
}

// ValueWidth returns the encoded width of one value.
func (o Options) ValueWidth() (int, error) {
	if !o.Type.Valid() {
		return 0, fmt.Errorf("%w: %v", errs.ErrInvalidDataType, o.Type)
	}

	return o.codec().Width(o.Type.Kind)
}

// SampleBytes returns the size of one HZ sample after the chunk and codec
// stages.
func (o Options) SampleBytes() (int, error) {
	w, err := o.ValueWidth()
	if err != nil {
		return 0, err
	}

	return w * o.Type.ValuesPerSample * int(o.chunkSize().Volume()), nil
}

func checkRegion(data []byte, dataBox, region geom.Box, sampleBytes int) error {
	if !dataBox.ContainsBox(region) {
		return fmt.Errorf("%w: region %v outside %v", errs.ErrInvalidBox, region, dataBox)
	}
	if want := dataBox.Volume() * uint64(sampleBytes); uint64(len(data)) != want {
		return fmt.Errorf("%w: %d bytes for %v, want %d", errs.ErrPatchBuffer, len(data), dataBox, want)
	}

	return nil
}

// Encode converts region of a row-major buffer over dataBox into HZ order.
//
// Parameters:
//   - p: Bit pattern of the HZ sample space, after chunking
//   - data: Row-major samples of dataBox in native byte order
//   - dataBox: Box of data in global sample coordinates
//   - region: Part of dataBox to encode; chunk aligned when chunking is on
//   - opts: Type, stages and resolution
//
// Returns:
//   - *Buffer: Levels of the region
//   - error: errs.ErrInvalidBox, errs.ErrPatchBuffer, errs.ErrChunk or
//     errs.ErrCompress wrapped errors
func Encode(p hz.Pattern, data []byte, dataBox, region geom.Box, opts Options) (*Buffer, error) {
	hzsb, err := opts.SampleBytes()
	if err != nil {
		return nil, err
	}
	sb := opts.Type.BytesPerSample()
	if err := checkRegion(data, dataBox, region, sb); err != nil {
		return nil, err
	}

	src, box := data, dataBox
	if region != dataBox {
		packed, err := geom.Pack(data, dataBox, region, sb)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrHZ, err)
		}
		src, box = packed, region
	}

	c := opts.chunkSize()
	if !trivialChunk(c) {
		box, src, err = chunk(src, box, c, sb)
		if err != nil {
			return nil, err
		}
	}

	codec := opts.codec()
	width, err := codec.Width(opts.Type.Kind)
	if err != nil {
		return nil, err
	}
	if codec != Identity {
		enc := make([]byte, uint64(len(src))/uint64(opts.Type.Kind.Bits()/8)*uint64(width))
		codec.Encode(enc, src, opts.Type.Kind)
		src = enc
	}

	buf, err := New(p, box, hzsb, opts.Res)
	if err != nil {
		return nil, err
	}

	if opts.Stages.Encode {
		for _, lvl := range buf.Levels {
			if lvl == nil {
				continue
			}
			lvl.Range.ForEach(buf.Pattern, func(pt geom.Point, hzaddr uint64) {
				s := box.Index(pt) * uint64(hzsb)
				copy(lvl.Slot(hzaddr, hzsb), src[s:s+uint64(hzsb)])
			})
		}
	}

	if opts.FlipEndian {
		for _, lvl := range buf.Levels {
			if lvl == nil {
				continue
			}
			if err := endian.ReverseValues(lvl.Data, width); err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

// Decode writes the samples of buf back into region of a row-major buffer
// over dataBox. It is the inverse of Encode with the same options; samples
// of levels outside buf.Res are written as zero. buf is not modified.
func Decode(buf *Buffer, data []byte, dataBox, region geom.Box, opts Options) error {
	hzsb, err := opts.SampleBytes()
	if err != nil {
		return err
	}
	sb := opts.Type.BytesPerSample()
	if err := checkRegion(data, dataBox, region, sb); err != nil {
		return err
	}
	if hzsb != buf.SampleBytes {
		return fmt.Errorf("%w: buffer samples of %d bytes, options give %d", errs.ErrHZ, buf.SampleBytes, hzsb)
	}

	c := opts.chunkSize()
	box := region
	if !trivialChunk(c) {
		if box, err = ChunkBox(region, c); err != nil {
			return err
		}
	}
	if box != buf.Box {
		return fmt.Errorf("%w: buffer box %v, region gives %v", errs.ErrHZ, buf.Box, box)
	}

	scratch := pool.GetBlockBuffer(int(box.Volume()) * hzsb)
	defer pool.PutBlockBuffer(scratch)
	rowMajor := scratch.Bytes()

	if opts.Stages.Encode {
		for _, lvl := range buf.Levels {
			if lvl == nil {
				continue
			}
			lvl.Range.ForEach(buf.Pattern, func(pt geom.Point, hzaddr uint64) {
				d := box.Index(pt) * uint64(hzsb)
				copy(rowMajor[d:d+uint64(hzsb)], lvl.Slot(hzaddr, hzsb))
			})
		}
	}

	codec := opts.codec()
	width, err := codec.Width(opts.Type.Kind)
	if err != nil {
		return err
	}
	if opts.FlipEndian {
		if err := endian.ReverseValues(rowMajor, width); err != nil {
			return err
		}
	}
	if codec != Identity {
		dec := make([]byte, uint64(len(rowMajor))/uint64(width)*uint64(opts.Type.Kind.Bits()/8))
		codec.Decode(dec, rowMajor, opts.Type.Kind)
		rowMajor = dec
	}

	if !trivialChunk(c) {
		out := make([]byte, region.Volume()*uint64(sb))
		if err := unchunk(out, region, c, sb, rowMajor); err != nil {
			return err
		}
		rowMajor = out
	}

	if err := geom.Unpack(data, dataBox, rowMajor, region, sb); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrHZ, err)
	}

	return nil
}
