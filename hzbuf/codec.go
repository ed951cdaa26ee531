package hzbuf

import (
	"fmt"
	"math"
	"strings"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
)

// SampleCodec converts every value of a sample to a fixed-width
// representation. Encoded samples keep a constant size, so HZ slots stay
// addressable by index.
type SampleCodec interface {
	// Name returns the codec name used in configuration files.
	Name() string

	// Width returns the encoded width in bytes of one value of kind k.
	// Kinds the codec cannot convert return errs.ErrCompress.
	Width(k format.Kind) (int, error)

	// Encode converts the values of src into dst. len(dst) is
	// len(src)/k.Bits()*8*Width(k).
	Encode(dst, src []byte, k format.Kind)

	// Decode is the inverse of Encode.
	Decode(dst, src []byte, k format.Kind)
}

type identityCodec struct{}

// Identity stores values unchanged.
var Identity SampleCodec = identityCodec{}

func (identityCodec) Name() string { return "identity" }

func (identityCodec) Width(k format.Kind) (int, error) {
	if k.Bits() == 0 {
		return 0, fmt.Errorf("%w: kind %v", errs.ErrCompress, k)
	}

	return k.Bits() / 8, nil
}

func (identityCodec) Encode(dst, src []byte, _ format.Kind) { copy(dst, src) }

func (identityCodec) Decode(dst, src []byte, _ format.Kind) { copy(dst, src) }

type float64To32Codec struct{}

// Float64To32 stores float64 values as float32, halving their size. Values
// round to the nearest float32.
var Float64To32 SampleCodec = float64To32Codec{}

func (float64To32Codec) Name() string { return "float64to32" }

func (float64To32Codec) Width(k format.Kind) (int, error) {
	if k != format.KindFloat64 {
		return 0, fmt.Errorf("%w: float64to32 cannot encode %v", errs.ErrCompress, k)
	}

	return 4, nil
}

func (float64To32Codec) Encode(dst, src []byte, _ format.Kind) {
	ne := endian.GetNativeEngine()
	for i, j := 0, 0; i+8 <= len(src); i, j = i+8, j+4 {
		v := math.Float64frombits(ne.Uint64(src[i:]))
		ne.PutUint32(dst[j:], math.Float32bits(float32(v)))
	}
}

func (float64To32Codec) Decode(dst, src []byte, _ format.Kind) {
	ne := endian.GetNativeEngine()
	for i, j := 0, 0; j+4 <= len(src); i, j = i+8, j+4 {
		v := math.Float32frombits(ne.Uint32(src[j:]))
		ne.PutUint64(dst[i:], math.Float64bits(float64(v)))
	}
}

// ParseSampleCodec returns the codec registered under name. An empty name
// selects Identity.
func ParseSampleCodec(name string) (SampleCodec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "identity", "none":
		return Identity, nil
	case "float64to32":
		return Float64To32, nil
	default:
		return nil, fmt.Errorf("%w: sample codec %q", errs.ErrUnknownCodec, name)
	}
}

// CodecForBitRate returns the codec that stores values of kind k with bits
// bits each, the inverse of BitRate.
func CodecForBitRate(k format.Kind, bits int) (SampleCodec, error) {
	switch {
	case bits == 0 || bits == k.Bits():
		return Identity, nil
	case k == format.KindFloat64 && bits == 32:
		return Float64To32, nil
	default:
		return nil, fmt.Errorf("%w: no codec stores %v in %d bits", errs.ErrUnknownCodec, k, bits)
	}
}

// BitRate returns the encoded bits per value of kind k.
func BitRate(c SampleCodec, k format.Kind) (int, error) {
	w, err := c.Width(k)
	if err != nil {
		return 0, err
	}

	return w * 8, nil
}
