package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/idxio/errs"
)

// Kind is the numeric kind of a single value.
type Kind uint8

const (
	KindInt8 Kind = iota + 1
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
)

var kindNames = map[Kind]string{
	KindInt8:    "int8",
	KindUint8:   "uint8",
	KindInt16:   "int16",
	KindUint16:  "uint16",
	KindInt32:   "int32",
	KindUint32:  "uint32",
	KindInt64:   "int64",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "unknown"
}

// Bits returns the width of one value in bits.
func (k Kind) Bits() int {
	switch k {
	case KindInt8, KindUint8:
		return 8
	case KindInt16, KindUint16:
		return 16
	case KindInt32, KindUint32, KindFloat32:
		return 32
	case KindInt64, KindUint64, KindFloat64:
		return 64
	default:
		return 0
	}
}

// IsFloat reports whether the kind is a floating point kind.
func (k Kind) IsFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}

// Values per sample supported by every kind: scalar, gray+alpha, RGB, RGBA.
// Floating point kinds additionally support 7-point stencils and 3x3 tensors.
var (
	commonValueCounts = []int{1, 2, 3, 4}
	floatValueCounts  = []int{7, 9}
)

// DataType is a closed sum type over the supported kinds and values per sample.
// The zero value is invalid.
type DataType struct {
	Kind            Kind
	ValuesPerSample int
}

// Common data types.
var (
	Float32   = DataType{KindFloat32, 1}
	Float64   = DataType{KindFloat64, 1}
	Int32     = DataType{KindInt32, 1}
	Float64x3 = DataType{KindFloat64, 3}
	Float64x9 = DataType{KindFloat64, 9}
)

// Valid reports whether the combination is in the lookup table.
func (d DataType) Valid() bool {
	if d.Kind.Bits() == 0 {
		return false
	}

	for _, n := range commonValueCounts {
		if d.ValuesPerSample == n {
			return true
		}
	}

	if d.Kind.IsFloat() {
		for _, n := range floatValueCounts {
			if d.ValuesPerSample == n {
				return true
			}
		}
	}

	return false
}

// Name returns the type name, e.g. "3*float64".
func (d DataType) Name() string {
	return strconv.Itoa(d.ValuesPerSample) + "*" + d.Kind.String()
}

func (d DataType) String() string {
	return d.Name()
}

// BitsPerValue returns the width of one value in bits.
func (d DataType) BitsPerValue() int {
	return d.Kind.Bits()
}

// BitsPerSample returns ValuesPerSample * BitsPerValue.
func (d DataType) BitsPerSample() int {
	return d.ValuesPerSample * d.Kind.Bits()
}

// BytesPerSample returns the size of one sample in bytes.
func (d DataType) BytesPerSample() int {
	return d.BitsPerSample() / 8
}

// ParseDataType parses a type name of the form "<vps>*<kind>".
//
// Parameters:
//   - name: Type name, e.g. "1*float64" or "9*float32"
//
// Returns:
//   - DataType: Parsed type
//   - error: ErrInvalidDataType when the name is malformed or not in the table
func ParseDataType(name string) (DataType, error) {
	vpsStr, kindStr, ok := strings.Cut(strings.TrimSpace(name), "*")
	if !ok {
		return DataType{}, fmt.Errorf("%w: %q", errs.ErrInvalidDataType, name)
	}

	vps, err := strconv.Atoi(vpsStr)
	if err != nil {
		return DataType{}, fmt.Errorf("%w: %q", errs.ErrInvalidDataType, name)
	}

	for kind, kindName := range kindNames {
		if kindName != kindStr {
			continue
		}

		dt := DataType{Kind: kind, ValuesPerSample: vps}
		if !dt.Valid() {
			return DataType{}, fmt.Errorf("%w: %q", errs.ErrInvalidDataType, name)
		}

		return dt, nil
	}

	return DataType{}, fmt.Errorf("%w: %q", errs.ErrInvalidDataType, name)
}

// ValuesPerDataType returns the values per sample and bits per sample of a
// type name.
func ValuesPerDataType(name string) (int, int, error) {
	dt, err := ParseDataType(name)
	if err != nil {
		return 0, 0, err
	}

	return dt.ValuesPerSample, dt.BitsPerSample(), nil
}

// DefaultBitsPerDataType returns the bits per sample of a type name.
func DefaultBitsPerDataType(name string) (int, error) {
	_, bits, err := ValuesPerDataType(name)
	return bits, err
}
