// Package endian provides byte order utilities for IDX payloads and headers.
//
// Two independent byte orders exist in an IDX dataset:
//
//   - Block headers are always big-endian (network order), so headers are
//     portable regardless of the host that wrote them.
//   - Sample payloads are written in the writer's native order and
//     recorded under the "(endian)" metadata tag. A reader whose native
//     order differs sets FlipEndian, which reverses every value with
//     ReverseValues right before HZ decoding.
//
// # Basic Usage
//
//	engine := endian.GetBigEndianEngine()
//	engine.PutUint32(header[offset:], uint32(blockOffset))
//
//	if !endian.CompareNativeEndian(payloadEngine) {
//	    err := endian.ReverseValues(samples, 8)
//	}
//
// All functions are safe for concurrent use.
package endian

import (
	"encoding/binary"
	"strings"
	"unsafe"
)

// EndianEngine combines ByteOrder and AppendByteOrder interfaces from encoding/binary
// into a single interface for convenient byte order operations.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// CheckEndianness uses a fixed integer value to determine the host's byte order.
func CheckEndianness() binary.ByteOrder {
	// 0x0100 is 256. For a little-endian system, the LSB (0x00) is first.
	var i uint16 = 0x0100

	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

func IsNativeLittleEndian() bool {
	return CheckEndianness() == binary.LittleEndian
}

func CompareNativeEndian(engine EndianEngine) bool {
	return engine == CheckEndianness()
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// GetNativeEngine returns the engine matching the host byte order.
func GetNativeEngine() EndianEngine {
	if IsNativeLittleEndian() {
		return binary.LittleEndian
	}

	return binary.BigEndian
}

// Name returns the "(endian)" metadata value of an engine: "little" or "big".
func Name(engine EndianEngine) string {
	if engine == binary.BigEndian {
		return "big"
	}

	return "little"
}

// ParseName returns the engine for an "(endian)" metadata value.
// Unknown values return false.
func ParseName(name string) (EndianEngine, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "little", "0":
		return binary.LittleEndian, true
	case "big", "1":
		return binary.BigEndian, true
	default:
		return nil, false
	}
}
