package format

import "strings"

type (
	CompressionType uint8
	IOMode          uint8
)

const (
	CompressionNone CompressionType = 0x1 // CompressionNone stores blocks as is.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard block compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 block compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 block compression.
)

const (
	ModeIDX             IOMode = 0x1 // ModeIDX writes one block layout over the whole domain.
	ModeGlobalPartition IOMode = 0x2 // ModeGlobalPartition splits files by partition, sharing the global bit pattern.
	ModeLocalPartition  IOMode = 0x3 // ModeLocalPartition writes every partition as an independent dataset.
	ModeRaw             IOMode = 0x4 // ModeRaw writes restructured super-patches without HZ ordering.
	ModeParticle        IOMode = 0x5 // ModeParticle writes unstructured particles, one file per patch.
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}

// ParseCompressionType parses the name written by CompressionType.String,
// ignoring case. Unknown names return false.
func ParseCompressionType(name string) (CompressionType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return CompressionNone, true
	case "zstd":
		return CompressionZstd, true
	case "s2":
		return CompressionS2, true
	case "lz4":
		return CompressionLZ4, true
	default:
		return 0, false
	}
}

// String returns the value stored under the "(io mode)" metadata tag.
func (m IOMode) String() string {
	switch m {
	case ModeIDX:
		return "idx"
	case ModeGlobalPartition:
		return "g_part_idx"
	case ModeLocalPartition:
		return "l_part_idx"
	case ModeRaw:
		return "raw"
	case ModeParticle:
		return "particle"
	default:
		return "unknown"
	}
}

// IsPartitioned reports whether the mode splits the domain into partitions.
func (m IOMode) IsPartitioned() bool {
	return m == ModeGlobalPartition || m == ModeLocalPartition
}

// ParseIOMode parses an "(io mode)" metadata value.
func ParseIOMode(name string) (IOMode, bool) {
	switch strings.TrimSpace(name) {
	case "idx":
		return ModeIDX, true
	case "g_part_idx":
		return ModeGlobalPartition, true
	case "l_part_idx":
		return ModeLocalPartition, true
	case "raw":
		return ModeRaw, true
	case "particle":
		return ModeParticle, true
	default:
		return 0, false
	}
}
