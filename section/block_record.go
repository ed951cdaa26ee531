package section

import (
	"github.com/arloliu/idxio/endian"
)

// BlockRecord locates one block of one variable inside a data file.
// It is a fixed size of 40 bytes; unused words are written as zero.
//
//	Word | Field
//	-----|-------------------------------
//	1    | Offset, high 32 bits
//	2    | Offset, low 32 bits
//	4    | Length in bytes
//	5    | Flag (codec and present bit)
type BlockRecord struct {
	// Offset is the absolute byte position of the block in the file.
	Offset uint64
	// Length is the stored size of the block, after block compression.
	Length uint32
	// Flag holds the block codec and the present bit.
	Flag BlockFlag
}

// IsPresent reports whether the block exists in the file.
func (r BlockRecord) IsPresent() bool {
	return r.Flag.IsPresent()
}

// WriteToSlice writes the record into buf at offset.
//
// Parameters:
//   - buf: Destination, len(buf) >= offset+RecordSize
//   - offset: Byte position of the record in buf
//   - engine: Byte order of the header
//
// Returns:
//   - int: Byte position after the record
func (r BlockRecord) WriteToSlice(buf []byte, offset int, engine endian.EndianEngine) int {
	rec := buf[offset : offset+RecordSize]
	clear(rec)
	engine.PutUint32(rec[recordOffsetHigh*WordSize:], uint32(r.Offset>>32))
	engine.PutUint32(rec[recordOffsetLow*WordSize:], uint32(r.Offset))
	engine.PutUint32(rec[recordLength*WordSize:], r.Length)
	engine.PutUint32(rec[recordFlag*WordSize:], uint32(r.Flag))

	return offset + RecordSize
}

// ParseBlockRecord reads a record from the first RecordSize bytes of data.
func ParseBlockRecord(data []byte, engine endian.EndianEngine) (BlockRecord, error) {
	r := BlockRecord{
		Offset: uint64(engine.Uint32(data[recordOffsetHigh*WordSize:]))<<32 | uint64(engine.Uint32(data[recordOffsetLow*WordSize:])),
		Length: engine.Uint32(data[recordLength*WordSize:]),
		Flag:   BlockFlag(engine.Uint32(data[recordFlag*WordSize:])),
	}
	if err := r.Flag.Validate(); err != nil {
		return BlockRecord{}, err
	}

	return r, nil
}
