package section

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
)

func TestHeaderSize(t *testing.T) {
	require.Equal(t, (10+10*256)*4*1, HeaderSize(256, 1, 0))
	require.Equal(t, (10+10*4)*4*3, HeaderSize(4, 3, 0))
	require.Equal(t, 4096, HeaderSize(4, 3, 4096))
	require.Equal(t, 12288, HeaderSize(256, 1, 4096))
}

func TestBlockFlag(t *testing.T) {
	f := NewBlockFlag(format.CompressionZstd)
	require.True(t, f.IsPresent())
	require.Equal(t, format.CompressionZstd, f.Codec())
	require.NoError(t, f.Validate())

	f.SetCodec(format.CompressionLZ4)
	require.Equal(t, format.CompressionLZ4, f.Codec())
	require.True(t, f.IsPresent())

	f.SetPresent(false)
	require.ErrorIs(t, f.Validate(), errs.ErrInvalidHeaderFlag)

	require.NoError(t, BlockFlag(0).Validate())
	require.ErrorIs(t, BlockFlag(PresentMask|0x9).Validate(), errs.ErrInvalidHeaderFlag)
	require.ErrorIs(t, BlockFlag(PresentMask|0x100|uint32(format.CompressionNone)).Validate(), errs.ErrInvalidHeaderFlag)
}

func TestBlockRecordWords(t *testing.T) {
	r := BlockRecord{Offset: 0x0000_0001_0000_0010, Length: 4096, Flag: NewBlockFlag(format.CompressionNone)}
	engine := endian.GetBigEndianEngine()

	buf := make([]byte, RecordSize+8)
	n := r.WriteToSlice(buf, 8, engine)
	require.Equal(t, 8+RecordSize, n)

	rec := buf[8:]
	require.Equal(t, uint32(1), engine.Uint32(rec[1*WordSize:]))
	require.Equal(t, uint32(0x10), engine.Uint32(rec[2*WordSize:]))
	require.Equal(t, uint32(4096), engine.Uint32(rec[4*WordSize:]))
	require.Equal(t, uint32(r.Flag), engine.Uint32(rec[5*WordSize:]))

	parsed, err := ParseBlockRecord(rec, engine)
	require.NoError(t, err)
	require.Equal(t, r, parsed)
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader(8, 15, 2, format.CompressionS2, 0)
	require.Len(t, h.Records, 16)
	*h.Record(0, 0) = BlockRecord{Offset: uint64(h.Size()), Length: 100, Flag: NewBlockFlag(format.CompressionS2)}
	*h.Record(3, 1) = BlockRecord{Offset: uint64(h.Size()) + 100, Length: 70, Flag: NewBlockFlag(format.CompressionS2)}

	data := h.Bytes()
	require.Len(t, data, HeaderSize(8, 2, 0))

	// the first record's offset and length sit at words 12 and 14
	engine := endian.GetBigEndianEngine()
	require.Equal(t, uint32(h.Size()), engine.Uint32(data[12*WordSize:]))
	require.Equal(t, uint32(100), engine.Uint32(data[14*WordSize:]))

	parsed, err := ParseFileHeader(data)
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	require.True(t, parsed.Record(3, 1).IsPresent())
	require.False(t, parsed.Record(2, 1).IsPresent())

	off, err := PrefixDataOffset(data[:PrefixSize])
	require.NoError(t, err)
	require.Equal(t, h.Size(), off)
}

func TestFileHeaderAlignment(t *testing.T) {
	h := NewFileHeader(4, 10, 1, format.CompressionNone, 512)
	require.Equal(t, 512, h.Size())

	data := h.Bytes()
	require.Len(t, data, 512)

	parsed, err := ParseFileHeader(data)
	require.NoError(t, err)
	require.Equal(t, uint32(512), parsed.DataOffset)
}

func TestFileHeaderParseErrors(t *testing.T) {
	h := NewFileHeader(4, 10, 1, format.CompressionNone, 0)
	*h.Record(1, 0) = BlockRecord{Offset: 400, Length: 8, Flag: NewBlockFlag(format.CompressionNone)}
	good := h.Bytes()

	t.Run("short", func(t *testing.T) {
		_, err := ParseFileHeader(good[:PrefixSize-1])
		require.ErrorIs(t, err, errs.ErrInvalidHeaderSize)

		_, err = ParseFileHeader(good[:PrefixSize+RecordSize])
		require.ErrorIs(t, err, errs.ErrInvalidHeaderSize)
	})

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[0] = 'X'
		_, err := ParseFileHeader(bad)
		require.ErrorIs(t, err, errs.ErrInvalidMagic)
	})

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[PrefixSize+RecordSize+4*WordSize+3] ^= 0xFF
		_, err := ParseFileHeader(bad)
		require.ErrorIs(t, err, errs.ErrHeaderChecksum)
		require.ErrorIs(t, err, errs.ErrIO)
	})
}
