package compress

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
)

var allTypes = []format.CompressionType{
	format.CompressionNone,
	format.CompressionZstd,
	format.CompressionS2,
	format.CompressionLZ4,
}

// smoothBlock returns float64 samples of a piecewise constant field.
func smoothBlock(n int) []byte {
	buf := make([]byte, 8*n)
	for i := range n {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(float64(i/32)*0.25))
	}

	return buf
}

func randomBlock(n int) []byte {
	buf := make([]byte, n)
	rng := rand.New(rand.NewSource(7))
	rng.Read(buf)

	return buf
}

func TestCompressionType_String(t *testing.T) {
	for _, ct := range allTypes {
		parsed, ok := format.ParseCompressionType(ct.String())
		require.True(t, ok)
		require.Equal(t, ct, parsed)
	}
	require.Equal(t, "Unknown", format.CompressionType(0x9).String())
}

func TestGetCodec(t *testing.T) {
	for _, ct := range allTypes {
		c, err := GetCodec(ct)
		require.NoError(t, err)
		require.NotNil(t, c)
	}

	_, err := GetCodec(0)
	require.ErrorIs(t, err, errs.ErrUnknownCodec)
}

func TestAllCodecs_RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"smooth": smoothBlock(4096),
		"zeros":  make([]byte, 32*1024),
		"small":  []byte("idx block"),
	}

	for _, ct := range allTypes {
		for name, data := range payloads {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				c, err := GetCodec(ct)
				require.NoError(t, err)

				packed, err := c.Compress(data)
				if ct == format.CompressionLZ4 && err != nil {
					require.ErrorIs(t, err, ErrIncompressible)
					return
				}
				require.NoError(t, err)

				got, err := c.Decompress(packed)
				require.NoError(t, err)
				require.True(t, bytes.Equal(data, got))
			})
		}
	}
}

func TestCompressBlock(t *testing.T) {
	smooth := smoothBlock(4096)
	for _, ct := range allTypes[1:] {
		packed, stored, err := CompressBlock(ct, smooth)
		require.NoError(t, err)
		require.Equal(t, ct, stored)
		require.Less(t, len(packed), len(smooth))

		dst := make([]byte, len(smooth))
		require.NoError(t, DecompressBlock(stored, packed, dst))
		require.Equal(t, smooth, dst)

		short := make([]byte, len(smooth)-8)
		err = DecompressBlock(stored, packed, short)
		require.ErrorIs(t, err, errs.ErrCorruptBlock)
	}
}

func TestCompressBlock_Incompressible(t *testing.T) {
	noise := randomBlock(4096)
	for _, ct := range allTypes {
		packed, stored, err := CompressBlock(ct, noise)
		require.NoError(t, err)
		require.Equal(t, format.CompressionNone, stored, ct.String())
		require.Equal(t, noise, packed)
	}
}

func TestDecompressBlock_Corrupt(t *testing.T) {
	dst := make([]byte, 1024)
	for _, ct := range []format.CompressionType{format.CompressionZstd, format.CompressionS2, format.CompressionLZ4} {
		err := DecompressBlock(ct, []byte{0xFF, 0xFE, 0xFD, 0xFC, 0x01}, dst)
		require.ErrorIs(t, err, errs.ErrCorruptBlock, ct.String())
		require.ErrorIs(t, err, errs.ErrCompress)
	}

	err := DecompressBlock(format.CompressionNone, make([]byte, 10), dst)
	require.ErrorIs(t, err, errs.ErrCorruptBlock)
}

func TestCompressionStats(t *testing.T) {
	var s CompressionStats
	require.Zero(t, s.CompressionRatio())
	require.Zero(t, s.SpaceSavings())

	s.Add(1000, 250)
	s.Add(1000, 750)

	require.Equal(t, 2, s.Blocks)
	require.InDelta(t, 0.5, s.CompressionRatio(), 1e-9)
	require.InDelta(t, 50.0, s.SpaceSavings(), 1e-9)
}

func TestAllCodecs_ConcurrentUsage(t *testing.T) {
	data := smoothBlock(2048)

	var wg sync.WaitGroup
	errCh := make(chan error, 4*len(allTypes))
	for _, ct := range allTypes {
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				packed, stored, err := CompressBlock(ct, data)
				if err != nil {
					errCh <- err
					return
				}
				dst := make([]byte, len(data))
				errCh <- DecompressBlock(stored, packed, dst)
			}()
		}
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}
}
