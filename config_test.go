package idxio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/internal/options"
	"github.com/arloliu/idxio/layout"
	"github.com/arloliu/idxio/restructure"
)

const sampleConfig = `
bit_pattern: V012012012
guess_strategy: max_zyx
bits_per_block: 12
blocks_per_file: 64
compression: zstd
io_mode: g_part_idx
aggregation_factor: 2
pipe_length: 3
chunk_size: [4, 4, 2]
sample_codec: float64to32
flip_endian: true
restructure_box: [16, 16, 8]
partition_count: [2, 2]
resolution: {from: 1, to: 9}
time_step: 4
header_alignment: 4096
restructure_case: multi
position_variable: 2
stages:
  compress: false
`

func applyConfig(t *testing.T, cfg *Config) *fileOptions {
	t.Helper()
	opts, err := cfg.Options()
	require.NoError(t, err)

	o := defaultOptions()
	require.NoError(t, options.Apply(o, opts...))

	return o
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	o := applyConfig(t, cfg)
	require.Equal(t, "V012012012", o.bits)
	require.Equal(t, hz.GuessMaxZYX, o.guess)
	require.Equal(t, 12, o.bitsPerBlock)
	require.Equal(t, 64, o.blocksPerFile)
	require.Equal(t, format.CompressionZstd, o.compression)
	require.Equal(t, format.ModeGlobalPartition, o.mode)
	require.Equal(t, 2, o.aggFactor)
	require.Equal(t, 3, o.pipeLength)
	require.Equal(t, geom.Extent(4, 4, 2), o.chunkSize)
	require.Equal(t, hzbuf.Float64To32, o.sampleCodec)
	require.True(t, o.flipEndian)
	require.Equal(t, geom.Extent(16, 16, 8), o.restructureBox)
	require.Equal(t, geom.Extent(2, 2), o.partitionCount)
	require.Equal(t, &layout.Resolution{From: 1, To: 9}, o.res)
	require.Equal(t, 4, o.timeStep)
	require.True(t, o.stepSet)
	require.Equal(t, 4096, o.headerAlign)
	require.Equal(t, restructure.CaseMulti, o.rstCase)
	require.Equal(t, 2, o.position)
	require.Equal(t, hzbuf.Stages{Chunk: true, Compress: false, Encode: true}, o.stages)
}

func TestEmptyConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	require.Empty(t, opts)

	o := applyConfig(t, cfg)
	require.Equal(t, DefaultBitsPerBlock, o.bitsPerBlock)
	require.Equal(t, DefaultBlocksPerFile, o.blocksPerFile)
	require.Equal(t, format.CompressionNone, o.compression)
	require.Equal(t, 0, o.pipeLength)
	require.Nil(t, o.res)
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"unknown key", "bits_per_blok: 3", errs.ErrInvalidOption},
		{"bad yaml", "bits_per_block: [", errs.ErrInvalidOption},
		{"compression", "compression: brotli", errs.ErrUnknownCodec},
		{"io mode", "io_mode: hdf5", errs.ErrInvalidOption},
		{"strategy", "guess_strategy: spiral", errs.ErrInvalidOption},
		{"sample codec", "sample_codec: zfp", errs.ErrUnknownCodec},
		{"case", "restructure_case: triple", errs.ErrInvalidOption},
		{"chunk dims", "chunk_size: [1, 1, 1, 1, 1, 1]", errs.ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				_, err = cfg.Options()
			}
			require.ErrorIs(t, err, tt.want)
		})
	}

	// values are checked when the options are applied
	cfg, err := ParseConfig([]byte("blocks_per_file: 48"))
	require.NoError(t, err)
	opts, err := cfg.Options()
	require.NoError(t, err)
	require.ErrorIs(t, options.Apply(defaultOptions(), opts...), errs.ErrInvalidOption)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idxio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 12, cfg.BitsPerBlock)
	require.Equal(t, []uint64{4, 4, 2}, cfg.ChunkSize)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, errs.ErrIO)
}
