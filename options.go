package idxio

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/internal/options"
	"github.com/arloliu/idxio/layout"
	"github.com/arloliu/idxio/restructure"
)

// Defaults of a new dataset.
const (
	DefaultBitsPerBlock      = 15
	DefaultBlocksPerFile     = 256
	DefaultAggregationFactor = 1
)

// fileOptions holds the settings of a File.
type fileOptions struct {
	bits           string
	guess          hz.Strategy
	bitsPerBlock   int
	blocksPerFile  int
	compression    format.CompressionType
	mode           format.IOMode
	aggFactor      int
	pipeLength     int
	chunkSize      geom.Point
	sampleCodec    hzbuf.SampleCodec
	flipEndian     bool
	restructureBox geom.Point
	partitionCount geom.Point
	res            *layout.Resolution
	timeStep       int
	stepSet        bool
	headerAlign    int
	logger         *zap.Logger
	rstCase        restructure.Case
	stages         hzbuf.Stages
	position       int
}

func defaultOptions() *fileOptions {
	return &fileOptions{
		guess:          hz.GuessBalanced,
		bitsPerBlock:   DefaultBitsPerBlock,
		blocksPerFile:  DefaultBlocksPerFile,
		compression:    format.CompressionNone,
		mode:           format.ModeIDX,
		aggFactor:      DefaultAggregationFactor,
		chunkSize:      geom.Extent(),
		sampleCodec:    hzbuf.Identity,
		partitionCount: geom.Extent(),
		logger:         zap.NewNop(),
		rstCase:        restructure.CaseAuto,
		stages:         hzbuf.AllStages,
	}
}

// Option configures a File.
type Option = options.Option[*fileOptions]

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errs.ErrInvalidOption}, args...)...)
}

// WithBitPattern sets the bit pattern of a new dataset, e.g. "V012012".
// Without it the pattern is guessed from the dataset extent.
func WithBitPattern(bits string) Option {
	return options.Named("bit pattern", func(o *fileOptions) error {
		if _, err := hz.ParsePattern(bits); err != nil {
			return err
		}
		o.bits = bits

		return nil
	})
}

// WithGuessStrategy selects how the bit pattern is guessed when none is
// given.
func WithGuessStrategy(s hz.Strategy) Option {
	return options.NoError(func(o *fileOptions) {
		o.guess = s
	})
}

// WithBitsPerBlock sets log2 of the samples per block.
func WithBitsPerBlock(bpb int) Option {
	return options.Named("bits per block", func(o *fileOptions) error {
		if bpb < 1 || bpb > 30 {
			return invalid("%d", bpb)
		}
		o.bitsPerBlock = bpb

		return nil
	})
}

// WithBlocksPerFile sets the number of blocks of one data file, a power of
// two.
func WithBlocksPerFile(bpf int) Option {
	return options.Named("blocks per file", func(o *fileOptions) error {
		if bpf < 1 || !geom.IsPow2(uint64(bpf)) {
			return invalid("%d", bpf)
		}
		o.blocksPerFile = bpf

		return nil
	})
}

// WithCompression sets the block codec of a new dataset.
func WithCompression(ct format.CompressionType) Option {
	return options.Named("compression", func(o *fileOptions) error {
		switch ct {
		case format.CompressionNone, format.CompressionZstd, format.CompressionS2, format.CompressionLZ4:
			o.compression = ct
			return nil
		default:
			return fmt.Errorf("%w: %d", errs.ErrUnknownCodec, ct)
		}
	})
}

// WithIOMode sets the storage mode of a new dataset.
func WithIOMode(mode format.IOMode) Option {
	return options.Named("io mode", func(o *fileOptions) error {
		if mode < format.ModeIDX || mode > format.ModeParticle {
			return invalid("%d", mode)
		}
		o.mode = mode

		return nil
	})
}

// WithAggregationFactor splits the blocks of every (file, variable) pair
// over af aggregators.
func WithAggregationFactor(af int) Option {
	return options.Named("aggregation factor", func(o *fileOptions) error {
		if af < 1 {
			return invalid("%d", af)
		}
		o.aggFactor = af

		return nil
	})
}

// WithPipeLength processes variables in batches of n. Zero processes all
// variables at once.
func WithPipeLength(n int) Option {
	return options.Named("pipe length", func(o *fileOptions) error {
		if n < 0 {
			return invalid("%d", n)
		}
		o.pipeLength = n

		return nil
	})
}

// WithChunkSize groups samples into chunks of the given power-of-two extent
// before HZ ordering.
func WithChunkSize(c geom.Point) Option {
	return options.Named("chunk size", func(o *fileOptions) error {
		if err := hzbuf.CheckChunkSize(c); err != nil {
			return err
		}
		for d := range geom.MaxDims {
			c[d] = max(c[d], 1)
		}
		o.chunkSize = c

		return nil
	})
}

// WithSampleCodec sets the per-value codec applied to the variables whose
// kind it supports.
func WithSampleCodec(codec hzbuf.SampleCodec) Option {
	return options.Named("sample codec", func(o *fileOptions) error {
		if codec == nil {
			return invalid("nil codec")
		}
		o.sampleCodec = codec

		return nil
	})
}

// WithFlipEndian stores samples in the byte order opposite to the host's.
// Reads flip automatically when the stored order differs from the host's.
func WithFlipEndian(flip bool) Option {
	return options.NoError(func(o *fileOptions) {
		o.flipEndian = flip
	})
}

// WithRestructureBox sets the super-patch size instead of deriving it from
// the bit pattern.
func WithRestructureBox(size geom.Point) Option {
	return options.Named("restructure box", func(o *fileOptions) error {
		if size.Volume() == 0 {
			return invalid("%v", size)
		}
		o.restructureBox = size

		return nil
	})
}

// WithPartitionCount sets the number of partitions per dimension of the
// partitioned modes.
func WithPartitionCount(count geom.Point) Option {
	return options.Named("partition count", func(o *fileOptions) error {
		for d := range geom.MaxDims {
			count[d] = max(count[d], 1)
		}
		o.partitionCount = count

		return nil
	})
}

// WithResolution restricts writes and reads to the HZ levels from..to.
func WithResolution(from, to int) Option {
	return options.Named("resolution", func(o *fileOptions) error {
		if from < 0 || to < from {
			return invalid("%d..%d", from, to)
		}
		o.res = &layout.Resolution{From: from, To: to}

		return nil
	})
}

// WithTimeStep sets the first time step written or read.
func WithTimeStep(t int) Option {
	return options.Named("time step", func(o *fileOptions) error {
		if t < 0 {
			return invalid("%d", t)
		}
		o.timeStep = t
		o.stepSet = true

		return nil
	})
}

// WithHeaderAlignment pads file headers to a multiple of align bytes, the
// file system block size.
func WithHeaderAlignment(align int) Option {
	return options.Named("header alignment", func(o *fileOptions) error {
		if align < 0 {
			return invalid("%d", align)
		}
		o.headerAlign = align

		return nil
	})
}

// WithLogger sets the debug logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return options.NoError(func(o *fileOptions) {
		if logger == nil {
			logger = zap.NewNop()
		}
		o.logger = logger
	})
}

// WithRestructureCase forces a restructuring plan builder.
func WithRestructureCase(c restructure.Case) Option {
	return options.Named("restructure case", func(o *fileOptions) error {
		if c < restructure.CaseAuto || c > restructure.CaseMulti {
			return invalid("%v", c)
		}
		o.rstCase = c

		return nil
	})
}

// WithStages switches the chunk, sample codec and HZ stages on and off.
func WithStages(s hzbuf.Stages) Option {
	return options.NoError(func(o *fileOptions) {
		o.stages = s
	})
}

// WithPositionVariable sets the variable holding particle coordinates.
func WithPositionVariable(v int) Option {
	return options.Named("position variable", func(o *fileOptions) error {
		if v < 0 {
			return invalid("%d", v)
		}
		o.position = v

		return nil
	})
}

// chunk returns the chunk size in effect.
func (o *fileOptions) chunk() geom.Point {
	if !o.stages.Chunk {
		return geom.Extent()
	}

	return o.chunkSize
}

// resolution returns the levels in effect for a pattern of maxh bits.
func (o *fileOptions) resolution(maxh int) layout.Resolution {
	if o.res == nil {
		return layout.FullResolution(maxh)
	}

	return o.res.Clamp(maxh)
}
