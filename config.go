package idxio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
	"github.com/arloliu/idxio/hzbuf"
	"github.com/arloliu/idxio/restructure"
)

// Config is the file form of the dataset options. Zero values keep the
// defaults.
//
//	bit_pattern: V012012012
//	bits_per_block: 12
//	blocks_per_file: 64
//	compression: zstd
//	io_mode: idx
//	chunk_size: [4, 4, 4]
//	resolution: {from: 0, to: 9}
type Config struct {
	BitPattern        string      `yaml:"bit_pattern"`
	GuessStrategy     string      `yaml:"guess_strategy"`
	BitsPerBlock      int         `yaml:"bits_per_block"`
	BlocksPerFile     int         `yaml:"blocks_per_file"`
	Compression       string      `yaml:"compression"`
	IOMode            string      `yaml:"io_mode"`
	AggregationFactor int         `yaml:"aggregation_factor"`
	PipeLength        int         `yaml:"pipe_length"`
	ChunkSize         []uint64    `yaml:"chunk_size"`
	SampleCodec       string      `yaml:"sample_codec"`
	FlipEndian        bool        `yaml:"flip_endian"`
	RestructureBox    []uint64    `yaml:"restructure_box"`
	PartitionCount    []uint64    `yaml:"partition_count"`
	Resolution        *Resolution `yaml:"resolution"`
	TimeStep          int         `yaml:"time_step"`
	HeaderAlignment   int         `yaml:"header_alignment"`
	RestructureCase   string      `yaml:"restructure_case"`
	PositionVariable  int         `yaml:"position_variable"`
	Stages            *StageFlags `yaml:"stages"`
}

// Resolution is an inclusive range of HZ levels.
type Resolution struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// StageFlags switches pipeline stages off. Missing keys stay on.
type StageFlags struct {
	Chunk    *bool `yaml:"chunk"`
	Compress *bool `yaml:"compress"`
	Encode   *bool `yaml:"encode"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig decodes a YAML config. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidOption, err)
	}

	return cfg, nil
}

func point(vals []uint64) (geom.Point, error) {
	if len(vals) > geom.MaxDims {
		return geom.Point{}, invalid("%d extents", len(vals))
	}

	return geom.Extent(vals...), nil
}

func parseCase(name string) (restructure.Case, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return restructure.CaseAuto, nil
	case "single":
		return restructure.CaseSingle, nil
	case "multi":
		return restructure.CaseMulti, nil
	default:
		return 0, invalid("restructure case %q", name)
	}
}

// Options converts the config into options.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	add := func(o Option) {
		opts = append(opts, o)
	}

	if c.BitPattern != "" {
		add(WithBitPattern(c.BitPattern))
	}
	if c.GuessStrategy != "" {
		s, ok := hz.ParseStrategy(c.GuessStrategy)
		if !ok {
			return nil, invalid("guess strategy %q", c.GuessStrategy)
		}
		add(WithGuessStrategy(s))
	}
	if c.BitsPerBlock != 0 {
		add(WithBitsPerBlock(c.BitsPerBlock))
	}
	if c.BlocksPerFile != 0 {
		add(WithBlocksPerFile(c.BlocksPerFile))
	}
	if c.Compression != "" {
		ct, ok := format.ParseCompressionType(c.Compression)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errs.ErrUnknownCodec, c.Compression)
		}
		add(WithCompression(ct))
	}
	if c.IOMode != "" {
		mode, ok := format.ParseIOMode(c.IOMode)
		if !ok {
			return nil, invalid("io mode %q", c.IOMode)
		}
		add(WithIOMode(mode))
	}
	if c.AggregationFactor != 0 {
		add(WithAggregationFactor(c.AggregationFactor))
	}
	if c.PipeLength != 0 {
		add(WithPipeLength(c.PipeLength))
	}
	if len(c.ChunkSize) > 0 {
		p, err := point(c.ChunkSize)
		if err != nil {
			return nil, err
		}
		add(WithChunkSize(p))
	}
	if c.SampleCodec != "" {
		codec, err := hzbuf.ParseSampleCodec(c.SampleCodec)
		if err != nil {
			return nil, err
		}
		add(WithSampleCodec(codec))
	}
	if c.FlipEndian {
		add(WithFlipEndian(true))
	}
	if len(c.RestructureBox) > 0 {
		p, err := point(c.RestructureBox)
		if err != nil {
			return nil, err
		}
		add(WithRestructureBox(p))
	}
	if len(c.PartitionCount) > 0 {
		p, err := point(c.PartitionCount)
		if err != nil {
			return nil, err
		}
		add(WithPartitionCount(p))
	}
	if c.Resolution != nil {
		add(WithResolution(c.Resolution.From, c.Resolution.To))
	}
	if c.TimeStep != 0 {
		add(WithTimeStep(c.TimeStep))
	}
	if c.HeaderAlignment != 0 {
		add(WithHeaderAlignment(c.HeaderAlignment))
	}
	if c.RestructureCase != "" {
		rc, err := parseCase(c.RestructureCase)
		if err != nil {
			return nil, err
		}
		add(WithRestructureCase(rc))
	}
	if c.PositionVariable != 0 {
		add(WithPositionVariable(c.PositionVariable))
	}
	if c.Stages != nil {
		s := hzbuf.AllStages
		on := func(flag *bool, dst *bool) {
			if flag != nil {
				*dst = *flag
			}
		}
		on(c.Stages.Chunk, &s.Chunk)
		on(c.Stages.Compress, &s.Compress)
		on(c.Stages.Encode, &s.Encode)
		add(WithStages(s))
	}

	return opts, nil
}
