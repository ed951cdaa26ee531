package metadata

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
)

// lineReader hands out trimmed lines and supports one line of lookahead.
type lineReader struct {
	sc      *bufio.Scanner
	pending *string
	line    int
}

func (lr *lineReader) next() (string, bool) {
	if lr.pending != nil {
		s := *lr.pending
		lr.pending = nil
		return s, true
	}
	if !lr.sc.Scan() {
		return "", false
	}
	lr.line++

	return strings.TrimSpace(strings.TrimRight(lr.sc.Text(), "\r")), true
}

func (lr *lineReader) unread(s string) {
	lr.pending = &s
}

// value returns the single value line of tag.
func (lr *lineReader) value(tag string) (string, error) {
	s, ok := lr.next()
	if !ok {
		return "", fmt.Errorf("%w: %s has no value", errs.ErrMalformedMetadata, tag)
	}

	return s, nil
}

// Parse reads metadata in ".idx" syntax.
//
// Returns:
//   - *Metadata: Parsed metadata; tags that are absent keep the defaults of New
//   - error: errs.ErrMalformedMetadata for unreadable values,
//     errs.ErrMissingTag when a required tag is absent
func Parse(r io.Reader) (*Metadata, error) {
	m := New()
	m.Version = ""
	lr := &lineReader{sc: bufio.NewScanner(r)}

	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if err := m.parseTag(lr, line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lr.line, err)
		}
	}
	if err := lr.sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metadata) parseTag(lr *lineReader, tag string) error {
	if tag == TagFields {
		fields, err := parseFieldLines(lr)
		if err != nil {
			return err
		}
		m.Fields = fields

		return nil
	}

	if !strings.HasPrefix(tag, "(") {
		return nil
	}
	if !knownTag(tag) {
		// skip the values of unknown tags
		for {
			s, ok := lr.next()
			if !ok {
				return nil
			}
			if strings.HasPrefix(s, "(") {
				lr.unread(s)
				return nil
			}
		}
	}

	v, err := lr.value(tag)
	if err != nil {
		return err
	}

	switch tag {
	case TagVersion:
		m.Version = v
	case TagIOMode:
		mode, ok := format.ParseIOMode(v)
		if !ok {
			return fmt.Errorf("%w: io mode %q", errs.ErrMalformedMetadata, v)
		}
		m.Mode = mode
	case TagBox:
		m.Bounds, err = parseBox(v)
	case TagPhysicalBox:
		m.PhysicalBounds, err = parsePhysicalBox(v)
	case TagPartitionCount:
		m.PartitionCount, err = parsePoint(v, 1)
	case TagPartitionSize:
		m.PartitionSize, err = parsePoint(v, 1)
	case TagPartitionOffset:
		m.PartitionOffset, err = parsePoint(v, 0)
	case TagPartitionIndex:
		m.PartitionIndex, err = parseInt(tag, v)
	case TagEndian:
		engine, ok := endian.ParseName(v)
		if !ok {
			return fmt.Errorf("%w: endian %q", errs.ErrMalformedMetadata, v)
		}
		m.Endian = engine
	case TagRestructureBox:
		m.RestructureBox, err = parsePoint(v, 1)
	case TagCores:
		m.Cores, err = parseInt(tag, v)
	case TagBitRate:
		var f float64
		f, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s %q", errs.ErrMalformedMetadata, tag, v)
		}
		m.BitRate = int(f)
	case TagCompression:
		m.Compression, err = parseCompression(v)
	case TagChunkSize:
		m.ChunkSize, err = parsePoint(v, 1)
	case TagBits:
		m.Bits = v
	case TagBitsPerBlock:
		m.BitsPerBlock, err = parseInt(tag, v)
	case TagBlocksPerFile:
		m.BlocksPerFile, err = parseInt(tag, v)
	case TagTemplate:
		m.Template = strings.TrimPrefix(v, "./")
	case TagTime:
		err = m.parseTime(v)
	}

	return err
}

var knownTags = map[string]bool{
	TagVersion: true, TagIOMode: true, TagBox: true, TagPhysicalBox: true,
	TagPartitionCount: true, TagPartitionSize: true, TagPartitionOffset: true,
	TagPartitionIndex: true, TagEndian: true, TagRestructureBox: true,
	TagCores: true, TagBitRate: true, TagCompression: true, TagChunkSize: true,
	TagBits: true, TagBitsPerBlock: true, TagBlocksPerFile: true,
	TagTemplate: true, TagTime: true,
}

func knownTag(tag string) bool {
	return knownTags[tag]
}

func parseInt(tag, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", errs.ErrMalformedMetadata, tag, v)
	}

	return n, nil
}

// parseCompression accepts a codec name or its numeric value.
func parseCompression(v string) (format.CompressionType, error) {
	if ct, ok := format.ParseCompressionType(v); ok {
		return ct, nil
	}
	n, err := strconv.Atoi(v)
	if err == nil && n >= int(format.CompressionNone) && n <= int(format.CompressionLZ4) {
		return format.CompressionType(n), nil
	}

	return 0, fmt.Errorf("%w: compression type %q", errs.ErrMalformedMetadata, v)
}

// parseBox reads inclusive "from to" pairs; missing dimensions have extent 1.
func parseBox(v string) (geom.Point, error) {
	p := geom.Extent()
	fields := strings.Fields(v)
	if len(fields)%2 != 0 || len(fields) > 2*geom.MaxDims {
		return p, fmt.Errorf("%w: box %q", errs.ErrMalformedMetadata, v)
	}
	for d := 0; d < len(fields)/2; d++ {
		lo, err1 := strconv.ParseUint(fields[2*d], 10, 64)
		hi, err2 := strconv.ParseUint(fields[2*d+1], 10, 64)
		if err1 != nil || err2 != nil || lo != 0 {
			return p, fmt.Errorf("%w: box %q", errs.ErrMalformedMetadata, v)
		}
		p[d] = hi + 1
	}

	return p, nil
}

func parsePhysicalBox(v string) ([geom.MaxDims]float64, error) {
	var p [geom.MaxDims]float64
	fields := strings.Fields(v)
	if len(fields)%2 != 0 || len(fields) > 2*geom.MaxDims {
		return p, fmt.Errorf("%w: physical box %q", errs.ErrMalformedMetadata, v)
	}
	for d := 0; d < len(fields)/2; d++ {
		hi, err := strconv.ParseFloat(fields[2*d+1], 64)
		if err != nil {
			return p, fmt.Errorf("%w: physical box %q", errs.ErrMalformedMetadata, v)
		}
		p[d] = hi
	}

	return p, nil
}

// parsePoint reads up to five integers; missing components are fill.
func parsePoint(v string, fill uint64) (geom.Point, error) {
	p := geom.Point{fill, fill, fill, fill, fill}
	fields := strings.Fields(v)
	if len(fields) == 0 || len(fields) > geom.MaxDims {
		return p, fmt.Errorf("%w: point %q", errs.ErrMalformedMetadata, v)
	}
	for d, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return p, fmt.Errorf("%w: point %q", errs.ErrMalformedMetadata, v)
		}
		p[d] = n
	}

	return p, nil
}

// parseTime reads "first last time%09d/".
func (m *Metadata) parseTime(v string) error {
	fields := strings.Fields(v)
	if len(fields) < 2 {
		return fmt.Errorf("%w: time %q", errs.ErrMalformedMetadata, v)
	}

	first, err := parseInt(TagTime, fields[0])
	if err != nil {
		return err
	}
	last, err := parseInt(TagTime, fields[1])
	if err != nil {
		return err
	}
	m.FirstTime, m.LastTime = first, last

	return nil
}
