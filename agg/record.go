package agg

import (
	"fmt"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/hzbuf"
)

var wire = endian.GetBigEndianEngine()

// recordHeaderSize is the size of an encoded record without its samples:
// variable (4), block (8), offset in block (4), count (4).
const recordHeaderSize = 20

// record addresses count consecutive samples of one block of one variable.
type record struct {
	Var    uint32
	Block  uint64
	Offset uint32
	Count  uint32
}

func (r record) appendTo(buf []byte) []byte {
	buf = wire.AppendUint32(buf, r.Var)
	buf = wire.AppendUint64(buf, r.Block)
	buf = wire.AppendUint32(buf, r.Offset)

	return wire.AppendUint32(buf, r.Count)
}

func parseRecord(buf []byte) (record, error) {
	if len(buf) < recordHeaderSize {
		return record{}, fmt.Errorf("%w: record of %d bytes", errs.ErrComm, len(buf))
	}

	return record{
		Var:    wire.Uint32(buf),
		Block:  wire.Uint64(buf[4:]),
		Offset: wire.Uint32(buf[12:]),
		Count:  wire.Uint32(buf[16:]),
	}, nil
}

// splitRun cuts a run of HZ indices at block boundaries and calls fn with
// the record of every piece and the piece's position inside the run.
func splitRun(run hzbuf.Run, v int, blockSamples uint64, fn func(r record, skip uint64) error) error {
	for hzaddr := run.Start; hzaddr < run.End(); {
		block := hzaddr / blockSamples
		end := min(run.End(), (block+1)*blockSamples)
		r := record{
			Var:    uint32(v),
			Block:  block,
			Offset: uint32(hzaddr - block*blockSamples),
			Count:  uint32(end - hzaddr),
		}
		if err := fn(r, hzaddr-run.Start); err != nil {
			return err
		}
		hzaddr = end
	}

	return nil
}

// forEachRecord walks the records of a payload. With sampleBytes set, every
// record is followed by its samples, which are passed to fn.
func forEachRecord(payload []byte, sampleBytes []int, withData bool, fn func(r record, data []byte) error) error {
	for len(payload) > 0 {
		r, err := parseRecord(payload)
		if err != nil {
			return err
		}
		payload = payload[recordHeaderSize:]
		if int(r.Var) >= len(sampleBytes) {
			return fmt.Errorf("%w: record of variable %d", errs.ErrComm, r.Var)
		}

		var data []byte
		if withData {
			n := int(r.Count) * sampleBytes[r.Var]
			if len(payload) < n {
				return fmt.Errorf("%w: record of %d samples truncated to %d bytes", errs.ErrComm, r.Count, len(payload))
			}
			data, payload = payload[:n], payload[n:]
		}
		if err := fn(r, data); err != nil {
			return err
		}
	}

	return nil
}
