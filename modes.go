package idxio

import (
	"context"
	"fmt"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/particle"
	"github.com/arloliu/idxio/raw"
	"github.com/arloliu/idxio/restructure"
)

// valueWidths returns the bytes per value of every variable.
func (f *File) valueWidths() []int {
	out := make([]int, len(f.meta.Fields))
	for v, vr := range f.meta.Fields {
		out[v] = vr.Type.Kind.Bits() / 8
	}

	return out
}

func (f *File) flipBuffers(bufs [][][]byte) error {
	widths := f.valueWidths()
	for _, patch := range bufs {
		for v, data := range patch {
			if err := endian.ReverseValues(data, widths[v]); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeRaw restructures the patches into super-patches and stores each of
// them row-major in its own file, without HZ ordering.
func (f *File) writeRaw(ctx context.Context, patches []Patch) error {
	boxes, data := patchBuffers(patches)

	var (
		grid restructure.Grid
		err  error
	)
	if f.opts.restructureBox.Volume() > 0 {
		grid = restructure.GridFromBox(f.meta.Bounds, f.opts.restructureBox, geom.Extent(), f.c.Size())
	} else if grid, err = restructure.GridFromPatches(ctx, f.c, f.meta.Bounds, boxes, geom.Extent()); err != nil {
		return err
	}
	plan, err := restructure.BuildPlan(ctx, f.c, grid, boxes, f.opts.rstCase)
	if err != nil {
		return err
	}

	all := make([]int, len(f.meta.Fields))
	for v := range all {
		all[v] = v
	}
	sb := f.sampleBytes(all)
	owned, err := plan.Write(ctx, f.c, sb, data)
	if err != nil {
		return err
	}
	if f.flip() {
		if err := f.flipBuffers(owned); err != nil {
			return err
		}
	}

	ownedBoxes := make([]geom.Box, len(plan.Owned))
	for o, sp := range plan.Owned {
		ownedBoxes[o] = sp.Box
	}
	f.meta.RestructureBox = grid.PatchSize

	return raw.Write(ctx, f.c, f.paths, f.step, ownedBoxes, sb, owned, f.logger)
}

// readRaw reads the stored super-patches overlapping the local patches,
// whatever the number of writing ranks was.
func (f *File) readRaw(ctx context.Context, patches []Patch) error {
	boxes, data := patchBuffers(patches)
	all := make([]int, len(f.meta.Fields))
	for v := range all {
		all[v] = v
	}

	if err := raw.Read(ctx, f.c, f.paths, f.step, boxes, f.sampleBytes(all), data, f.logger); err != nil {
		return err
	}
	if f.flip() {
		return f.flipBuffers(data)
	}

	return nil
}

// schema returns the particle layout of the dataset.
func (f *File) schema() (particle.Schema, error) {
	s := particle.Schema{Types: make([]format.DataType, len(f.meta.Fields)), Position: f.opts.position}
	for v, vr := range f.meta.Fields {
		s.Types[v] = vr.Type
	}

	return s, s.Validate()
}

// WriteParticles stores the local particle patches at the current time
// step. It is collective and requires a format.ModeParticle dataset.
func (f *File) WriteParticles(ctx context.Context, patches []particle.Patch) error {
	if f.meta.Mode != format.ModeParticle {
		return fmt.Errorf("%w: particle write in %v mode", errs.ErrInvalidOption, f.meta.Mode)
	}
	s, err := f.schema()
	if err != nil {
		return err
	}
	if err := particle.Write(ctx, f.c, f.paths, f.step, s, patches, f.logger); err != nil {
		return err
	}
	f.written()

	return nil
}

// ReadParticles returns the particles of the current time step whose
// position lies in query, lower bounds inclusive and upper bounds
// exclusive. It is collective; every rank may pass its own query.
func (f *File) ReadParticles(ctx context.Context, query geom.PhysicalBox) (particle.Patch, error) {
	if f.meta.Mode != format.ModeParticle {
		return particle.Patch{}, fmt.Errorf("%w: particle read in %v mode", errs.ErrInvalidOption, f.meta.Mode)
	}
	s, err := f.schema()
	if err != nil {
		return particle.Patch{}, err
	}

	return particle.Read(ctx, f.c, f.paths, f.step, s, query, f.logger)
}
