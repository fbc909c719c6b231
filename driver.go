package galvo

// This file contains the playback driver that is registered with the DAC
// transport. Each time the DAC asks for points the driver pulls them from the
// cursor, pushes them through the point pipeline and transform stage and hands
// back exactly the number requested.
//
// Fill runs on the DAC's real time budget, nothing reachable from it may
// block, log or perform I/O

import (
	"sync/atomic"

	"github.com/TeamNorCal/galvo/model"
	"github.com/karlmutch/errors"
)

// Tap observes every buffer produced by the driver. Observe is called
// synchronously from Fill and must return without blocking, the slice is only
// valid for the duration of the call
type Tap interface {
	Observe(points []model.HardwarePoint)
}

// DriverStats is a snapshot of the driver counters
type DriverStats struct {
	Points uint64 // Points emitted since start
	Fills  uint64 // Number of Fill calls
	Wraps  uint64 // Completed passes through the animation
	Frame  int    // Frame being played at the end of the last Fill
	Frames int    // Frames in the animation
}

// Driver produces hardware points on demand from an animation
type Driver struct {
	cursor       *Cursor
	showBlanking bool
	correct      XCorrection
	transform    Transform
	phase        PhaseSource
	tap          Tap

	buf    []model.HardwarePoint
	frames int

	points atomic.Uint64
	fills  atomic.Uint64
	wraps  atomic.Uint64
	frame  atomic.Int64
}

// Option customizes a Driver
type Option func(d *Driver)

// WithPhaseSource replaces the phase source derived from the rotation policy,
// a Rotation transform is installed if none has been chosen
func WithPhaseSource(phase PhaseSource) Option {
	return func(d *Driver) {
		d.phase = phase
		if d.transform == nil {
			d.transform = Rotation{}
		}
	}
}

// WithTransform replaces the transform stage
func WithTransform(transform Transform) Option {
	return func(d *Driver) {
		d.transform = transform
	}
}

// WithXCorrection replaces the x axis correction selected by InvertX
func WithXCorrection(correct XCorrection) Option {
	return func(d *Driver) {
		d.correct = correct
	}
}

// WithTap installs an observer of the produced buffers
func WithTap(tap Tap) Option {
	return func(d *Driver) {
		d.tap = tap
	}
}

// NewDriver creates a driver positioned at the start of the animation. The
// animation is shared, not copied, and must not be modified afterwards
func NewDriver(anim *model.Animation, cfg Config, opts ...Option) (d *Driver, err errors.Error) {
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	cursor, err := NewCursor(anim, cfg.FrameRepeat)
	if err != nil {
		return nil, err
	}

	d = &Driver{
		cursor:       cursor,
		showBlanking: cfg.ShowBlanking,
		correct:      IdentityX,
		frames:       anim.Len(),
	}
	if cfg.InvertX {
		d.correct = NegateX
	}
	if phase := cfg.Rotation.PhaseSource(); phase != nil {
		d.phase = phase
		d.transform = Rotation{}
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Fill returns exactly n points, fewer than one point requested yields an
// empty buffer. The returned slice is reused and is only valid until the next
// call
func (d *Driver) Fill(n int) []model.HardwarePoint {
	if n < 0 {
		n = 0
	}
	if cap(d.buf) < n {
		d.buf = make([]model.HardwarePoint, n)
	}
	buf := d.buf[:n]

	for i := range buf {
		buf[i] = d.next()
	}

	d.points.Add(uint64(n))
	d.fills.Add(1)
	d.wraps.Store(d.cursor.Wraps())
	d.frame.Store(int64(d.cursor.State().Frame))

	if d.tap != nil && n != 0 {
		d.tap.Observe(buf)
	}
	return buf
}

func (d *Driver) next() model.HardwarePoint {
	src := d.cursor.Next()

	if d.transform == nil {
		return Convert(src, d.showBlanking, d.correct)
	}

	phase := 0.0
	if d.phase != nil {
		phase = d.phase.Phase()
	}
	tp := d.transform.Apply(ToTransform(src, d.correct), phase)
	return ToHardware(tp, d.showBlanking)
}

// Stats returns a snapshot of the driver counters, it is safe to call
// concurrently with Fill
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		Points: d.points.Load(),
		Fills:  d.fills.Load(),
		Wraps:  d.wraps.Load(),
		Frame:  int(d.frame.Load()),
		Frames: d.frames,
	}
}
