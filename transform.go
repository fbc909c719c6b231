package galvo

// This file contains the transform stage applied to every point in transform
// space along with the phase sources that drive it

import (
	"math"
	"time"

	"github.com/TeamNorCal/galvo/model"
)

// Transform is a geometric stage applied to each point in transform space.
// phase is a scalar angle in radians sampled once per point
type Transform interface {
	Apply(pt model.TransformPoint, phase float64) model.TransformPoint
}

// PhaseSource supplies the phase for the transform stage. It is sampled once
// per output point so motion is independent of frame boundaries
type PhaseSource interface {
	Phase() float64
}

// Rotation rotates points about the origin in the XY plane by the phase
type Rotation struct{}

// Apply implements Transform
func (Rotation) Apply(pt model.TransformPoint, phase float64) model.TransformPoint {
	return Rotate(pt, phase)
}

// Rotate turns a point by theta radians counter clockwise about the origin.
// Both outputs are computed from the original coordinates
func Rotate(pt model.TransformPoint, theta float64) model.TransformPoint {
	if theta == 0 {
		return pt
	}
	sin, cos := math.Sincos(theta)
	x, y := float64(pt.X), float64(pt.Y)

	pt.X = float32(x*cos - y*sin)
	pt.Y = float32(y*cos + x*sin)
	return pt
}

// FixedPhase is a constant angle in radians
type FixedPhase float64

// Phase implements PhaseSource
func (p FixedPhase) Phase() float64 {
	return float64(p)
}

// SpinPhase is a sawtooth that sweeps [0, 2π) once every Period of wall clock
// time
type SpinPhase struct {
	Period time.Duration
	Now    func() time.Time // Defaults to time.Now when nil
}

// NewSpinPhase creates a wall clock driven sawtooth with the given period
func NewSpinPhase(period time.Duration) *SpinPhase {
	return &SpinPhase{Period: period, Now: time.Now}
}

// Phase implements PhaseSource
func (s *SpinPhase) Phase() float64 {
	if s.Period <= 0 {
		return 0
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	frac := float64(now().UnixNano()%int64(s.Period)) / float64(s.Period)
	if frac < 0 {
		frac += 1
	}
	return 2 * math.Pi * frac
}
