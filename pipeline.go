package galvo

// This file contains the point pipeline, the pure conversions that take a point
// as decoded from the animation file through the transform space and into the
// form the DAC consumes

import (
	"math"

	"github.com/TeamNorCal/galvo/model"
)

// XCorrection maps an x coordinate from the animation convention into the
// projector convention
type XCorrection func(x int16) int16

// NegateX mirrors the x axis. Animation files and the projector disagree on
// the direction of x, this may be compensating for a mirror elsewhere in the
// chain so it is kept as a separate step that can be switched off with
// IdentityX. Negating the minimum value saturates to the maximum
func NegateX(x int16) int16 {
	if x == math.MinInt16 {
		return math.MaxInt16
	}
	return -x
}

// IdentityX leaves the x coordinate untouched
func IdentityX(x int16) int16 {
	return x
}

// ExpandColor widens an 8 bit channel to 16 bits so that 0 maps to 0 and 255
// maps to 65535, a shift left by 8 would top out at 65280
func ExpandColor(c uint8) uint16 {
	return uint16(c) * 257
}

// Convert takes a source point directly to its hardware form without passing
// through the transform space
func Convert(src model.SourcePoint, showBlanking bool, correct XCorrection) (pt model.HardwarePoint) {
	pt.X = correct(src.X)
	pt.Y = src.Y

	if src.Blank && !showBlanking {
		pt.Blank = true
		return pt
	}

	pt.R = ExpandColor(src.R)
	pt.G = ExpandColor(src.G)
	pt.B = ExpandColor(src.B)
	return pt
}

// ToTransform lifts a source point into transform space applying the x
// correction on the way
func ToTransform(src model.SourcePoint, correct XCorrection) model.TransformPoint {
	return model.TransformPoint{
		X:     float32(correct(src.X)),
		Y:     float32(src.Y),
		R:     src.R,
		G:     src.G,
		B:     src.B,
		Blank: src.Blank,
	}
}

// ToHardware lowers a transformed point to its hardware form, coordinates are
// rounded to the nearest integer and clamped to the int16 range
func ToHardware(tp model.TransformPoint, showBlanking bool) (pt model.HardwarePoint) {
	pt.X = clampCoord(tp.X)
	pt.Y = clampCoord(tp.Y)

	if tp.Blank && !showBlanking {
		pt.Blank = true
		return pt
	}

	pt.R = ExpandColor(tp.R)
	pt.G = ExpandColor(tp.G)
	pt.B = ExpandColor(tp.B)
	return pt
}

func clampCoord(v float32) int16 {
	r := math.Round(float64(v))
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt16:
		return math.MaxInt16
	case r <= math.MinInt16:
		return math.MinInt16
	}
	return int16(r)
}
