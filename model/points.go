package model

// This module defines the three point representations a point passes through
// on its way from the animation file to the DAC

// SourcePoint is one galvo position and beam state as decoded from an
// animation file, colors are 8 bit per channel
type SourcePoint struct {
	X     int16 `json:"x"`
	Y     int16 `json:"y"`
	R     uint8 `json:"r"`
	G     uint8 `json:"g"`
	B     uint8 `json:"b"`
	Blank bool  `json:"blank"`
}

// TransformPoint is the floating point working form used by the geometric
// transforms. Z is reserved for future 3D transforms and is carried through
// untouched
type TransformPoint struct {
	X, Y, Z float32
	R, G, B uint8
	Blank   bool
}

// HardwarePoint is the form handed to the DAC transport, colors are widened
// to 16 bits per channel
type HardwarePoint struct {
	X     int16  `json:"x"`
	Y     int16  `json:"y"`
	R     uint16 `json:"r"`
	G     uint16 `json:"g"`
	B     uint16 `json:"b"`
	Blank bool   `json:"blank"`
}
