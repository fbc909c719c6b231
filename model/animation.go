package model

// This module defines implementation neutral animation data structures that
// the file loaders produce and the playback engine consumes

import (
	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"
)

// Frame is one drawable image, an ordered set of points. Frames may be empty
type Frame struct {
	Name      string        `json:"name"`
	Company   string        `json:"company"`
	Projector uint8         `json:"projector"`
	Points    []SourcePoint `json:"points"`
}

// Len returns the number of points in the frame
func (frame *Frame) Len() int {
	return len(frame.Points)
}

// Animation is an ordered sequence of frames played back in a loop.  Once
// validated it is shared read-only with the playback engine and must not be
// modified
type Animation struct {
	Name   string  `json:"name"`
	Frames []Frame `json:"frames"`
}

// Len returns the number of frames in the animation
func (anim *Animation) Len() int {
	if anim == nil {
		return 0
	}
	return len(anim.Frames)
}

// PointCount returns the total number of points across all frames, which is
// the length of a single full pass through the animation
func (anim *Animation) PointCount() (count int) {
	if anim == nil {
		return 0
	}
	for i := range anim.Frames {
		count += len(anim.Frames[i].Points)
	}
	return count
}

// Validate checks that the animation can be played. An animation with no
// frames, or whose frames are all empty, would leave the playback cursor
// spinning without ever producing a point and is rejected here
func (anim *Animation) Validate() (err errors.Error) {
	if anim.Len() == 0 {
		return errors.New("animation has no frames").With("stack", stack.Trace().TrimRuntime())
	}
	if anim.PointCount() == 0 {
		return errors.New("animation frames are all empty").With("frames", anim.Len()).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}
