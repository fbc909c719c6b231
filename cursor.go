package galvo

// This file contains the playback cursor, the state machine that walks an
// animation frame by frame and point by point producing an endless stream of
// source points

import (
	"github.com/TeamNorCal/galvo/model"
	"github.com/karlmutch/errors"
)

// PlaybackState is the position of the cursor within the animation
type PlaybackState struct {
	Frame   int   // Index of the current frame
	Point   int   // Index of the next point to emit within the frame
	Repeats uint8 // Number of times the current frame has been replayed
}

// Cursor is a pull based generator over an animation. It is not safe for
// concurrent use, the single caller owns its state
type Cursor struct {
	anim        *model.Animation
	repeatLimit uint8
	state       PlaybackState
	wraps       uint64
}

// NewCursor creates a cursor positioned at the first point of the animation.
// repeatLimit is the number of additional times each frame is played before
// advancing, 0 disables repetition
func NewCursor(anim *model.Animation, repeatLimit uint8) (cursor *Cursor, err errors.Error) {
	if err = anim.Validate(); err != nil {
		return nil, err
	}
	return &Cursor{
		anim:        anim,
		repeatLimit: repeatLimit,
	}, nil
}

// Next returns the next point of the animation advancing the cursor. Empty
// frames are skipped and the animation loops back to the start after the last
// frame
func (c *Cursor) Next() model.SourcePoint {
	for {
		if c.state.Frame >= len(c.anim.Frames) {
			c.state = PlaybackState{}
			c.wraps++
			continue
		}

		points := c.anim.Frames[c.state.Frame].Points
		if c.state.Point >= len(points) {
			// The repeat count only increments while strictly below the limit
			// so it saturates at the limit rather than wrapping
			if c.repeatLimit > 0 && c.state.Repeats < c.repeatLimit {
				c.state.Point = 0
				c.state.Repeats++
				continue
			}
			c.state.Frame++
			c.state.Point = 0
			c.state.Repeats = 0
			continue
		}

		pt := points[c.state.Point]
		c.state.Point++
		return pt
	}
}

// State returns a copy of the current position
func (c *Cursor) State() PlaybackState {
	return c.state
}

// Wraps returns the number of times the cursor has looped back to the start
// of the animation
func (c *Cursor) Wraps() uint64 {
	return c.wraps
}
