package galvo

// This module defines the playback status messages that are broadcast to
// monitoring subscribers while an animation is streaming

import (
	"encoding/json"
	"time"
)

// PlaybackStatus is a point in time report on a playback session
type PlaybackStatus struct {
	Session   string    `json:"session" msgpack:"session"`
	File      string    `json:"file" msgpack:"file"`
	Time      time.Time `json:"time" msgpack:"time"`
	Frame     int       `json:"frame" msgpack:"frame"`
	Frames    int       `json:"frames" msgpack:"frames"`
	Points    uint64    `json:"points" msgpack:"points"`
	Fills     uint64    `json:"fills" msgpack:"fills"`
	Wraps     uint64    `json:"wraps" msgpack:"wraps"`
	PointRate float64   `json:"pointRate" msgpack:"pointRate"` // Points per second since the previous report
}

// DeepCopy deepcopies a to b using json marshaling
func (status *PlaybackStatus) DeepCopy() (cpy *PlaybackStatus) {
	cpy = &PlaybackStatus{}

	byt, _ := json.Marshal(status)
	json.Unmarshal(byt, cpy)
	return cpy
}
