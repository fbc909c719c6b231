package main

import (
	"fmt"

	"github.com/TeamNorCal/galvo"
)

// This file implements a monitor that subscribe to and displays
// the playback status using event subscription

func runMonitoring(subscribeC chan chan *galvo.PlaybackStatus, quitC <-chan struct{}) {

	statusC := make(chan *galvo.PlaybackStatus, 1)
	defer close(statusC)
	subscribeC <- statusC

	for {
		select {
		case msg := <-statusC:
			if msg == nil {
				continue
			}
			logger.Debug(fmt.Sprintf("frame %d/%d points %d wraps %d rate %.0f/s", msg.Frame+1, msg.Frames, msg.Points, msg.Wraps, msg.PointRate))
		case <-quitC:
			return
		}
	}
}
