package galvo

// This file contains a function that when started will on a regular basis
// lift the counters of a playback driver and report them as status messages

import (
	"time"
)

// StatsSource supplies driver counters, it must be safe to call concurrently
// with playback
type StatsSource interface {
	Stats() DriverStats
}

// Reporter converts driver counter snapshots into status messages
type Reporter struct {
	Session string
	File    string

	source   StatsSource
	last     DriverStats
	lastTime time.Time
}

// NewReporter creates a reporter for the driver counters of a session
func NewReporter(source StatsSource, session string, file string) (rep *Reporter) {
	return &Reporter{
		Session: session,
		File:    file,
		source:  source,
	}
}

// Snapshot builds a status message for the given time, the point rate is
// measured since the previous snapshot
func (rep *Reporter) Snapshot(now time.Time) (status *PlaybackStatus) {
	stats := rep.source.Stats()

	status = &PlaybackStatus{
		Session: rep.Session,
		File:    rep.File,
		Time:    now,
		Frame:   stats.Frame,
		Frames:  stats.Frames,
		Points:  stats.Points,
		Fills:   stats.Fills,
		Wraps:   stats.Wraps,
	}

	if !rep.lastTime.IsZero() {
		if elapsed := now.Sub(rep.lastTime).Seconds(); elapsed > 0 {
			status.PointRate = float64(stats.Points-rep.last.Points) / elapsed
		}
	}
	rep.last = stats
	rep.lastTime = now

	return status
}

// Run sends a snapshot on statusC every interval until quitC is closed
func (rep *Reporter) Run(interval time.Duration, statusC chan<- *PlaybackStatus, quitC <-chan struct{}) {

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case now := <-tick.C:
			select {
			case statusC <- rep.Snapshot(now):
			case <-time.After(interval):
				logger.Debug("playback status dropped")
			case <-quitC:
				return
			}
		case <-quitC:
			return
		}
	}
}
