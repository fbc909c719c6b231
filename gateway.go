package galvo

// This module starts the side channels that accompany a playback session,
// status broadcasting with its optional MQTT publisher, and the optional OPC
// preview.  None of them sit on the playback path, they observe the driver
// through its counters and tap only

import (
	"github.com/karlmutch/errors"
	"github.com/mgutz/logxi"
)

var logger = logxi.New("galvo")

// Gateway starts the monitoring side channels of a playback session
type Gateway struct {
	Settings *Settings
}

// Start launches the status fanout along with the publishers enabled by the
// settings.  Status messages sent to statusC are relayed to every subscriber.
// The returned tap is nil unless a preview has been configured
func (gw *Gateway) Start(session string, errorC chan<- errors.Error, quitC <-chan struct{}) (statusC chan *PlaybackStatus, subscribeC chan chan *PlaybackStatus, tap Tap) {

	statusC, subscribeC = StartFanOut(quitC)

	if gw.Settings.MQTT.Broker != "" {
		go StartStatusEmitter(gw.Settings.MQTT, "galvo-"+session, subscribeC, errorC, quitC)
	}

	if gw.Settings.Preview.Server != "" {
		tap = StartPreview(gw.Settings.Preview, errorC, quitC)
	}

	return statusC, subscribeC, tap
}
