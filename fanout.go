package galvo

import (
	"sync"
	"time"
)

// FanOut relays playback status messages to any number of subscribers
type FanOut struct {
	subs []chan *PlaybackStatus
	sync.Mutex
}

// StartFanOut implement a broadcast mechanisim for accepting playback status
// messages and relaying then to subscribers.  The function returns a single
// channel to which status messages get sent and, a channel that can be used to
// add listeners
func StartFanOut(quitC <-chan struct{}) (inC chan *PlaybackStatus, subC chan chan *PlaybackStatus) {

	inC = make(chan *PlaybackStatus, 1)
	subC = make(chan chan *PlaybackStatus, 1)

	fan := &FanOut{
		subs: []chan *PlaybackStatus{},
	}

	go fan.run(inC, subC, quitC)

	return inC, subC
}

func (fan *FanOut) run(inC <-chan *PlaybackStatus, subC <-chan chan *PlaybackStatus, quitC <-chan struct{}) {
	defer logger.Debug("fanout stopped")
	for {
		select {
		case <-quitC:
			return
		case sub := <-subC:
			if nil != sub {
				fan.Lock()
				fan.subs = append(fan.subs, sub)
				fan.Unlock()
				logger.Debug("subscription added")
			}
		case msg := <-inC:
			fan.broadcast(msg)
		}
	}
}

// broadcast sends a message to every subscriber, subscribers whose channel has
// been closed are groomed out using
// https://github.com/golang/go/wiki/SliceTricks#filtering-without-allocating
func (fan *FanOut) broadcast(msg *PlaybackStatus) {
	fan.Lock()
	defer fan.Unlock()

	newSubs := fan.subs[:0]
	for _, ch := range fan.subs {
		if deliver(ch, msg) {
			newSubs = append(newSubs, ch)
			continue
		}
		logger.Debug("subscription dropped failed to send")
	}
	fan.subs = newSubs
}

// deliver sends a copy of the message to a subscriber, returning false only
// when the subscriber is gone
func deliver(ch chan *PlaybackStatus, msg *PlaybackStatus) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			alive = false
		}
	}()

	select {
	case ch <- msg.DeepCopy():
	case <-time.After(250 * time.Millisecond):
		logger.Debug("subscription failed to send")
	}
	return true
}
