package main

import (
	"github.com/karlmutch/errors"
)

// errorWatch reports the failures of the background side channels, these do
// not stop playback
func errorWatch(errorC <-chan errors.Error, quitC <-chan struct{}) {
	for {
		select {
		case err := <-errorC:
			if err != nil {
				logger.Warn(err.Error())
			}
		case <-quitC:
			return
		}
	}
}
