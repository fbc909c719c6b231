package etherdream

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"
)

// Discover listens for DAC broadcasts and returns the first DAC heard from
// within the timeout
func Discover(timeout time.Duration) (dev *Device, err errors.Error) {
	conn, errGo := net.ListenPacket("udp4", fmt.Sprintf(":%d", BroadcastPort))
	if errGo != nil {
		return nil, errors.Wrap(errGo).With("port", BroadcastPort).With("stack", stack.Trace().TrimRuntime())
	}
	defer conn.Close()

	return discoverFrom(conn, timeout)
}

func discoverFrom(conn net.PacketConn, timeout time.Duration) (dev *Device, err errors.Error) {
	deadline := time.Now().Add(timeout)
	if errGo := conn.SetReadDeadline(deadline); errGo != nil {
		return nil, errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	buf := make([]byte, 512)
	for {
		n, addr, errGo := conn.ReadFrom(buf)
		if errGo != nil {
			if netErr, isNet := errGo.(net.Error); isNet && netErr.Timeout() {
				return nil, errors.New("no EtherDream DAC found").With("timeout", timeout).With("stack", stack.Trace().TrimRuntime())
			}
			return nil, errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}

		bc, err := unmarshalBroadcast(buf[:n])
		if err != nil {
			// Something else is talking on the broadcast port, keep listening
			continue
		}

		host, _, errGo := net.SplitHostPort(addr.String())
		if errGo != nil {
			return nil, errors.Wrap(errGo).With("addr", addr.String()).With("stack", stack.Trace().TrimRuntime())
		}

		dev = NewDevice(net.JoinHostPort(host, strconv.Itoa(StreamPort)))
		dev.Info = bc
		if bc.BufferCapacity != 0 {
			dev.Capacity = bc.BufferCapacity
		}
		return dev, nil
	}
}
