package etherdream

// This file implements the streaming side of the protocol.  The DAC is kept
// topped up by asking the point source for as many points as the DAC buffer
// has room for, playback begins once the buffer holds enough points to ride
// out network jitter

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"

	"github.com/TeamNorCal/galvo/model"
)

const (
	defaultCapacity = 1799
	defaultRate     = 30000

	// maxBatch bounds the points sent in a single data command
	maxBatch = 1000
)

// FillFunc supplies exactly n points each time it is called
type FillFunc func(n int) []model.HardwarePoint

// Device is a DAC that points can be streamed to
type Device struct {
	Addr      string    // host:port of the streaming socket
	Info      Broadcast // Announcement the device was discovered from, if any
	Capacity  uint16    // Size of the DAC point buffer
	PointRate uint32    // Points per second to play at

	DialTimeout time.Duration
}

// NewDevice creates a device for a known address, the streaming port is added
// when the address does not have one
func NewDevice(addr string) (dev *Device) {
	if _, _, errGo := net.SplitHostPort(addr); errGo != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(StreamPort))
	}
	return &Device{
		Addr:        addr,
		Capacity:    defaultCapacity,
		PointRate:   defaultRate,
		DialTimeout: 5 * time.Second,
	}
}

type session struct {
	conn   net.Conn
	reader *bufio.Reader
	resp   []byte
	code   byte // Response code of the last reply
	status Status
}

func (s *session) send(cmd []byte) (err errors.Error) {
	if _, errGo := s.conn.Write(cmd); errGo != nil {
		return errors.Wrap(errGo).With("command", string(rune(cmd[0]))).With("stack", stack.Trace().TrimRuntime())
	}
	return s.expect(cmd[0])
}

func (s *session) expect(command byte) (err errors.Error) {
	if _, errGo := io.ReadFull(s.reader, s.resp); errGo != nil {
		return errors.Wrap(errGo).With("command", string(rune(command))).With("stack", stack.Trace().TrimRuntime())
	}
	resp := unmarshalResponse(s.resp)
	s.code = resp.Code
	s.status = resp.Status
	return resp.check(command)
}

// prepare readies the DAC to accept points, clearing an emergency stop left
// over from an earlier session
func (s *session) prepare() (err errors.Error) {
	if s.status.LightEngine == LightEngineEStop {
		if err = s.send([]byte{cmdClearEStop}); err != nil {
			return err
		}
	}
	if s.status.Playback != PlaybackIdle {
		if err = s.send([]byte{cmdStop}); err != nil {
			return err
		}
	}
	return s.send([]byte{cmdPrepare})
}

// Stream connects to the DAC and feeds it points from fill until quitC is
// closed or the connection fails.  fill is only ever called from the goroutine
// running Stream
func (dev *Device) Stream(fill FillFunc, quitC <-chan struct{}) (err errors.Error) {
	conn, errGo := net.DialTimeout("tcp", dev.Addr, dev.DialTimeout)
	if errGo != nil {
		return errors.Wrap(errGo).With("addr", dev.Addr).With("stack", stack.Trace().TrimRuntime())
	}
	defer conn.Close()

	s := &session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		resp:   make([]byte, responseSize),
	}

	// The DAC greets each new connection with its status
	if err = s.expect(cmdPing); err != nil {
		return err.With("addr", dev.Addr)
	}
	if err = s.prepare(); err != nil {
		return err.With("addr", dev.Addr)
	}

	capacity := int(dev.Capacity)
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	rate := dev.PointRate
	if rate == 0 {
		rate = defaultRate
	}
	// Points are only sent in reasonably sized batches, and playback starts
	// once a quarter of the buffer is queued
	minBatch := capacity / 16
	if minBatch < 1 {
		minBatch = 1
	}
	startLevel := capacity / 4

	begun := false
	cmd := make([]byte, 0, 3+maxBatch*pointSize)

	for {
		select {
		case <-quitC:
			if err = s.stop(); err != nil {
				return err.With("addr", dev.Addr)
			}
			return nil
		default:
		}

		// A DAC that went idle after starting has underrun, prepare again
		if begun && s.status.Playback == PlaybackIdle {
			if err = s.prepare(); err != nil {
				return err.With("addr", dev.Addr)
			}
			begun = false
		}

		free := capacity - int(s.status.BufferFullness)
		if free > maxBatch {
			free = maxBatch
		}

		if free < minBatch {
			if !begun && s.status.BufferFullness > 0 {
				if err = s.begin(rate); err != nil {
					return err.With("addr", dev.Addr)
				}
				begun = true
				continue
			}
			// Wait for the DAC to play out enough room for a batch
			wait := time.Duration(minBatch-free) * time.Second / time.Duration(rate)
			select {
			case <-time.After(wait):
			case <-quitC:
				if err = s.stop(); err != nil {
					return err.With("addr", dev.Addr)
				}
				return nil
			}
			if err = s.send([]byte{cmdPing}); err != nil {
				return err.With("addr", dev.Addr)
			}
			continue
		}

		points := fill(free)
		if len(points) != free {
			return errors.New("point source returned the wrong number of points").
				With("requested", free).With("returned", len(points)).
				With("stack", stack.Trace().TrimRuntime())
		}

		cmd = dataCommand(cmd[:0], points)
		if err = s.send(cmd); err != nil {
			if !begun || !s.underrun() {
				return err.With("addr", dev.Addr).With("points", free)
			}
			// The DAC ran dry while the points were being produced, they are
			// resent once it has been prepared again
			if err = s.prepare(); err != nil {
				return err.With("addr", dev.Addr)
			}
			begun = false
			if err = s.send(cmd); err != nil {
				return err.With("addr", dev.Addr).With("points", free)
			}
		}

		if !begun && int(s.status.BufferFullness) >= startLevel {
			if err = s.begin(rate); err != nil {
				return err.With("addr", dev.Addr)
			}
			begun = true
		}
	}
}

// stop halts playback when streaming is asked to end
func (s *session) stop() (err errors.Error) {
	if err = s.send([]byte{cmdStop}); err != nil {
		return err.With("reason", "stopping on quit")
	}
	return nil
}

// underrun reports whether the last reply rejected a command because the DAC
// dropped back to idle after playing out its buffer
func (s *session) underrun() bool {
	return s.code == respInvalid && s.status.Playback == PlaybackIdle
}

func (s *session) begin(rate uint32) (err errors.Error) {
	return s.send(beginCommand(0, rate))
}
