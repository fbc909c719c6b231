package etherdream

// This file implements a software DAC that speaks the streaming protocol.  It
// plays out its buffer in real time at the requested point rate and records
// the points it is sent, making it possible to exercise the player without
// laser hardware

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"
	"github.com/mgutz/logxi"
)

var logger = logxi.New("etherdream")

// Simulator is a software EtherDream
type Simulator struct {
	Info        Broadcast
	RecordLimit int // Maximum number of received points retained

	// IdleOnUnderflow stops playback when the buffer runs dry, as the
	// hardware does, instead of playing on and flagging the underflow
	IdleOnUnderflow bool

	status     Status
	buffered   int
	lastDrain  time.Time
	received   []Point
	underflows uint64
	sync.Mutex
}

// NewSimulator creates an idle simulated DAC
func NewSimulator(capacity uint16, maxRate uint32) (sim *Simulator) {
	return &Simulator{
		Info: Broadcast{
			MAC:              []byte{0x00, 0x04, 0xa3, 0x6c, 0x61, 0x73},
			HardwareRevision: 2,
			SoftwareRevision: 2,
			BufferCapacity:   capacity,
			MaxPointRate:     maxRate,
		},
		RecordLimit: 1 << 20,
		received:    []Point{},
	}
}

// Serve accepts streaming connections until quitC is closed.  Like the real
// hardware only one client is served at a time
func (sim *Simulator) Serve(listener net.Listener, quitC <-chan struct{}) (err errors.Error) {
	go func() {
		<-quitC
		listener.Close()
	}()

	for {
		conn, errGo := listener.Accept()
		if errGo != nil {
			select {
			case <-quitC:
				return nil
			default:
			}
			return errors.Wrap(errGo).With("addr", listener.Addr().String()).With("stack", stack.Trace().TrimRuntime())
		}

		logger.Debug("client connected", "remote", conn.RemoteAddr().String())
		if err = sim.handle(conn, quitC); err != nil {
			logger.Warn("client session failed", "remote", conn.RemoteAddr().String(), "error", err.Error())
		}
		logger.Debug("client disconnected", "remote", conn.RemoteAddr().String())
	}
}

func (sim *Simulator) handle(conn net.Conn, quitC <-chan struct{}) (err errors.Error) {
	doneC := make(chan struct{})
	defer close(doneC)
	defer conn.Close()

	go func() {
		select {
		case <-quitC:
			conn.Close()
		case <-doneC:
		}
	}()

	reader := bufio.NewReader(conn)
	resp := make([]byte, responseSize)

	if err = sim.reply(conn, resp, respAck, cmdPing); err != nil {
		return err
	}

	for {
		cmd, errGo := reader.ReadByte()
		if errGo != nil {
			if errGo == io.EOF {
				return nil
			}
			select {
			case <-quitC:
				return nil
			default:
			}
			return errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}

		code, err := sim.apply(cmd, reader, time.Now())
		if err != nil {
			return err
		}
		if err = sim.reply(conn, resp, code, cmd); err != nil {
			return err
		}
	}
}

func (sim *Simulator) reply(conn net.Conn, resp []byte, code byte, command byte) (err errors.Error) {
	sim.Lock()
	r := Response{Code: code, Command: command, Status: sim.status}
	sim.Unlock()

	r.marshal(resp)
	if _, errGo := conn.Write(resp); errGo != nil {
		return errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// apply reads the payload of a command and updates the DAC state, the
// response code is returned
func (sim *Simulator) apply(cmd byte, reader io.Reader, now time.Time) (code byte, err errors.Error) {
	payload := []byte{}
	switch cmd {
	case cmdBegin:
		payload = make([]byte, 6)
	case cmdRate:
		payload = make([]byte, 4)
	case cmdData:
		payload = make([]byte, 2)
	}
	if _, errGo := io.ReadFull(reader, payload); errGo != nil {
		return 0, errors.Wrap(errGo).With("command", string(rune(cmd))).With("stack", stack.Trace().TrimRuntime())
	}

	points := []Point{}
	if cmd == cmdData {
		count := int(binary.LittleEndian.Uint16(payload))
		data := make([]byte, count*pointSize)
		if _, errGo := io.ReadFull(reader, data); errGo != nil {
			return 0, errors.Wrap(errGo).With("points", count).With("stack", stack.Trace().TrimRuntime())
		}
		points = make([]Point, count)
		for i := range points {
			points[i] = unmarshalPoint(data[i*pointSize:])
		}
	}

	sim.Lock()
	defer sim.Unlock()

	sim.drain(now)
	defer func() {
		sim.status.BufferFullness = uint16(sim.buffered)
	}()

	switch cmd {
	case cmdPing:
		return respAck, nil

	case cmdPrepare:
		if sim.status.LightEngine == LightEngineEStop {
			return respStop, nil
		}
		sim.status.Playback = PlaybackPrepared
		sim.status.PlaybackFlags &^= PlaybackFlagUnderflow
		sim.buffered = 0
		return respAck, nil

	case cmdBegin:
		rate := binary.LittleEndian.Uint32(payload[2:])
		if sim.status.Playback != PlaybackPrepared || rate == 0 || rate > sim.Info.MaxPointRate {
			return respInvalid, nil
		}
		sim.status.Playback = PlaybackPlaying
		sim.status.PointRate = rate
		sim.lastDrain = now
		return respAck, nil

	case cmdRate:
		return respAck, nil

	case cmdData:
		if sim.status.Playback == PlaybackIdle {
			return respInvalid, nil
		}
		if sim.buffered+len(points) > int(sim.Info.BufferCapacity) {
			return respFull, nil
		}
		sim.buffered += len(points)
		if room := sim.RecordLimit - len(sim.received); room > 0 {
			if room > len(points) {
				room = len(points)
			}
			sim.received = append(sim.received, points[:room]...)
		}
		return respAck, nil

	case cmdStop:
		sim.status.Playback = PlaybackIdle
		sim.buffered = 0
		return respAck, nil

	case cmdClearEStop:
		sim.status.LightEngine = LightEngineReady
		sim.status.PlaybackFlags &^= PlaybackFlagEStop
		return respAck, nil

	case cmdEStop, cmdEStopAlt:
		sim.status.LightEngine = LightEngineEStop
		sim.status.Playback = PlaybackIdle
		sim.status.PlaybackFlags |= PlaybackFlagEStop
		sim.buffered = 0
		return respAck, nil
	}
	return respInvalid, nil
}

// drain plays out the points that would have left the buffer by now.  Unless
// IdleOnUnderflow is set the simulator keeps playing through an underflow and
// only flags it
func (sim *Simulator) drain(now time.Time) {
	if sim.status.Playback != PlaybackPlaying || sim.status.PointRate == 0 {
		return
	}
	rate := sim.status.PointRate

	consumed := int(now.Sub(sim.lastDrain).Seconds() * float64(rate))
	if consumed <= 0 {
		return
	}
	sim.lastDrain = sim.lastDrain.Add(time.Duration(consumed) * time.Second / time.Duration(rate))

	if consumed > sim.buffered {
		consumed = sim.buffered
		sim.lastDrain = now
		sim.status.PlaybackFlags |= PlaybackFlagUnderflow
		sim.underflows++
		if sim.IdleOnUnderflow {
			sim.status.Playback = PlaybackIdle
		}
	}
	sim.buffered -= consumed
	sim.status.PointCount += uint32(consumed)
}

// Received returns a copy of the points accepted so far
func (sim *Simulator) Received() (points []Point) {
	sim.Lock()
	defer sim.Unlock()
	return append([]Point{}, sim.received...)
}

// Status returns the current DAC status
func (sim *Simulator) Status() (status Status) {
	sim.Lock()
	defer sim.Unlock()
	return sim.status
}

// Underflows returns the number of times playback ran out of points
func (sim *Simulator) Underflows() uint64 {
	sim.Lock()
	defer sim.Unlock()
	return sim.underflows
}

// Announce sends a single broadcast announcing the DAC to addr
func (sim *Simulator) Announce(conn net.PacketConn, addr net.Addr) (err errors.Error) {
	sim.Lock()
	bc := sim.Info
	bc.Status = sim.status
	sim.Unlock()

	if _, errGo := conn.WriteTo(bc.marshal(), addr); errGo != nil {
		return errors.Wrap(errGo).With("addr", addr.String()).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}
