/*
Package etherdream locates EtherDream laser DACs on the local network and
streams points to them.

DACs announce themselves with a UDP broadcast once a second.  Points are
streamed over TCP using single byte commands, each of which is answered by a
response carrying the DAC status.  All multi byte values are little endian.
*/
package etherdream

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"

	"github.com/TeamNorCal/galvo/model"
)

const (
	BroadcastPort = 7654
	StreamPort    = 7765

	statusSize    = 20
	responseSize  = 2 + statusSize
	pointSize     = 18
	broadcastSize = 16 + statusSize
)

// Commands
const (
	cmdPrepare    = 'p'
	cmdBegin      = 'b'
	cmdData       = 'd'
	cmdRate       = 'q'
	cmdStop       = 's'
	cmdPing       = '?'
	cmdClearEStop = 'c'
	cmdEStop      = 0xFF
	cmdEStopAlt   = 0x00
)

// Response codes
const (
	respAck     = 'a'
	respFull    = 'F'
	respInvalid = 'I'
	respStop    = '!'
)

// Light engine states
const (
	LightEngineReady    = 0
	LightEngineWarmup   = 1
	LightEngineCooldown = 2
	LightEngineEStop    = 3
)

// Playback states
const (
	PlaybackIdle     = 0
	PlaybackPrepared = 1
	PlaybackPlaying  = 2
)

// Playback flags
const (
	PlaybackFlagShutterOpen = 1 << 0
	PlaybackFlagUnderflow   = 1 << 1
	PlaybackFlagEStop       = 1 << 2
)

// Status is the DAC state reported with every response and broadcast
type Status struct {
	Protocol         uint8
	LightEngine      uint8
	Playback         uint8
	Source           uint8
	LightEngineFlags uint16
	PlaybackFlags    uint16
	SourceFlags      uint16
	BufferFullness   uint16
	PointRate        uint32
	PointCount       uint32
}

func (s *Status) marshal(b []byte) {
	b[0] = s.Protocol
	b[1] = s.LightEngine
	b[2] = s.Playback
	b[3] = s.Source
	binary.LittleEndian.PutUint16(b[4:], s.LightEngineFlags)
	binary.LittleEndian.PutUint16(b[6:], s.PlaybackFlags)
	binary.LittleEndian.PutUint16(b[8:], s.SourceFlags)
	binary.LittleEndian.PutUint16(b[10:], s.BufferFullness)
	binary.LittleEndian.PutUint32(b[12:], s.PointRate)
	binary.LittleEndian.PutUint32(b[16:], s.PointCount)
}

func unmarshalStatus(b []byte) (s Status) {
	return Status{
		Protocol:         b[0],
		LightEngine:      b[1],
		Playback:         b[2],
		Source:           b[3],
		LightEngineFlags: binary.LittleEndian.Uint16(b[4:]),
		PlaybackFlags:    binary.LittleEndian.Uint16(b[6:]),
		SourceFlags:      binary.LittleEndian.Uint16(b[8:]),
		BufferFullness:   binary.LittleEndian.Uint16(b[10:]),
		PointRate:        binary.LittleEndian.Uint32(b[12:]),
		PointCount:       binary.LittleEndian.Uint32(b[16:]),
	}
}

// Response is the DAC reply to a command
type Response struct {
	Code    byte
	Command byte
	Status  Status
}

func (r *Response) marshal(b []byte) {
	b[0] = r.Code
	b[1] = r.Command
	r.Status.marshal(b[2:])
}

func unmarshalResponse(b []byte) (r Response) {
	return Response{
		Code:    b[0],
		Command: b[1],
		Status:  unmarshalStatus(b[2:]),
	}
}

// check verifies the response acknowledges the expected command
func (r *Response) check(command byte) (err errors.Error) {
	if r.Command != command {
		return errors.New("response for an unexpected command").
			With("expected", string(rune(command))).With("received", string(rune(r.Command))).
			With("stack", stack.Trace().TrimRuntime())
	}
	if r.Code != respAck {
		return errors.New("command rejected by the DAC").
			With("command", string(rune(command))).With("response", string(rune(r.Code))).
			With("playback", r.Status.Playback).With("light_engine", r.Status.LightEngine).
			With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// Broadcast is the announcement a DAC sends on the broadcast port
type Broadcast struct {
	MAC              net.HardwareAddr
	HardwareRevision uint16
	SoftwareRevision uint16
	BufferCapacity   uint16
	MaxPointRate     uint32
	Status           Status
}

func (bc *Broadcast) marshal() (b []byte) {
	b = make([]byte, broadcastSize)
	copy(b[0:6], bc.MAC)
	binary.LittleEndian.PutUint16(b[6:], bc.HardwareRevision)
	binary.LittleEndian.PutUint16(b[8:], bc.SoftwareRevision)
	binary.LittleEndian.PutUint16(b[10:], bc.BufferCapacity)
	binary.LittleEndian.PutUint32(b[12:], bc.MaxPointRate)
	bc.Status.marshal(b[16:])
	return b
}

func unmarshalBroadcast(b []byte) (bc Broadcast, err errors.Error) {
	if len(b) < broadcastSize {
		return bc, errors.New("short DAC broadcast").With("size", len(b)).With("stack", stack.Trace().TrimRuntime())
	}
	return Broadcast{
		MAC:              net.HardwareAddr(append([]byte{}, b[0:6]...)),
		HardwareRevision: binary.LittleEndian.Uint16(b[6:]),
		SoftwareRevision: binary.LittleEndian.Uint16(b[8:]),
		BufferCapacity:   binary.LittleEndian.Uint16(b[10:]),
		MaxPointRate:     binary.LittleEndian.Uint32(b[12:]),
		Status:           unmarshalStatus(b[16:]),
	}, nil
}

func (bc Broadcast) String() string {
	return fmt.Sprintf("%s hw %d sw %d buffer %d max rate %d", bc.MAC, bc.HardwareRevision, bc.SoftwareRevision, bc.BufferCapacity, bc.MaxPointRate)
}

// Point is one point in the DAC wire format
type Point struct {
	Control uint16
	X, Y    int16
	R, G, B uint16
	I       uint16
	U1, U2  uint16
}

// PointFrom converts a hardware point to the wire format, intensity follows
// the brightest channel
func PointFrom(pt model.HardwarePoint) (p Point) {
	p = Point{X: pt.X, Y: pt.Y}
	if pt.Blank {
		return p
	}
	p.R, p.G, p.B = pt.R, pt.G, pt.B
	p.I = pt.R
	if pt.G > p.I {
		p.I = pt.G
	}
	if pt.B > p.I {
		p.I = pt.B
	}
	return p
}

func (p *Point) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], p.Control)
	binary.LittleEndian.PutUint16(b[2:], uint16(p.X))
	binary.LittleEndian.PutUint16(b[4:], uint16(p.Y))
	binary.LittleEndian.PutUint16(b[6:], p.R)
	binary.LittleEndian.PutUint16(b[8:], p.G)
	binary.LittleEndian.PutUint16(b[10:], p.B)
	binary.LittleEndian.PutUint16(b[12:], p.I)
	binary.LittleEndian.PutUint16(b[14:], p.U1)
	binary.LittleEndian.PutUint16(b[16:], p.U2)
}

func unmarshalPoint(b []byte) (p Point) {
	return Point{
		Control: binary.LittleEndian.Uint16(b[0:]),
		X:       int16(binary.LittleEndian.Uint16(b[2:])),
		Y:       int16(binary.LittleEndian.Uint16(b[4:])),
		R:       binary.LittleEndian.Uint16(b[6:]),
		G:       binary.LittleEndian.Uint16(b[8:]),
		B:       binary.LittleEndian.Uint16(b[10:]),
		I:       binary.LittleEndian.Uint16(b[12:]),
		U1:      binary.LittleEndian.Uint16(b[14:]),
		U2:      binary.LittleEndian.Uint16(b[16:]),
	}
}

// dataCommand appends a data command carrying the points to b
func dataCommand(b []byte, points []model.HardwarePoint) []byte {
	start := len(b)
	need := 3 + len(points)*pointSize
	if cap(b)-start < need {
		grown := make([]byte, start, start+need)
		copy(grown, b)
		b = grown
	}
	b = b[:start+need]

	b[start] = cmdData
	binary.LittleEndian.PutUint16(b[start+1:], uint16(len(points)))
	for i, pt := range points {
		wire := PointFrom(pt)
		wire.marshal(b[start+3+i*pointSize:])
	}
	return b
}

func beginCommand(lowWater uint16, rate uint32) (b []byte) {
	b = make([]byte, 7)
	b[0] = cmdBegin
	binary.LittleEndian.PutUint16(b[1:], lowWater)
	binary.LittleEndian.PutUint32(b[3:], rate)
	return b
}
