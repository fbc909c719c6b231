package etherdream

import (
	"net"
	"testing"
	"time"

	"github.com/TeamNorCal/galvo/model"
)

func TestPointFrom(t *testing.T) {
	lit := PointFrom(model.HardwarePoint{X: -5, Y: 9, R: 100, G: 3000, B: 200})
	if lit.X != -5 || lit.Y != 9 || lit.I != 3000 || lit.G != 3000 {
		t.Fatalf("unexpected wire point %+v", lit)
	}
	dark := PointFrom(model.HardwarePoint{X: 1, Y: 2, R: 65535, G: 65535, B: 65535, Blank: true})
	if dark.R != 0 || dark.G != 0 || dark.B != 0 || dark.I != 0 || dark.X != 1 || dark.Y != 2 {
		t.Fatalf("blank point must be dark on the wire %+v", dark)
	}
}

func TestWireLayout(t *testing.T) {
	cmd := dataCommand(nil, []model.HardwarePoint{{X: -2, Y: 3, R: 0x0102}, {X: 7}})
	if len(cmd) != 3+2*pointSize || cmd[0] != cmdData || cmd[1] != 2 || cmd[2] != 0 {
		t.Fatalf("bad data command header % x", cmd[:3])
	}
	first := unmarshalPoint(cmd[3:])
	if first.X != -2 || first.Y != 3 || first.R != 0x0102 || first.I != 0x0102 {
		t.Fatalf("first point decoded as %+v", first)
	}
	// Little endian x of -2 followed by y of 3
	if cmd[5] != 0xfe || cmd[6] != 0xff || cmd[7] != 3 || cmd[8] != 0 {
		t.Fatalf("unexpected coordinate bytes % x", cmd[5:9])
	}

	status := Status{Playback: PlaybackPlaying, BufferFullness: 1234, PointRate: 30000, PointCount: 99}
	resp := Response{Code: respAck, Command: cmdData, Status: status}
	buf := make([]byte, responseSize)
	resp.marshal(buf)
	if decoded := unmarshalResponse(buf); decoded != resp {
		t.Fatalf("response decoded as %+v", decoded)
	}
	if err := resp.check(cmdData); err != nil {
		t.Fatal(err.Error())
	}
	if err := resp.check(cmdBegin); err == nil {
		t.Fatal("expected a mismatched command to be rejected")
	}
	resp.Code = respFull
	if err := resp.check(cmdData); err == nil {
		t.Fatal("expected a NAK to be reported")
	}

	bc := NewSimulator(1799, 100000).Info
	decoded, err := unmarshalBroadcast(bc.marshal())
	if err != nil {
		t.Fatal(err.Error())
	}
	if decoded.BufferCapacity != 1799 || decoded.MaxPointRate != 100000 || decoded.MAC.String() != bc.MAC.String() {
		t.Fatalf("broadcast decoded as %s", decoded)
	}
	if _, err = unmarshalBroadcast(make([]byte, 10)); err == nil {
		t.Fatal("expected a short broadcast to be rejected")
	}
}

func TestDiscover(t *testing.T) {
	listener, errGo := net.ListenPacket("udp4", "127.0.0.1:0")
	if errGo != nil {
		t.Fatal(errGo)
	}
	defer listener.Close()

	sender, errGo := net.ListenPacket("udp4", "127.0.0.1:0")
	if errGo != nil {
		t.Fatal(errGo)
	}
	defer sender.Close()

	// Noise on the port is ignored
	sender.WriteTo([]byte("hello"), listener.LocalAddr())

	sim := NewSimulator(1500, 50000)
	if err := sim.Announce(sender, listener.LocalAddr()); err != nil {
		t.Fatal(err.Error())
	}

	dev, err := discoverFrom(listener, 5*time.Second)
	if err != nil {
		t.Fatalf("discovery failed: %s", err.Error())
	}
	if dev.Addr != "127.0.0.1:7765" || dev.Capacity != 1500 || dev.Info.MaxPointRate != 50000 {
		t.Fatalf("unexpected device %+v", dev)
	}

	if _, err = discoverFrom(listener, 20*time.Millisecond); err == nil {
		t.Fatal("expected discovery to time out")
	}
}

func TestNewDevice(t *testing.T) {
	if dev := NewDevice("10.1.1.1"); dev.Addr != "10.1.1.1:7765" {
		t.Fatalf("stream port not added, got %s", dev.Addr)
	}
	if dev := NewDevice("10.1.1.1:9000"); dev.Addr != "10.1.1.1:9000" {
		t.Fatalf("explicit port lost, got %s", dev.Addr)
	}
}

func startSimulator(t *testing.T, sim *Simulator) (addr string, stop func()) {
	listener, errGo := net.Listen("tcp", "127.0.0.1:0")
	if errGo != nil {
		t.Fatal(errGo)
	}
	quitC := make(chan struct{})
	go sim.Serve(listener, quitC)
	return listener.Addr().String(), func() { close(quitC) }
}

// counter is a point source whose points number themselves in X
type counter struct {
	next int
	buf  []model.HardwarePoint
}

func (c *counter) fill(n int) []model.HardwarePoint {
	c.buf = c.buf[:0]
	for i := 0; i < n; i++ {
		c.buf = append(c.buf, model.HardwarePoint{X: int16(c.next % 30000), R: 65535})
		c.next++
	}
	return c.buf
}

func TestStream(t *testing.T) {
	sim := NewSimulator(1799, 100000)
	// A DAC left in emergency stop is recovered when the stream starts
	sim.status.LightEngine = LightEngineEStop

	addr, stop := startSimulator(t, sim)
	defer stop()

	dev := NewDevice(addr)
	dev.PointRate = 30000

	source := &counter{}
	quitC := make(chan struct{})
	errC := make(chan error, 1)
	go func() {
		if err := dev.Stream(source.fill, quitC); err != nil {
			errC <- err
			return
		}
		errC <- nil
	}()

	time.Sleep(300 * time.Millisecond)
	close(quitC)

	select {
	case err := <-errC:
		if err != nil {
			t.Fatalf("stream failed: %s", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}

	received := sim.Received()
	if len(received) == 0 {
		t.Fatal("the DAC received no points")
	}
	if len(received) != source.next {
		t.Fatalf("source produced %d points but the DAC accepted %d", source.next, len(received))
	}
	for i, pt := range received {
		if int(pt.X) != i%30000 || pt.R != 65535 {
			t.Fatalf("point %d arrived as %+v", i, pt)
		}
	}

	status := sim.Status()
	if status.Playback != PlaybackIdle || status.LightEngine != LightEngineReady {
		t.Fatalf("expected the DAC to be stopped and ready, got %+v", status)
	}
	if status.PointCount == 0 {
		t.Fatal("the DAC never played any points")
	}
}

func TestStreamRecoversFromUnderrun(t *testing.T) {
	sim := NewSimulator(1799, 100000)
	sim.IdleOnUnderflow = true

	addr, stop := startSimulator(t, sim)
	defer stop()

	dev := NewDevice(addr)
	dev.PointRate = 30000

	// After playback is under way the source stalls for longer than the DAC
	// buffer lasts, a full buffer plays out in about 60ms at this rate
	source := &counter{}
	calls := 0
	slow := func(n int) []model.HardwarePoint {
		calls++
		if calls > 3 {
			time.Sleep(150 * time.Millisecond)
		}
		return source.fill(n)
	}

	quitC := make(chan struct{})
	errC := make(chan error, 1)
	go func() {
		if err := dev.Stream(slow, quitC); err != nil {
			errC <- err
			return
		}
		errC <- nil
	}()

	time.Sleep(time.Second)
	close(quitC)

	select {
	case err := <-errC:
		if err != nil {
			t.Fatalf("stream failed after an underrun: %s", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}

	if sim.Underflows() == 0 {
		t.Fatal("the source never let the DAC run dry")
	}

	// The simulator rejects data while idle, so every point arriving in order
	// means the stream prepared the DAC again and resent what was refused
	received := sim.Received()
	if len(received) != source.next {
		t.Fatalf("source produced %d points but the DAC accepted %d", source.next, len(received))
	}
	for i, pt := range received {
		if int(pt.X) != i%30000 {
			t.Fatalf("point %d arrived as %+v", i, pt)
		}
	}
	if calls <= 4 {
		t.Fatalf("streaming did not continue past the underrun, %d fills", calls)
	}
}

func TestStreamShortFill(t *testing.T) {
	addr, stop := startSimulator(t, NewSimulator(1799, 100000))
	defer stop()

	short := func(n int) []model.HardwarePoint {
		return make([]model.HardwarePoint, n-1)
	}
	if err := NewDevice(addr).Stream(short, make(chan struct{})); err == nil {
		t.Fatal("expected a short fill to end the stream")
	}
}

func TestStreamNoDevice(t *testing.T) {
	listener, errGo := net.Listen("tcp", "127.0.0.1:0")
	if errGo != nil {
		t.Fatal(errGo)
	}
	addr := listener.Addr().String()
	listener.Close()

	dev := NewDevice(addr)
	dev.DialTimeout = time.Second
	if err := dev.Stream((&counter{}).fill, make(chan struct{})); err == nil {
		t.Fatal("expected connecting to a closed port to fail")
	}
}

func TestSimulatorRejectsOutOfOrder(t *testing.T) {
	sim := NewSimulator(10, 1000)
	now := time.Now()

	if code, _ := sim.apply(cmdBegin, bytesOf(make([]byte, 6)), now); code != respInvalid {
		t.Fatalf("begin before prepare should be invalid, got %q", code)
	}
	if code, _ := sim.apply(cmdData, bytesOf([]byte{1, 0}, make([]byte, pointSize)), now); code != respInvalid {
		t.Fatalf("data before prepare should be invalid, got %q", code)
	}
	if code, _ := sim.apply(cmdPrepare, bytesOf(), now); code != respAck {
		t.Fatalf("prepare should be accepted, got %q", code)
	}
	if code, _ := sim.apply(cmdData, bytesOf([]byte{11, 0}, make([]byte, 11*pointSize)), now); code != respFull {
		t.Fatalf("overfilling should be refused, got %q", code)
	}
	if code, _ := sim.apply('z', bytesOf(), now); code != respInvalid {
		t.Fatalf("unknown command should be invalid, got %q", code)
	}
}
