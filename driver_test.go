package galvo

import (
	"math"
	"testing"

	"github.com/TeamNorCal/galvo/model"
)

func mustDriver(t *testing.T, anim *model.Animation, cfg Config, opts ...Option) *Driver {
	d, err := NewDriver(anim, cfg, opts...)
	if err != nil {
		t.Fatalf("NewDriver failed: %s", err.Error())
	}
	return d
}

func TestDriverExactness(t *testing.T) {
	d := mustDriver(t, buildAnimation(2, 0, 1), Config{InvertX: true})
	for _, n := range []int{0, 1, 17, 1000, 3, 0} {
		if got := len(d.Fill(n)); got != n {
			t.Fatalf("Fill(%d) returned %d points", n, got)
		}
	}
	if got := len(d.Fill(-5)); got != 0 {
		t.Fatalf("Fill(-5) returned %d points", got)
	}

	stats := d.Stats()
	if stats.Points != 1021 || stats.Fills != 7 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Frames != 3 {
		t.Fatalf("expected 3 frames, got %d", stats.Frames)
	}
	// 1021 points through a 3 point animation completes 340 passes
	if stats.Wraps != 340 {
		t.Fatalf("expected 340 wraps, got %d", stats.Wraps)
	}
}

func TestDriverRejectsUnplayable(t *testing.T) {
	if _, err := NewDriver(buildAnimation(0), Config{}); err == nil {
		t.Fatal("expected an error for an animation of empty frames")
	}
	if _, err := NewDriver(buildAnimation(1), Config{Rotation: RotationConfig{Policy: RotateSpin}}); err == nil {
		t.Fatal("expected an error for a spin without a period")
	}
}

func TestDriverScenario(t *testing.T) {
	anim := &model.Animation{Frames: []model.Frame{{Points: []model.SourcePoint{
		{X: 0, Y: 0, R: 255},
		{X: 10, Y: -10, G: 255},
		{X: 0, Y: 0, Blank: true},
	}}}}
	d := mustDriver(t, anim, Config{InvertX: true})

	out := d.Fill(6)
	if len(out) != 6 {
		t.Fatalf("expected 6 points, got %d", len(out))
	}

	expected := []model.HardwarePoint{
		{X: 0, Y: 0, R: 65535},
		{X: -10, Y: -10, G: 65535},
		{X: 0, Y: 0, Blank: true},
	}
	for i, pt := range out {
		if pt != expected[i%3] {
			t.Fatalf("point %d: got %+v, expected %+v", i, pt, expected[i%3])
		}
	}
}

func TestDriverInvertXToggle(t *testing.T) {
	anim := &model.Animation{Frames: []model.Frame{{Points: []model.SourcePoint{{X: 42}}}}}

	if pt := mustDriver(t, anim, Config{}).Fill(1)[0]; pt.X != 42 {
		t.Fatalf("x should be untouched without inversion, got %d", pt.X)
	}
	if pt := mustDriver(t, anim, Config{}, WithXCorrection(NegateX)).Fill(1)[0]; pt.X != -42 {
		t.Fatalf("x should be negated by the injected correction, got %d", pt.X)
	}
}

// scriptedPhase replays a fixed sequence of angles
type scriptedPhase struct {
	angles []float64
	next   int
}

func (s *scriptedPhase) Phase() float64 {
	angle := s.angles[s.next%len(s.angles)]
	s.next++
	return angle
}

func TestDriverRotation(t *testing.T) {
	anim := &model.Animation{Frames: []model.Frame{{Points: []model.SourcePoint{{X: 1000, Y: 0, R: 1}}}}}
	phase := &scriptedPhase{angles: []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2}}
	d := mustDriver(t, anim, Config{}, WithPhaseSource(phase))

	expected := [][2]int16{{1000, 0}, {0, 1000}, {-1000, 0}, {0, -1000}}
	for i, pt := range d.Fill(4) {
		if pt.X != expected[i][0] || pt.Y != expected[i][1] {
			t.Fatalf("point %d: got (%d,%d), expected %v", i, pt.X, pt.Y, expected[i])
		}
		if pt.R != 257 {
			t.Fatalf("point %d lost its color", i)
		}
	}
	if phase.next != 4 {
		t.Fatalf("phase should be sampled once per point, sampled %d times", phase.next)
	}
}

func TestDriverFixedRotation(t *testing.T) {
	anim := &model.Animation{Frames: []model.Frame{{Points: []model.SourcePoint{{X: 0, Y: 500}}}}}
	cfg := Config{Rotation: RotationConfig{Policy: RotateFixed, Angle: 90}}
	pt := mustDriver(t, anim, cfg).Fill(1)[0]
	if pt.X != -500 || pt.Y != 0 {
		t.Fatalf("rotating (0,500) by 90 degrees gave (%d,%d)", pt.X, pt.Y)
	}
}

type recordingTap struct {
	seen []model.HardwarePoint
}

func (r *recordingTap) Observe(points []model.HardwarePoint) {
	r.seen = append(r.seen, points...)
}

func TestDriverTap(t *testing.T) {
	tap := &recordingTap{}
	d := mustDriver(t, buildAnimation(2), Config{}, WithTap(tap))
	d.Fill(0)
	d.Fill(3)
	if len(tap.seen) != 3 {
		t.Fatalf("tap saw %d points, expected 3", len(tap.seen))
	}
}
