package galvo

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, body string) string {
	dir, errGo := ioutil.TempDir("", "galvo")
	if errGo != nil {
		t.Fatal(errGo)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	fn := filepath.Join(dir, "galvo.yaml")
	if errGo = ioutil.WriteFile(fn, []byte(body), 0600); errGo != nil {
		t.Fatal(errGo)
	}
	return fn
}

func TestLoadSettings(t *testing.T) {
	fn := writeSettings(t, `
playback:
  show_blanking: true
  frame_repeat: 3
  rotation:
    policy: spin
    period: 2s
dac:
  address: 10.0.0.5
mqtt:
  broker: localhost:1883
  encoding: msgpack
`)
	settings, err := LoadSettings(fn)
	if err != nil {
		t.Fatalf("LoadSettings failed: %s", err.Error())
	}
	if !settings.Playback.ShowBlanking || settings.Playback.FrameRepeat != 3 {
		t.Fatalf("playback settings not loaded %+v", settings.Playback)
	}
	if settings.Playback.Rotation.Policy != RotateSpin || settings.Playback.Rotation.Period != 2*time.Second {
		t.Fatalf("rotation settings not loaded %+v", settings.Playback.Rotation)
	}
	// Values absent from the file keep their defaults
	if !settings.Playback.InvertX || settings.DAC.PointRate != 30000 {
		t.Fatalf("defaults were lost %+v", settings)
	}
	if settings.DAC.Address != "10.0.0.5" || settings.MQTT.Encoding != "msgpack" {
		t.Fatalf("unexpected dac/mqtt settings %+v %+v", settings.DAC, settings.MQTT)
	}
}

func TestLoadSettingsRejects(t *testing.T) {
	bad := []string{
		"playback:\n  rotation:\n    policy: wobble\n",
		"playback:\n  rotation:\n    policy: spin\n    period: 0s\n",
		"dac:\n  point_rate: 0\n",
		"mqtt:\n  encoding: xml\n",
		"status_interval: 0s\n",
		"dac:\n  discover_timeout: 0s\n",
		"preview:\n  server: localhost:7890\n  width: 0\n",
	}
	for _, body := range bad {
		if _, err := LoadSettings(writeSettings(t, body)); err == nil {
			t.Fatalf("expected settings to be rejected:\n%s", body)
		}
	}
	if _, err := LoadSettings(filepath.Join(os.TempDir(), "galvo-missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestParseRotationPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy RotationPolicy
	}{
		{"", RotateNone}, {"none", RotateNone}, {"Fixed", RotateFixed}, {" spin ", RotateSpin},
	}
	for _, test := range tests {
		policy, err := ParseRotationPolicy(test.name)
		if err != nil {
			t.Fatalf("%q: %s", test.name, err.Error())
		}
		if policy != test.policy {
			t.Fatalf("%q parsed as %v, expected %v", test.name, policy, test.policy)
		}
	}
}

func TestRotationPhaseSource(t *testing.T) {
	if (RotationConfig{Policy: RotateNone}).PhaseSource() != nil {
		t.Fatal("no phase source expected when rotation is disabled")
	}
	fixed := RotationConfig{Policy: RotateFixed, Angle: 90}.PhaseSource()
	if math.Abs(fixed.Phase()-math.Pi/2) > 1e-12 {
		t.Fatalf("90 degrees gave %v radians", fixed.Phase())
	}
	if _, isSpin := (RotationConfig{Policy: RotateSpin, Period: time.Second}).PhaseSource().(*SpinPhase); !isSpin {
		t.Fatal("spin policy should produce a SpinPhase")
	}
}

func TestFingerprint(t *testing.T) {
	first, err := DefaultSettings().Fingerprint()
	if err != nil {
		t.Fatal(err.Error())
	}
	second, _ := DefaultSettings().Fingerprint()
	if first != second {
		t.Fatal("fingerprint of identical settings should be stable")
	}
	changed := DefaultSettings()
	changed.Playback.FrameRepeat = 7
	third, _ := changed.Fingerprint()
	if third == first {
		t.Fatal("fingerprint should change with the settings")
	}
}
