package galvo

// This file contains the configuration for playback and for the program as a
// whole. Settings can be loaded from a YAML file and are then overridden by
// command line flags and environment variables in the command

import (
	"fmt"
	"io/ioutil"
	"math"
	"strings"
	"time"

	"github.com/cnf/structhash"
	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"

	"gopkg.in/yaml.v2"
)

// RotationPolicy selects how the transform stage rotates the image
type RotationPolicy int

const (
	// RotateNone bypasses the transform stage entirely
	RotateNone RotationPolicy = iota
	// RotateFixed rotates every point by a constant angle
	RotateFixed
	// RotateSpin rotates continuously, one full turn per period
	RotateSpin
)

var policyNames = map[RotationPolicy]string{
	RotateNone:  "none",
	RotateFixed: "fixed",
	RotateSpin:  "spin",
}

func (p RotationPolicy) String() string {
	if name, isPresent := policyNames[p]; isPresent {
		return name
	}
	return fmt.Sprintf("RotationPolicy(%d)", int(p))
}

// ParseRotationPolicy converts a policy name into a RotationPolicy
func ParseRotationPolicy(name string) (policy RotationPolicy, err errors.Error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return RotateNone, nil
	}
	for policy, policyName := range policyNames {
		if policyName == name {
			return policy, nil
		}
	}
	return RotateNone, errors.New("unknown rotation policy").With("policy", name).With("stack", stack.Trace().TrimRuntime())
}

// UnmarshalYAML allows the policy to be written by name in settings files
func (p *RotationPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	name := ""
	if errGo := unmarshal(&name); errGo != nil {
		return errGo
	}
	policy, err := ParseRotationPolicy(name)
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// MarshalYAML writes the policy by name
func (p RotationPolicy) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// RotationConfig describes the rotation applied by the transform stage
type RotationConfig struct {
	Policy RotationPolicy `yaml:"policy"`
	Angle  float64        `yaml:"angle"`  // Degrees, used by the fixed policy
	Period time.Duration  `yaml:"period"` // Time for one full turn, used by the spin policy
}

// PhaseSource builds the phase source for the configured policy, nil is
// returned when rotation is disabled
func (rc RotationConfig) PhaseSource() PhaseSource {
	switch rc.Policy {
	case RotateFixed:
		return FixedPhase(rc.Angle * math.Pi / 180)
	case RotateSpin:
		return NewSpinPhase(rc.Period)
	}
	return nil
}

// Config is the playback configuration, it is fixed once playback starts
type Config struct {
	ShowBlanking bool           `yaml:"show_blanking"` // Draw blanking points lit, useful when aligning
	FrameRepeat  uint8          `yaml:"frame_repeat"`  // Extra plays of each frame before advancing
	InvertX      bool           `yaml:"invert_x"`      // Mirror the x axis, see NegateX
	Rotation     RotationConfig `yaml:"rotation"`
}

// Validate checks the playback configuration for values that cannot be used
func (cfg *Config) Validate() (err errors.Error) {
	if _, isPresent := policyNames[cfg.Rotation.Policy]; !isPresent {
		return errors.New("invalid rotation policy").With("policy", cfg.Rotation.Policy.String()).With("stack", stack.Trace().TrimRuntime())
	}
	if cfg.Rotation.Policy == RotateSpin && cfg.Rotation.Period <= 0 {
		return errors.New("spin rotation requires a positive period").With("period", cfg.Rotation.Period).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// DACSettings governs how the EtherDream is located and fed
type DACSettings struct {
	Address         string        `yaml:"address"`          // host[:port], when empty the DAC is discovered
	DiscoverTimeout time.Duration `yaml:"discover_timeout"` // How long to listen for DAC broadcasts
	PointRate       uint32        `yaml:"point_rate"`       // Points per second
}

// PreviewSettings governs the optional OPC preview of the beam
type PreviewSettings struct {
	Server  string        `yaml:"server"` // host:port of an OPC server, preview is disabled when empty
	Channel uint8         `yaml:"channel"`
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Refresh time.Duration `yaml:"refresh"`
	Decay   float64       `yaml:"decay"` // Fraction of the previous brightness kept each refresh
}

// MQTTSettings governs the optional publishing of playback status
type MQTTSettings struct {
	Broker   string `yaml:"broker"` // host:port, publishing is disabled when empty
	Topic    string `yaml:"topic"`
	Encoding string `yaml:"encoding"` // json or msgpack
	QoS      byte   `yaml:"qos"`
}

// Settings is the configuration of the whole program
type Settings struct {
	Playback       Config          `yaml:"playback"`
	DAC            DACSettings     `yaml:"dac"`
	Preview        PreviewSettings `yaml:"preview"`
	MQTT           MQTTSettings    `yaml:"mqtt"`
	StatusInterval time.Duration   `yaml:"status_interval"`
}

// DefaultSettings returns the settings used when nothing else is specified
func DefaultSettings() (settings *Settings) {
	return &Settings{
		Playback: Config{
			InvertX: true,
			Rotation: RotationConfig{
				Policy: RotateNone,
				Period: 10 * time.Second,
			},
		},
		DAC: DACSettings{
			DiscoverTimeout: 10 * time.Second,
			PointRate:       30000,
		},
		Preview: PreviewSettings{
			Width:   16,
			Height:  16,
			Refresh: 50 * time.Millisecond,
			Decay:   0.6,
		},
		MQTT: MQTTSettings{
			Topic:    "galvo/status",
			Encoding: "json",
		},
		StatusInterval: time.Second,
	}
}

// LoadSettings reads a YAML settings file over the top of the defaults
func LoadSettings(fn string) (settings *Settings, err errors.Error) {
	settings = DefaultSettings()

	data, errGo := ioutil.ReadFile(fn)
	if errGo != nil {
		return nil, errors.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo = yaml.Unmarshal(data, settings); errGo != nil {
		return nil, errors.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
	}
	if err = settings.Validate(); err != nil {
		return nil, err.With("file", fn)
	}
	return settings, nil
}

// Validate checks the settings for values that cannot be used
func (settings *Settings) Validate() (err errors.Error) {
	if err = settings.Playback.Validate(); err != nil {
		return err
	}
	if settings.DAC.PointRate == 0 {
		return errors.New("the DAC point rate must be positive").With("stack", stack.Trace().TrimRuntime())
	}
	if settings.Preview.Server != "" {
		if settings.Preview.Width <= 0 || settings.Preview.Height <= 0 {
			return errors.New("the preview grid must have a positive size").
				With("width", settings.Preview.Width).With("height", settings.Preview.Height).
				With("stack", stack.Trace().TrimRuntime())
		}
		if settings.Preview.Refresh <= 0 {
			return errors.New("the preview refresh must be positive").With("stack", stack.Trace().TrimRuntime())
		}
	}
	if settings.StatusInterval <= 0 {
		return errors.New("the status interval must be positive").With("interval", settings.StatusInterval).With("stack", stack.Trace().TrimRuntime())
	}
	if settings.DAC.Address == "" && settings.DAC.DiscoverTimeout <= 0 {
		return errors.New("a discovery timeout is needed when no DAC address is given").With("stack", stack.Trace().TrimRuntime())
	}
	switch settings.MQTT.Encoding {
	case "json", "msgpack":
	default:
		return errors.New("unknown status encoding").With("encoding", settings.MQTT.Encoding).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// Fingerprint returns a short stable digest of the settings, it is logged at
// start up so that runs can be matched to their configuration
func (settings *Settings) Fingerprint() (hash string, err errors.Error) {
	hash, errGo := structhash.Hash(*settings, 1)
	if errGo != nil {
		return "", errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return hash, nil
}
