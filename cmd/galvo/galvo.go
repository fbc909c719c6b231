package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/go-stack/stack"
	"github.com/google/uuid"
	"github.com/karlmutch/errors"
	"github.com/mgutz/logxi"

	"github.com/TeamNorCal/galvo"
	"github.com/TeamNorCal/galvo/etherdream"
	"github.com/TeamNorCal/galvo/ilda"
	"github.com/TeamNorCal/galvo/version"

	"github.com/karlmutch/envflag" // Forked copy of https://github.com/GoBike/envflag
)

// options holds the command line settings, they are registered on a FlagSet
// so that the merge with the settings file can be exercised on its own
type options struct {
	verbose    *bool
	configFile *string

	showBlanking   *bool
	frameRepeat    *uint
	invertX        *bool
	rotation       *string
	angle          *float64
	period         *time.Duration
	dacAddr        *string
	discover       *time.Duration
	pointRate      *uint
	opcServer      *string
	mqttBroker     *string
	statusInterval *time.Duration
}

func newOptions(fs *flag.FlagSet) (opts *options) {
	return &options{
		verbose:    fs.Bool("v", false, "When enabled will print internal logging for this tool"),
		configFile: fs.String("config", "", "An optional YAML settings file, flags that are set explicitly override its values"),

		showBlanking:   fs.Bool("blanking", false, "Draw blanking points lit rather than dark"),
		frameRepeat:    fs.Uint("repeat", 0, "The number of extra times each frame is drawn before advancing, 0 to 255"),
		invertX:        fs.Bool("invert-x", true, "Mirror the x axis of the animation"),
		rotation:       fs.String("rotation", "none", "Rotation applied to the image, one of none, fixed or spin"),
		angle:          fs.Float64("angle", 0, "Angle in degrees used by the fixed rotation"),
		period:         fs.Duration("period", 10*time.Second, "Time taken for one full turn by the spin rotation"),
		dacAddr:        fs.String("dac", "", "Address of the EtherDream DAC, when not supplied the DAC is discovered"),
		discover:       fs.Duration("discover-timeout", 10*time.Second, "How long to listen for DAC broadcasts"),
		pointRate:      fs.Uint("rate", 30000, "Points per second sent to the DAC"),
		opcServer:      fs.String("opc", "", "host:port of an OPC server used to preview the beam"),
		mqttBroker:     fs.String("mqtt", "", "host:port of an MQTT broker that playback status is published to"),
		statusInterval: fs.Duration("status-interval", time.Second, "Interval between playback status reports"),
	}
}

var (
	logger = logxi.New("galvo")

	opts = newOptions(flag.CommandLine)
)

func usage() {
	fmt.Fprintln(os.Stderr, path.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "usage: ", os.Args[0], "[options] file.ild       ILDA → EtherDream (galvo)      ", version.GitHash, "    ", version.BuildTime)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "galvo plays ILDA laser animation files on EtherDream laser projector DACs")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Options:")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment Variables:")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options can also be extracted from environment variables by changing dashes '-' to underscores and using upper case.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "log levels are handled by the LOGXI env variables, these are documented at https://github.com/mgutz/logxi")
}

func init() {
	flag.Usage = usage
}

func main() {

	// Parse the CLI flags
	if !flag.Parsed() {
		envflag.Parse()
	}

	if *opts.verbose {
		logger.SetLevel(logxi.LevelDebug)
	}

	logger.Debug(fmt.Sprintf("%s built at %s, against commit id %s\n", os.Args[0], version.BuildTime, version.GitHash))

	quitC := make(chan struct{})
	go func() {
		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
		<-sigC
		logger.Info("stopping")
		close(quitC)
	}()

	if err := run(flag.Arg(0), quitC); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}

// loadSettings merges the settings file, when there is one, with the flags
// that were explicitly set on the command line or in the environment
func (opts *options) loadSettings(fs *flag.FlagSet) (settings *galvo.Settings, err errors.Error) {
	settings = galvo.DefaultSettings()
	if *opts.configFile != "" {
		if settings, err = galvo.LoadSettings(*opts.configFile); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "blanking":
			settings.Playback.ShowBlanking = *opts.showBlanking
		case "repeat":
			if *opts.frameRepeat > math.MaxUint8 {
				err = errors.New("the frame repeat count cannot exceed 255").With("repeat", *opts.frameRepeat).With("stack", stack.Trace().TrimRuntime())
				return
			}
			settings.Playback.FrameRepeat = uint8(*opts.frameRepeat)
		case "invert-x":
			settings.Playback.InvertX = *opts.invertX
		case "rotation":
			settings.Playback.Rotation.Policy, err = galvo.ParseRotationPolicy(*opts.rotation)
		case "angle":
			settings.Playback.Rotation.Angle = *opts.angle
		case "period":
			settings.Playback.Rotation.Period = *opts.period
		case "dac":
			settings.DAC.Address = *opts.dacAddr
		case "discover-timeout":
			settings.DAC.DiscoverTimeout = *opts.discover
		case "rate":
			if *opts.pointRate > math.MaxUint32 {
				err = errors.New("the point rate is out of range").With("rate", *opts.pointRate).With("stack", stack.Trace().TrimRuntime())
				return
			}
			settings.DAC.PointRate = uint32(*opts.pointRate)
		case "opc":
			settings.Preview.Server = *opts.opcServer
		case "mqtt":
			settings.MQTT.Broker = *opts.mqttBroker
		case "status-interval":
			settings.StatusInterval = *opts.statusInterval
		}
	})
	if err != nil {
		return nil, err
	}

	if err = settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func findDAC(settings galvo.DACSettings) (dev *etherdream.Device, err errors.Error) {
	if settings.Address != "" {
		dev = etherdream.NewDevice(settings.Address)
	} else {
		logger.Info("searching for EtherDream DAC", "timeout", settings.DiscoverTimeout)
		if dev, err = etherdream.Discover(settings.DiscoverTimeout); err != nil {
			return nil, err
		}
		logger.Info("found DAC", "addr", dev.Addr, "dac", dev.Info.String())
	}
	dev.PointRate = settings.PointRate
	return dev, nil
}

func run(fn string, quitC <-chan struct{}) (err errors.Error) {
	if fn == "" {
		usage()
		return errors.New("an ILDA file must be specified").With("stack", stack.Trace().TrimRuntime())
	}

	settings, err := opts.loadSettings(flag.CommandLine)
	if err != nil {
		return err
	}
	if hash, errHash := settings.Fingerprint(); errHash != nil {
		logger.Warn("settings could not be fingerprinted", "error", errHash.Error())
	} else {
		logger.Debug("settings", "fingerprint", hash, "playback", fmt.Sprintf("%+v", settings.Playback))
	}

	logger.Info("reading ILDA file", "file", fn)
	anim, err := ilda.Load(fn)
	if err != nil {
		return err
	}
	logger.Info("animation loaded", "name", anim.Name, "frames", anim.Len(), "points", anim.PointCount())

	// Build the driver before touching the network so configuration problems
	// are reported without waiting on discovery
	session := uuid.New().String()
	errorC := make(chan errors.Error, 4)
	go errorWatch(errorC, quitC)

	gw := &galvo.Gateway{Settings: settings}
	statusC, subscribeC, tap := gw.Start(session, errorC, quitC)

	driverOpts := []galvo.Option{}
	if tap != nil {
		driverOpts = append(driverOpts, galvo.WithTap(tap))
	}
	driver, err := galvo.NewDriver(anim, settings.Playback, driverOpts...)
	if err != nil {
		return err.With("file", fn)
	}

	dev, err := findDAC(settings.DAC)
	if err != nil {
		return err
	}

	go runMonitoring(subscribeC, quitC)

	reporter := galvo.NewReporter(driver, session, fn)
	go reporter.Run(settings.StatusInterval, statusC, quitC)

	logger.Info("streaming", "session", session, "addr", dev.Addr, "rate", dev.PointRate)
	if err = dev.Stream(driver.Fill, quitC); err != nil {
		return err.With("session", session)
	}
	return nil
}
