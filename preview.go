package galvo

// This file contains an optional preview of the projected image.  Points
// leaving the driver are sampled by a tap, and a background loop regularly
// rasterizes the most recent samples onto a small LED grid driven by an Open
// Pixel Control server such as a fadecandy board or the OPC gl_server

import (
	"bytes"
	"math"
	"sync"
	"time"

	"github.com/cnf/structhash"
	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"
	"github.com/kellydunn/go-opc"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/TeamNorCal/galvo/model"
)

// previewSamples is the number of recent points retained for rasterizing
const previewSamples = 4096

// Color is an 8 bit per channel pixel sent to the OPC server
type Color struct {
	R, G, B uint8
}

// PreviewTap keeps the most recent points produced by the driver.  Observe
// never waits, when the rasterizer holds the lock the sample is dropped
type PreviewTap struct {
	samples []model.HardwarePoint
	next    int
	filled  bool
	sync.Mutex
}

// NewPreviewTap creates an empty tap
func NewPreviewTap() (tap *PreviewTap) {
	return &PreviewTap{
		samples: make([]model.HardwarePoint, previewSamples),
	}
}

// Observe implements Tap
func (tap *PreviewTap) Observe(points []model.HardwarePoint) {
	if !tap.TryLock() {
		return
	}
	defer tap.Unlock()

	if len(points) > len(tap.samples) {
		points = points[len(points)-len(tap.samples):]
	}
	for _, pt := range points {
		tap.samples[tap.next] = pt
		tap.next++
		if tap.next == len(tap.samples) {
			tap.next = 0
			tap.filled = true
		}
	}
}

// drain copies out the retained samples and empties the tap
func (tap *PreviewTap) drain(into []model.HardwarePoint) []model.HardwarePoint {
	tap.Lock()
	defer tap.Unlock()

	into = into[:0]
	if tap.filled {
		into = append(into, tap.samples[tap.next:]...)
	}
	into = append(into, tap.samples[:tap.next]...)

	tap.next = 0
	tap.filled = false
	return into
}

// Raster is a grid of pixels that accumulates the beam path with fading trails
type Raster struct {
	Width  int
	Height int
	Pixels []colorful.Color
}

// NewRaster creates a dark raster
func NewRaster(width int, height int) (raster *Raster) {
	return &Raster{
		Width:  width,
		Height: height,
		Pixels: make([]colorful.Color, width*height),
	}
}

// Cell maps DAC coordinates onto a raster cell, positive y is at the top row
func (raster *Raster) Cell(x int16, y int16) (col int, row int) {
	col = (int(x) - math.MinInt16) * raster.Width / (math.MaxUint16 + 1)
	row = (math.MaxInt16 - int(y)) * raster.Height / (math.MaxUint16 + 1)
	return col, row
}

// Decay fades every pixel toward black keeping the given fraction
func (raster *Raster) Decay(keep float64) {
	black := colorful.Color{}
	for i, px := range raster.Pixels {
		raster.Pixels[i] = black.BlendRgb(px, keep)
	}
}

// Plot adds lit points to the raster, blanked points leave no trace
func (raster *Raster) Plot(points []model.HardwarePoint) {
	for _, pt := range points {
		if pt.Blank {
			continue
		}
		col, row := raster.Cell(pt.X, pt.Y)
		idx := row*raster.Width + col
		px := raster.Pixels[idx]
		raster.Pixels[idx] = colorful.Color{
			R: px.R + float64(pt.R)/math.MaxUint16,
			G: px.G + float64(pt.G)/math.MaxUint16,
			B: px.B + float64(pt.B)/math.MaxUint16,
		}.Clamped()
	}
}

// Colors returns the raster as 8 bit colors in row major order
func (raster *Raster) Colors() (colors []Color) {
	colors = make([]Color, len(raster.Pixels))
	for i, px := range raster.Pixels {
		colors[i].R, colors[i].G, colors[i].B = px.RGB255()
	}
	return colors
}

type previewFrame struct {
	Pixels []Color
}

func sendPreview(oc *opc.Client, channel uint8, colors []Color) (err errors.Error) {
	m := opc.NewMessage(channel)
	m.SetLength(uint16(len(colors) * 3))

	for i, color := range colors {
		m.SetPixelColor(i, color.R, color.G, color.B)
	}

	if errGo := oc.Send(m); errGo != nil {
		return errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// StartPreview returns a tap to install on the driver and starts the loop that
// renders its samples to the OPC server
func StartPreview(settings PreviewSettings, errorC chan<- errors.Error, quitC <-chan struct{}) (tap *PreviewTap) {
	tap = NewPreviewTap()
	go runPreviewOPC(tap, settings, errorC, quitC)
	return tap
}

func runPreviewOPC(tap *PreviewTap, settings PreviewSettings, errorC chan<- errors.Error, quitC <-chan struct{}) {

	last := []byte{}
	raster := NewRaster(settings.Width, settings.Height)
	samples := make([]model.HardwarePoint, 0, previewSamples)

	oc := opc.NewClient()
	if errGo := oc.Connect("tcp", settings.Server); errGo != nil {
		reportError(errors.Wrap(errGo).With("url", settings.Server).With("stack", stack.Trace().TrimRuntime()), errorC)
		return
	}

	for {
		select {
		case <-time.After(settings.Refresh):
			samples = tap.drain(samples)
			raster.Decay(settings.Decay)
			raster.Plot(samples)

			frame := previewFrame{Pixels: raster.Colors()}
			hash := structhash.Md5(frame, 1)
			if bytes.Compare(last, hash) != 0 {
				last = hash
				if err := sendPreview(oc, settings.Channel, frame.Pixels); err != nil {
					reportError(err.With("url", settings.Server), errorC)
				}
			}
		case <-quitC:
			return
		}
	}
}
