/*
Package ilda reads laser animations stored in the ILDA interchange format into
the animation model used for playback.

A file is a series of sections, each a 32 byte header followed by a number of
fixed size records.  Point sections become frames, palette sections replace the
colors used by later indexed sections, and a header with no records marks the
end of the file.
*/
package ilda

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"

	"github.com/TeamNorCal/galvo/model"
)

// Section format codes
const (
	FormatIndexed3D   = 0
	FormatIndexed2D   = 1
	FormatPalette     = 2
	FormatTrueColor3D = 4
	FormatTrueColor2D = 5
)

const (
	headerSize = 32

	statusBlanking = 0x40
)

var signature = []byte("ILDA")

// recordSizes is the size in bytes of one record for each known format
var recordSizes = map[uint8]int{
	FormatIndexed3D:   8,
	FormatIndexed2D:   6,
	FormatPalette:     3,
	FormatTrueColor3D: 10,
	FormatTrueColor2D: 8,
}

// Color is an entry in a color palette
type Color struct {
	R, G, B uint8
}

// Header is the header preceding every section
type Header struct {
	Format    uint8
	Name      string
	Company   string
	Records   uint16
	Number    uint16
	Total     uint16
	Projector uint8
}

// Load reads and validates the animation stored in an ILDA file
func Load(fn string) (anim *model.Animation, err errors.Error) {
	file, errGo := os.Open(fn)
	if errGo != nil {
		return nil, errors.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
	}
	defer file.Close()

	if anim, err = Read(bufio.NewReader(file)); err != nil {
		return nil, err.With("file", fn)
	}
	return anim, nil
}

// Read parses ILDA sections from the reader until an end of file header or
// the end of the data.  The animation is validated before being returned so
// that an animation without any points is reported as a load error
func Read(r io.Reader) (anim *model.Animation, err errors.Error) {
	anim = &model.Animation{
		Frames: []model.Frame{},
	}
	palette := append([]Color{}, DefaultPalette...)

	hdrBuf := make([]byte, headerSize)
	data := []byte{}

	for section := 0; ; section++ {
		hdr, eof, err := readHeader(r, hdrBuf)
		if err != nil {
			return nil, err.With("section", section)
		}
		if eof || hdr.Records == 0 {
			break
		}

		size, isPresent := recordSizes[hdr.Format]
		if !isPresent {
			return nil, errors.New("unsupported ILDA section format").With("format", hdr.Format).With("section", section).With("stack", stack.Trace().TrimRuntime())
		}

		need := size * int(hdr.Records)
		if cap(data) < need {
			data = make([]byte, need)
		}
		data = data[:need]
		if _, errGo := io.ReadFull(r, data); errGo != nil {
			return nil, errors.Wrap(errGo).With("format", hdr.Format).With("section", section).With("stack", stack.Trace().TrimRuntime())
		}

		if hdr.Format == FormatPalette {
			palette = decodePalette(data, int(hdr.Records))
			continue
		}

		frame, err := decodeFrame(hdr, data, size, palette)
		if err != nil {
			return nil, err.With("section", section)
		}
		if len(anim.Frames) == 0 {
			anim.Name = hdr.Name
		}
		anim.Frames = append(anim.Frames, frame)
	}

	if err = anim.Validate(); err != nil {
		return nil, err
	}
	return anim, nil
}

// readHeader reads one section header, eof is returned when the data ends
// cleanly at a section boundary
func readHeader(r io.Reader, buf []byte) (hdr Header, eof bool, err errors.Error) {
	n, errGo := io.ReadFull(r, buf)
	if errGo == io.EOF && n == 0 {
		return hdr, true, nil
	}
	if errGo != nil {
		return hdr, false, errors.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if !bytes.Equal(buf[0:4], signature) {
		return hdr, false, errors.New("invalid ILDA signature").With("signature", string(buf[0:4])).With("stack", stack.Trace().TrimRuntime())
	}

	hdr = Header{
		Format:    buf[7],
		Name:      field(buf[8:16]),
		Company:   field(buf[16:24]),
		Records:   binary.BigEndian.Uint16(buf[24:26]),
		Number:    binary.BigEndian.Uint16(buf[26:28]),
		Total:     binary.BigEndian.Uint16(buf[28:30]),
		Projector: buf[30],
	}
	return hdr, false, nil
}

// field converts a fixed width, NUL or space padded, text field
func field(b []byte) string {
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		b = b[:idx]
	}
	return strings.TrimRight(string(b), " ")
}

func decodePalette(data []byte, records int) (palette []Color) {
	palette = make([]Color, records)
	for i := range palette {
		rec := data[i*3:]
		palette[i] = Color{R: rec[0], G: rec[1], B: rec[2]}
	}
	return palette
}

func decodeFrame(hdr Header, data []byte, size int, palette []Color) (frame model.Frame, err errors.Error) {
	frame = model.Frame{
		Name:      hdr.Name,
		Company:   hdr.Company,
		Projector: hdr.Projector,
		Points:    make([]model.SourcePoint, hdr.Records),
	}

	for i := range frame.Points {
		rec := data[i*size : (i+1)*size]
		pt := &frame.Points[i]
		pt.X = int16(binary.BigEndian.Uint16(rec[0:2]))
		pt.Y = int16(binary.BigEndian.Uint16(rec[2:4]))

		// 3D records carry a z coordinate that playback has no use for
		rest := rec[4:]
		if hdr.Format == FormatIndexed3D || hdr.Format == FormatTrueColor3D {
			rest = rec[6:]
		}

		status := rest[0]
		pt.Blank = status&statusBlanking != 0

		switch hdr.Format {
		case FormatIndexed2D, FormatIndexed3D:
			idx := int(rest[1])
			if idx >= len(palette) {
				return frame, errors.New("color index outside of the palette").
					With("index", idx).With("palette", len(palette)).With("point", i).
					With("stack", stack.Trace().TrimRuntime())
			}
			pt.R, pt.G, pt.B = palette[idx].R, palette[idx].G, palette[idx].B
		default:
			// True color records are stored blue first
			pt.B, pt.G, pt.R = rest[1], rest[2], rest[3]
		}
	}
	return frame, nil
}
