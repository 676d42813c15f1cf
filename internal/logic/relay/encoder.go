package relay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

var ErrEncode = errors.New("frame encode failed")

// Size is a width and height in pixels.
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// DefaultTarget and DefaultQuality describe the relayed thumbnail.
var DefaultTarget = Size{Width: 160, Height: 90}

const DefaultQuality = 0.5

// Payload is a compressed frame ready for the transport.
type Payload struct {
	Data   []byte
	Width  int
	Height int
}

// Encoder downscales and JPEG-compresses frames. It keeps scratch buffers
// between calls and must not be used from more than one goroutine at a time.
type Encoder struct {
	target  Size
	quality int

	scratch *image.RGBA
	buf     bytes.Buffer
}

// NewEncoder creates an encoder. quality is in (0,1]; out-of-range values
// are clamped.
func NewEncoder(target Size, quality float64) *Encoder {
	if target.Width <= 0 || target.Height <= 0 {
		target = DefaultTarget
	}
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return &Encoder{target: target, quality: q}
}

// Target returns the bounding box frames are fitted into.
func (e *Encoder) Target() Size { return e.target }

// Fit returns the aspect-preserving size of src inside box. Images already
// smaller than the box keep their size.
func Fit(src, box Size) Size {
	if src.Width <= 0 || src.Height <= 0 {
		return Size{}
	}
	scale := math.Min(float64(box.Width)/float64(src.Width), float64(box.Height)/float64(src.Height))
	if scale >= 1 {
		return src
	}
	w := int(math.Round(float64(src.Width) * scale))
	h := int(math.Round(float64(src.Height) * scale))
	return Size{Width: max(w, 1), Height: max(h, 1)}
}

// Encode resizes img into the target box and compresses it. The returned
// payload owns its bytes.
func (e *Encoder) Encode(img image.Image) (Payload, error) {
	if img == nil {
		return Payload{}, fmt.Errorf("%w: no image", ErrEncode)
	}
	b := img.Bounds()
	out := Fit(Size{Width: b.Dx(), Height: b.Dy()}, e.target)
	if out.Width == 0 {
		return Payload{}, fmt.Errorf("%w: empty image %v", ErrEncode, b)
	}

	if e.scratch == nil || e.scratch.Rect.Dx() != out.Width || e.scratch.Rect.Dy() != out.Height {
		e.scratch = image.NewRGBA(image.Rect(0, 0, out.Width, out.Height))
	}
	draw.ApproxBiLinear.Scale(e.scratch, e.scratch.Rect, img, b, draw.Src, nil)

	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, e.scratch, &jpeg.Options{Quality: e.quality}); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return Payload{
		Data:   bytes.Clone(e.buf.Bytes()),
		Width:  out.Width,
		Height: out.Height,
	}, nil
}
