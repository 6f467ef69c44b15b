package vision

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"doorkeeper/internal/configbus"
	"doorkeeper/internal/liveness"
	"doorkeeper/internal/logging"
)

// BoxPadding is added around the landmark bounds of each face.
const BoxPadding = 15

var (
	ColorVerifiedLive = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	ColorVerified     = color.RGBA{R: 255, G: 204, B: 0, A: 255}
	ColorUnknown      = color.RGBA{R: 255, G: 71, B: 76, A: 255}
)

// Annotation describes what to draw for one face.
type Annotation struct {
	Box       image.Rectangle
	Verified  bool
	Live      bool
	Name      string
	Blinks    int
	Landmarks liveness.Landmarks
}

// OverlayStyle holds the live-reloadable drawing parameters.
type OverlayStyle struct {
	FontScale float64
	Thickness int
	Mesh      bool
}

// Overlay draws face boxes and status labels onto frames.
type Overlay struct {
	logger *slog.Logger

	mu    sync.RWMutex
	style OverlayStyle
}

// NewOverlay returns an overlay with the stock style.
func NewOverlay(logger *slog.Logger) *Overlay {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Overlay{
		logger: logging.NewComponentLogger(logger, "overlay"),
		style:  OverlayStyle{FontScale: 2, Thickness: 2},
	}
}

// Style returns the current drawing parameters.
func (o *Overlay) Style() OverlayStyle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.style
}

// Apply is the config bus listener for the overlay section.
func (o *Overlay) Apply(doc configbus.Document) {
	section, err := configbus.Decode[configbus.Overlay](doc)
	if err != nil {
		logging.WarnWithContext(o.logger, "ignoring undecodable overlay section", "overlay_config_invalid",
			logging.Error(err))
		return
	}
	o.mu.Lock()
	o.style = OverlayStyle{FontScale: section.FontScale, Thickness: section.FontThickness, Mesh: section.Mesh}
	o.mu.Unlock()
	o.logger.Debug("overlay configured",
		logging.Float64("font_scale", section.FontScale),
		logging.Int("font_thickness", section.FontThickness),
		logging.Bool("mesh", section.Mesh),
	)
}

// Label returns the colour and caption for a face.
func Label(a Annotation) (color.RGBA, string) {
	switch {
	case a.Verified && a.Live:
		return ColorVerifiedLive, labelText(a)
	case a.Verified:
		return ColorVerified, labelText(a)
	default:
		return ColorUnknown, UnknownLabel
	}
}

func labelText(a Annotation) string {
	return fmt.Sprintf("%s Blinks: %d", a.Name, a.Blinks)
}

// Draw renders a onto dst.
func (o *Overlay) Draw(dst *image.RGBA, a Annotation) {
	style := o.Style()
	c, text := Label(a)

	if style.Mesh {
		for _, p := range a.Landmarks {
			dst.SetRGBA(int(p.X), int(p.Y), c)
		}
	}
	strokeRect(dst, a.Box, style.Thickness, c)
	drawCaption(dst, text, a.Box, style.FontScale, c)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, thickness int, c color.RGBA) {
	if r.Empty() {
		return
	}
	thickness = max(thickness, 1)
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawCaption centres text under box, scaled from the 7x13 bitmap font.
func drawCaption(dst *image.RGBA, text string, box image.Rectangle, scale float64, c color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()
	if width == 0 || height == 0 {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, width, height))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)

	if scale <= 0 {
		scale = 1
	}
	sw := int(math.Round(float64(width) * scale))
	sh := int(math.Round(float64(height) * scale))
	x := (box.Min.X + box.Max.X - sw) / 2
	y := box.Max.Y + BoxPadding
	target := image.Rect(x, y, x+sw, y+sh)
	draw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), draw.Over, nil)
}

// ToRGBA returns a drawable copy of img.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(out, image.Point{}, img, b, draw.Src, nil)
	return out
}
