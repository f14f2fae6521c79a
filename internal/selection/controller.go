// Package selection turns pointer and touch input into a clamped, scale-aware selection rectangle.
package selection

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"go-image-upscaler/pkg/models"
)

// DefaultMaxSize is the largest selection edge in image-native pixels
const DefaultMaxSize = 200

// Geometry is the natural and displayed size of the bound image
type Geometry struct {
	NaturalWidth  float64
	NaturalHeight float64
	DisplayWidth  float64
	DisplayHeight float64
}

// Validate rejects geometry that cannot produce a scale factor
func (g Geometry) Validate() error {
	if g.NaturalWidth <= 0 || g.NaturalHeight <= 0 {
		return fmt.Errorf("natural size must be positive, got %vx%v", g.NaturalWidth, g.NaturalHeight)
	}
	if g.DisplayWidth <= 0 || g.DisplayHeight <= 0 {
		return fmt.Errorf("display size must be positive, got %vx%v", g.DisplayWidth, g.DisplayHeight)
	}
	return nil
}

// Scale returns natural/displayed for each axis
func (g Geometry) Scale() (float64, float64) {
	return g.NaturalWidth / g.DisplayWidth, g.NaturalHeight / g.DisplayHeight
}

// Canvas is a drawing surface that can be wiped
type Canvas interface {
	Clear()
}

// Controller holds the selection state machine. It is not safe for concurrent use;
// callers serialise access.
type Controller struct {
	maxSize float64

	processing bool
	selecting  bool
	visible    bool
	startX     float64
	startY     float64
	width      float64
	height     float64

	image  *Geometry
	canvas Canvas
}

// New creates a controller. A non-positive maxSize falls back to DefaultMaxSize.
func New(maxSize float64) *Controller {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Controller{maxSize: maxSize}
}

// BindImage sets the geometry of the image selections are drawn over
func (c *Controller) BindImage(g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	c.image = &g
	return nil
}

// BindCanvas sets the surface cleared on Reset. nil unbinds it.
func (c *Controller) BindCanvas(canvas Canvas) {
	c.canvas = canvas
}

// HasImage reports whether image geometry is bound
func (c *Controller) HasImage() bool {
	return c.image != nil
}

// SetProcessing freezes (true) or unfreezes (false) the selection
func (c *Controller) SetProcessing(processing bool) {
	c.processing = processing
}

// Processing reports whether input is currently ignored
func (c *Controller) Processing() bool {
	return c.processing
}

// Selecting reports whether a drag is active
func (c *Controller) Selecting() bool {
	return c.selecting
}

// Begin starts a new selection at p. It returns true when the caller must suppress the
// default scroll behaviour, which is the case for every touch event.
func (c *Controller) Begin(p InputPoint) bool {
	preventDefault := p.Kind == Touch
	if c.processing {
		return preventDefault
	}
	c.selecting = true
	c.visible = true
	c.width = 0
	c.height = 0
	c.startX = p.X
	c.startY = p.Y
	return preventDefault
}

// Resize extends the active selection to p. Growth in the positive direction is capped at
// maxSize image pixels per axis; reverse drags are not capped.
func (c *Controller) Resize(p InputPoint) bool {
	if c.processing {
		return false
	}
	preventDefault := p.Kind == Touch
	if c.image == nil {
		return preventDefault
	}
	scaleX, scaleY := c.image.Scale()
	if c.selecting {
		c.width = math.Min(p.X-c.startX, c.maxSize/scaleX)
		c.height = math.Min(p.Y-c.startY, c.maxSize/scaleY)
	}
	return preventDefault
}

// End freezes the selection. It stays visible until Reset or the next Begin.
func (c *Controller) End() {
	if c.processing {
		return
	}
	c.selecting = false
}

// Reset unbinds the image and zeroes the selection. A missing canvas is skipped.
func (c *Controller) Reset() {
	if c.canvas != nil {
		c.canvas.Clear()
	}
	c.image = nil
	c.selecting = false
	c.visible = false
	c.startX = 0
	c.startY = 0
	c.width = 0
	c.height = 0
}

// Selection returns the current rectangle in display space
func (c *Controller) Selection() models.SelectionState {
	return models.SelectionState{
		Show:   c.visible,
		StartX: c.startX,
		StartY: c.startY,
		Width:  c.width,
		Height: c.height,
	}
}

// Style renders the selection as absolutely positioned CSS properties
func (c *Controller) Style() map[string]string {
	return map[string]string{
		"position":      "absolute",
		"top":           px(c.startY),
		"left":          px(c.startX),
		"width":         px(c.width),
		"height":        px(c.height),
		"border":        "2px solid blue",
		"pointerEvents": "none",
	}
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// NaturalRect maps the selection into image-native pixels, normalising reverse drags and
// clamping to the image bounds. ok is false when nothing usable is selected.
func (c *Controller) NaturalRect() (image.Rectangle, bool) {
	if !c.visible || c.image == nil || c.width == 0 || c.height == 0 {
		return image.Rectangle{}, false
	}
	scaleX, scaleY := c.image.Scale()

	x0, x1 := ordered(c.startX, c.startX+c.width)
	y0, y1 := ordered(c.startY, c.startY+c.height)

	r := image.Rect(
		int(math.Floor(x0*scaleX)),
		int(math.Floor(y0*scaleY)),
		int(math.Ceil(x1*scaleX)),
		int(math.Ceil(y1*scaleY)),
	)
	bounds := image.Rect(0, 0, int(math.Round(c.image.NaturalWidth)), int(math.Round(c.image.NaturalHeight)))
	r = r.Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

func ordered(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}
