package selection

import (
	"image"
	"math"
	"testing"

	"go-image-upscaler/pkg/models"
)

type countingCanvas struct {
	clears int
}

func (c *countingCanvas) Clear() { c.clears++ }

func boundController(t *testing.T, g Geometry) *Controller {
	t.Helper()
	c := New(DefaultMaxSize)
	if err := c.BindImage(g); err != nil {
		t.Fatalf("BindImage: %v", err)
	}
	return c
}

var halfSize = Geometry{NaturalWidth: 400, NaturalHeight: 400, DisplayWidth: 200, DisplayHeight: 200}

func TestController_ClampScenario(t *testing.T) {
	c := boundController(t, halfSize)

	c.Begin(PointerAt(10, 10))
	c.Resize(PointerAt(250, 10))
	c.End()

	sel := c.Selection()
	if sel.Width != 100 {
		t.Errorf("Expected width clamped to 100, got %v", sel.Width)
	}
	if sel.Height != 0 {
		t.Errorf("Expected height 0, got %v", sel.Height)
	}
	if !sel.Show || c.Selecting() {
		t.Errorf("Expected visible frozen selection, got show=%v selecting=%v", sel.Show, c.Selecting())
	}
}

func TestController_Resize(t *testing.T) {
	tests := []struct {
		name       string
		geometry   Geometry
		start, end InputPoint
		wantW      float64
		wantH      float64
	}{
		{"within bound", halfSize, PointerAt(10, 10), PointerAt(60, 40), 50, 30},
		{"exactly at bound", halfSize, PointerAt(0, 0), PointerAt(100, 100), 100, 100},
		{"beyond bound", halfSize, PointerAt(0, 0), PointerAt(180, 300), 100, 100},
		{"reverse drag is not clamped", halfSize, PointerAt(190, 190), PointerAt(10, 20), -180, -170},
		{
			name:     "axes scale independently",
			geometry: Geometry{NaturalWidth: 800, NaturalHeight: 200, DisplayWidth: 200, DisplayHeight: 200},
			start:    PointerAt(0, 0),
			end:      PointerAt(150, 150),
			wantW:    50,
			wantH:    150,
		},
		{
			name:     "upscaled display",
			geometry: Geometry{NaturalWidth: 100, NaturalHeight: 100, DisplayWidth: 300, DisplayHeight: 300},
			start:    PointerAt(0, 0),
			end:      PointerAt(299, 299),
			wantW:    299,
			wantH:    299,
		},
		{"touch input", halfSize, TouchAt(30, 40, 20, 20), TouchAt(70, 60, 20, 20), 40, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := boundController(t, tt.geometry)
			c.Begin(tt.start)
			c.Resize(tt.end)

			sel := c.Selection()
			if math.Abs(sel.Width-tt.wantW) > 1e-9 || math.Abs(sel.Height-tt.wantH) > 1e-9 {
				t.Errorf("Expected %vx%v, got %vx%v", tt.wantW, tt.wantH, sel.Width, sel.Height)
			}
		})
	}
}

func TestController_ResizeWithoutImageIsNoop(t *testing.T) {
	c := New(DefaultMaxSize)
	c.Begin(PointerAt(5, 5))
	c.Resize(PointerAt(50, 50))

	sel := c.Selection()
	if sel.Width != 0 || sel.Height != 0 {
		t.Errorf("Expected no growth without an image, got %vx%v", sel.Width, sel.Height)
	}
	if !sel.Show || sel.StartX != 5 {
		t.Errorf("Expected begin to still record the start, got %+v", sel)
	}
}

func TestController_ResizeAfterEndIsNoop(t *testing.T) {
	c := boundController(t, halfSize)
	c.Begin(PointerAt(0, 0))
	c.Resize(PointerAt(20, 20))
	c.End()
	c.Resize(PointerAt(80, 80))

	if sel := c.Selection(); sel.Width != 20 || sel.Height != 20 {
		t.Errorf("Expected frozen 20x20 selection, got %vx%v", sel.Width, sel.Height)
	}
}

func TestController_IgnoresInputWhileProcessing(t *testing.T) {
	c := boundController(t, halfSize)
	c.Begin(PointerAt(10, 10))
	c.Resize(PointerAt(30, 30))
	before := c.Selection()

	c.SetProcessing(true)
	c.Begin(PointerAt(90, 90))
	c.Resize(PointerAt(150, 150))
	c.End()

	if got := c.Selection(); got != before {
		t.Errorf("Expected selection unchanged while processing, got %+v want %+v", got, before)
	}
	if !c.Selecting() {
		t.Error("Expected End to be ignored while processing")
	}

	c.SetProcessing(false)
	c.End()
	if c.Selecting() {
		t.Error("Expected End to apply once processing finished")
	}
}

func TestController_PreventDefault(t *testing.T) {
	c := boundController(t, halfSize)
	if c.Begin(PointerAt(1, 1)) {
		t.Error("Expected pointer begin not to suppress scrolling")
	}
	if !c.Begin(TouchAt(1, 1, 0, 0)) {
		t.Error("Expected touch begin to suppress scrolling")
	}
	if !c.Resize(TouchAt(5, 5, 0, 0)) {
		t.Error("Expected touch resize to suppress scrolling")
	}

	c.SetProcessing(true)
	if !c.Begin(TouchAt(1, 1, 0, 0)) {
		t.Error("Expected touch begin to suppress scrolling even while processing")
	}
}

func TestController_ResetIsIdempotent(t *testing.T) {
	sequences := map[string]func(c *Controller){
		"nothing": func(c *Controller) {},
		"begin only": func(c *Controller) {
			c.Begin(PointerAt(10, 20))
		},
		"full drag": func(c *Controller) {
			c.Begin(PointerAt(10, 20))
			c.Resize(PointerAt(90, 70))
			c.End()
		},
		"reverse drag mid-flight": func(c *Controller) {
			c.Begin(TouchAt(100, 100, 0, 0))
			c.Resize(TouchAt(5, 5, 0, 0))
		},
	}

	zero := models.SelectionState{}
	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			canvas := &countingCanvas{}
			c := boundController(t, halfSize)
			c.BindCanvas(canvas)
			seq(c)

			c.Reset()
			if got := c.Selection(); got != zero {
				t.Errorf("Expected zero selection after reset, got %+v", got)
			}
			c.Reset()
			if got := c.Selection(); got != zero {
				t.Errorf("Expected zero selection after second reset, got %+v", got)
			}
			if c.HasImage() || c.Selecting() {
				t.Error("Expected reset to unbind the image and stop selecting")
			}
			if canvas.clears != 2 {
				t.Errorf("Expected canvas cleared twice, got %d", canvas.clears)
			}
		})
	}
}

func TestController_ResetWithoutCanvas(t *testing.T) {
	c := New(0)
	c.Begin(PointerAt(3, 3))
	c.Reset()
	if c.Selection().Show {
		t.Error("Expected hidden selection")
	}
}

func TestController_Style(t *testing.T) {
	c := boundController(t, halfSize)
	c.Begin(PointerAt(10.5, 20))
	c.Resize(PointerAt(40, 60))

	style := c.Style()
	want := map[string]string{
		"position":      "absolute",
		"top":           "20px",
		"left":          "10.5px",
		"width":         "29.5px",
		"height":        "40px",
		"border":        "2px solid blue",
		"pointerEvents": "none",
	}
	for k, v := range want {
		if style[k] != v {
			t.Errorf("style[%s] = %q, want %q", k, style[k], v)
		}
	}
}

func TestController_NaturalRect(t *testing.T) {
	tests := []struct {
		name       string
		start, end InputPoint
		want       image.Rectangle
		wantOK     bool
	}{
		{"forward drag", PointerAt(10, 10), PointerAt(60, 30), image.Rect(20, 20, 120, 60), true},
		{"reverse drag", PointerAt(60, 30), PointerAt(10, 10), image.Rect(20, 20, 120, 60), true},
		{"clamped to bounds", PointerAt(180, 180), PointerAt(260, 260), image.Rect(360, 360, 400, 400), true},
		{"zero height", PointerAt(10, 10), PointerAt(250, 10), image.Rectangle{}, false},
		{"outside image", PointerAt(-50, -50), PointerAt(-10, -10), image.Rectangle{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := boundController(t, halfSize)
			c.Begin(tt.start)
			c.Resize(tt.end)
			got, ok := c.NaturalRect()
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NaturalRect() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if _, ok := New(0).NaturalRect(); ok {
		t.Error("Expected no rect without a selection")
	}
}

func TestGeometry_Validate(t *testing.T) {
	if err := (Geometry{NaturalWidth: 1, NaturalHeight: 1, DisplayWidth: 1, DisplayHeight: 1}).Validate(); err != nil {
		t.Errorf("Expected valid geometry, got %v", err)
	}
	if err := New(0).BindImage(Geometry{NaturalWidth: 100, NaturalHeight: 100}); err == nil {
		t.Error("Expected zero display size to be rejected")
	}
	if err := New(0).BindImage(Geometry{DisplayWidth: 100, DisplayHeight: 100}); err == nil {
		t.Error("Expected zero natural size to be rejected")
	}
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     models.InputEventRequest
		want    InputPoint
		wantErr bool
	}{
		{
			name: "mouse",
			req:  models.InputEventRequest{Type: "mousedown", OffsetX: 12, OffsetY: 34},
			want: InputPoint{Kind: Pointer, X: 12, Y: 34},
		},
		{
			name: "touch relative to target",
			req: models.InputEventRequest{
				Type:    "touchstart",
				Touches: []models.TouchPoint{{ClientX: 150, ClientY: 90}, {ClientX: 1, ClientY: 1}},
				Target:  &models.BoundingRect{Left: 100, Top: 50},
			},
			want: InputPoint{Kind: Touch, X: 50, Y: 40},
		},
		{
			name: "touches without type",
			req:  models.InputEventRequest{Touches: []models.TouchPoint{{ClientX: 7, ClientY: 8}}},
			want: InputPoint{Kind: Touch, X: 7, Y: 8},
		},
		{
			name:    "touch with no touches",
			req:     models.InputEventRequest{Type: "touchmove"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromRequest(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("FromRequest() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
