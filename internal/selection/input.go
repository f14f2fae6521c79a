package selection

import (
	"fmt"
	"strings"

	"go-image-upscaler/pkg/models"
)

// InputKind tells pointer input apart from touch input
type InputKind int

const (
	Pointer InputKind = iota
	Touch
)

func (k InputKind) String() string {
	if k == Touch {
		return "touch"
	}
	return "pointer"
}

// InputPoint is a display-space position produced by either input kind
type InputPoint struct {
	Kind InputKind
	X    float64
	Y    float64
}

// PointerAt builds a point from a pointer event offset relative to its target
func PointerAt(offsetX, offsetY float64) InputPoint {
	return InputPoint{Kind: Pointer, X: offsetX, Y: offsetY}
}

// TouchAt builds a point from a touch in client coordinates and the target's bounding box
func TouchAt(clientX, clientY, left, top float64) InputPoint {
	return InputPoint{Kind: Touch, X: clientX - left, Y: clientY - top}
}

// FromRequest normalises a client event. Events carrying touches, or whose type starts
// with "touch", are touch events and use the first touch point.
func FromRequest(req models.InputEventRequest) (InputPoint, error) {
	isTouch := len(req.Touches) > 0 || strings.HasPrefix(strings.ToLower(req.Type), "touch")
	if !isTouch {
		return PointerAt(req.OffsetX, req.OffsetY), nil
	}
	if len(req.Touches) == 0 {
		return InputPoint{}, fmt.Errorf("touch event %q has no active touches", req.Type)
	}

	var left, top float64
	if req.Target != nil {
		left, top = req.Target.Left, req.Target.Top
	}
	first := req.Touches[0]
	return TouchAt(first.ClientX, first.ClientY, left, top), nil
}
