package types

import (
	"playmirror/internal/dmabuf"
)

// InputEvent is a browser-style gesture as delivered by a remote viewer over
// a data channel or websocket.
type InputEvent struct {
	Type     string  `json:"type"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	DX       float64 `json:"dx,omitempty"`
	DY       float64 `json:"dy,omitempty"`
	Button   int     `json:"button,omitempty"`
	Key      string  `json:"key,omitempty"`
	Code     string  `json:"code,omitempty"`
	ID       int32   `json:"id,omitempty"`
	Pressure float64 `json:"pressure,omitempty"`
}

// GestureKind selects which fields of a Gesture are meaningful.
type GestureKind int

const (
	GestureKey GestureKind = iota
	GesturePointerMotion
	GesturePointerButton
	GesturePointerAxis
	GestureTouchDown
	GestureTouchMotion
	GestureTouchUp
	GestureTouchCancel
)

func (k GestureKind) String() string {
	switch k {
	case GestureKey:
		return "key"
	case GesturePointerMotion:
		return "pointer-motion"
	case GesturePointerButton:
		return "pointer-button"
	case GesturePointerAxis:
		return "pointer-axis"
	case GestureTouchDown:
		return "touch-down"
	case GestureTouchMotion:
		return "touch-motion"
	case GestureTouchUp:
		return "touch-up"
	case GestureTouchCancel:
		return "touch-cancel"
	default:
		return "unknown"
	}
}

// Gesture is a normalized remote gesture.
//
// Keysym is an X keysym. Button is a portable button number
// (1 left, 2 middle, 3 right, 4 back, 5 forward). Axis is 0 for vertical
// and 1 for horizontal scrolling.
type Gesture struct {
	Kind     GestureKind
	Keysym   uint32
	Button   uint32
	Pressed  bool
	Axis     uint32
	Value    float64
	ID       int32
	X        float64
	Y        float64
	Pressure float64
}

// GestureSink consumes normalized gestures.
type GestureSink interface {
	Handle(g Gesture)
}

// Surface is a compositor window that imports producer buffers directly.
type Surface interface {
	// Setup (re)creates the window surface, releasing any previous one.
	Setup(width, height int) error
	// Present imports buf and shows it. The caller still owns buf and
	// closes it afterwards unless Present took it.
	Present(buf *dmabuf.Buffer) error
	Close()
}

// Pipeline is a video pipeline fed with producer buffers.
type Pipeline interface {
	// Reset tears down the running pipeline, if any, and builds a new one.
	Reset(width, height, refreshRate int) error
	// WantsData is the backpressure signal; buffers offered while it is
	// false are dropped by the caller.
	WantsData() bool
	// Push hands buf to the pipeline. Same ownership rules as Present.
	Push(buf *dmabuf.Buffer) error
	Close()
}
