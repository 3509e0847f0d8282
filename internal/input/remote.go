package input

import (
	"log"

	"playmirror/internal/types"
)

// jsButton maps MouseEvent.button to a portable button number.
func jsButton(button int) (uint32, bool) {
	switch button {
	case 0:
		return 1, true // Left
	case 1:
		return 2, true // Middle
	case 2:
		return 3, true // Right
	case 3:
		return 4, true // Back
	case 4:
		return 5, true // Forward
	default:
		return 0, false
	}
}

// Translate converts a browser event into zero or more gestures.
func Translate(ev types.InputEvent) []types.Gesture {
	switch ev.Type {
	case "mousemove":
		return []types.Gesture{{Kind: types.GesturePointerMotion, X: ev.X, Y: ev.Y}}
	case "mousedown", "mouseup":
		b, ok := jsButton(ev.Button)
		if !ok {
			log.Printf("input: unmapped mouse button %d", ev.Button)
			return nil
		}
		return []types.Gesture{{Kind: types.GesturePointerButton, Button: b, Pressed: ev.Type == "mousedown"}}
	case "wheel":
		var out []types.Gesture
		if ev.DY != 0 {
			out = append(out, types.Gesture{Kind: types.GesturePointerAxis, Axis: 0, Value: ev.DY})
		}
		if ev.DX != 0 {
			out = append(out, types.Gesture{Kind: types.GesturePointerAxis, Axis: 1, Value: ev.DX})
		}
		return out
	case "keydown", "keyup":
		ks := CodeToKeysym(ev.Code, ev.Key)
		if ks == 0 {
			return nil
		}
		return []types.Gesture{{Kind: types.GestureKey, Keysym: ks, Pressed: ev.Type == "keydown"}}
	case "touchstart":
		return []types.Gesture{{Kind: types.GestureTouchDown, ID: ev.ID, X: ev.X, Y: ev.Y, Pressure: ev.Pressure}}
	case "touchmove":
		return []types.Gesture{{Kind: types.GestureTouchMotion, ID: ev.ID, X: ev.X, Y: ev.Y, Pressure: ev.Pressure}}
	case "touchend":
		return []types.Gesture{{Kind: types.GestureTouchUp, ID: ev.ID}}
	case "touchcancel":
		return []types.Gesture{{Kind: types.GestureTouchCancel}}
	default:
		log.Printf("input: unknown event type %q", ev.Type)
		return nil
	}
}

// Deliver translates ev and hands the result to sink.
func Deliver(sink types.GestureSink, ev types.InputEvent) {
	for _, g := range Translate(ev) {
		sink.Handle(g)
	}
}
