// Package input turns remote gestures into Linux input events written to
// the guest's touch, keyboard and pointer pipes.
package input

import (
	"log"
	"math"
	"sync"
	"time"

	"playmirror/internal/types"
)

const (
	// MaxSlots is the number of concurrent multi-touch contacts.
	MaxSlots = 10
	// MaxKeys bounds the key codes tracked in the key state table.
	MaxKeys = 239
	// ScrollDivisor scales raw wheel deltas into wheel units.
	ScrollDivisor = 10.0

	freeSlot = -1
)

// Config configures a Router. Zero paths select the defaults; nil Open and
// Clock select OpenFIFO and CLOCK_MONOTONIC.
type Config struct {
	TouchPath    string
	KeyboardPath string
	PointerPath  string

	ReverseScroll bool
	DiscreteWheel bool

	Open  Opener
	Clock func() time.Duration
}

// Router owns all mutable input-device state. Every entry point serializes
// on one mutex, so gestures may arrive from any goroutine.
type Router struct {
	mu sync.Mutex

	touch    sink
	keyboard sink
	pointer  sink
	clock    func() time.Duration

	slots    [MaxSlots]int32
	keysDown [MaxKeys]bool
	ptrX     int32
	ptrY     int32
	wheel    [2]float64

	reverseScroll bool
	discreteWheel bool
}

func NewRouter(cfg Config) *Router {
	open := cfg.Open
	if open == nil {
		open = OpenFIFO
	}
	clock := cfg.Clock
	if clock == nil {
		clock = monotonicNow
	}
	r := &Router{
		touch:         sink{name: "touch", path: orDefault(cfg.TouchPath, DefaultTouchPath), open: open},
		keyboard:      sink{name: "keyboard", path: orDefault(cfg.KeyboardPath, DefaultKeyboardPath), open: open},
		pointer:       sink{name: "pointer", path: orDefault(cfg.PointerPath, DefaultPointerPath), open: open},
		clock:         clock,
		reverseScroll: cfg.ReverseScroll,
		discreteWheel: cfg.DiscreteWheel,
	}
	for i := range r.slots {
		r.slots[i] = freeSlot
	}
	return r
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Paths returns the touch, keyboard and pointer pipe paths.
func (r *Router) Paths() []string {
	return []string{r.touch.path, r.keyboard.path, r.pointer.path}
}

// SetScrollMode changes scroll direction and accumulator reset policy.
func (r *Router) SetScrollMode(reverse, discrete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reverseScroll = reverse
	r.discreteWheel = discrete
}

// Close releases any open pipes.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch.close()
	r.keyboard.close()
	r.pointer.close()
}

func (r *Router) newBatch() *batch {
	return &batch{now: r.clock()}
}

// Handle dispatches a normalized gesture to its entry point.
func (r *Router) Handle(g types.Gesture) {
	switch g.Kind {
	case types.GestureKey:
		r.Key(g.Keysym, g.Pressed)
	case types.GesturePointerMotion:
		r.PointerMotion(g.X, g.Y)
	case types.GesturePointerButton:
		r.PointerButton(g.Button, g.Pressed)
	case types.GesturePointerAxis:
		r.PointerAxis(g.Axis, g.Value)
	case types.GestureTouchDown:
		r.TouchDown(g.ID, g.X, g.Y, g.Pressure)
	case types.GestureTouchMotion:
		r.TouchMotion(g.ID, g.X, g.Y, g.Pressure)
	case types.GestureTouchUp:
		r.TouchUp(g.ID)
	case types.GestureTouchCancel:
		r.TouchCancel()
	default:
		log.Printf("input: unknown gesture %d", g.Kind)
	}
}

// Key presses or releases the key bound to keysym.
func (r *Router) Key(keysym uint32, pressed bool) {
	code, ok := LookupKeycode(keysym)
	if !ok {
		log.Printf("input: key not found in qwerty map: %#x", keysym)
		return
	}
	if int(code) >= MaxKeys {
		log.Printf("input: invalid key: %d", code)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var value int32
	if pressed {
		value = 1
	}
	b := r.newBatch()
	b.add(EvKey, code, value)
	b.syn()
	r.keyboard.write(b.events)
	r.keysDown[code] = pressed
}

// KeyDown reports whether the key with the given code is held.
func (r *Router) KeyDown(code uint16) bool {
	if int(code) >= MaxKeys {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keysDown[code]
}

// PointerMotion moves the pointer to (x, y), reporting both the absolute
// position and the delta from the previous one.
func (r *Router) PointerMotion(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ix, iy := int32(x), int32(y)
	b := r.newBatch()
	b.add(EvAbs, AbsX, ix)
	b.add(EvAbs, AbsY, iy)
	b.add(EvRel, RelX, ix-r.ptrX)
	b.add(EvRel, RelY, iy-r.ptrY)
	b.syn()
	r.ptrX, r.ptrY = ix, iy
	r.pointer.write(b.events)
}

var buttonCodes = map[uint32]uint16{
	1: BtnLeft,
	2: BtnMiddle,
	3: BtnRight,
	4: BtnSide,
	5: BtnExtra,
}

// PointerButton presses or releases a portable button (1 left, 2 middle,
// 3 right, 4 back, 5 forward).
func (r *Router) PointerButton(button uint32, pressed bool) {
	code, ok := buttonCodes[button]
	if !ok {
		log.Printf("input: unknown pointer button %d", button)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var value int32
	if pressed {
		value = 1
	}
	b := r.newBatch()
	b.add(EvKey, code, value)
	b.syn()
	r.pointer.write(b.events)
}

// PointerAxis scrolls by value on axis 0 (vertical) or 1 (horizontal).
// Sub-unit deltas accumulate until they amount to a whole wheel step.
func (r *Router) PointerAxis(axis uint32, value float64) {
	if axis > 1 {
		log.Printf("input: unknown scroll axis %d", axis)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The accumulator holds raw deltas; one wheel unit is ScrollDivisor.
	if !r.reverseScroll {
		value = -value
	}
	r.wheel[axis] += value
	acc := r.wheel[axis]
	if math.Abs(acc) < ScrollDivisor {
		return
	}
	move := int32(acc / ScrollDivisor)
	if r.discreteWheel {
		r.wheel[axis] = 0
	} else {
		r.wheel[axis] = math.Mod(acc, ScrollDivisor)
	}

	code := uint16(RelWheel)
	if axis == 1 {
		code = RelHWheel
	}
	b := r.newBatch()
	b.add(EvRel, code, move)
	b.syn()
	r.pointer.write(b.events)
}

// slotFor returns the slot already mapped to id, or claims the first free
// one. It returns -1 when the table is full.
func (r *Router) slotFor(id int32) int {
	for i, v := range r.slots {
		if v == id {
			return i
		}
	}
	for i, v := range r.slots {
		if v == freeSlot {
			r.slots[i] = id
			return i
		}
	}
	return -1
}

func (r *Router) touchContact(id int32, x, y, pressure float64) {
	if id == freeSlot {
		log.Printf("input: invalid touch id %d", id)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotFor(id)
	if slot < 0 {
		return
	}
	b := r.newBatch()
	b.add(EvAbs, AbsMTSlot, int32(slot))
	b.add(EvAbs, AbsMTTrackingID, int32(slot))
	b.add(EvAbs, AbsMTPositionX, int32(x))
	b.add(EvAbs, AbsMTPositionY, int32(y))
	b.add(EvAbs, AbsMTPressure, int32(pressure))
	b.syn()
	r.touch.write(b.events)
}

// TouchDown starts contact id at (x, y). New contacts beyond MaxSlots are
// dropped.
func (r *Router) TouchDown(id int32, x, y, pressure float64) {
	r.touchContact(id, x, y, pressure)
}

// TouchMotion moves contact id to (x, y).
func (r *Router) TouchMotion(id int32, x, y, pressure float64) {
	r.touchContact(id, x, y, pressure)
}

// TouchUp lifts contact id and frees its slot.
func (r *Router) TouchUp(id int32) {
	if id == freeSlot {
		log.Printf("input: invalid touch id %d", id)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	slot := -1
	for i, v := range r.slots {
		if v == id {
			slot = i
			break
		}
	}
	if slot < 0 {
		log.Printf("input: touch up for unknown contact %d", id)
		return
	}
	r.slots[slot] = freeSlot

	b := r.newBatch()
	b.add(EvAbs, AbsMTSlot, int32(slot))
	b.add(EvAbs, AbsMTTrackingID, -1)
	b.syn()
	r.touch.write(b.events)
}

// TouchCancel lifts every live contact as a palm so consumers discard the
// gesture instead of treating it as a tap.
func (r *Router) TouchCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, v := range r.slots {
		if v == freeSlot {
			continue
		}
		r.slots[i] = freeSlot

		b := r.newBatch()
		b.add(EvAbs, AbsMTSlot, int32(i))
		b.add(EvAbs, AbsMTToolType, MTToolPalm)
		b.syn()
		b.add(EvAbs, AbsMTToolType, MTToolFinger)
		b.add(EvAbs, AbsMTTrackingID, -1)
		b.syn()
		r.touch.write(b.events)
	}
}

// ActiveContacts returns the number of occupied touch slots.
func (r *Router) ActiveContacts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.slots {
		if v != freeSlot {
			n++
		}
	}
	return n
}
