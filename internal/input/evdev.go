package input

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// Linux input event types and codes (linux/input-event-codes.h).
const (
	EvSyn = 0x00
	EvKey = 0x01
	EvRel = 0x02
	EvAbs = 0x03

	SynReport = 0

	AbsX = 0x00
	AbsY = 0x01

	RelX      = 0x00
	RelY      = 0x01
	RelHWheel = 0x06
	RelWheel  = 0x08

	AbsMTSlot       = 0x2f
	AbsMTPositionX  = 0x35
	AbsMTPositionY  = 0x36
	AbsMTToolType   = 0x37
	AbsMTTrackingID = 0x39
	AbsMTPressure   = 0x3a

	MTToolFinger = 0
	MTToolPalm   = 2

	BtnLeft   = 0x110
	BtnRight  = 0x111
	BtnMiddle = 0x112
	BtnSide   = 0x113
	BtnExtra  = 0x114
)

// EventSize is sizeof(struct input_event) on 64-bit Linux.
const EventSize = 24

// Event is one kernel input event.
type Event struct {
	Time  time.Duration // since CLOCK_MONOTONIC epoch
	Type  uint16
	Code  uint16
	Value int32
}

func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

// batch accumulates events for a single write. Every batch is terminated by
// a SYN_REPORT so the reader applies it atomically.
type batch struct {
	now    time.Duration
	events []Event
}

func (b *batch) add(typ, code uint16, value int32) {
	b.events = append(b.events, Event{Time: b.now, Type: typ, Code: code, Value: value})
}

func (b *batch) syn() {
	b.add(EvSyn, SynReport, 0)
}

// Encode serializes events as consecutive struct input_event records in
// native byte order.
func Encode(events []Event) []byte {
	out := make([]byte, 0, len(events)*EventSize)
	for _, ev := range events {
		sec := int64(ev.Time / time.Second)
		usec := int64((ev.Time % time.Second) / time.Microsecond)
		out = binary.NativeEndian.AppendUint64(out, uint64(sec))
		out = binary.NativeEndian.AppendUint64(out, uint64(usec))
		out = binary.NativeEndian.AppendUint16(out, ev.Type)
		out = binary.NativeEndian.AppendUint16(out, ev.Code)
		out = binary.NativeEndian.AppendUint32(out, uint32(ev.Value))
	}
	return out
}

// Decode is the inverse of Encode. Trailing partial records are ignored.
func Decode(b []byte) []Event {
	events := make([]Event, 0, len(b)/EventSize)
	for len(b) >= EventSize {
		sec := int64(binary.NativeEndian.Uint64(b[0:8]))
		usec := int64(binary.NativeEndian.Uint64(b[8:16]))
		events = append(events, Event{
			Time:  time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond,
			Type:  binary.NativeEndian.Uint16(b[16:18]),
			Code:  binary.NativeEndian.Uint16(b[18:20]),
			Value: int32(binary.NativeEndian.Uint32(b[20:24])),
		})
		b = b[EventSize:]
	}
	return events
}
