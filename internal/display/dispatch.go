package display

import (
	"fmt"
	"log"
	"sync/atomic"

	"playmirror/internal/dmabuf"
	"playmirror/internal/protocol"
	"playmirror/internal/transport"
	"playmirror/internal/types"
)

// Replier sends a reply on the channel a request arrived on.
type Replier interface {
	Send(typ protocol.MessageType, payload []byte, fd int) error
}

// Stats counts dispatcher outcomes since start.
type Stats struct {
	Hellos    uint64 `json:"hellos"`
	Replies   uint64 `json:"replies"`
	Presented uint64 `json:"presented"`
	Dropped   uint64 `json:"dropped"`
	Ignored   uint64 `json:"ignored"`
}

// Dispatcher executes protocol messages against the active render path.
// Messages are handled strictly one at a time by the connection loop, so
// the dispatcher itself holds no lock; counters are atomic only so that
// status readers can observe them.
type Dispatcher struct {
	width       int
	height      int
	refreshRate int
	windowed    bool

	surface  types.Surface
	pipeline types.Pipeline

	hellos    atomic.Uint64
	replies   atomic.Uint64
	presented atomic.Uint64
	dropped   atomic.Uint64
	ignored   atomic.Uint64
}

// DispatcherConfig describes the mirrored display and its render path.
type DispatcherConfig struct {
	Width       int
	Height      int
	RefreshRate int // Hz
	Windowed    bool

	Surface  types.Surface
	Pipeline types.Pipeline
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		width:       cfg.Width,
		height:      cfg.Height,
		refreshRate: cfg.RefreshRate,
		windowed:    cfg.Windowed,
		surface:     cfg.Surface,
		pipeline:    cfg.Pipeline,
	}
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Hellos:    d.hellos.Load(),
		Replies:   d.replies.Load(),
		Presented: d.presented.Load(),
		Dropped:   d.dropped.Load(),
		Ignored:   d.ignored.Load(),
	}
}

// Dispatch handles one received message. Any descriptor in msg is consumed
// before Dispatch returns. The returned error is non-nil only when a reply
// could not be written, which means the connection is broken.
func (d *Dispatcher) Dispatch(r Replier, msg transport.Message) error {
	data, err := protocol.ParseData(msg.Payload)
	if err != nil {
		if msg.FD >= 0 {
			dmabuf.New(msg.FD, dmabuf.Meta{}).Close()
		}
		d.ignored.Add(1)
		log.Printf("display: %s message without usable payload: %v", msg.Type, err)
		return nil
	}

	switch {
	case msg.Type == protocol.MsgData && data.Tag == protocol.TagHello:
		d.hello()
	case msg.Type == protocol.MsgDataNeedsReply && data.Tag == protocol.TagAskForResolution:
		return d.replyResolution(r)
	case msg.Type == protocol.MsgFD:
		d.handleBuffer(msg.FD, data)
	default:
		d.ignored.Add(1)
		log.Printf("display: ignoring %s/%s message", msg.Type, data.Tag)
	}
	return nil
}

// hello (re)initializes the active render path. Both collaborators release
// what they built previously, so repeated HELLOs do not accumulate state.
func (d *Dispatcher) hello() {
	d.hellos.Add(1)
	log.Printf("display: got hello")
	if d.windowed {
		if d.surface == nil {
			log.Printf("display: windowed mode without a surface")
			return
		}
		if err := d.surface.Setup(d.width, d.height); err != nil {
			log.Printf("display: surface setup: %v", err)
		}
		return
	}
	if d.pipeline == nil {
		log.Printf("display: no video pipeline configured")
		return
	}
	if err := d.pipeline.Reset(d.width, d.height, d.refreshRate); err != nil {
		log.Printf("display: pipeline reset: %v", err)
	}
}

func (d *Dispatcher) replyResolution(r Replier) error {
	log.Printf("display: got ask for resolution")
	reply := &protocol.Data{
		Tag:         protocol.TagHaveResolution,
		Width:       int32(d.width),
		Height:      int32(d.height),
		RefreshRate: int32(d.refreshRate * 1000), // mHz
	}
	if err := r.Send(protocol.MsgDataReply, reply.Marshal(), -1); err != nil {
		return fmt.Errorf("send resolution reply: %w", err)
	}
	d.replies.Add(1)
	return nil
}

// handleBuffer performs one buffer handoff. The descriptor is wrapped
// immediately and released when this cycle ends unless the collaborator
// took it; no buffer outlives the message that carried it.
func (d *Dispatcher) handleBuffer(fd int, data *protocol.Data) {
	buf := dmabuf.New(fd, d.metaFor(data))
	defer buf.Close()

	if fd < 0 {
		d.dropped.Add(1)
		log.Printf("display: invalid dmabuf fd: %d", fd)
		return
	}

	if d.windowed {
		if d.surface == nil {
			d.dropped.Add(1)
			return
		}
		if err := d.surface.Present(buf); err != nil {
			d.dropped.Add(1)
			log.Printf("display: present %s: %v", buf.Meta, err)
			return
		}
		d.presented.Add(1)
		return
	}

	if d.pipeline == nil || !d.pipeline.WantsData() {
		d.dropped.Add(1)
		return
	}
	if err := d.pipeline.Push(buf); err != nil {
		d.dropped.Add(1)
		log.Printf("display: push %s: %v", buf.Meta, err)
		return
	}
	d.presented.Add(1)
}

// metaFor builds buffer metadata from an FD payload, falling back to the
// configured display size when the producer left the geometry empty.
func (d *Dispatcher) metaFor(data *protocol.Data) dmabuf.Meta {
	m := dmabuf.Meta{
		Width:     int(data.Width),
		Height:    int(data.Height),
		Format:    uint32(data.Format),
		Modifiers: data.Modifiers,
		Stride:    int(data.Stride),
		Offset:    int(data.Offset),
	}
	if m.Width <= 0 || m.Height <= 0 {
		m.Width = d.width
		m.Height = d.height
	}
	return m
}
