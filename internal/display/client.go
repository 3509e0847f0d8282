package display

import (
	"context"
	"fmt"
	"time"

	"playmirror/internal/dmabuf"
	"playmirror/internal/protocol"
	"playmirror/internal/transport"
)

const dialInterval = 50 * time.Millisecond

// Resolution is the display mode reported by the server.
type Resolution struct {
	Width          int
	Height         int
	RefreshMilliHz int
}

// RefreshInterval is the frame period for r.
func (r Resolution) RefreshInterval() time.Duration {
	if r.RefreshMilliHz <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * 1000 / int64(r.RefreshMilliHz))
}

// Client is the producer side of the control socket.
type Client struct {
	ch *transport.Channel
}

// Connect dials the server at path, waiting while it is busy with another
// producer or not yet started.
func Connect(ctx context.Context, path string) (*Client, error) {
	ch, err := transport.DialRetry(ctx, path, dialInterval)
	if err != nil {
		return nil, err
	}
	return &Client{ch: ch}, nil
}

// Hello asks the server to (re)initialize its render path.
func (c *Client) Hello() error {
	d := &protocol.Data{Tag: protocol.TagHello}
	return c.ch.Send(protocol.MsgData, d.Marshal(), -1)
}

// Resolution queries the server's display mode and waits for the reply.
func (c *Client) Resolution() (Resolution, error) {
	ask := &protocol.Data{Tag: protocol.TagAskForResolution}
	if err := c.ch.Send(protocol.MsgDataNeedsReply, ask.Marshal(), -1); err != nil {
		return Resolution{}, err
	}
	msg, err := c.ch.Receive()
	if err != nil {
		return Resolution{}, fmt.Errorf("wait for resolution: %w", err)
	}
	if msg.FD >= 0 {
		dmabuf.New(msg.FD, dmabuf.Meta{}).Close()
	}
	if msg.Type != protocol.MsgDataReply {
		return Resolution{}, fmt.Errorf("unexpected %s reply to resolution query", msg.Type)
	}
	d, err := protocol.ParseData(msg.Payload)
	if err != nil {
		return Resolution{}, err
	}
	if d.Tag != protocol.TagHaveResolution {
		return Resolution{}, fmt.Errorf("unexpected %s reply to resolution query", d.Tag)
	}
	return Resolution{
		Width:          int(d.Width),
		Height:         int(d.Height),
		RefreshMilliHz: int(d.RefreshRate),
	}, nil
}

// SendBuffer passes fd with its layout. The caller keeps its own copy of
// fd and may reuse or close it after SendBuffer returns.
func (c *Client) SendBuffer(fd int, meta dmabuf.Meta) error {
	d := &protocol.Data{
		Tag:       protocol.TagHaveBuffer,
		Width:     int32(meta.Width),
		Height:    int32(meta.Height),
		Format:    int32(meta.Format),
		Modifiers: meta.Modifiers,
		Stride:    int32(meta.Stride),
		Offset:    int32(meta.Offset),
	}
	return c.ch.Send(protocol.MsgFD, d.Marshal(), fd)
}

func (c *Client) Close() error {
	return c.ch.Close()
}
