// Package transport frames protocol messages over a connected unix socket
// and carries at most one file descriptor per message in SCM_RIGHTS
// ancillary data.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"playmirror/internal/protocol"
)

var (
	ErrClosed          = errors.New("peer closed connection")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrShortMessage    = errors.New("message truncated")
	ErrShortWrite      = errors.New("short write")
	ErrNoDescriptor    = errors.New("FD message without a valid descriptor")
)

// oobFDs bounds how many descriptors a single receive can observe. Only one
// is ever accepted; the rest exist so extras can be closed instead of leaked.
const oobFDs = 8

// Message is one received frame. FD is -1 unless Type is MsgFD and the
// peer actually attached a descriptor; the caller owns a non-negative FD.
type Message struct {
	Type    protocol.MessageType
	Payload []byte
	FD      int
}

// Channel is a framed, descriptor-carrying message channel.
// A Channel is not safe for concurrent Receive calls.
type Channel struct {
	conn *net.UnixConn
	hdr  [protocol.HeaderSize]byte
	oob  []byte
}

// New wraps a connected unix stream socket.
func New(conn *net.UnixConn) *Channel {
	return &Channel{
		conn: conn,
		oob:  make([]byte, unix.CmsgSpace(4*oobFDs)),
	}
}

// Send writes header+payload in a single sendmsg. For MsgFD, fd is attached
// as ancillary data; ownership of fd stays with the caller (the kernel
// duplicates it into the receiver).
func (c *Channel) Send(typ protocol.MessageType, payload []byte, fd int) error {
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), protocol.MaxPayloadSize)
	}

	buf := make([]byte, 0, protocol.HeaderSize+len(payload))
	buf = protocol.AppendHeader(buf, protocol.Header{Type: typ, Length: uint32(len(payload))})
	buf = append(buf, payload...)

	var oob []byte
	if typ == protocol.MsgFD {
		if fd < 0 {
			return ErrNoDescriptor
		}
		oob = unix.UnixRights(fd)
	}

	n, oobn, err := c.conn.WriteMsgUnix(buf, oob, nil)
	if err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	if n != len(buf) || oobn != len(oob) {
		return fmt.Errorf("%w: %d/%d bytes, %d/%d oob", ErrShortWrite, n, len(buf), oobn, len(oob))
	}
	return nil
}

// Receive reads one frame. A clean shutdown by the peer before any byte of a
// new frame is reported as ErrClosed; every other failure (I/O error,
// truncated frame, oversized declared length) is a distinct error and the
// channel should be discarded.
func (c *Channel) Receive() (Message, error) {
	msg := Message{FD: -1}

	n, oobn, _, _, err := c.conn.ReadMsgUnix(c.hdr[:], c.oob)
	fds := parseRights(c.oob[:oobn])
	if err != nil {
		closeFDs(fds)
		if n == 0 && errors.Is(err, io.EOF) {
			return msg, ErrClosed
		}
		return msg, fmt.Errorf("recvmsg: %w", err)
	}
	if n == 0 {
		closeFDs(fds)
		return msg, ErrClosed
	}
	if n < protocol.HeaderSize {
		if _, err := io.ReadFull(c.conn, c.hdr[n:]); err != nil {
			closeFDs(fds)
			return msg, fmt.Errorf("%w: header: %v", ErrShortMessage, err)
		}
	}

	h, err := protocol.ParseHeader(c.hdr[:])
	if err != nil {
		closeFDs(fds)
		return msg, err
	}
	if h.Length > protocol.MaxPayloadSize {
		closeFDs(fds)
		return msg, fmt.Errorf("%w: declared %d > %d", ErrPayloadTooLarge, h.Length, protocol.MaxPayloadSize)
	}

	if h.Length > 0 {
		msg.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(c.conn, msg.Payload); err != nil {
			closeFDs(fds)
			return Message{FD: -1}, fmt.Errorf("%w: payload: %v", ErrShortMessage, err)
		}
	}
	msg.Type = h.Type

	if h.Type == protocol.MsgFD {
		if len(fds) > 0 {
			msg.FD = fds[0]
			closeFDs(fds[1:])
		}
	} else {
		closeFDs(fds)
	}
	return msg, nil
}

// Close closes the underlying socket.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// parseRights extracts every descriptor carried in SCM_RIGHTS messages.
// Malformed control data yields no descriptors.
func parseRights(oob []byte) []int {
	if len(oob) == 0 {
		return nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range scms {
		if scms[i].Header.Level != unix.SOL_SOCKET || scms[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		got, err := unix.ParseUnixRights(&scms[i])
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
