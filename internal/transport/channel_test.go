package transport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"playmirror/internal/protocol"
)

func newPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func newMemfd(t *testing.T, content []byte) int {
	t.Helper()
	fd, err := unix.MemfdCreate("transport-test", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(fd, content); err != nil {
		unix.Close(fd)
		t.Fatal(err)
	}
	return fd
}

func TestSendReceiveData(t *testing.T) {
	a, b := newPair(t)

	d := &protocol.Data{Tag: protocol.TagHello, Width: 1280, Height: 720}
	if err := a.Send(protocol.MsgData, d.Marshal(), -1); err != nil {
		t.Fatal(err)
	}

	msg, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.MsgData {
		t.Fatalf("type: got %s, want DATA", msg.Type)
	}
	if msg.FD != -1 {
		t.Fatalf("fd: got %d, want -1", msg.FD)
	}
	got, err := protocol.ParseData(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *d {
		t.Fatalf("payload mismatch: got %+v, want %+v", *got, *d)
	}
}

func TestSendReceiveHeaderOnly(t *testing.T) {
	a, b := newPair(t)

	if err := a.Send(protocol.MsgData, nil, -1); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.MsgData || msg.Payload != nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendReceiveDescriptor(t *testing.T) {
	a, b := newPair(t)

	content := []byte("frame contents")
	fd := newMemfd(t, content)
	defer unix.Close(fd)

	d := &protocol.Data{Tag: protocol.TagHaveBuffer, Format: 0x34325258, Stride: 64}
	if err := a.Send(protocol.MsgFD, d.Marshal(), fd); err != nil {
		t.Fatal(err)
	}

	msg, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.MsgFD {
		t.Fatalf("type: got %s, want FD", msg.Type)
	}
	if msg.FD < 0 {
		t.Fatal("expected a descriptor")
	}
	defer unix.Close(msg.FD)
	if msg.FD == fd {
		t.Fatal("received descriptor must be a new table entry")
	}

	var sent, recv unix.Stat_t
	if err := unix.Fstat(fd, &sent); err != nil {
		t.Fatal(err)
	}
	if err := unix.Fstat(msg.FD, &recv); err != nil {
		t.Fatal(err)
	}
	if sent.Ino != recv.Ino || sent.Dev != recv.Dev {
		t.Fatal("received descriptor references a different file")
	}

	buf := make([]byte, len(content))
	if _, err := unix.Pread(msg.FD, buf, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, content) {
		t.Fatalf("content mismatch: got %q", buf)
	}
}

func TestFDMessageWithoutDescriptor(t *testing.T) {
	a, b := newPair(t)

	raw := protocol.AppendHeader(nil, protocol.Header{Type: protocol.MsgFD, Length: protocol.DataSize})
	raw = append(raw, (&protocol.Data{Tag: protocol.TagHaveBuffer}).Marshal()...)
	if _, err := a.conn.Write(raw); err != nil {
		t.Fatal(err)
	}

	msg, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.MsgFD || msg.FD != -1 {
		t.Fatalf("got type %s fd %d, want FD -1", msg.Type, msg.FD)
	}
}

func TestDescriptorOnDataMessageIsDropped(t *testing.T) {
	a, b := newPair(t)

	fd := newMemfd(t, []byte("x"))
	defer unix.Close(fd)

	raw := protocol.AppendHeader(nil, protocol.Header{Type: protocol.MsgData, Length: protocol.DataSize})
	raw = append(raw, (&protocol.Data{Tag: protocol.TagHello}).Marshal()...)
	if _, _, err := a.conn.WriteMsgUnix(raw, unix.UnixRights(fd), nil); err != nil {
		t.Fatal(err)
	}

	msg, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.FD != -1 {
		t.Fatalf("fd: got %d, want -1", msg.FD)
	}
}

func TestReceiveClosed(t *testing.T) {
	a, b := newPair(t)
	a.Close()

	_, err := b.Receive()
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReceiveOversizedPayload(t *testing.T) {
	a, b := newPair(t)

	raw := protocol.AppendHeader(nil, protocol.Header{Type: protocol.MsgData, Length: protocol.DataSize + 1})
	raw = append(raw, make([]byte, protocol.DataSize+1)...)
	if _, err := a.conn.Write(raw); err != nil {
		t.Fatal(err)
	}

	_, err := b.Receive()
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if errors.Is(err, ErrClosed) {
		t.Fatal("oversized payload must not look like a graceful close")
	}
}

func TestReceiveTruncatedPayload(t *testing.T) {
	a, b := newPair(t)

	raw := protocol.AppendHeader(nil, protocol.Header{Type: protocol.MsgData, Length: protocol.DataSize})
	raw = append(raw, make([]byte, 10)...)
	if _, err := a.conn.Write(raw); err != nil {
		t.Fatal(err)
	}
	a.Close()

	_, err := b.Receive()
	if !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage, got %v", err)
	}
}

func TestSendOversizedPayload(t *testing.T) {
	a, _ := newPair(t)
	err := a.Send(protocol.MsgData, make([]byte, protocol.MaxPayloadSize+1), -1)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestSendFDRequiresDescriptor(t *testing.T) {
	a, _ := newPair(t)
	err := a.Send(protocol.MsgFD, (&protocol.Data{}).Marshal(), -1)
	if !errors.Is(err, ErrNoDescriptor) {
		t.Fatalf("expected ErrNoDescriptor, got %v", err)
	}
}

func TestMessagesArriveInOrder(t *testing.T) {
	a, b := newPair(t)

	for i := int32(0); i < 16; i++ {
		d := &protocol.Data{Tag: protocol.TagHello, Width: i}
		if err := a.Send(protocol.MsgData, d.Marshal(), -1); err != nil {
			t.Fatal(err)
		}
	}
	for i := int32(0); i < 16; i++ {
		msg, err := b.Receive()
		if err != nil {
			t.Fatal(err)
		}
		d, err := protocol.ParseData(msg.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if d.Width != i {
			t.Fatalf("message %d: got width %d", i, d.Width)
		}
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.sock")

	ln, err := Listen(path)
	if err != nil {
		t.Fatal(err)
	}
	ln.SetUnlinkOnClose(false)
	ln.Close()

	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("expected stale socket to remain: %v", err)
	}

	ln, err = Listen(path)
	if err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	ln.Close()
}

func TestListenRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Listen(path); err == nil {
		t.Fatal("expected error for non-socket path")
	}
}

func TestDialRetryWaitsForListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.sock")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialed := make(chan error, 1)
	go func() {
		ch, err := DialRetry(ctx, path, 10*time.Millisecond)
		if err == nil {
			ch.Close()
		}
		dialed <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ln, err := Listen(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	select {
	case err := <-dialed:
		if err != nil {
			t.Fatalf("dial retry: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timeout")
	}
}

func TestDialRetryHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.sock")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := DialRetry(ctx, path, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
