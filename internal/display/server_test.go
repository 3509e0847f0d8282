package display

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"playmirror/internal/dmabuf"
	"playmirror/internal/protocol"
)

func startServer(t *testing.T, p *fakePipeline) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.sock")
	srv := NewServer(path, testDispatcher(p))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server never became ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, cancel, done
}

func connect(t *testing.T, path string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func handshake(t *testing.T, c *Client) Resolution {
	t.Helper()
	if err := c.Hello(); err != nil {
		t.Fatal(err)
	}
	res, err := c.Resolution()
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerResolutionQuery(t *testing.T) {
	p := &fakePipeline{}
	srv, _, _ := startServer(t, p)

	c := connect(t, srv.Path())
	defer c.Close()

	res := handshake(t, c)
	want := Resolution{Width: 1920, Height: 1080, RefreshMilliHz: 60000}
	if res != want {
		t.Fatalf("got %+v, want %+v", res, want)
	}
	if got := res.RefreshInterval(); got != time.Second/60 {
		t.Fatalf("refresh interval: %v", got)
	}
	if st, id := srv.State(); st != StateAccepted || id == "" {
		t.Fatalf("state: %s peer %q", st, id)
	}
	if resets, _ := p.counts(); resets != 1 {
		t.Fatalf("resets: %d", resets)
	}
}

func TestServerReconnect(t *testing.T) {
	p := &fakePipeline{}
	srv, _, _ := startServer(t, p)

	first := connect(t, srv.Path())
	handshake(t, first)
	_, firstID := srv.State()
	first.Close()

	second := connect(t, srv.Path())
	defer second.Close()
	res := handshake(t, second)
	if res.Width != 1920 {
		t.Fatalf("second handshake: %+v", res)
	}
	if _, id := srv.State(); id == firstID {
		t.Fatal("reconnected peer reused the previous peer ID")
	}
	if resets, _ := p.counts(); resets != 2 {
		t.Fatalf("resets: got %d, want 2", resets)
	}
}

func TestServerOversizedPayloadRecreatesConnection(t *testing.T) {
	p := &fakePipeline{}
	srv, _, _ := startServer(t, p)

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: srv.Path(), Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	raw := protocol.AppendHeader(nil, protocol.Header{Type: protocol.MsgData, Length: 1 << 20})
	if _, err := conn.Write(raw); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) && !errors.Is(err, unix.ECONNRESET) {
		t.Fatalf("expected the server to drop the connection, got %v", err)
	}

	c := connect(t, srv.Path())
	defer c.Close()
	if res := handshake(t, c); res.Height != 1080 {
		t.Fatalf("handshake after reconnect: %+v", res)
	}
}

func TestServerDropsBufferUnderBackpressure(t *testing.T) {
	p := &fakePipeline{wants: false}
	srv, _, _ := startServer(t, p)

	c := connect(t, srv.Path())
	defer c.Close()
	handshake(t, c)

	fd, err := unix.MemfdCreate("frame", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, 4*4*4); err != nil {
		t.Fatal(err)
	}
	meta := dmabuf.Meta{Width: 4, Height: 4, Format: dmabuf.FormatXRGB8888, Stride: 16}
	if err := c.SendBuffer(fd, meta); err != nil {
		t.Fatal(err)
	}

	// A reply after the buffer proves the buffer was processed first.
	if _, err := c.Resolution(); err != nil {
		t.Fatal(err)
	}
	if _, pushes := p.counts(); pushes != 0 {
		t.Fatal("buffer forwarded despite backpressure")
	}
	if got := srv.disp.Stats().Dropped; got != 1 {
		t.Fatalf("dropped: %d", got)
	}
}

func TestServerForwardsBuffers(t *testing.T) {
	p := &fakePipeline{wants: true}
	srv, _, _ := startServer(t, p)

	c := connect(t, srv.Path())
	defer c.Close()
	handshake(t, c)

	fd, err := unix.MemfdCreate("frame", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	meta := dmabuf.Meta{Width: 2, Height: 2, Format: dmabuf.FormatARGB8888, Stride: 8}
	for i := 0; i < 3; i++ {
		if err := c.SendBuffer(fd, meta); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "three pushes", func() bool {
		_, pushes := p.counts()
		return pushes == 3
	})
	p.mu.Lock()
	got := p.pushed[2]
	p.mu.Unlock()
	if got != meta {
		t.Fatalf("meta: got %+v, want %+v", got, meta)
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.sock")
	srv := NewServer(path, testDispatcher(&fakePipeline{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	<-srv.Ready()

	// Park a peer so cancellation has to interrupt a blocked receive.
	c := connect(t, path)
	defer c.Close()
	handshake(t, c)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if st, _ := srv.State(); st != StateClosed {
		t.Fatalf("state after stop: %s", st)
	}
}

func TestServerSingleInstance(t *testing.T) {
	srv, _, _ := startServer(t, &fakePipeline{})

	other := NewServer(srv.Path(), testDispatcher(&fakePipeline{}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := other.Run(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second server: got %v, want lock error", err)
	}
}
