package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Listen binds a unix stream listener at path, replacing a stale socket
// left behind by a previous run. A non-socket file at path is an error.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if st, err := os.Lstat(path); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path exists and is not unix socket: %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat socket path: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen uds: %w", err)
	}
	return ln, nil
}

// Dial connects to the listener at path.
func Dial(path string) (*Channel, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// DialRetry keeps dialing path every interval until it succeeds or ctx is
// done. The server only listens while it has no peer, so a producer that
// arrives during another peer's session waits here.
func DialRetry(ctx context.Context, path string, interval time.Duration) (*Channel, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ch, err := Dial(path)
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, unix.ECONNREFUSED) && !errors.Is(err, unix.ENOENT) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Pair returns two connected channels backed by a socketpair.
func Pair() (*Channel, *Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	a, err := fileConn(fds[0], "pair-a")
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := fileConn(fds[1], "pair-b")
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return New(a), New(b), nil
}

func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	conn, err := net.FileConn(f)
	// FileConn dups the fd; close the original.
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("file conn: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("file conn: unexpected %T", conn)
	}
	return uc, nil
}
