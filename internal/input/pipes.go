package input

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sys/unix"
)

// Default FIFO paths read by the guest's input service.
const (
	DefaultTouchPath    = "/tmp/pd_touch_events"
	DefaultKeyboardPath = "/tmp/pd_keyboard_events"
	DefaultPointerPath  = "/tmp/pd_pointer_events"
)

// Opener opens an injection sink for writing.
type Opener func(path string) (io.WriteCloser, error)

// CreateFIFO makes path a named pipe readable and writable by everyone and
// owned by uid:gid. An existing FIFO is reused.
func CreateFIFO(path string, uid, gid int) error {
	if err := unix.Mkfifo(path, 0o777); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	st, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if st.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a fifo", path)
	}
	// mkfifo honours the umask.
	if err := os.Chmod(path, 0o777); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Lchown(path, uid, gid); err != nil {
		log.Printf("input: chown %s to %d:%d: %v", path, uid, gid, err)
	}
	return nil
}

// fifoWriter writes straight to a non-blocking descriptor so a full or
// unread pipe fails with EAGAIN instead of parking in the runtime poller.
type fifoWriter struct {
	fd   int
	path string
}

// OpenFIFO opens path write-only and non-blocking. It fails with ENXIO
// while nobody has the FIFO open for reading.
func OpenFIFO(path string) (io.WriteCloser, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &fifoWriter{fd: fd, path: path}, nil
}

func (w *fifoWriter) Write(p []byte) (int, error) {
	n, err := unix.Write(w.fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, &os.PathError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}

func (w *fifoWriter) Close() error {
	return unix.Close(w.fd)
}

// sink is one lazily opened injection pipe. Callers hold the router lock.
type sink struct {
	name string
	path string
	open Opener
	w    io.WriteCloser
}

func (s *sink) write(events []Event) {
	if s.w == nil {
		w, err := s.open(s.path)
		if err != nil {
			log.Printf("input: open %s pipe: %v", s.name, err)
			return
		}
		s.w = w
	}
	buf := Encode(events)
	n, err := s.w.Write(buf)
	if err != nil {
		log.Printf("input: write %s event: %v", s.name, err)
		return
	}
	if n < len(buf) {
		log.Printf("input: short %s write: %d of %d bytes", s.name, n, len(buf))
	}
}

func (s *sink) close() {
	if s.w != nil {
		s.w.Close()
		s.w = nil
	}
}
