// Package dmabuf models ownership of a GPU buffer descriptor received from a
// producer. A Buffer closes its descriptor exactly once unless a render
// collaborator has taken ownership of it.
package dmabuf

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// DRM fourcc codes for the formats the mirror understands.
const (
	FormatXRGB8888 = 0x34325258 // XR24
	FormatARGB8888 = 0x34325241 // AR24
	FormatXBGR8888 = 0x34324258 // XB24
	FormatABGR8888 = 0x34324241 // AB24

	ModifierLinear = 0
)

// Meta is the geometry and layout of the single plane behind a descriptor.
type Meta struct {
	Width     int
	Height    int
	Format    uint32
	Modifiers uint64
	Stride    int
	Offset    int
}

// Size is the number of bytes the plane spans from the start of the
// underlying memory.
func (m Meta) Size() int {
	return m.Offset + m.Stride*m.Height
}

// FourCC renders Format as its four-character code.
func (m Meta) FourCC() string {
	f := m.Format
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

func (m Meta) String() string {
	return fmt.Sprintf("%dx%d %s stride=%d offset=%d modifier=%#x",
		m.Width, m.Height, m.FourCC(), m.Stride, m.Offset, m.Modifiers)
}

// Buffer owns one received descriptor.
type Buffer struct {
	Meta

	mu     sync.Mutex
	fd     int
	closed bool
}

// New wraps fd. The Buffer owns fd from now on.
func New(fd int, meta Meta) *Buffer {
	return &Buffer{Meta: meta, fd: fd}
}

// FD returns the descriptor for borrowing, or -1 once released.
// Borrowers must not close it.
func (b *Buffer) FD() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return -1
	}
	return b.fd
}

// Take transfers ownership of the descriptor to the caller. After Take,
// Close is a no-op. ok is false if the descriptor was already released.
func (b *Buffer) Take() (fd int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.fd < 0 {
		return -1, false
	}
	fd = b.fd
	b.fd = -1
	b.closed = true
	return fd, true
}

// Close releases the descriptor unless it has been taken. Safe to call
// more than once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	fd := b.fd
	b.fd = -1
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close dmabuf fd %d: %w", fd, err)
	}
	return nil
}
