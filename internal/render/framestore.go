// Package render is the in-process render path: it imports producer
// buffers by mapping them and keeps the most recent frame as an RGBA image.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"playmirror/internal/dmabuf"
)

var (
	ErrNotReady          = errors.New("render path not initialized")
	ErrUnsupportedFormat = errors.New("unsupported buffer format")
	ErrBadLayout         = errors.New("invalid buffer layout")
)

// linux/dma-buf.h
const (
	dmaBufIoctlSync = 0x40086200
	dmaBufSyncRead  = 1 << 0
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2
)

// Stats counts imported and rejected buffers.
type Stats struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Rate     int    `json:"refresh_rate"`
	Frames   uint64 `json:"frames"`
	Rejected uint64 `json:"rejected"`
	Resets   uint64 `json:"resets"`
}

// FrameStore serves as both the window surface and the video pipeline.
// Push is rate limited to the configured refresh rate through WantsData.
type FrameStore struct {
	mu       sync.Mutex
	ready    bool
	width    int
	height   int
	rate     int
	interval time.Duration
	lastPush time.Time
	frame    *image.RGBA
	seq      uint64
	stats    Stats

	now func() time.Time
}

func NewFrameStore() *FrameStore {
	return &FrameStore{now: time.Now}
}

// Setup prepares the store for windowed presentation.
func (fs *FrameStore) Setup(width, height int) error {
	return fs.Reset(width, height, 0)
}

// Reset drops any held frame and starts over with the given mode. A zero
// rate disables rate limiting.
func (fs *FrameStore) Reset(width, height, rate int) error {
	if width <= 0 || height <= 0 || rate < 0 {
		return fmt.Errorf("%w: %dx%d@%d", ErrBadLayout, width, height, rate)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ready = true
	fs.width, fs.height, fs.rate = width, height, rate
	fs.interval = 0
	if rate > 0 {
		fs.interval = time.Second / time.Duration(rate)
	}
	fs.lastPush = time.Time{}
	fs.frame = nil
	fs.stats.Resets++
	return nil
}

// WantsData reports whether a new frame would be accepted now.
func (fs *FrameStore) WantsData() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.ready {
		return false
	}
	return fs.interval == 0 || fs.now().Sub(fs.lastPush) >= fs.interval
}

// Push imports buf as the next pipeline frame.
func (fs *FrameStore) Push(buf *dmabuf.Buffer) error {
	return fs.store(buf, true)
}

// Present imports buf and shows it immediately.
func (fs *FrameStore) Present(buf *dmabuf.Buffer) error {
	return fs.store(buf, false)
}

func (fs *FrameStore) store(buf *dmabuf.Buffer, paced bool) error {
	fs.mu.Lock()
	ready := fs.ready
	fs.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	img, err := Import(buf)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err != nil {
		fs.stats.Rejected++
		return err
	}
	fs.frame = img
	fs.seq++
	fs.stats.Frames++
	if paced {
		fs.lastPush = fs.now()
	}
	return nil
}

// Close releases the held frame. The store must be reset before reuse.
func (fs *FrameStore) Close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ready = false
	fs.frame = nil
}

// Latest returns the most recent frame and its sequence number.
func (fs *FrameStore) Latest() (*image.RGBA, uint64, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.frame == nil {
		return nil, 0, false
	}
	return fs.frame, fs.seq, true
}

// Stats returns a snapshot of the counters.
func (fs *FrameStore) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	s := fs.stats
	s.Width, s.Height, s.Rate = fs.width, fs.height, fs.rate
	return s
}

// WritePNG encodes the latest frame.
func (fs *FrameStore) WritePNG(w io.Writer) error {
	img, _, ok := fs.Latest()
	if !ok {
		return ErrNotReady
	}
	return png.Encode(w, img)
}

// Import maps buf read-only and converts it to RGBA. Only linear
// single-plane 32-bit RGB layouts are supported.
func Import(buf *dmabuf.Buffer) (*image.RGBA, error) {
	m := buf.Meta
	fd := buf.FD()
	if fd < 0 {
		return nil, fmt.Errorf("%w: buffer already released", ErrBadLayout)
	}
	if m.Modifiers != dmabuf.ModifierLinear {
		return nil, fmt.Errorf("%w: modifier %#x", ErrUnsupportedFormat, m.Modifiers)
	}
	swap, alpha, err := channelOrder(m.Format)
	if err != nil {
		return nil, err
	}
	if m.Width <= 0 || m.Height <= 0 || m.Offset < 0 || m.Stride < m.Width*4 {
		return nil, fmt.Errorf("%w: %s", ErrBadLayout, m)
	}

	// Touching mapped pages past the end of the buffer raises SIGBUS.
	size, err := bufferSize(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLayout, err)
	}
	if int64(m.Size()) > size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, buffer has %d", ErrBadLayout, m, m.Size(), size)
	}

	data, err := unix.Mmap(fd, 0, m.Size(), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", m, err)
	}
	defer unix.Munmap(data) //nolint:errcheck

	syncBuffer(fd, dmaBufSyncStart|dmaBufSyncRead)
	defer syncBuffer(fd, dmaBufSyncEnd|dmaBufSyncRead)

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		src := data[m.Offset+y*m.Stride : m.Offset+y*m.Stride+m.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+m.Width*4]
		for x := 0; x < len(src); x += 4 {
			if swap {
				dst[x], dst[x+1], dst[x+2] = src[x+2], src[x+1], src[x]
			} else {
				dst[x], dst[x+1], dst[x+2] = src[x], src[x+1], src[x+2]
			}
			if alpha {
				dst[x+3] = src[x+3]
			} else {
				dst[x+3] = 0xff
			}
		}
	}
	return img, nil
}

// bufferSize returns the byte size behind fd. dma-bufs only report it
// through lseek; memfds and regular files also have it in fstat.
func bufferSize(fd int) (int64, error) {
	if n, err := unix.Seek(fd, 0, io.SeekEnd); err == nil && n > 0 {
		return n, nil
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	return st.Size, nil
}

// channelOrder reports whether red and blue are swapped in memory relative
// to RGBA and whether the fourth byte is alpha.
func channelOrder(format uint32) (swap, alpha bool, err error) {
	switch format {
	case dmabuf.FormatXRGB8888:
		return true, false, nil
	case dmabuf.FormatARGB8888:
		return true, true, nil
	case dmabuf.FormatXBGR8888:
		return false, false, nil
	case dmabuf.FormatABGR8888:
		return false, true, nil
	default:
		m := dmabuf.Meta{Format: format}
		return false, false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, m.FourCC())
	}
}

// syncBuffer brackets CPU access for real dma-bufs. Other descriptor kinds
// reject the ioctl, which is fine.
func syncBuffer(fd int, flags uint64) {
	unix.Syscall(unix.SYS_IOCTL, uintptr(fd), dmaBufIoctlSync, uintptr(unsafe.Pointer(&flags))) //nolint:errcheck
}
