package render

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"playmirror/internal/dmabuf"
)

// barColors are XRGB8888 colour bars.
var barColors = []uint32{
	0xffffffff, 0xffffff00, 0xff00ffff, 0xff00ff00,
	0xffff00ff, 0xffff0000, 0xff0000ff, 0xff000000,
}

// PatternBuffer is a memfd-backed linear XRGB8888 frame used by the test
// producer in place of a GPU buffer.
type PatternBuffer struct {
	fd   int
	meta dmabuf.Meta
	row  []byte
}

func NewPatternBuffer(width, height int) (*PatternBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadLayout, width, height)
	}
	meta := dmabuf.Meta{
		Width:  width,
		Height: height,
		Format: dmabuf.FormatXRGB8888,
		Stride: width * 4,
	}
	fd, err := unix.MemfdCreate("playmirror-pattern", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(meta.Size())); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size pattern buffer: %w", err)
	}
	return &PatternBuffer{fd: fd, meta: meta, row: make([]byte, meta.Stride)}, nil
}

func (p *PatternBuffer) FD() int           { return p.fd }
func (p *PatternBuffer) Meta() dmabuf.Meta { return p.meta }

// Draw renders colour bars scrolled horizontally by frame pixels.
func (p *PatternBuffer) Draw(frame int) error {
	for x := 0; x < p.meta.Width; x++ {
		binary.LittleEndian.PutUint32(p.row[x*4:], p.BarColor(x, frame))
	}
	for y := 0; y < p.meta.Height; y++ {
		if _, err := unix.Pwrite(p.fd, p.row, int64(p.meta.Offset+y*p.meta.Stride)); err != nil {
			return fmt.Errorf("draw row %d: %w", y, err)
		}
	}
	return nil
}

// BarColor returns the XRGB8888 value Draw writes at column x.
func (p *PatternBuffer) BarColor(x, frame int) uint32 {
	w := p.meta.Width
	barWidth := max(w/len(barColors), 1)
	return barColors[((x+frame)%w/barWidth)%len(barColors)]
}

func (p *PatternBuffer) Close() error {
	return unix.Close(p.fd)
}
