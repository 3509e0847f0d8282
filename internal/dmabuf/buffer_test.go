package dmabuf

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func newFD(t *testing.T) int {
	t.Helper()
	fd, err := unix.MemfdCreate("dmabuf-test", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatal(err)
	}
	return fd
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return !errors.Is(err, unix.EBADF)
}

func TestCloseReleasesOnce(t *testing.T) {
	fd := newFD(t)
	b := New(fd, Meta{Width: 4, Height: 4, Stride: 16})

	if got := b.FD(); got != fd {
		t.Fatalf("FD: got %d, want %d", got, fd)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if isOpen(fd) {
		t.Fatal("descriptor still open after Close")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if b.FD() >= 0 {
		t.Fatal("closed buffer reports valid")
	}
}

func TestTakeTransfersOwnership(t *testing.T) {
	fd := newFD(t)
	b := New(fd, Meta{})

	got, ok := b.Take()
	if !ok || got != fd {
		t.Fatalf("Take: got (%d, %v), want (%d, true)", got, ok, fd)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !isOpen(fd) {
		t.Fatal("Close must not release a taken descriptor")
	}
	unix.Close(fd)

	if _, ok := b.Take(); ok {
		t.Fatal("second Take must fail")
	}
}

func TestInvalidDescriptor(t *testing.T) {
	b := New(-1, Meta{})
	if b.FD() >= 0 {
		t.Fatal("negative descriptor reports valid")
	}
	if _, ok := b.Take(); ok {
		t.Fatal("Take on invalid descriptor must fail")
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMeta(t *testing.T) {
	m := Meta{Width: 1920, Height: 1080, Format: FormatXRGB8888, Stride: 7680, Offset: 128}
	if got, want := m.Size(), 128+7680*1080; got != want {
		t.Fatalf("Size: got %d, want %d", got, want)
	}
	if got := m.FourCC(); got != "XR24" {
		t.Fatalf("FourCC: got %q, want XR24", got)
	}
}
