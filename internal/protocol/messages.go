package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortHeader  = errors.New("header too short")
	ErrShortPayload = errors.New("payload too short for message data")
)

// Header precedes every message on the wire.
type Header struct {
	Type   MessageType
	Length uint32 // payload bytes, excluding the header
}

// Data is the tagged payload carried by DATA, DATA_NEEDS_REPLY,
// DATA_REPLY and FD messages. Only the fields relevant to Tag are
// meaningful.
type Data struct {
	Tag         Tag
	Width       int32
	Height      int32
	RefreshRate int32

	Format    int32
	Modifiers uint64
	Stride    int32
	Offset    int32
}

// AppendHeader appends the encoded header to b.
func AppendHeader(b []byte, h Header) []byte {
	b = binary.NativeEndian.AppendUint32(b, uint32(h.Type))
	return binary.NativeEndian.AppendUint32(b, h.Length)
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Type:   MessageType(binary.NativeEndian.Uint32(b[0:4])),
		Length: binary.NativeEndian.Uint32(b[4:8]),
	}, nil
}

// Marshal encodes d into its fixed DataSize representation.
// The padding word after Format is always zero.
func (d *Data) Marshal() []byte {
	var b [DataSize]byte
	binary.NativeEndian.PutUint32(b[0:4], uint32(d.Tag))
	binary.NativeEndian.PutUint32(b[4:8], uint32(d.Width))
	binary.NativeEndian.PutUint32(b[8:12], uint32(d.Height))
	binary.NativeEndian.PutUint32(b[12:16], uint32(d.RefreshRate))
	binary.NativeEndian.PutUint32(b[16:20], uint32(d.Format))
	binary.NativeEndian.PutUint64(b[24:32], d.Modifiers)
	binary.NativeEndian.PutUint32(b[32:36], uint32(d.Stride))
	binary.NativeEndian.PutUint32(b[36:40], uint32(d.Offset))
	return b[:]
}

// Unmarshal decodes a payload produced by Marshal.
func (d *Data) Unmarshal(b []byte) error {
	if len(b) < DataSize {
		return fmt.Errorf("%w: %d < %d", ErrShortPayload, len(b), DataSize)
	}
	d.Tag = Tag(binary.NativeEndian.Uint32(b[0:4]))
	d.Width = int32(binary.NativeEndian.Uint32(b[4:8]))
	d.Height = int32(binary.NativeEndian.Uint32(b[8:12]))
	d.RefreshRate = int32(binary.NativeEndian.Uint32(b[12:16]))
	d.Format = int32(binary.NativeEndian.Uint32(b[16:20]))
	d.Modifiers = binary.NativeEndian.Uint64(b[24:32])
	d.Stride = int32(binary.NativeEndian.Uint32(b[32:36]))
	d.Offset = int32(binary.NativeEndian.Uint32(b[36:40]))
	return nil
}

// ParseData decodes a payload into a new Data.
func ParseData(b []byte) (*Data, error) {
	d := &Data{}
	if err := d.Unmarshal(b); err != nil {
		return nil, err
	}
	return d, nil
}
