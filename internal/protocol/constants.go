package protocol

// Header: [4B type][4B payload length], native endian.
const HeaderSize = 8

// DataSize is the fixed size of an encoded MessageData payload.
// Layout: tag@0 width@4 height@8 refresh@12 format@16 pad@20
// modifiers@24 stride@32 offset@36.
const DataSize = 40

// MaxPayloadSize is the largest payload a peer may declare.
const MaxPayloadSize = DataSize

// MessageType identifies the framing class of a message.
type MessageType uint32

const (
	MsgFailed         MessageType = 0
	MsgData           MessageType = 1
	MsgDataNeedsReply MessageType = 2
	MsgDataReply      MessageType = 3
	MsgFD             MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MsgFailed:
		return "FAILED"
	case MsgData:
		return "DATA"
	case MsgDataNeedsReply:
		return "DATA_NEEDS_REPLY"
	case MsgDataReply:
		return "DATA_REPLY"
	case MsgFD:
		return "FD"
	default:
		return "unknown"
	}
}

// Tag identifies the meaning of a MessageData payload.
type Tag uint32

const (
	TagHello            Tag = 0
	TagAskForResolution Tag = 1
	TagHaveResolution   Tag = 2
	TagHaveBuffer       Tag = 3
)

func (t Tag) String() string {
	switch t {
	case TagHello:
		return "HELLO"
	case TagAskForResolution:
		return "ASK_FOR_RESOLUTION"
	case TagHaveResolution:
		return "HAVE_RESOLUTION"
	case TagHaveBuffer:
		return "HAVE_BUFFER"
	default:
		return "unknown"
	}
}
