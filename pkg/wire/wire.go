// Package wire implements the binary datagram format exchanged between
// safari peers over the data channel. All multi-byte fields are
// little-endian; the first byte of every message is its type discriminant.
package wire

type MessageType uint8

const (
	MessageType_StateUpdate MessageType = iota
	MessageType_GameEvent
	MessageType_Ping
	MessageType_Pong

	MessageType_NONE
)

func headerIdToMessageType(headerId uint8) MessageType {
	switch headerId {
	case 0x0:
		return MessageType_StateUpdate
	case 0x1:
		return MessageType_GameEvent
	case 0x2:
		return MessageType_Ping
	case 0x3:
		return MessageType_Pong
	}

	return MessageType_NONE
}

// PeekMessageType inspects byte 0 of a raw datagram without parsing the
// rest of it, so a dispatcher can branch before committing to a full
// deserialize. Empty buffers and unknown discriminants report
// MessageType_NONE rather than an error - garbage datagrams are dropped,
// not escalated.
func PeekMessageType(msg []byte) MessageType {
	if len(msg) == 0 {
		return MessageType_NONE
	}

	return headerIdToMessageType(msg[0])
}
