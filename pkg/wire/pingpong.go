package wire

import (
	"encoding/binary"
	"math"

	"github.com/photosafari/peerlink/pkg/errors"
)

// PING/PONG layout: type(1) wallTimestamp(4) highResTimestamp(8)
//
// The u32 wall timestamp matches the other messages; the f64 carries a
// high-resolution monotonic clock reading so the ping sender can compute
// sub-millisecond round-trip times. A PONG echoes the f64 it received
// verbatim, which means RTT needs no shared clock between peers.
const PingPongSize = 13

type PingPong struct {
	Type          MessageType // MessageType_Ping or MessageType_Pong
	WallTimestamp uint32
	HighResMillis float64
}

func SerializePing(wallTimestamp uint32, highResMillis float64) []byte {
	return serializePingPong(MessageType_Ping, wallTimestamp, highResMillis)
}

func SerializePong(wallTimestamp uint32, highResMillis float64) []byte {
	return serializePingPong(MessageType_Pong, wallTimestamp, highResMillis)
}

func serializePingPong(msgType MessageType, wallTimestamp uint32, highResMillis float64) []byte {
	out := make([]byte, 0, PingPongSize)

	out = append(out, uint8(msgType))
	out = binary.LittleEndian.AppendUint32(out, wallTimestamp)
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(highResMillis))

	return out
}

func DeserializePingPong(msg []byte) (*PingPong, error) {
	if len(msg) < PingPongSize {
		return nil, &errors.Underflow{
			MessageName: "PingPong",
			MsgSize:     len(msg),
			MinimumSize: PingPongSize,
		}
	}

	msgType := headerIdToMessageType(msg[0])
	if msgType != MessageType_Ping && msgType != MessageType_Pong {
		return nil, &errors.InvalidMessageType{
			MessageName: "PingPong",
			Expected:    uint8(MessageType_Ping),
			Actual:      msg[0],
		}
	}

	return &PingPong{
		Type:          msgType,
		WallTimestamp: binary.LittleEndian.Uint32(msg[1:5]),
		HighResMillis: math.Float64frombits(binary.LittleEndian.Uint64(msg[5:13])),
	}, nil
}
