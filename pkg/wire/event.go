package wire

import (
	"encoding/binary"
	"encoding/json"
	"unicode/utf8"

	"github.com/photosafari/peerlink/pkg/errors"
)

type EventType uint8

const (
	EventType_Photo               EventType = 0x0
	EventType_CreatureInteraction EventType = 0x1
)

// GameEvent is a discrete occurrence (photo taken, creature prodded), as
// opposed to continuous camera state. Data, when present, is a UTF-8 JSON
// payload that is opaque to the netcode.
type GameEvent struct {
	Type      EventType
	Timestamp uint32
	Data      []byte
}

// GAME_EVENT layout: type(1) timestamp(4) eventType(1) [json payload]
const EventHeaderSize = 6

func SerializeEvent(event GameEvent) []byte {
	out := make([]byte, 0, EventHeaderSize+len(event.Data))

	out = append(out, uint8(MessageType_GameEvent))
	out = binary.LittleEndian.AppendUint32(out, event.Timestamp)
	out = append(out, uint8(event.Type))

	return append(out, event.Data...)
}

// DeserializeEvent parses a GAME_EVENT datagram. A trailing payload that
// is not valid UTF-8 JSON is dropped while the event itself still decodes:
// the type and timestamp are worth keeping even when the payload is not.
func DeserializeEvent(msg []byte) (*GameEvent, error) {
	if len(msg) < EventHeaderSize {
		return nil, &errors.Underflow{
			MessageName: "GameEvent",
			MsgSize:     len(msg),
			MinimumSize: EventHeaderSize,
		}
	}

	if msg[0] != uint8(MessageType_GameEvent) {
		return nil, &errors.InvalidMessageType{
			MessageName: "GameEvent",
			Expected:    uint8(MessageType_GameEvent),
			Actual:      msg[0],
		}
	}

	eventTypeByte := msg[5]
	if eventTypeByte > uint8(EventType_CreatureInteraction) {
		return nil, &errors.InvalidEnumValue{
			EnumName: "EventType",
			IntValue: eventTypeByte,
		}
	}

	event := &GameEvent{
		Type:      EventType(eventTypeByte),
		Timestamp: binary.LittleEndian.Uint32(msg[1:5]),
	}

	if len(msg) > EventHeaderSize {
		payload := msg[EventHeaderSize:]
		if utf8.Valid(payload) && json.Valid(payload) {
			event.Data = make([]byte, len(payload))
			copy(event.Data, payload)
		}
	}

	return event, nil
}
