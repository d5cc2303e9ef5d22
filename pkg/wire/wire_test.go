package wire

import (
	"bytes"
	"math"
	"testing"
)

func TestStateRoundTrip(t *testing.T) {
	in := GameState{
		Position:     [3]float32{12.5, -3.25, 880.0},
		Rotation:     [3]float32{0.1, -1.5707963, 3.1415926},
		CameraMode:   CameraMode_Free,
		RideProgress: 0.625,
		Timestamp:    123456789,
	}

	raw := SerializeState(in)
	if len(raw) != StateUpdateSize {
		t.Fatalf("expected %d byte state update, got %d", StateUpdateSize, len(raw))
	}

	out, err := DeserializeState(raw)
	if err != nil {
		t.Fatalf("DeserializeState returned error: %v", err)
	}

	if *out != in {
		t.Errorf("round trip mismatch: sent %+v, got %+v", in, *out)
	}
}

func TestStateWireLayout(t *testing.T) {
	// Byte-exact fixture: peers built against the original wire contract
	// must be able to read what we write.
	raw := SerializeState(GameState{
		Position:     [3]float32{1.0, 0, 0},
		Rotation:     [3]float32{0, 0, 0},
		CameraMode:   CameraMode_Ride,
		RideProgress: 0.5,
		Timestamp:    0x01020304,
	})

	expected := []byte{
		0x00,                   // STATE_UPDATE
		0x04, 0x03, 0x02, 0x01, // timestamp, little-endian
		0x00, 0x00, 0x80, 0x3f, // position.x = 1.0f
		0x00, 0x00, 0x00, 0x00, // position.y
		0x00, 0x00, 0x00, 0x00, // position.z
		0x00, 0x00, 0x00, 0x00, // rotation.x
		0x00, 0x00, 0x00, 0x00, // rotation.y
		0x00, 0x00, 0x00, 0x00, // rotation.z
		0x00,                   // cameraMode = ride
		0x00, 0x00, 0x00, 0x3f, // rideProgress = 0.5f
	}

	if !bytes.Equal(raw, expected) {
		t.Errorf("wire layout mismatch:\n got %v\nwant %v", raw, expected)
	}
}

func TestDeserializeStateShortBuffer(t *testing.T) {
	for size := 0; size < StateUpdateSize; size++ {
		buf := make([]byte, size)
		if _, err := DeserializeState(buf); err == nil {
			t.Fatalf("expected error for %d byte buffer, got none", size)
		}
	}
}

func TestDeserializeStateWrongType(t *testing.T) {
	raw := SerializeState(GameState{})
	raw[0] = uint8(MessageType_Ping)

	if _, err := DeserializeState(raw); err == nil {
		t.Error("expected error for non-state type byte, got none")
	}
}

func TestDeserializeStateBadCameraMode(t *testing.T) {
	raw := SerializeState(GameState{})
	raw[29] = 0x7f

	if _, err := DeserializeState(raw); err == nil {
		t.Error("expected error for out-of-range camera mode, got none")
	}
}

func TestEventRoundTripWithPayload(t *testing.T) {
	in := GameEvent{
		Type:      EventType_Photo,
		Timestamp: 42000,
		Data:      []byte(`{"creature":"giraffe","score":87}`),
	}

	out, err := DeserializeEvent(SerializeEvent(in))
	if err != nil {
		t.Fatalf("DeserializeEvent returned error: %v", err)
	}

	if out.Type != in.Type || out.Timestamp != in.Timestamp {
		t.Errorf("event metadata mismatch: sent %+v, got %+v", in, *out)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("event payload mismatch: sent %s, got %s", in.Data, out.Data)
	}
}

func TestEventRoundTripWithoutPayload(t *testing.T) {
	in := GameEvent{Type: EventType_CreatureInteraction, Timestamp: 99}

	raw := SerializeEvent(in)
	if len(raw) != EventHeaderSize {
		t.Fatalf("expected %d byte event, got %d", EventHeaderSize, len(raw))
	}

	out, err := DeserializeEvent(raw)
	if err != nil {
		t.Fatalf("DeserializeEvent returned error: %v", err)
	}
	if out.Type != in.Type || out.Timestamp != in.Timestamp || out.Data != nil {
		t.Errorf("expected payload-free event %+v, got %+v", in, *out)
	}
}

func TestEventMalformedPayloadDropped(t *testing.T) {
	raw := SerializeEvent(GameEvent{Type: EventType_Photo, Timestamp: 7})
	raw = append(raw, []byte(`{"unterminated":`)...)

	out, err := DeserializeEvent(raw)
	if err != nil {
		t.Fatalf("malformed payload should not fail the event, got: %v", err)
	}
	if out.Data != nil {
		t.Errorf("expected malformed payload to be dropped, got %q", out.Data)
	}
	if out.Type != EventType_Photo || out.Timestamp != 7 {
		t.Errorf("event metadata not preserved: %+v", *out)
	}

	raw = SerializeEvent(GameEvent{Type: EventType_Photo, Timestamp: 7})
	raw = append(raw, 0xff, 0xfe, 0xfd) // invalid UTF-8
	out, err = DeserializeEvent(raw)
	if err != nil {
		t.Fatalf("invalid UTF-8 payload should not fail the event, got: %v", err)
	}
	if out.Data != nil {
		t.Errorf("expected invalid UTF-8 payload to be dropped, got %v", out.Data)
	}
}

func TestPongEchoesPingTimestamp(t *testing.T) {
	ping, err := DeserializePingPong(SerializePing(4242, 12345.678))
	if err != nil {
		t.Fatalf("DeserializePingPong(ping) returned error: %v", err)
	}
	if ping.Type != MessageType_Ping {
		t.Fatalf("expected ping type, got %d", ping.Type)
	}

	pong, err := DeserializePingPong(SerializePong(ping.WallTimestamp, ping.HighResMillis))
	if err != nil {
		t.Fatalf("DeserializePingPong(pong) returned error: %v", err)
	}

	if pong.Type != MessageType_Pong {
		t.Fatalf("expected pong type, got %d", pong.Type)
	}
	if pong.HighResMillis != 12345.678 {
		t.Errorf("pong must echo the ping timestamp exactly: sent 12345.678, got %v", pong.HighResMillis)
	}
	if pong.WallTimestamp != 4242 {
		t.Errorf("pong must echo the wall timestamp: sent 4242, got %d", pong.WallTimestamp)
	}
}

func TestPeekMessageType(t *testing.T) {
	cases := []struct {
		name string
		msg  []byte
		want MessageType
	}{
		{"empty", []byte{}, MessageType_NONE},
		{"state", SerializeState(GameState{}), MessageType_StateUpdate},
		{"event", SerializeEvent(GameEvent{}), MessageType_GameEvent},
		{"ping", SerializePing(0, 0), MessageType_Ping},
		{"pong", SerializePong(0, 0), MessageType_Pong},
		{"unknown", []byte{0x09, 0x01}, MessageType_NONE},
		{"high bit", []byte{0xff}, MessageType_NONE},
	}

	for _, tc := range cases {
		if got := PeekMessageType(tc.msg); got != tc.want {
			t.Errorf("%s: PeekMessageType = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestStateFloatPrecision(t *testing.T) {
	in := GameState{
		Position: [3]float32{float32(math.Pi), 1e-7, 3.4e38},
	}

	out, err := DeserializeState(SerializeState(in))
	if err != nil {
		t.Fatalf("DeserializeState returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if out.Position[i] != in.Position[i] {
			t.Errorf("position[%d] not bit-preserved: sent %v, got %v", i, in.Position[i], out.Position[i])
		}
	}
}
