package wire

import (
	"encoding/binary"
	"math"

	"github.com/photosafari/peerlink/pkg/errors"
)

type CameraMode uint8

const (
	CameraMode_Ride CameraMode = 0x0
	CameraMode_Free CameraMode = 0x1
)

// GameState is one snapshot of a player's camera rig, the unit of state
// synchronization. Instances are immutable value snapshots: the codec and
// synchronizer only ever read and copy them.
type GameState struct {
	Position     [3]float32
	Rotation     [3]float32 // Euler angles, radians
	CameraMode   CameraMode
	RideProgress float32 // [0,1] fraction along the ride path
	Timestamp    uint32  // milliseconds, wraps at ~49.7 days
}

// STATE_UPDATE layout:
//
//	type(1) timestamp(4) position(12) rotation(12) cameraMode(1) rideProgress(4)
const StateUpdateSize = 34

func SerializeState(state GameState) []byte {
	out := make([]byte, 0, StateUpdateSize)

	out = append(out, uint8(MessageType_StateUpdate))
	out = binary.LittleEndian.AppendUint32(out, state.Timestamp)
	for i := 0; i < 3; i++ {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(state.Position[i]))
	}
	for i := 0; i < 3; i++ {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(state.Rotation[i]))
	}
	out = append(out, uint8(state.CameraMode))
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(state.RideProgress))

	return out
}

func DeserializeState(msg []byte) (*GameState, error) {
	if len(msg) < StateUpdateSize {
		return nil, &errors.Underflow{
			MessageName: "StateUpdate",
			MsgSize:     len(msg),
			MinimumSize: StateUpdateSize,
		}
	}

	if msg[0] != uint8(MessageType_StateUpdate) {
		return nil, &errors.InvalidMessageType{
			MessageName: "StateUpdate",
			Expected:    uint8(MessageType_StateUpdate),
			Actual:      msg[0],
		}
	}

	state := &GameState{}
	state.Timestamp = binary.LittleEndian.Uint32(msg[1:5])

	readPtr := 5
	for i := 0; i < 3; i++ {
		state.Position[i] = math.Float32frombits(binary.LittleEndian.Uint32(msg[readPtr : readPtr+4]))
		readPtr += 4
	}
	for i := 0; i < 3; i++ {
		state.Rotation[i] = math.Float32frombits(binary.LittleEndian.Uint32(msg[readPtr : readPtr+4]))
		readPtr += 4
	}

	modeByte := msg[readPtr]
	readPtr++
	if modeByte > uint8(CameraMode_Free) {
		return nil, &errors.InvalidEnumValue{
			EnumName: "CameraMode",
			IntValue: modeByte,
		}
	}
	state.CameraMode = CameraMode(modeByte)
	state.RideProgress = math.Float32frombits(binary.LittleEndian.Uint32(msg[readPtr : readPtr+4]))

	return state, nil
}
