package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidMessageType struct {
	MessageName string
	Expected    uint8
	Actual      uint8
}

func (e *InvalidMessageType) Error() string {
	return fmt.Sprintf("Unexpected message type byte for %s: expected %d, got %d", e.MessageName, e.Expected, e.Actual)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type InvalidSignal struct {
	Reason string
}

func (e *InvalidSignal) Error() string {
	return fmt.Sprintf("Invalid signaling payload: %s", e.Reason)
}

type ConnectionTimeout struct {
	TimeoutMs int64
}

func (e *ConnectionTimeout) Error() string {
	return fmt.Sprintf("Connection not established within %dms", e.TimeoutMs)
}

type SendFailure struct {
	Cause error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("Failed to transmit payload to peer: %v", e.Cause)
}

func (e *SendFailure) Unwrap() error {
	return e.Cause
}
