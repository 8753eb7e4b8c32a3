package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/krystian-wojtas/skydive/internal/message"
)

// Field numbers shared by message and control bodies.
const (
	fieldType      protowire.Number = 1
	fieldCommand   protowire.Number = 2
	fieldParameter protowire.Number = 3
	fieldPayload   protowire.Number = 4
	fieldRoll      protowire.Number = 5
	fieldPitch     protowire.Number = 6
	fieldYaw       protowire.Number = 7
	fieldThrottle  protowire.Number = 8
	fieldControl   protowire.Number = 9
	fieldSeq       protowire.Number = 10
)

// ErrInvalidPacketFormat is returned for bodies that do not parse.
var ErrInvalidPacketFormat = errors.New("invalid packet format")

// EncodeMessage serializes a signal message.
func EncodeMessage(msg message.Message) []byte {
	var b []byte
	b = appendVarint(b, fieldType, uint64(msg.Type()))
	if msg.Command() != message.CommandUnknown {
		b = appendVarint(b, fieldCommand, uint64(msg.Command()))
	}
	if msg.Parameter() != message.ParamNone {
		b = appendVarint(b, fieldParameter, uint64(msg.Parameter()))
	}
	if payload := msg.Payload(); len(payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	return b
}

// EncodeControl serializes a control frame.
func EncodeControl(data message.ControlData) []byte {
	var b []byte
	b = appendVarint(b, fieldType, uint64(message.MessageControl))
	b = appendFloat(b, fieldRoll, data.Roll)
	b = appendFloat(b, fieldPitch, data.Pitch)
	b = appendFloat(b, fieldYaw, data.Yaw)
	b = appendFloat(b, fieldThrottle, data.Throttle)
	b = appendVarint(b, fieldControl, uint64(data.Command))
	b = appendVarint(b, fieldSeq, uint64(data.Seq))
	return b
}

// body is the union of every field a frame can carry.
type body struct {
	typ     message.MessageType
	command message.Command
	param   message.Parameter
	payload []byte
	floats  [4]float32
	control message.ControlCommand
	seq     uint32
}

// DecodeMessage parses a device message. Control frames are rejected.
func DecodeMessage(b []byte) (message.Message, error) {
	fields, err := decode(b)
	if err != nil {
		return message.Message{}, err
	}
	switch fields.typ {
	case message.MessageSignalData, message.MessageSignalPayload:
		return message.New(fields.typ, fields.command, fields.param, fields.payload), nil
	default:
		return message.Message{}, fmt.Errorf("%w: message type %s", ErrInvalidPacketFormat, fields.typ)
	}
}

// DecodeControl parses a control frame.
func DecodeControl(b []byte) (message.ControlData, error) {
	fields, err := decode(b)
	if err != nil {
		return message.ControlData{}, err
	}
	if fields.typ != message.MessageControl {
		return message.ControlData{}, fmt.Errorf("%w: message type %s", ErrInvalidPacketFormat, fields.typ)
	}
	return message.ControlData{
		Roll:     fields.floats[0],
		Pitch:    fields.floats[1],
		Yaw:      fields.floats[2],
		Throttle: fields.floats[3],
		Command:  fields.control,
		Seq:      fields.seq,
	}, nil
}

func decode(b []byte) (body, error) {
	var out body

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return body{}, fmt.Errorf("%w: %v", ErrInvalidPacketFormat, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case fieldType:
				out.typ = message.MessageType(v)
			case fieldCommand:
				out.command = message.Command(v)
			case fieldParameter:
				out.param = message.Parameter(v)
			case fieldControl:
				out.control = message.ControlCommand(v)
			case fieldSeq:
				out.seq = uint32(v)
			}
		case typ == protowire.BytesType && num == fieldPayload:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			out.payload = v
		case typ == protowire.Fixed32Type && num >= fieldRoll && num <= fieldThrottle:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			out.floats[num-fieldRoll] = math.Float32frombits(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return body{}, fmt.Errorf("%w: field %d: %v", ErrInvalidPacketFormat, num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	return out, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}
