// Package daqproto decodes the device "out" streaming message without a
// generated .pb.go: only the field subset the SD-card binary parser
// needs (see the wire format in SPEC_FULL.md's SD binary message
// framing section) is pulled out, via protowire directly. Unknown
// field numbers are skipped, giving forward compatibility with newer
// device firmware that adds fields the core doesn't understand yet.
package daqproto

import (
	"fmt"
	"math"

	daqcore "github.com/daqifi/daqifi-core"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the device "out" message subset this package
// understands. Chosen as an internal convention (spec.md does not fix
// wire numbers); consistent between encode helpers used in tests and
// the decoder below.
const (
	fieldMsgTimestamp      = 1
	fieldAnalogInDataFloat = 2
	fieldAnalogInData      = 3
	fieldAnalogInDataTs    = 4
	fieldDigitalData       = 5
	fieldAnalogInPortNum   = 6
	fieldDigitalPortNum    = 7
	fieldTimestampFreq     = 8
	fieldDeviceFwRev       = 9
	fieldDevicePn          = 10
	fieldDeviceSn          = 11
	fieldAnalogInCalM      = 12
	fieldAnalogInCalB      = 13
)

// OutMessage is the decoded field subset of one device "out" message.
// Every field is optional; HasX flags distinguish "absent" from zero.
type OutMessage struct {
	HasMsgTimestamp bool
	MsgTimestamp    uint32

	AnalogInDataFloat []float32
	AnalogInData      []uint64
	AnalogInDataTs     []uint64

	HasDigitalData bool
	DigitalData    []byte

	HasAnalogInPortNum bool
	AnalogInPortNum    uint32

	HasDigitalPortNum bool
	DigitalPortNum    uint32

	HasTimestampFreq bool
	TimestampFreq    uint32

	DeviceFwRev string
	DevicePn    string

	HasDeviceSn bool
	DeviceSn    uint64

	AnalogInCalM []float32
	AnalogInCalB []float32
}

// Decode parses a single "out" message payload (already stripped of its
// length prefix) into an OutMessage, skipping any field number this
// package does not recognize.
func Decode(payload []byte) (OutMessage, error) {
	var msg OutMessage
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return OutMessage{}, daqcore.NewError(daqcore.MalformedRecord, "daqproto.Decode",
				fmt.Errorf("invalid field tag: %w", protowire.ParseError(n)))
		}
		b = b[n:]

		switch num {
		case fieldMsgTimestamp:
			v, m, err := consumeVarint(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.HasMsgTimestamp = true
			msg.MsgTimestamp = uint32(v)
			b = b[m:]
		case fieldAnalogInDataFloat:
			vals, m, err := consumePackedFixed32Floats(b, typ)
			if err != nil {
				return OutMessage{}, err
			}
			msg.AnalogInDataFloat = append(msg.AnalogInDataFloat, vals...)
			b = b[m:]
		case fieldAnalogInData:
			vals, m, err := consumePackedVarints(b, typ)
			if err != nil {
				return OutMessage{}, err
			}
			msg.AnalogInData = append(msg.AnalogInData, vals...)
			b = b[m:]
		case fieldAnalogInDataTs:
			vals, m, err := consumePackedVarints(b, typ)
			if err != nil {
				return OutMessage{}, err
			}
			msg.AnalogInDataTs = append(msg.AnalogInDataTs, vals...)
			b = b[m:]
		case fieldDigitalData:
			v, m, err := consumeBytes(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.HasDigitalData = true
			msg.DigitalData = v
			b = b[m:]
		case fieldAnalogInPortNum:
			v, m, err := consumeVarint(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.HasAnalogInPortNum = true
			msg.AnalogInPortNum = uint32(v)
			b = b[m:]
		case fieldDigitalPortNum:
			v, m, err := consumeVarint(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.HasDigitalPortNum = true
			msg.DigitalPortNum = uint32(v)
			b = b[m:]
		case fieldTimestampFreq:
			v, m, err := consumeVarint(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.HasTimestampFreq = true
			msg.TimestampFreq = uint32(v)
			b = b[m:]
		case fieldDeviceFwRev:
			v, m, err := consumeBytes(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.DeviceFwRev = string(v)
			b = b[m:]
		case fieldDevicePn:
			v, m, err := consumeBytes(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.DevicePn = string(v)
			b = b[m:]
		case fieldDeviceSn:
			v, m, err := consumeVarint(b)
			if err != nil {
				return OutMessage{}, err
			}
			msg.HasDeviceSn = true
			msg.DeviceSn = v
			b = b[m:]
		case fieldAnalogInCalM:
			vals, m, err := consumePackedFixed32Floats(b, typ)
			if err != nil {
				return OutMessage{}, err
			}
			msg.AnalogInCalM = append(msg.AnalogInCalM, vals...)
			b = b[m:]
		case fieldAnalogInCalB:
			vals, m, err := consumePackedFixed32Floats(b, typ)
			if err != nil {
				return OutMessage{}, err
			}
			msg.AnalogInCalB = append(msg.AnalogInCalB, vals...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return OutMessage{}, daqcore.NewError(daqcore.MalformedRecord, "daqproto.Decode",
					fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(m)))
			}
			b = b[m:]
		}
	}
	return msg, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, daqcore.NewError(daqcore.MalformedRecord, "daqproto.consumeVarint",
			fmt.Errorf("invalid varint: %w", protowire.ParseError(n)))
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, daqcore.NewError(daqcore.MalformedRecord, "daqproto.consumeBytes",
			fmt.Errorf("invalid length-delimited field: %w", protowire.ParseError(n)))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

// consumePackedVarints accepts both the packed wire form (length-delimited
// containing a run of varints) and the repeated-scalar wire form (one
// varint per field occurrence), since either is a legal protobuf
// encoding for a repeated numeric field.
func consumePackedVarints(b []byte, typ protowire.Type) ([]uint64, int, error) {
	if typ == protowire.VarintType {
		v, n, err := consumeVarint(b)
		if err != nil {
			return nil, 0, err
		}
		return []uint64{v}, n, nil
	}
	packed, n, err := consumeBytes(b)
	if err != nil {
		return nil, 0, err
	}
	var out []uint64
	rest := packed
	for len(rest) > 0 {
		v, m := protowire.ConsumeVarint(rest)
		if m < 0 {
			return nil, 0, daqcore.NewError(daqcore.MalformedRecord, "daqproto.consumePackedVarints",
				fmt.Errorf("invalid packed varint: %w", protowire.ParseError(m)))
		}
		out = append(out, v)
		rest = rest[m:]
	}
	return out, n, nil
}

// consumePackedFixed32Floats mirrors consumePackedVarints for packed (or
// repeated-scalar) fixed32 float fields.
func consumePackedFixed32Floats(b []byte, typ protowire.Type) ([]float32, int, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, 0, daqcore.NewError(daqcore.MalformedRecord, "daqproto.consumePackedFixed32Floats",
				fmt.Errorf("invalid fixed32: %w", protowire.ParseError(n)))
		}
		return []float32{fixed32ToFloat(v)}, n, nil
	}
	packed, n, err := consumeBytes(b)
	if err != nil {
		return nil, 0, err
	}
	if len(packed)%4 != 0 {
		return nil, 0, daqcore.NewError(daqcore.MalformedRecord, "daqproto.consumePackedFixed32Floats",
			fmt.Errorf("packed fixed32 payload length %d not a multiple of 4", len(packed)))
	}
	out := make([]float32, 0, len(packed)/4)
	rest := packed
	for len(rest) > 0 {
		v, m := protowire.ConsumeFixed32(rest)
		if m < 0 {
			return nil, 0, daqcore.NewError(daqcore.MalformedRecord, "daqproto.consumePackedFixed32Floats",
				fmt.Errorf("invalid packed fixed32: %w", protowire.ParseError(m)))
		}
		out = append(out, fixed32ToFloat(v))
		rest = rest[m:]
	}
	return out, n, nil
}

func fixed32ToFloat(bits uint32) float32 {
	return math.Float32frombits(bits)
}
