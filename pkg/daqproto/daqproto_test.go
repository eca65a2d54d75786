package daqproto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// builder assembles an "out" message payload field by field, the way a
// real device encoder would, for use as decode test fixtures.
type builder struct {
	buf []byte
}

func (b *builder) varint(num protowire.Number, v uint64) *builder {
	b.buf = protowire.AppendTag(b.buf, num, protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, v)
	return b
}

func (b *builder) bytesField(num protowire.Number, v []byte) *builder {
	b.buf = protowire.AppendTag(b.buf, num, protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, v)
	return b
}

func (b *builder) stringField(num protowire.Number, v string) *builder {
	return b.bytesField(num, []byte(v))
}

func (b *builder) packedFloats(num protowire.Number, vals []float32) *builder {
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return b.bytesField(num, packed)
}

func (b *builder) packedVarints(num protowire.Number, vals []uint64) *builder {
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, v)
	}
	return b.bytesField(num, packed)
}

func TestDecodeSampleMessage(t *testing.T) {
	b := &builder{}
	b.varint(fieldMsgTimestamp, 1000).
		packedFloats(fieldAnalogInDataFloat, []float32{1.5, 2.5}).
		bytesField(fieldDigitalData, []byte{0x01, 0x02}).
		varint(fieldAnalogInPortNum, 2).
		varint(fieldTimestampFreq, 80_000_000)

	msg, err := Decode(b.buf)
	require.NoError(t, err)
	assert.True(t, msg.HasMsgTimestamp)
	assert.EqualValues(t, 1000, msg.MsgTimestamp)
	assert.Equal(t, []float32{1.5, 2.5}, msg.AnalogInDataFloat)
	assert.Equal(t, []byte{0x01, 0x02}, msg.DigitalData)
	assert.True(t, msg.HasTimestampFreq)
	assert.EqualValues(t, 80_000_000, msg.TimestampFreq)
}

func TestDecodeIntegerAnalogFallback(t *testing.T) {
	b := &builder{}
	b.packedVarints(fieldAnalogInData, []uint64{10, 20, 30})

	msg, err := Decode(b.buf)
	require.NoError(t, err)
	assert.Empty(t, msg.AnalogInDataFloat)
	assert.Equal(t, []uint64{10, 20, 30}, msg.AnalogInData)
}

func TestDecodeConfigOnlyMessage(t *testing.T) {
	b := &builder{}
	b.stringField(fieldDevicePn, "Nyquist1").
		stringField(fieldDeviceFwRev, "3.2.0").
		varint(fieldDeviceSn, 123456789)

	msg, err := Decode(b.buf)
	require.NoError(t, err)
	assert.Equal(t, "Nyquist1", msg.DevicePn)
	assert.Equal(t, "3.2.0", msg.DeviceFwRev)
	assert.True(t, msg.HasDeviceSn)
	assert.EqualValues(t, 123456789, msg.DeviceSn)
	assert.False(t, msg.HasMsgTimestamp)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b := &builder{}
	b.varint(99, 42). // unknown field number, must be skipped
				varint(fieldMsgTimestamp, 7)

	msg, err := Decode(b.buf)
	require.NoError(t, err)
	assert.True(t, msg.HasMsgTimestamp)
	assert.EqualValues(t, 7, msg.MsgTimestamp)
}

func TestDecodeTruncatedVarintFails(t *testing.T) {
	b := &builder{}
	b.buf = protowire.AppendTag(b.buf, fieldMsgTimestamp, protowire.VarintType)
	b.buf = append(b.buf, 0xFF) // incomplete varint: high bit set, stream ends

	_, err := Decode(b.buf)
	require.Error(t, err)
}

func TestDecodeCalibrationTable(t *testing.T) {
	b := &builder{}
	b.packedFloats(fieldAnalogInCalM, []float32{1.0, 1.1}).
		packedFloats(fieldAnalogInCalB, []float32{0.0, 0.1})

	msg, err := Decode(b.buf)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.0, 1.1}, msg.AnalogInCalM)
	assert.Equal(t, []float32{0.0, 0.1}, msg.AnalogInCalB)
}
