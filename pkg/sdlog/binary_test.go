package sdlog

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type msgBuilder struct {
	buf []byte
}

func (b *msgBuilder) varint(num protowire.Number, v uint64) *msgBuilder {
	b.buf = protowire.AppendTag(b.buf, num, protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, v)
	return b
}

func (b *msgBuilder) str(num protowire.Number, v string) *msgBuilder {
	b.buf = protowire.AppendTag(b.buf, num, protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, []byte(v))
	return b
}

func (b *msgBuilder) packedFloats(num protowire.Number, vals []float32) *msgBuilder {
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b.buf = protowire.AppendTag(b.buf, num, protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, packed)
	return b
}

// appendLengthPrefixed appends a varint32 length prefix followed by msg.
func appendLengthPrefixed(stream []byte, msg []byte) []byte {
	stream = protowire.AppendVarint(stream, uint64(len(msg)))
	return append(stream, msg...)
}

func TestParseBinaryScatteredConfigSpecVector(t *testing.T) {
	msgA := (&msgBuilder{}).
		varint(8, 80_000_000). // timestamp_freq
		varint(11, 123456789). // device_sn
		varint(1, 1000).       // msg_timestamp
		packedFloats(2, []float32{1.0}).
		buf
	msgB := (&msgBuilder{}).
		str(10, "Nyquist1"). // device_pn
		str(9, "3.2.0").     // device_fw_rev
		varint(1, 2000).
		packedFloats(2, []float32{2.0}).
		buf

	var stream []byte
	stream = appendLengthPrefixed(stream, msgA)
	stream = appendLengthPrefixed(stream, msgB)

	session, err := ParseBinary(stream, "log_20240101_000000.bin", Options{})
	require.NoError(t, err)
	require.NotNil(t, session.Configuration)
	assert.EqualValues(t, 80_000_000, session.Configuration.TickFrequencyHz)
	assert.Equal(t, "123456789", session.Configuration.DeviceSerialNumber)
	assert.Equal(t, "Nyquist1", session.Configuration.DevicePartNumber)
	assert.Equal(t, "3.2.0", session.Configuration.FirmwareRevision)

	var samples []Sample
	for {
		s, ok, err := session.Samples.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		samples = append(samples, s)
	}
	require.Len(t, samples, 2)
	assert.Equal(t, []float64{1.0}, samples[0].AnalogValues)
	assert.Equal(t, []float64{2.0}, samples[1].AnalogValues)
	assert.True(t, samples[1].Timestamp.After(samples[0].Timestamp) || samples[1].Timestamp.Equal(samples[0].Timestamp))
}

func TestParseBinaryIntegerFallback(t *testing.T) {
	msg := (&msgBuilder{}).varint(1, 500).buf
	msg = protowire.AppendTag(msg, 3, protowire.BytesType)
	var packed []byte
	packed = protowire.AppendVarint(packed, 10)
	packed = protowire.AppendVarint(packed, 20)
	msg = protowire.AppendBytes(msg, packed)

	var stream []byte
	stream = appendLengthPrefixed(stream, msg)

	session, err := ParseBinary(stream, "f.bin", Options{})
	require.NoError(t, err)
	s, ok, err := session.Samples.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{10, 20}, s.AnalogValues)
}

func TestParseBinaryStripsSentinel(t *testing.T) {
	msg := (&msgBuilder{}).varint(1, 1).packedFloats(2, []float32{1.0}).buf
	var stream []byte
	stream = appendLengthPrefixed(stream, msg)
	stream = append(stream, []byte(Sentinel)...)
	stream = append(stream, []byte{0xFF, 0xFF, 0xFF}...) // garbage after sentinel, must be ignored

	session, err := ParseBinary(stream, "f.bin", Options{})
	require.NoError(t, err)
	count := 0
	for {
		_, ok, err := session.Samples.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 1, count)
}

func TestParseBinaryTruncatedVarintTerminatesGracefully(t *testing.T) {
	msg := (&msgBuilder{}).varint(1, 1).packedFloats(2, []float32{1.0}).buf
	var stream []byte
	stream = appendLengthPrefixed(stream, msg)
	stream = append(stream, 0xFF) // dangling partial varint length prefix

	session, err := ParseBinary(stream, "f.bin", Options{})
	require.NoError(t, err)
	count := 0
	for {
		_, ok, err := session.Samples.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 1, count)
}

func TestParseBinaryHonorsSessionStartTime(t *testing.T) {
	start := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := (&msgBuilder{}).varint(1, 0).packedFloats(2, []float32{1.0}).buf
	var stream []byte
	stream = appendLengthPrefixed(stream, msg)

	session, err := ParseBinary(stream, "f.bin", Options{SessionStartTime: &start})
	require.NoError(t, err)
	s, ok, err := session.Samples.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, start, s.Timestamp)
}
