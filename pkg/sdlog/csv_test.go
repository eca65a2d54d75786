package sdlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSVCommentHeaderAndRows(t *testing.T) {
	data := []byte("# Device: Nyquist1\n" +
		"# Serial Number: 123456\n" +
		"# Timestamp Tick Rate: 1000 Hz\n" +
		"AI0 Tick,AI0 Value,AI1 Tick,AI1 Value\n" +
		"0,1.1,0,2.2\n" +
		"1000,1.2,1000,2.3\n")

	session, err := ParseCSV(data, "f.csv", Options{})
	require.NoError(t, err)

	require.NotNil(t, session.Configuration)
	assert.Equal(t, "Nyquist1", session.Configuration.DevicePartNumber)
	assert.Equal(t, "123456", session.Configuration.DeviceSerialNumber)
	assert.EqualValues(t, 1000, session.Configuration.TickFrequencyHz)
	assert.Equal(t, 2, session.Configuration.AnalogPortCount)

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
	assert.Equal(t, []float64{1.1, 2.2}, samples[0].AnalogValues)
	assert.Equal(t, []float64{1.2, 2.3}, samples[1].AnalogValues)
	assert.True(t, samples[0].HasAnalogTimestamps)
	assert.Equal(t, []uint64{0, 0}, samples[0].AnalogTimestamps)
}

func TestParseCSVSkipsMalformedRows(t *testing.T) {
	data := []byte("AI0 Tick,AI0 Value\n" +
		"0,1.0\n" +
		"not-a-tick,2.0\n" +
		"100,not-a-value\n" +
		"200,3.0\n")

	session, err := ParseCSV(data, "f.csv", Options{})
	require.NoError(t, err)

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
	assert.Equal(t, []float64{3.0}, samples[1].AnalogValues)
}

func TestParseCSVNoCommentHeader(t *testing.T) {
	data := []byte("AI0 Tick,AI0 Value\n0,5.0\n")
	session, err := ParseCSV(data, "f.csv", Options{})
	require.NoError(t, err)
	require.NotNil(t, session.Configuration)
	assert.Equal(t, 1, session.Configuration.AnalogPortCount)
	assert.Equal(t, "", session.Configuration.DevicePartNumber)
}

func TestParseCSVBlankAndEmptyInput(t *testing.T) {
	session, err := ParseCSV([]byte(""), "f.csv", Options{})
	require.NoError(t, err)
	_, ok, err := session.Samples.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, session.Configuration)
}

func TestParseCommentLineHelper(t *testing.T) {
	key, value, ok := parseCommentLine("# Device: Nyquist1")
	require.True(t, ok)
	assert.Equal(t, "Device", key)
	assert.Equal(t, "Nyquist1", value)

	_, _, ok = parseCommentLine("# no colon here")
	assert.False(t, ok)
}

func TestParseHzValueHelper(t *testing.T) {
	hz, ok := parseHzValue("12500 Hz")
	require.True(t, ok)
	assert.EqualValues(t, 12500, hz)

	_, ok = parseHzValue("")
	assert.False(t, ok)

	_, ok = parseHzValue("not-a-number")
	assert.False(t, ok)
}
