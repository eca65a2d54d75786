package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCcittSingle(t *testing.T) {
	crc := CRC16(0)
	crc.Single(10)
	assert.EqualValues(t, 0xA14A, crc)
}

func TestComputeVector(t *testing.T) {
	assert.EqualValues(t, 0x31C3, Compute([]byte("123456789")))
}

func TestComputeEmpty(t *testing.T) {
	assert.EqualValues(t, 0, Compute(nil))
}

func TestWriteMatchesCompute(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0xAA, 0xBB, 0xCC}
	var running CRC16
	n, err := running.Write(data)
	assert.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.EqualValues(t, Compute(data), running)
}
