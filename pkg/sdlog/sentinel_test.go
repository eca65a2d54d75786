package sdlog

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader serves src in fixed-size chunks, the way a transport
// delivering bytes in bounded reads would.
type chunkedReader struct {
	data      []byte
	chunkSize int
	pos       int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.chunkSize
	if n > len(p) {
		n = len(p)
	}
	remaining := len(r.data) - r.pos
	if n > remaining {
		n = remaining
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func TestReassembleSplitSentinel(t *testing.T) {
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	src := &chunkedReader{data: append(append([]byte{}, payload...), []byte(Sentinel)...), chunkSize: 5}

	var sink bytes.Buffer
	err := Reassemble(context.Background(), src, &sink, "log_20240101_000000.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, payload, sink.Bytes())
}

func TestReassembleSentinelAtExactBoundary(t *testing.T) {
	payload := []byte("hello world")
	src := bytes.NewReader(append(append([]byte{}, payload...), []byte(Sentinel)...))

	var sink bytes.Buffer
	err := Reassemble(context.Background(), src, &sink, "f.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, payload, sink.Bytes())
}

func TestReassemblePrefixLikeSentinelIsFlushed(t *testing.T) {
	// "__END_OF_FIL" (prefix of the sentinel) followed by unrelated bytes
	// that break the match must reach the sink once disambiguated, rather
	// than being held back indefinitely as a possible sentinel.
	payload := []byte("__END_OF_FILx and then more data, long enough to force a flush")
	src := bytes.NewReader(payload)

	var sink bytes.Buffer
	err := Reassemble(context.Background(), src, &sink, "f.bin", nil)
	require.Error(t, err) // no real sentinel present -> runs off the end -> Timeout
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.Timeout, kind)
	assert.Contains(t, string(sink.Bytes()), "__END_OF_FILx and then more")
}

func TestReassembleNoSentinelTimesOut(t *testing.T) {
	src := bytes.NewReader([]byte("no sentinel here"))
	var sink bytes.Buffer
	err := Reassemble(context.Background(), src, &sink, "f.bin", nil)
	require.Error(t, err)
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.Timeout, kind)
}

func TestReassembleCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := bytes.NewReader([]byte("abc" + Sentinel))
	var sink bytes.Buffer
	err := Reassemble(ctx, src, &sink, "f.bin", nil)
	require.Error(t, err)
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.Cancelled, kind)
}

func TestReassembleReportsProgress(t *testing.T) {
	src := bytes.NewReader([]byte("abcdef" + Sentinel))
	var sink bytes.Buffer
	var reports []Progress
	err := Reassemble(context.Background(), src, &sink, "f.bin",
		ProgressFunc(func(p Progress) { reports = append(reports, p) }))
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.EqualValues(t, 6, reports[len(reports)-1].BytesRead)
}

func TestReassembleDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	time.Sleep(20 * time.Millisecond)
	src := bytes.NewReader([]byte("abc" + Sentinel))
	var sink bytes.Buffer
	err := Reassemble(ctx, src, &sink, "f.bin", nil)
	require.Error(t, err)
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.Timeout, kind)
}
