package sdlog

import (
	"bytes"
	"context"
	"errors"
	"io"

	daqcore "github.com/daqifi/daqifi-core"
)

func ctxError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return daqcore.NewError(daqcore.Timeout, op, err)
	}
	return daqcore.NewError(daqcore.Cancelled, op, err)
}

// Sentinel is the ASCII end-of-file marker the device's file-transfer
// channel appends after a log file's bytes (§6, §4.5).
const Sentinel = "__END_OF_FILE__"

const readChunkSize = 4096

// Reassemble copies bytes from src to sink up to (but excluding) the
// first occurrence of Sentinel, the way a device file-transfer read
// needs to strip the in-band EOF marker (C5). ctx governs both
// cancellation and the overall timeout: callers derive ctx with
// context.WithTimeout to bound how long they wait for the sentinel.
func Reassemble(ctx context.Context, src io.Reader, sink io.Writer, fileName string, progress ProgressSink) error {
	const op = "sdlog.Reassemble"
	sentinel := []byte(Sentinel)
	tailLen := len(sentinel) - 1

	var (
		tail         []byte
		bytesWritten int64
	)
	buf := make([]byte, readChunkSize)

	report := func() {
		if progress != nil {
			progress.Report(Progress{BytesRead: bytesWritten})
		}
	}
	defer report()

	for {
		if err := ctx.Err(); err != nil {
			return ctxError(op, err)
		}

		n, readErr := src.Read(buf)
		if n == 0 {
			// A zero-byte read (whether plain EOF or otherwise) means the
			// source ended before the sentinel was ever seen (§4.5).
			return daqcore.NewError(daqcore.Timeout, op, errors.New("source ended before the end-of-file sentinel was found"))
		}

		window := append(append(make([]byte, 0, len(tail)+n), tail...), buf[:n]...)
		if idx := bytes.Index(window, sentinel); idx >= 0 {
			if idx > 0 {
				if _, err := sink.Write(window[:idx]); err != nil {
					return daqcore.NewError(daqcore.Io, op, err)
				}
				bytesWritten += int64(idx)
			}
			report()
			return nil
		}

		if len(window) <= tailLen {
			tail = window
			continue
		}

		safe := window[:len(window)-tailLen]
		if _, err := sink.Write(safe); err != nil {
			return daqcore.NewError(daqcore.Io, op, err)
		}
		bytesWritten += int64(len(safe))
		tail = append(tail[:0], window[len(window)-tailLen:]...)
		report()

		if readErr != nil && readErr != io.EOF {
			return daqcore.NewError(daqcore.Io, op, readErr)
		}
	}
}
