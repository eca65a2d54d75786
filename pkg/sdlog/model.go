// Package sdlog parses the three on-device SD-card log formats (binary
// length-prefixed protobuf, line-delimited JSON, and comment-headered
// CSV) into a common sample stream, plus the directory-listing and
// dispatcher helpers that sit in front of them.
package sdlog

import "time"

// Sample is one decoded log record (§3 "Log sample"). AnalogTimestamps,
// when present, has the same length as AnalogValues.
type Sample struct {
	Timestamp         time.Time
	AnalogValues      []float64
	AnalogTimestamps  []uint64
	HasAnalogTimestamps bool
	DigitalData       uint32
}

// CalibrationPoint is one channel's {slope, intercept} pair.
type CalibrationPoint struct {
	Slope     float64
	Intercept float64
}

// DeviceConfiguration is the union of configuration-like fields observed
// anywhere in a session (§3 "Device configuration (SD)").
type DeviceConfiguration struct {
	AnalogPortCount    int
	DigitalPortCount   int
	TickFrequencyHz    uint32
	FirmwareRevision   string
	DevicePartNumber   string
	DeviceSerialNumber string
	Calibration        []CalibrationPoint
}

// IsZero reports whether no configuration field has been observed, the
// way callers decide whether a session carries a configuration at all.
func (c DeviceConfiguration) IsZero() bool {
	return c.AnalogPortCount == 0 && c.DigitalPortCount == 0 && c.TickFrequencyHz == 0 &&
		c.FirmwareRevision == "" && c.DevicePartNumber == "" && c.DeviceSerialNumber == "" &&
		len(c.Calibration) == 0
}

// merge folds other into c using the precedence rules in §4.6: first
// non-empty string wins, first non-zero number wins.
func (c *DeviceConfiguration) merge(other DeviceConfiguration) {
	if c.AnalogPortCount == 0 {
		c.AnalogPortCount = other.AnalogPortCount
	}
	if c.DigitalPortCount == 0 {
		c.DigitalPortCount = other.DigitalPortCount
	}
	if c.TickFrequencyHz == 0 {
		c.TickFrequencyHz = other.TickFrequencyHz
	}
	if c.FirmwareRevision == "" {
		c.FirmwareRevision = other.FirmwareRevision
	}
	if c.DevicePartNumber == "" {
		c.DevicePartNumber = other.DevicePartNumber
	}
	if c.DeviceSerialNumber == "" {
		c.DeviceSerialNumber = other.DeviceSerialNumber
	}
	if len(c.Calibration) == 0 {
		c.Calibration = other.Calibration
	}
}

// Progress is reported at least once at parse completion, plus an
// implementation-chosen intermediate cadence (§4.10).
type Progress struct {
	BytesRead    int64
	MessagesRead int64
}

// ProgressSink receives Progress reports.
type ProgressSink interface {
	Report(Progress)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(Progress)

func (f ProgressFunc) Report(p Progress) { f(p) }

// SampleIterator is a pull-based, single-pass iterator of samples (§9
// "Coroutine-style asynchronous iterators"). Next returns (sample, true,
// nil) for each decoded sample, (zero, false, nil) at clean end of
// input, or (zero, false, err) on a terminal error.
type SampleIterator interface {
	Next() (Sample, bool, error)
}

// sliceIterator adapts a pre-decoded slice to SampleIterator, the shape
// every parser below actually produces (decoding happens eagerly since
// the inputs are bounded SD-card files, not unbounded streams).
type sliceIterator struct {
	samples []Sample
	idx     int
}

func (s *sliceIterator) Next() (Sample, bool, error) {
	if s.idx >= len(s.samples) {
		return Sample{}, false, nil
	}
	sample := s.samples[s.idx]
	s.idx++
	return sample, true, nil
}

// ParsedSession is the result of parsing one SD-card log file (§3
// "Parsed session"). Samples may be enumerated at most once.
type ParsedSession struct {
	FileName      string
	CreatedDate   *time.Time
	Configuration *DeviceConfiguration
	Samples       SampleIterator
}
