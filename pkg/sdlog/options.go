package sdlog

import (
	"errors"
	"regexp"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
)

// Options are the parser settings shared by every format (§4.10).
type Options struct {
	SessionStartTime           *time.Time
	ConfigurationOverride      *DeviceConfiguration
	FallbackTimestampFrequency *uint32
	BufferSize                 int
	Progress                   ProgressSink
	Cancellation               <-chan struct{}
}

// DefaultBufferSize is used when Options.BufferSize is left at zero.
const DefaultBufferSize = 64 * 1024

func (o Options) resolveBufferSize() int {
	if o.BufferSize > 0 {
		return o.BufferSize
	}
	return DefaultBufferSize
}

// Validate rejects a negative BufferSize; zero is accepted and selects
// DefaultBufferSize.
func (o Options) Validate() error {
	if o.BufferSize < 0 {
		return daqcore.NewError(daqcore.InvalidArgument, "sdlog.Options.Validate",
			errNegativeBufferSize)
	}
	return nil
}

var errNegativeBufferSize = errors.New("buffer size must not be negative")

func (o Options) cancelled() bool {
	if o.Cancellation == nil {
		return false
	}
	select {
	case <-o.Cancellation:
		return true
	default:
		return false
	}
}

func (o Options) reportProgress(p Progress) {
	if o.Progress != nil {
		o.Progress.Report(p)
	}
}

// logFileNamePattern matches the device's log file naming convention
// (§6 "Log file-name convention"): log_YYYYMMDD_HHMMSS.{bin,json,dat,csv}.
var logFileNamePattern = regexp.MustCompile(`^log_(\d{4})(\d{2})(\d{2})_(\d{2})(\d{2})(\d{2})\.(bin|json|dat|csv)$`)

// dateFromFileName derives a UTC time from a device log file name, or
// reports ok=false if the name doesn't match the convention.
func dateFromFileName(name string) (time.Time, bool) {
	m := logFileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405", m[1]+m[2]+m[3]+m[4]+m[5]+m[6])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// anchor resolves the anchor time for a session, following the
// precedence in §4.10: explicit session start time, then a file-name
// derived date, then time.Now captured once (Open Question: absent
// fallback is implementation-defined).
func (o Options) anchor(fileName string) time.Time {
	if o.SessionStartTime != nil {
		return *o.SessionStartTime
	}
	if t, ok := dateFromFileName(fileName); ok {
		return t
	}
	return time.Now()
}

// tickFrequency resolves the Hz used to advance timestamps, in
// precedence order: configuration override -> in-file value -> caller
// fallback -> (0, false) meaning every sample carries the anchor time.
func (o Options) tickFrequency(inFile uint32) (uint32, bool) {
	if o.ConfigurationOverride != nil && o.ConfigurationOverride.TickFrequencyHz != 0 {
		return o.ConfigurationOverride.TickFrequencyHz, true
	}
	if inFile != 0 {
		return inFile, true
	}
	if o.FallbackTimestampFrequency != nil && *o.FallbackTimestampFrequency != 0 {
		return *o.FallbackTimestampFrequency, true
	}
	return 0, false
}

// timestampAdvancer anchors a session's first sample and advances
// subsequent samples by delta-ticks / tick-frequency seconds (§4.6
// "timestamp"), sharing logic across the binary, JSON and CSV parsers.
type timestampAdvancer struct {
	anchor     time.Time
	haveFirst  bool
	firstTick  uint64
	frequency  uint32
	haveFreq   bool
}

func newTimestampAdvancer(anchor time.Time, frequency uint32, haveFreq bool) *timestampAdvancer {
	return &timestampAdvancer{anchor: anchor, frequency: frequency, haveFreq: haveFreq}
}

// next returns the timestamp for the given tick value.
func (a *timestampAdvancer) next(tick uint64) time.Time {
	if !a.haveFirst {
		a.haveFirst = true
		a.firstTick = tick
		return a.anchor
	}
	if !a.haveFreq || a.frequency == 0 {
		return a.anchor
	}
	deltaTicks := int64(tick) - int64(a.firstTick)
	seconds := float64(deltaTicks) / float64(a.frequency)
	return a.anchor.Add(time.Duration(seconds * float64(time.Second)))
}
