// Package clock reconstructs absolute wall-clock timestamps from a
// per-device rolling 32-bit tick counter (C4). The device only ever
// reports its free-running tick; the processor tracks, per device id,
// the last tick/wall-clock pair and derives how far time has moved by
// comparing ticks, including across a counter rollover.
package clock

import (
	"errors"
	"sync"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
)

// tickModulus is the modulus a device tick counter wraps around: the
// counter takes every value in [0, 2^32), then wraps back to 0, so the
// distance from prevDevice forward through the wrap to deviceTick is
// (2^32 - prevDevice) + deviceTick (§4.4, confirmed by §8 scenario 4:
// prevDevice = UINT32_MAX-50, deviceTick = 100 yields cycles = 151, not
// 150 — the literal "(UINT32_MAX - prev_device)" reading in §4.4 is off
// by the one step from UINT32_MAX to 0).
const tickModulus = int64(1) << 32

// maxUint32 is the largest value the device tick counter reports before
// wrapping to 0.
const maxUint32 uint32 = 1<<32 - 1

// falsePositiveRolloverGuardSeconds bounds how large a "rollover" jump is
// allowed to be before it is reinterpreted as an out-of-order tick
// instead (§4.4 step 3).
const falsePositiveRolloverGuardSeconds = 10.0

// Result is what Process returns for a single tick observation.
type Result struct {
	Timestamp time.Time
	IsFirst   bool
	Cycles    uint32
	Seconds   float64
	Rollover  bool
}

type deviceState struct {
	mu          sync.Mutex
	prevDevice  uint32
	prevWall    time.Time
	hasPrevious bool
}

// Processor reconstructs wall-clock timestamps for any number of
// concurrently-streaming devices, each tracked independently (§3
// "Timestamp state").
type Processor struct {
	statesMu sync.Mutex
	states   map[string]*deviceState

	// now is overridable for deterministic tests; production callers get
	// time.Now via NewProcessor.
	now func() time.Time
}

// NewProcessor constructs a Processor whose first-sample anchor is the
// wall-clock time at the moment Process first sees a given device id.
func NewProcessor() *Processor {
	return &Processor{
		states: make(map[string]*deviceState),
		now:    time.Now,
	}
}

func (p *Processor) stateFor(deviceID string) *deviceState {
	p.statesMu.Lock()
	defer p.statesMu.Unlock()
	s, ok := p.states[deviceID]
	if !ok {
		s = &deviceState{}
		p.states[deviceID] = s
	}
	return s
}

// Process converts one observed device tick into a Result, advancing
// deviceID's tracked state (§4.4). tickPeriod is the duration of one
// tick (1 / sample rate in Hz).
func (p *Processor) Process(deviceID string, deviceTick uint32, tickPeriod time.Duration) (Result, error) {
	if tickPeriod <= 0 {
		return Result{}, daqcore.NewError(daqcore.InvalidArgument, "clock.Process",
			errNonPositiveTickPeriod)
	}
	s := p.stateFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPrevious {
		s.prevDevice = deviceTick
		s.prevWall = p.now()
		s.hasPrevious = true
		return Result{Timestamp: s.prevWall, IsFirst: true}, nil
	}

	rollover := s.prevDevice > deviceTick
	var cycles uint32
	if rollover {
		cycles = uint32(tickModulus - int64(s.prevDevice) + int64(deviceTick))
	} else {
		cycles = deviceTick - s.prevDevice
	}
	seconds := float64(cycles) * tickPeriod.Seconds()

	if rollover && seconds > falsePositiveRolloverGuardSeconds {
		cycles = s.prevDevice - deviceTick
		seconds = -float64(cycles) * tickPeriod.Seconds()
		rollover = false
	}

	newWall := s.prevWall.Add(time.Duration(seconds * float64(time.Second)))
	s.prevDevice = deviceTick
	s.prevWall = newWall

	return Result{
		Timestamp: newWall,
		IsFirst:   false,
		Cycles:    cycles,
		Seconds:   seconds,
		Rollover:  rollover,
	}, nil
}

// Reset clears tracked state for one device id, so the next Process call
// for it behaves as if it were the first observation.
func (p *Processor) Reset(deviceID string) {
	p.statesMu.Lock()
	defer p.statesMu.Unlock()
	delete(p.states, deviceID)
}

// ResetAll clears tracked state for every device id.
func (p *Processor) ResetAll() {
	p.statesMu.Lock()
	defer p.statesMu.Unlock()
	p.states = make(map[string]*deviceState)
}

var errNonPositiveTickPeriod = errors.New("tick period must be strictly positive")
