package bootloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/daqifi/daqifi-core/pkg/hexfile"
	log "github.com/sirupsen/logrus"
)

// SCPI commands the orchestrator emits literally (§6). Production of the
// surrounding envelope (ASCII payload + CRLF) is the device handle's job.
const (
	scpiForceBoot        = "SYSTem:FORceBoot"
	scpiLANFWUpdate      = "SYSTem:COMMUnicate:LAN:FWUpdate"
	scpiLANEnabled1      = "SYSTem:COMMunicate:LAN:ENAbled 1"
	scpiLANApply         = "SYSTem:COMMunicate:LAN:APPLY"
	scpiLANSave          = "SYSTem:COMMunicate:LAN:SAVE"
)

// Updater drives a firmware update over a HID transport using the
// bootloader codec (C3) and hex parser (C2). One Updater runs at most
// one update at a time; see §4.12 Concurrency.
type Updater struct {
	hid        HIDTransport
	enumerator HIDEnumerator
	process    ProcessRunner
	opts       Options
	log        *log.Entry

	running atomic.Bool
	mu      sync.Mutex
	state   State

	progress  ProgressSink
	stateSink StateChangeSink

	lastPercent  int
	bytesWritten int64
	totalBytes   int64
}

// NewUpdater constructs an Updater. opts is validated immediately.
func NewUpdater(hid HIDTransport, enumerator HIDEnumerator, process ProcessRunner, opts Options) (*Updater, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Updater{
		hid:        hid,
		enumerator: enumerator,
		process:    process,
		opts:       opts,
		log:        log.WithField("component", "bootloader"),
		state:      Idle,
	}, nil
}

func noopProgress(Progress)       {}
func noopStateChange(StateChange) {}

// transition moves the state machine to `to`, rejecting illegal edges,
// and notifies the StateChangeSink. Must be called with u.mu held.
func (u *Updater) transition(to State, operation string) error {
	from := u.state
	if !isLegalTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	u.state = to
	u.stateSink.Changed(StateChange{Previous: from, Current: to, Operation: operation, At: time.Now().UTC()})
	u.log.Debugf("[BOOT] %s -> %s (%s)", from, to, operation)
	return nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (u *Updater) report(percent int, operation string, bytesWritten, totalBytes int64) {
	u.progress.Report(Progress{
		State:        u.state,
		Percent:      clampPercent(percent),
		Operation:    operation,
		BytesWritten: bytesWritten,
		TotalBytes:   totalBytes,
	})
}

// withStateTimeout links ctx with a timeout for the given state, the way
// §4.12/§5 require every state-scoped wait to be bounded. If the parent
// ctx cancels first, the caller sees context.Canceled; if the timeout
// fires first, it sees context.DeadlineExceeded, which callers translate
// to a Timeout CoreError with the per-state message.
func (u *Updater) withStateTimeout(ctx context.Context, state State) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, u.opts.GetStateTimeout(state))
}

func timeoutError(op string, state State, timeout time.Duration, extra string) error {
	msg := fmt.Sprintf("%s timed out after %s during %s", state, timeout, op)
	if extra != "" {
		msg += ": " + extra
	}
	return daqcore.NewError(daqcore.Timeout, op, errors.New(msg))
}

// UpdateFirmware drives the PIC32 bootloader flow end to end (§4.12).
func (u *Updater) UpdateFirmware(ctx context.Context, device DeviceHandle, hexPath string, progress ProgressSink, stateSink StateChangeSink) error {
	if !u.running.CompareAndSwap(false, true) {
		return daqcore.NewError(daqcore.InvalidOperation, "bootloader.UpdateFirmware", errors.New("an update is already in progress"))
	}
	defer u.running.Store(false)

	u.mu.Lock()
	defer u.mu.Unlock()

	if progress == nil {
		progress = ProgressFunc(noopProgress)
	}
	if stateSink == nil {
		stateSink = StateChangeFunc(noopStateChange)
	}
	u.progress, u.stateSink = progress, stateSink
	u.state = Idle

	records, err := u.loadHexRecords(hexPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return daqcore.NewError(daqcore.InvalidData, "bootloader.UpdateFirmware", errors.New("hex file contains no writable records"))
	}

	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = u.hid.Disconnect(dctx)
	}()

	if err := u.runPIC32Flow(ctx, device, records); err != nil {
		u.fail(err.(failure))
		return err.(failure).updateErr
	}
	return nil
}

// failure carries both the UpdateError to return and the State it
// occurred in, so fail() can safely transition without re-deriving it.
type failure struct {
	state     State
	operation string
	updateErr *UpdateError
}

func (f failure) Error() string { return f.updateErr.Error() }

func (u *Updater) fail(f failure) {
	_ = u.transition(Failed, f.operation)
	u.report(u.lastPercent, f.operation, u.bytesWritten, u.totalBytes)
	u.log.Errorf("[BOOT] update failed in %s: %v", f.state, f.updateErr)
	_ = u.transition(Idle, "reset-after-failure")
}

func asFailure(state State, operation string, err error) failure {
	return failure{state: state, operation: operation, updateErr: newUpdateError(state, operation, err)}
}

func (u *Updater) loadHexRecords(hexPath string) ([]hexfile.Record, error) {
	data, err := os.ReadFile(hexPath)
	if err != nil {
		return nil, daqcore.NewError(daqcore.NotFound, "bootloader.loadHexRecords", err)
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	records, err := hexfile.Parse(lines, hexfile.Options{})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// runPIC32Flow implements steps 2-9 of §4.12.
func (u *Updater) runPIC32Flow(ctx context.Context, device DeviceHandle, records []hexfile.Record) error {
	if err := u.preparingDevice(ctx, device); err != nil {
		return err
	}
	hidInfo, err := u.waitingForBootloader(ctx)
	if err != nil {
		return err
	}
	if err := u.connecting(ctx, hidInfo); err != nil {
		return err
	}
	if err := u.erasingFlash(ctx); err != nil {
		return err
	}
	if err := u.programming(ctx, records); err != nil {
		return err
	}
	if err := u.verifying(ctx); err != nil {
		return err
	}
	if err := u.jumpingToApp(ctx, device, hidInfo.Serial); err != nil {
		return err
	}
	if err := u.transition(Complete, "complete"); err != nil {
		return asFailure(Complete, "complete", err)
	}
	u.report(100, "complete", u.totalBytes, u.totalBytes)
	_ = u.transition(Idle, "reset-after-complete")
	return nil
}

func (u *Updater) preparingDevice(ctx context.Context, device DeviceHandle) error {
	const op = "PreparingDevice"
	if err := u.transition(PreparingDevice, op); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	u.report(0, op, 0, 0)

	sctx, cancel := u.withStateTimeout(ctx, PreparingDevice)
	defer cancel()

	if !device.IsConnected() {
		return asFailure(PreparingDevice, op, errors.New("device is not connected"))
	}
	if device.IsStreaming() {
		if err := device.StopStreaming(sctx); err != nil {
			return asFailure(PreparingDevice, op, err)
		}
	}
	if err := device.SendCommand(sctx, scpiForceBoot); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	if err := sleepCtx(sctx, u.opts.PostForceBootDelay); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	if err := device.Disconnect(sctx); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (u *Updater) waitingForBootloader(ctx context.Context) (HIDDeviceInfo, error) {
	const op = "WaitingForBootloader"
	if err := u.transition(WaitingForBootloader, op); err != nil {
		return HIDDeviceInfo{}, asFailure(WaitingForBootloader, op, err)
	}
	u.report(5, op, 0, 0)

	sctx, cancel := u.withStateTimeout(ctx, WaitingForBootloader)
	defer cancel()

	var (
		polls      int
		lastEnumErr error
	)
	ticker := time.NewTicker(u.opts.PollInterval)
	defer ticker.Stop()

	for {
		devices, err := u.enumerator.Enumerate(sctx, uint16(u.opts.VendorID), uint16(u.opts.ProductID))
		polls++
		if err != nil {
			lastEnumErr = err
			return HIDDeviceInfo{}, asFailure(WaitingForBootloader, op, fmt.Errorf(
				"enumeration failed for vendor=%#04x product=%#04x after %d polls: %w",
				u.opts.VendorID, u.opts.ProductID, polls, err))
		}
		if len(devices) > 0 {
			return devices[0], nil
		}

		select {
		case <-sctx.Done():
			var extra string
			if lastEnumErr != nil {
				extra = fmt.Sprintf("last enumeration error: %v", lastEnumErr)
			}
			msg := fmt.Sprintf(
				"no device matching vendor=%#04x product=%#04x found after %d polls (%s)",
				u.opts.VendorID, u.opts.ProductID, polls, extra)
			if ctx.Err() != nil {
				return HIDDeviceInfo{}, asFailure(WaitingForBootloader, op, daqcore.NewError(daqcore.Cancelled, op, ctx.Err()))
			}
			return HIDDeviceInfo{}, asFailure(WaitingForBootloader, op, timeoutError(op, WaitingForBootloader, u.opts.GetStateTimeout(WaitingForBootloader), msg))
		case <-ticker.C:
		}
	}
}

func (u *Updater) connecting(ctx context.Context, hidInfo HIDDeviceInfo) error {
	const op = "Connecting"
	if err := u.transition(Connecting, op); err != nil {
		return asFailure(Connecting, op, err)
	}
	u.report(10, op, 0, 0)

	sctx, cancel := u.withStateTimeout(ctx, Connecting)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < u.opts.HIDConnectRetryCount; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(sctx, u.opts.HIDConnectRetryDelay); err != nil {
				return asFailure(Connecting, op, err)
			}
		}
		if u.hid.IsConnected() {
			_ = u.hid.Disconnect(sctx)
		}
		if err := u.hid.Connect(sctx, uint16(u.opts.VendorID), uint16(u.opts.ProductID), hidInfo.Serial); err != nil {
			lastErr = err
			continue
		}
		version, err := u.requestVersion(sctx)
		if err != nil {
			lastErr = err
			continue
		}
		if version == "Error" {
			lastErr = fmt.Errorf("bootloader reported an error on version request")
			continue
		}
		return nil
	}
	return asFailure(Connecting, op, fmt.Errorf("exhausted %d connect attempts: %w", u.opts.HIDConnectRetryCount, lastErr))
}

func (u *Updater) requestVersion(ctx context.Context) (string, error) {
	if err := u.hid.Write(ctx, RequestVersionFrame()); err != nil {
		return "", err
	}
	resp, err := u.hid.Read(ctx, u.opts.BootloaderResponseTimeout)
	if err != nil {
		return "", err
	}
	return DecodeVersion(resp), nil
}

func isTransient(err error) bool {
	if kind, ok := daqcore.KindOf(err); ok {
		return kind == daqcore.Io || kind == daqcore.Timeout || kind == daqcore.InvalidData
	}
	// Underlying transport errors without a CoreError wrapper are treated
	// as transient I/O, matching §7's "Io/Timeout/InvalidData" retry set.
	return true
}

func (u *Updater) erasingFlash(ctx context.Context) error {
	const op = "ErasingFlash"
	if err := u.transition(ErasingFlash, op); err != nil {
		return asFailure(ErasingFlash, op, err)
	}
	u.report(15, op, 0, 0)

	sctx, cancel := u.withStateTimeout(ctx, ErasingFlash)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < u.opts.FlashWriteRetryCount; attempt++ {
		if err := u.hid.Write(sctx, EraseFrame()); err != nil {
			if !isTransient(err) {
				return asFailure(ErasingFlash, op, err)
			}
			lastErr = err
			continue
		}
		resp, err := u.hid.Read(sctx, u.opts.BootloaderResponseTimeout)
		if err != nil {
			if !isTransient(err) {
				return asFailure(ErasingFlash, op, err)
			}
			lastErr = err
			continue
		}
		if !DecodeEraseAck(resp) {
			lastErr = ErrInvalidAck
			continue
		}
		return nil
	}
	return asFailure(ErasingFlash, op, fmt.Errorf("exhausted %d erase attempts: %w", u.opts.FlashWriteRetryCount, lastErr))
}

func (u *Updater) totalBytesOf(records []hexfile.Record) int64 {
	var total int64
	for _, r := range records {
		total += int64(len(r.Bytes))
	}
	return total
}

func (u *Updater) programming(ctx context.Context, records []hexfile.Record) error {
	const op = "Programming"
	if err := u.transition(Programming, op); err != nil {
		return asFailure(Programming, op, err)
	}
	u.totalBytes = u.totalBytesOf(records)
	u.bytesWritten = 0
	u.report(20, op, 0, u.totalBytes)

	sctx, cancel := u.withStateTimeout(ctx, Programming)
	defer cancel()

	for _, record := range records {
		var lastErr error
		ok := false
		for attempt := 0; attempt < u.opts.FlashWriteRetryCount; attempt++ {
			if err := u.hid.Write(sctx, ProgramFlashFrame(record.Bytes)); err != nil {
				if !isTransient(err) {
					return asFailure(Programming, op, err)
				}
				lastErr = err
				continue
			}
			resp, err := u.hid.Read(sctx, u.opts.BootloaderResponseTimeout)
			if err != nil {
				if !isTransient(err) {
					return asFailure(Programming, op, err)
				}
				lastErr = err
				continue
			}
			if !DecodeProgramAck(resp) {
				lastErr = ErrInvalidAck
				continue
			}
			ok = true
			break
		}
		if !ok {
			return asFailure(Programming, op, fmt.Errorf("exhausted %d program attempts: %w", u.opts.FlashWriteRetryCount, lastErr))
		}
		u.bytesWritten += int64(len(record.Bytes))
		percent := 20 + int(float64(u.bytesWritten)/float64(u.totalBytes)*70)
		u.lastPercent = clampPercent(percent)
		u.report(u.lastPercent, op, u.bytesWritten, u.totalBytes)
	}
	return nil
}

func (u *Updater) verifying(ctx context.Context) error {
	const op = "Verifying"
	if err := u.transition(Verifying, op); err != nil {
		return asFailure(Verifying, op, err)
	}
	u.report(90, op, u.bytesWritten, u.totalBytes)

	sctx, cancel := u.withStateTimeout(ctx, Verifying)
	defer cancel()

	version, err := u.requestVersion(sctx)
	if err != nil {
		return asFailure(Verifying, op, err)
	}
	if version == "Error" {
		return asFailure(Verifying, op, fmt.Errorf("bootloader reported an error on verify"))
	}
	return nil
}

func (u *Updater) jumpingToApp(ctx context.Context, device DeviceHandle, serial string) error {
	const op = "JumpingToApp"
	if err := u.transition(JumpingToApp, op); err != nil {
		return asFailure(JumpingToApp, op, err)
	}
	u.report(95, op, u.bytesWritten, u.totalBytes)

	sctx, cancel := u.withStateTimeout(ctx, JumpingToApp)
	defer cancel()

	if err := u.hid.Write(sctx, JumpFrame()); err != nil {
		return asFailure(JumpingToApp, op, err)
	}
	_ = u.hid.Disconnect(sctx)

	for {
		err := device.Reconnect(sctx, serial)
		if err == nil {
			return nil
		}
		u.log.Warnf("[BOOT] reconnect attempt failed, will retry: %v", err)
		select {
		case <-sctx.Done():
			if ctx.Err() != nil {
				return asFailure(JumpingToApp, op, daqcore.NewError(daqcore.Cancelled, op, ctx.Err()))
			}
			return asFailure(JumpingToApp, op, timeoutError(op, JumpingToApp, u.opts.GetStateTimeout(JumpingToApp), err.Error()))
		case <-time.After(u.opts.PollInterval):
		}
	}
}
