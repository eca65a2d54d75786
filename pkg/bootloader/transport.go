package bootloader

import (
	"context"
	"time"
)

// DeviceHandle is the connected-device collaborator the orchestrator
// drives before/after the actual bootloader conversation: SCPI command
// transmission and the streaming/connection lifecycle. Reduced to this
// minimal surface — the SCPI envelope and transport are out of scope
// (see SPEC_FULL.md §6 Non-goals).
type DeviceHandle interface {
	SendCommand(ctx context.Context, command string) error
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context, serial string) error
	IsConnected() bool
	IsStreaming() bool
	StopStreaming(ctx context.Context) error
	// Name returns a caller-meaningful identifier (e.g. serial number or
	// hostname) used to resolve {port} in the WiFi flash tool arguments.
	Name() string
}

// HIDTransport is the bootloader's byte-level conversation channel once
// the device has dropped into bootloader mode.
type HIDTransport interface {
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, timeout time.Duration) ([]byte, error)
	Connect(ctx context.Context, vendorID, productID uint16, serial string) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
}

// HIDDeviceInfo describes one enumerated HID device.
type HIDDeviceInfo struct {
	VendorID    uint16
	ProductID   uint16
	Path        string
	Serial      string
	ProductName string
}

// HIDEnumerator lists bootloader-mode HID devices by vendor/product.
type HIDEnumerator interface {
	Enumerate(ctx context.Context, vendorID, productID uint16) ([]HIDDeviceInfo, error)
}

// ProcessRunner runs the external WiFi flash tool. Implementations
// stream stdout/stderr lines to onLine as they arrive; when onLine
// returns true, the implementation writes a single empty line to the
// process's stdin before continuing, the mechanism §4.12 step 2 needs
// for the "Power cycle WINC and set to bootloader mode" prompt.
type ProcessRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(line string, stderr bool) (writeEmptyLine bool)) (ProcessResult, error)
}

// ProcessResult is what the orchestrator inspects after a ProcessRunner
// invocation completes or times out.
type ProcessResult struct {
	ExitCode int
	TimedOut bool
}

// Progress is one report emitted by the orchestrator during an update.
type Progress struct {
	State       State
	Percent     int
	Operation   string
	BytesWritten int64
	TotalBytes   int64
}

// ProgressSink receives Progress reports. Implementations must not
// synchronously call back into the orchestrator (§4.12 Concurrency).
type ProgressSink interface {
	Report(Progress)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(Progress)

func (f ProgressFunc) Report(p Progress) { f(p) }

// StateChange is emitted on every legal state transition.
type StateChange struct {
	Previous  State
	Current   State
	Operation string
	At        time.Time
}

// StateChangeSink receives StateChange events.
type StateChangeSink interface {
	Changed(StateChange)
}

// StateChangeFunc adapts a plain function to StateChangeSink.
type StateChangeFunc func(StateChange)

func (f StateChangeFunc) Changed(c StateChange) { f(c) }
