package bootloader

import (
	"fmt"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
)

// Options configures retry counts, intervals, and per-state timeouts for
// an update. All durations/counts must be strictly positive and
// vendor/product IDs must fit in 16 bits (§4.12).
type Options struct {
	VendorID  uint32
	ProductID uint32

	PostForceBootDelay    time.Duration
	PollInterval          time.Duration
	HIDConnectRetryCount  int
	HIDConnectRetryDelay  time.Duration
	BootloaderResponseTimeout time.Duration
	FlashWriteRetryCount  int

	// StateTimeouts overrides the default per-state timeout; states not
	// present use DefaultStateTimeout.
	StateTimeouts      map[State]time.Duration
	DefaultStateTimeout time.Duration

	// WiFi module flow.
	PostLANFirmwareModeDelay time.Duration
	WiFiFlashToolFileName    string
	WiFiFlashToolArgsTemplate string
	WiFiPortOverride         string
	WiFiProcessTimeout       time.Duration
	PostWiFiReconnectDelay   time.Duration
}

// DefaultOptions returns an Options populated with reasonable defaults,
// the way the teacher's NewDiscoveryConfig seeds a usable config (see
// guiperry-HASHER internal/discovery.NewDiscoveryConfig).
func DefaultOptions(vendorID, productID uint32) Options {
	return Options{
		VendorID:                  vendorID,
		ProductID:                 productID,
		PostForceBootDelay:        2 * time.Second,
		PollInterval:              500 * time.Millisecond,
		HIDConnectRetryCount:      3,
		HIDConnectRetryDelay:      500 * time.Millisecond,
		BootloaderResponseTimeout: 2 * time.Second,
		FlashWriteRetryCount:      3,
		DefaultStateTimeout:       30 * time.Second,
		StateTimeouts: map[State]time.Duration{
			WaitingForBootloader: 20 * time.Second,
			Programming:          120 * time.Second,
		},
		PostLANFirmwareModeDelay:  2 * time.Second,
		WiFiFlashToolFileName:     "winc_flash_tool.cmd",
		WiFiFlashToolArgsTemplate: "/p {port} /d WINC1500 /k /e /i aio /w",
		WiFiProcessTimeout:        5 * time.Minute,
		PostWiFiReconnectDelay:    2 * time.Second,
	}
}

// GetStateTimeout returns the configured timeout for state, falling back
// to DefaultStateTimeout.
func (o Options) GetStateTimeout(state State) time.Duration {
	if d, ok := o.StateTimeouts[state]; ok {
		return d
	}
	return o.DefaultStateTimeout
}

// Validate checks every strictly-positive / 16-bit constraint (§4.12).
func (o Options) Validate() error {
	const op = "bootloader.Options.Validate"
	if o.VendorID > 0xFFFF {
		return daqcore.NewError(daqcore.InvalidArgument, op, fmt.Errorf("vendor id %#x does not fit in 16 bits", o.VendorID))
	}
	if o.ProductID > 0xFFFF {
		return daqcore.NewError(daqcore.InvalidArgument, op, fmt.Errorf("product id %#x does not fit in 16 bits", o.ProductID))
	}
	positive := map[string]time.Duration{
		"PostForceBootDelay":        o.PostForceBootDelay,
		"PollInterval":              o.PollInterval,
		"HIDConnectRetryDelay":      o.HIDConnectRetryDelay,
		"BootloaderResponseTimeout": o.BootloaderResponseTimeout,
		"DefaultStateTimeout":       o.DefaultStateTimeout,
		"PostLANFirmwareModeDelay":  o.PostLANFirmwareModeDelay,
		"WiFiProcessTimeout":        o.WiFiProcessTimeout,
		"PostWiFiReconnectDelay":    o.PostWiFiReconnectDelay,
	}
	for name, d := range positive {
		if d <= 0 {
			return daqcore.NewError(daqcore.InvalidArgument, op, fmt.Errorf("%s must be strictly positive", name))
		}
	}
	if o.HIDConnectRetryCount <= 0 {
		return daqcore.NewError(daqcore.InvalidArgument, op, fmt.Errorf("HIDConnectRetryCount must be strictly positive"))
	}
	if o.FlashWriteRetryCount <= 0 {
		return daqcore.NewError(daqcore.InvalidArgument, op, fmt.Errorf("FlashWriteRetryCount must be strictly positive"))
	}
	for state, d := range o.StateTimeouts {
		if d <= 0 {
			return daqcore.NewError(daqcore.InvalidArgument, op, fmt.Errorf("state timeout for %s must be strictly positive", state))
		}
	}
	return nil
}
