package main

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// deviceProfile is the set of device/session defaults daqctl can load
// from an INI file's [device] section, instead of requiring every flag
// on the command line, the way the teacher's EDS/object-dictionary
// configurators load defaults from an .ini-formatted file.
type deviceProfile struct {
	VendorID                   uint32
	ProductID                  uint32
	SerialPort                 string
	FallbackTimestampFrequency uint32
}

// loadDeviceProfile reads the [device] section of an INI file. Missing
// keys keep their zero value, letting the caller fall back to its own
// defaults.
func loadDeviceProfile(path string) (deviceProfile, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return deviceProfile{}, fmt.Errorf("daqctl: loading profile %s: %w", path, err)
	}

	section := cfg.Section("device")
	return deviceProfile{
		VendorID:                   uint32(section.Key("vendor_id").MustUint(0)),
		ProductID:                  uint32(section.Key("product_id").MustUint(0)),
		SerialPort:                 section.Key("serial_port").String(),
		FallbackTimestampFrequency: uint32(section.Key("fallback_timestamp_frequency_hz").MustUint(0)),
	}, nil
}
