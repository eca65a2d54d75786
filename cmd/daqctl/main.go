// Command daqctl is a thin CLI wrapping the SD-card log dispatcher and
// the bootloader firmware-update orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/daqifi/daqifi-core/internal/hid"
	"github.com/daqifi/daqifi-core/pkg/bootloader"
	"github.com/daqifi/daqifi-core/pkg/sdlog"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "parse":
		err = runParse(os.Args[2:])
	case "update":
		err = runUpdate(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("daqctl: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: daqctl <parse|update> [flags]")
}

func runParse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	verbose := fs.Bool("v", false, "log each decoded sample")
	profilePath := fs.String("profile", "", "INI file with a [device] section (fallback_timestamp_frequency_hz)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: daqctl parse [-v] [-profile file.ini] <log-file>")
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	opts := sdlog.Options{}
	if *profilePath != "" {
		profile, err := loadDeviceProfile(*profilePath)
		if err != nil {
			return err
		}
		if profile.FallbackTimestampFrequency != 0 {
			opts.FallbackTimestampFrequency = &profile.FallbackTimestampFrequency
		}
	}

	session, err := sdlog.Parse(data, path, opts)
	if err != nil {
		return err
	}

	if session.Configuration != nil {
		log.Infof("device configuration: %+v", *session.Configuration)
	}

	count := 0
	for {
		sample, ok, err := session.Samples.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		count++
		if *verbose {
			log.Infof("sample %d: t=%s analog=%v digital=%#x", count, sample.Timestamp, sample.AnalogValues, sample.DigitalData)
		}
	}
	log.Infof("parsed %d samples from %s", count, path)
	return nil
}

func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	hexPath := fs.String("hex", "", "path to the firmware .hex file")
	vendorID := fs.Uint("vendor", 0x04D8, "USB vendor ID (bootloader mode)")
	productID := fs.Uint("product", 0x003C, "USB product ID (bootloader mode)")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall update timeout")
	profilePath := fs.String("profile", "", "INI file with a [device] section (vendor_id, product_id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hexPath == "" {
		return fmt.Errorf("usage: daqctl update -hex <path> [-vendor id] [-product id] [-profile file.ini]")
	}

	vid, pid := uint32(*vendorID), uint32(*productID)
	if *profilePath != "" {
		profile, err := loadDeviceProfile(*profilePath)
		if err != nil {
			return err
		}
		if profile.VendorID != 0 {
			vid = profile.VendorID
		}
		if profile.ProductID != 0 {
			pid = profile.ProductID
		}
	}

	opts := bootloader.DefaultOptions(vid, pid)

	enumerator := hid.NewEnumerator()
	defer enumerator.Close()
	transport := hid.NewTransport()
	defer transport.Close()

	updater, err := bootloader.NewUpdater(transport, enumerator, nil, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	progress := bootloader.ProgressFunc(func(p bootloader.Progress) {
		log.Infof("update: state=%s percent=%d%% op=%s (%d/%d bytes)", p.State, p.Percent, p.Operation, p.BytesWritten, p.TotalBytes)
	})
	stateSink := bootloader.StateChangeFunc(func(c bootloader.StateChange) {
		log.Debugf("update: %s -> %s (%s)", c.Previous, c.Current, c.Operation)
	})

	if err := updater.UpdateFirmware(ctx, &cliDeviceHandle{}, *hexPath, progress, stateSink); err != nil {
		if kind, ok := daqcore.KindOf(err); ok {
			return fmt.Errorf("update failed (%s): %w", kind, err)
		}
		return err
	}
	log.Info("firmware update complete")
	return nil
}

// cliDeviceHandle is a minimal bootloader.DeviceHandle for standalone CLI
// use, where the SCPI envelope and transport are out of scope (§6
// Non-goals) and no live device connection backs "disconnect"/"reconnect".
type cliDeviceHandle struct{}

func (cliDeviceHandle) SendCommand(ctx context.Context, command string) error {
	log.Debugf("device <- %s", command)
	return nil
}
func (cliDeviceHandle) Disconnect(ctx context.Context) error        { return nil }
func (cliDeviceHandle) Reconnect(ctx context.Context, serial string) error { return nil }
func (cliDeviceHandle) IsConnected() bool                           { return true }
func (cliDeviceHandle) IsStreaming() bool                           { return false }
func (cliDeviceHandle) StopStreaming(ctx context.Context) error     { return nil }
func (cliDeviceHandle) Name() string                                { return "daqctl" }
