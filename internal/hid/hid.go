// Package hid adapts direct USB access, via gousb, to the bootloader
// package's HIDEnumerator and HIDTransport collaborator interfaces
// (§6 Non-goals: a concrete example, not a claim that HID is in-scope).
package hid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/daqifi/daqifi-core/pkg/bootloader"
)

// endpoint numbers for the bootloader-mode HID interface.
const (
	endpointOut = 0x01
	endpointIn  = 0x81
)

// Enumerator lists bootloader-mode devices by vendor/product using a
// shared gousb context, bypassing a kernel HID driver the way
// guiperry-HASHER's usb_device.go bypasses it for ASIC hardware.
type Enumerator struct {
	ctx *gousb.Context
}

// NewEnumerator opens a gousb context. Close releases it.
func NewEnumerator() *Enumerator {
	return &Enumerator{ctx: gousb.NewContext()}
}

// Close releases the underlying libusb context.
func (e *Enumerator) Close() error {
	return e.ctx.Close()
}

// Enumerate implements bootloader.HIDEnumerator.
func (e *Enumerator) Enumerate(ctx context.Context, vendorID, productID uint16) ([]bootloader.HIDDeviceInfo, error) {
	var infos []bootloader.HIDDeviceInfo
	devices, err := e.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendorID && uint16(desc.Product) == productID
	})
	if err != nil {
		return nil, daqcore.NewError(daqcore.Io, "hid.Enumerator.Enumerate", err)
	}
	for _, d := range devices {
		serial, _ := d.SerialNumber()
		product, _ := d.Product()
		infos = append(infos, bootloader.HIDDeviceInfo{
			VendorID:    vendorID,
			ProductID:   productID,
			Serial:      serial,
			ProductName: product,
		})
		d.Close()
	}
	return infos, nil
}

// Transport is a gousb-backed bootloader.HIDTransport: one claimed USB
// interface with an IN and an OUT endpoint, opened by vendor/product/serial.
type Transport struct {
	ctx *gousb.Context

	mu     sync.Mutex
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// NewTransport builds a Transport with its own gousb context.
func NewTransport() *Transport {
	return &Transport{ctx: gousb.NewContext()}
}

// Connect implements bootloader.HIDTransport.
func (t *Transport) Connect(ctx context.Context, vendorID, productID uint16, serial string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	device, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
	if err != nil {
		return daqcore.NewError(daqcore.Io, "hid.Transport.Connect", err)
	}
	if device == nil {
		return daqcore.NewError(daqcore.NotFound, "hid.Transport.Connect",
			fmt.Errorf("no device matching vid:0x%04x pid:0x%04x", vendorID, productID))
	}
	if serial != "" {
		if got, _ := device.SerialNumber(); got != serial {
			device.Close()
			return daqcore.NewError(daqcore.NotFound, "hid.Transport.Connect",
				fmt.Errorf("device serial %q does not match requested %q", got, serial))
		}
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		return daqcore.NewError(daqcore.Io, "hid.Transport.Connect", err)
	}
	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		return daqcore.NewError(daqcore.Io, "hid.Transport.Connect", err)
	}
	epOut, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		return daqcore.NewError(daqcore.Io, "hid.Transport.Connect", err)
	}
	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		return daqcore.NewError(daqcore.Io, "hid.Transport.Connect", err)
	}

	t.device, t.config, t.intf, t.epOut, t.epIn = device, config, intf, epOut, epIn
	return nil
}

// Disconnect implements bootloader.HIDTransport.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.device != nil {
		t.device.Close()
	}
	t.device, t.config, t.intf, t.epOut, t.epIn = nil, nil, nil, nil, nil
	return nil
}

// IsConnected implements bootloader.HIDTransport.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device != nil
}

// Write implements bootloader.HIDTransport.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	epOut := t.epOut
	t.mu.Unlock()
	if epOut == nil {
		return daqcore.NewError(daqcore.InvalidOperation, "hid.Transport.Write", fmt.Errorf("not connected"))
	}
	if _, err := epOut.WriteContext(ctx, data); err != nil {
		return daqcore.NewError(daqcore.Io, "hid.Transport.Write", err)
	}
	return nil
}

// Read implements bootloader.HIDTransport.
func (t *Transport) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	epIn := t.epIn
	t.mu.Unlock()
	if epIn == nil {
		return nil, daqcore.NewError(daqcore.InvalidOperation, "hid.Transport.Read", fmt.Errorf("not connected"))
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, epIn.Desc.MaxPacketSize)
	n, err := epIn.ReadContext(readCtx, buf)
	if err != nil {
		if readCtx.Err() == context.DeadlineExceeded {
			return nil, daqcore.NewError(daqcore.Timeout, "hid.Transport.Read", err)
		}
		return nil, daqcore.NewError(daqcore.Io, "hid.Transport.Read", err)
	}
	return buf[:n], nil
}

// Close releases the underlying libusb context.
func (t *Transport) Close() error {
	_ = t.Disconnect(context.Background())
	return t.ctx.Close()
}
