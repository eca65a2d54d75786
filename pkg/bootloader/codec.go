// Package bootloader implements the PIC32-style framed protocol the
// device's bootloader speaks (codec), an Intel-HEX-driven update state
// machine that drives that codec over a byte transport, and the WiFi
// radio module's external-tool reflash flow.
package bootloader

import (
	"fmt"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/daqifi/daqifi-core/internal/crc"
)

// Frame delimiters and escape byte (§6).
const (
	SOH byte = 0x01
	EOT byte = 0x04
	DLE byte = 0x10
)

// Command bytes (§6).
const (
	CommandVersion byte = 0x01
	CommandErase   byte = 0x02
	CommandProgram byte = 0x03
	CommandJump    byte = 0x05
)

func needsEscape(b byte) bool {
	return b == SOH || b == EOT || b == DLE
}

// EncodeFrame produces the on-wire bytes for a bootloader command:
// SOH, DLE-escaped(command ++ payload ++ crcLow ++ crcHigh), EOT.
func EncodeFrame(command byte, payload []byte) []byte {
	checksum := crc.Compute(append([]byte{command}, payload...))
	body := make([]byte, 0, len(payload)+3)
	body = append(body, command)
	body = append(body, payload...)
	body = append(body, byte(checksum), byte(checksum>>8))

	out := make([]byte, 0, len(body)*2+2)
	out = append(out, SOH)
	for _, b := range body {
		if needsEscape(b) {
			out = append(out, DLE)
		}
		out = append(out, b)
	}
	out = append(out, EOT)
	return out
}

// RequestVersionFrame, EraseFrame, JumpFrame and ProgramFlashFrame are the
// concrete frames the update state machine sends.
func RequestVersionFrame() []byte { return EncodeFrame(CommandVersion, nil) }
func EraseFrame() []byte          { return EncodeFrame(CommandErase, nil) }
func JumpFrame() []byte           { return EncodeFrame(CommandJump, nil) }
func ProgramFlashFrame(recordBytes []byte) []byte {
	return EncodeFrame(CommandProgram, recordBytes)
}

// unescape reverses DLE-escaping over a byte slice, returning the
// literal bytes it represents.
func unescape(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		if buf[i] == DLE && i+1 < len(buf) {
			i++
		}
		out = append(out, buf[i])
	}
	return out
}

// DecodeVersion interprets an already-unframed response payload as the
// bootloader's version reply, producing "{major}.{minor}" or "Error".
func DecodeVersion(buf []byte) string {
	if len(buf) < 2 || buf[0] != SOH {
		return "Error"
	}
	if len(buf) < 3 || buf[1] != DLE || buf[2] != CommandVersion {
		return "0.0"
	}
	rest := unescape(buf[3:])
	if len(rest) < 2 {
		return "0.0"
	}
	return fmt.Sprintf("%d.%d", rest[0], rest[1])
}

// DecodeEraseAck reports whether buf is a valid erase acknowledgement.
func DecodeEraseAck(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == SOH && buf[1] == CommandErase
}

// DecodeProgramAck reports whether buf is a valid program acknowledgement.
func DecodeProgramAck(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == SOH && buf[1] == CommandProgram
}

// ErrInvalidAck is returned by the update orchestrator when a decoded
// acknowledgement does not match what was expected for the current state.
var ErrInvalidAck = daqcore.NewError(daqcore.InvalidData, "bootloader.DecodeAck", fmt.Errorf("unexpected acknowledgement"))
