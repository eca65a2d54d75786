// Package hexfile parses Intel-HEX firmware images the way the
// bootloader orchestrator needs them: a flat list of records with their
// full 32-bit linear address resolved, and a protected address range
// silently filtered out of the programmable set so factory calibration
// data baked into the image is never reflashed.
package hexfile

import (
	"encoding/hex"
	"fmt"
	"strings"

	daqcore "github.com/daqifi/daqifi-core"
)

// Record types that appear on the wire. Only Data and ExtendedLinear are
// semantically significant to the parser; EOF is preserved but inert.
const (
	RecordData            byte = 0x00
	RecordEOF             byte = 0x01
	RecordExtendedLinear  byte = 0x04
	minLineLen                 = 11 // ":" + byteCount(2) + addr(4) + type(2) + checksum(2)
)

// DefaultProtectedBegin and DefaultProtectedEnd bound the factory
// calibration region that must never be reprogrammed (§6).
const (
	DefaultProtectedBegin uint32 = 0x1D1E0000
	DefaultProtectedEnd   uint32 = 0x1D200000
)

// Record is a single surviving Intel-HEX line with its address resolved
// to the full 32-bit linear space.
type Record struct {
	FullAddress uint32
	Bytes       []byte // raw record bytes: byteCount|offset(2)|type|data|checksum
	RecordType  byte
}

// Options configures the protected-range filter. A zero Options uses the
// default protected range.
type Options struct {
	ProtectedBegin uint32
	ProtectedEnd   uint32
}

func (o Options) resolve() (begin, end uint32) {
	begin, end = o.ProtectedBegin, o.ProtectedEnd
	if begin == 0 && end == 0 {
		begin, end = DefaultProtectedBegin, DefaultProtectedEnd
	}
	return
}

// Parse decodes an ordered sequence of Intel-HEX lines into the surviving
// records (those not in the protected address range), in file order.
func Parse(lines []string, opts Options) ([]Record, error) {
	begin, end := opts.resolve()
	var (
		baseAddress uint32
		records     []Record
	)
	for lineNo, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, newBase, err := parseLine(line, baseAddress)
		if err != nil {
			return nil, daqcore.NewError(daqcore.MalformedRecord, "hexfile.Parse",
				fmt.Errorf("line %d: %w", lineNo+1, err))
		}
		baseAddress = newBase
		if rec.RecordType == RecordData && rec.FullAddress >= begin && rec.FullAddress <= end {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseLine(line string, baseAddress uint32) (Record, uint32, error) {
	if !strings.HasPrefix(line, ":") {
		return Record{}, baseAddress, fmt.Errorf("does not start with ':'")
	}
	body := line[1:]
	if len(body)%2 != 0 {
		return Record{}, baseAddress, fmt.Errorf("odd number of hex digits")
	}
	if len(line) < minLineLen {
		return Record{}, baseAddress, fmt.Errorf("line too short")
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return Record{}, baseAddress, fmt.Errorf("invalid hex characters: %w", err)
	}
	if len(raw) < 5 {
		return Record{}, baseAddress, fmt.Errorf("record too short")
	}
	byteCount := raw[0]
	if len(raw) != int(byteCount)+5 {
		return Record{}, baseAddress, fmt.Errorf("declared byte count %d does not match record length", byteCount)
	}

	sum := byte(0)
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return Record{}, baseAddress, fmt.Errorf("invalid checksum")
	}

	offset := uint32(raw[1])<<8 | uint32(raw[2])
	recordType := raw[3]
	data := raw[4 : 4+int(byteCount)]

	newBase := baseAddress
	fullAddress := uint32(baseAddress)<<16 | offset

	switch recordType {
	case RecordExtendedLinear:
		if len(data) != 2 {
			return Record{}, baseAddress, fmt.Errorf("extended linear address record needs 2 data bytes")
		}
		newBase = uint32(data[0])<<8 | uint32(data[1])
	case RecordData, RecordEOF:
		// no additional state changes
	default:
		// other record types (start linear address, etc.) are passed through
	}

	return Record{
		FullAddress: fullAddress,
		Bytes:       raw,
		RecordType:  recordType,
	}, newBase, nil
}

// RawBytes returns just the raw record bytes of every surviving record,
// in file order — the form the bootloader programming state needs to
// hand to the codec.
func RawBytes(records []Record) [][]byte {
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = r.Bytes
	}
	return out
}
