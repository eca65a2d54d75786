package sdlog

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
)

type jsonLine struct {
	Ts      *uint32          `json:"ts"`
	Analog  []json.Number    `json:"analog"`
	Digital *string          `json:"digital"`
}

// ParseJSON decodes the SD-card line-delimited JSON log format (C7).
// Malformed lines are skipped; parsing continues to the end of input.
func ParseJSON(data []byte, fileName string, opts Options) (ParsedSession, error) {
	anchor := opts.anchor(fileName)
	freq, haveFreq := opts.tickFrequency(0)
	advancer := newTimestampAdvancer(anchor, freq, haveFreq)

	var samples []Sample
	var firstAnalogLen int
	sawAny := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), opts.resolveBufferSize()*16)

	lineNo := 0
	for scanner.Scan() {
		if opts.cancelled() {
			break
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw jsonLine
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if raw.Ts == nil || raw.Analog == nil {
			continue
		}

		analog := make([]float64, 0, len(raw.Analog))
		malformed := false
		for _, n := range raw.Analog {
			f, err := n.Float64()
			if err != nil {
				malformed = true
				break
			}
			analog = append(analog, f)
		}
		if malformed {
			continue
		}

		var digital uint32
		if raw.Digital != nil {
			v, ok := decodeDigitalTokens(*raw.Digital)
			if !ok {
				continue
			}
			digital = v
		}

		if !sawAny {
			firstAnalogLen = len(analog)
		}
		sawAny = true

		samples = append(samples, Sample{
			Timestamp:    advancer.next(uint64(*raw.Ts)),
			AnalogValues: analog,
			DigitalData:  digital,
		})

		if lineNo%64 == 0 {
			opts.reportProgress(Progress{MessagesRead: int64(lineNo)})
		}
	}
	opts.reportProgress(Progress{MessagesRead: int64(lineNo)})

	session := ParsedSession{
		FileName: fileName,
		Samples:  &sliceIterator{samples: samples},
	}
	if t, ok := dateFromFileName(fileName); ok {
		session.CreatedDate = &t
	}
	if opts.ConfigurationOverride != nil {
		merged := *opts.ConfigurationOverride
		session.Configuration = &merged
	} else if sawAny {
		cfg := DeviceConfiguration{AnalogPortCount: firstAnalogLen}
		if haveFreq {
			cfg.TickFrequencyHz = freq
		}
		session.Configuration = &cfg
	}
	return session, nil
}

// decodeDigitalTokens reads zero or more "-"-joined hex-byte tokens as
// little-endian bytes (first token is byte 0), per §4.7.
func decodeDigitalTokens(s string) (uint32, bool) {
	if s == "" {
		return 0, true
	}
	tokens := strings.Split(s, "-")
	if len(tokens) > 4 {
		return 0, false
	}
	var buf [4]byte
	for i, tok := range tokens {
		b, err := hex.DecodeString(tok)
		if err != nil || len(b) != 1 {
			return 0, false
		}
		buf[i] = b[0]
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, true
}
