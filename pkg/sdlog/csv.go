package sdlog

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// ParseCSV decodes the SD-card CSV log format (C8): an optional
// comment-header block, a column-header line, and per-channel
// (tick, value) data rows.
func ParseCSV(data []byte, fileName string, opts Options) (ParsedSession, error) {
	var (
		devicePn, serial string
		tickFreq         uint32
		channelCount     int
		headerSeen       bool
	)

	anchor := opts.anchor(fileName)
	var advancer *timestampAdvancer
	var samples []Sample
	rowsSeen := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), opts.resolveBufferSize()*16)

	for scanner.Scan() {
		if opts.cancelled() {
			break
		}
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			key, value, ok := parseCommentLine(trimmed)
			if !ok {
				continue
			}
			switch key {
			case "Device":
				devicePn = value
			case "Serial Number":
				serial = value
			case "Timestamp Tick Rate":
				if hz, ok := parseHzValue(value); ok {
					tickFreq = hz
				}
			}
			continue
		}

		if !headerSeen {
			fields := strings.Split(trimmed, ",")
			channelCount = len(fields) / 2
			headerSeen = true
			if advancer == nil {
				freq, haveFreq := opts.tickFrequency(tickFreq)
				advancer = newTimestampAdvancer(anchor, freq, haveFreq)
			}
			continue
		}

		fields := strings.Split(trimmed, ",")
		if len(fields)%2 != 0 || len(fields) == 0 {
			continue
		}
		n := len(fields) / 2
		values := make([]float64, n)
		ticks := make([]uint64, n)
		rowOK := true
		for i := 0; i < n; i++ {
			tickStr := strings.TrimSpace(fields[2*i])
			valStr := strings.TrimSpace(fields[2*i+1])
			tick, err := strconv.ParseUint(tickStr, 10, 64)
			if err != nil {
				rowOK = false
				break
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				rowOK = false
				break
			}
			ticks[i] = tick
			values[i] = val
		}
		if !rowOK {
			continue
		}
		rowsSeen++

		var tick0 uint64
		if n > 0 {
			tick0 = ticks[0]
		}
		samples = append(samples, Sample{
			Timestamp:           advancer.next(tick0),
			AnalogValues:        values,
			AnalogTimestamps:    ticks,
			HasAnalogTimestamps: true,
		})

		if rowsSeen%64 == 0 {
			opts.reportProgress(Progress{MessagesRead: int64(rowsSeen)})
		}
	}
	opts.reportProgress(Progress{MessagesRead: int64(rowsSeen)})

	session := ParsedSession{
		FileName: fileName,
		Samples:  &sliceIterator{samples: samples},
	}
	if t, ok := dateFromFileName(fileName); ok {
		session.CreatedDate = &t
	}

	cfg := DeviceConfiguration{
		AnalogPortCount:    channelCount,
		TickFrequencyHz:    tickFreq,
		DevicePartNumber:   devicePn,
		DeviceSerialNumber: serial,
	}
	if opts.ConfigurationOverride != nil {
		merged := *opts.ConfigurationOverride
		merged.merge(cfg)
		session.Configuration = &merged
	} else if !cfg.IsZero() {
		merged := cfg
		session.Configuration = &merged
	}
	return session, nil
}

// parseCommentLine splits "# Key: value" into ("Key", "value").
func parseCommentLine(line string) (string, string, bool) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	idx := strings.Index(body, ":")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(body[:idx])
	value := strings.TrimSpace(body[idx+1:])
	return key, value, true
}

// parseHzValue parses "12500 Hz" into 12500.
func parseHzValue(value string) (uint32, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
