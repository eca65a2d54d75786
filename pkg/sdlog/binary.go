package sdlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/daqifi/daqifi-core/pkg/daqproto"
	"google.golang.org/protobuf/encoding/protowire"
)

// ParseBinary decodes the SD-card binary log format (C6): a sequence of
// varint32(length) || bytes(length) records, each payload a device "out"
// message (daqproto.OutMessage). The older source revision suppressed
// the first sample when a message also carried configuration fields;
// this implementation always emits such a message as a sample while
// additionally merging its configuration fields, per the newer,
// documented behavior (§9 Open Questions).
func ParseBinary(data []byte, fileName string, opts Options) (ParsedSession, error) {
	stripped := stripSentinelIfPresent(data)

	var (
		samples []Sample
		config  DeviceConfiguration
		sawAny  bool
	)

	anchor := opts.anchor(fileName)
	var advancer *timestampAdvancer
	var inFileFreq uint32

	b := stripped
	messagesRead := 0
	for len(b) > 0 {
		if opts.cancelled() {
			return ParsedSession{}, daqcore.NewError(daqcore.Cancelled, "sdlog.ParseBinary", errCancelled)
		}
		length, n := protowire.ConsumeVarint(b)
		if n < 0 {
			// Varint ran off the end of the stream: terminate gracefully,
			// returning whatever records were fully read (§4.6 Robustness).
			break
		}
		b = b[n:]
		if uint64(len(b)) < length {
			break
		}
		payload := b[:length]
		b = b[length:]

		msg, err := daqproto.Decode(payload)
		if err != nil {
			// A decode failure within a record: skip to the next length
			// prefix (we already consumed this record's bytes above), and
			// keep going (§4.6 Robustness).
			continue
		}
		messagesRead++

		msgConfig, hasConfig := configFromMessage(msg)
		if hasConfig {
			config.merge(msgConfig)
			if msg.HasTimestampFreq && inFileFreq == 0 {
				inFileFreq = msg.TimestampFreq
			}
		}

		isSample := msg.HasMsgTimestamp || len(msg.AnalogInDataFloat) > 0 || len(msg.AnalogInData) > 0 || msg.HasDigitalData
		if !isSample {
			continue
		}
		sawAny = true

		if advancer == nil {
			freq, haveFreq := opts.tickFrequency(inFileFreq)
			advancer = newTimestampAdvancer(anchor, freq, haveFreq)
		}

		analogValues := analogValuesOf(msg)
		var analogTimestamps []uint64
		hasAnalogTs := false
		if len(msg.AnalogInDataTs) > 0 && len(msg.AnalogInDataTs) == len(analogValues) {
			analogTimestamps = msg.AnalogInDataTs
			hasAnalogTs = true
		}

		var tick uint64
		if len(analogTimestamps) > 0 {
			tick = analogTimestamps[0]
		} else {
			tick = uint64(msg.MsgTimestamp)
		}

		samples = append(samples, Sample{
			Timestamp:           advancer.next(tick),
			AnalogValues:        analogValues,
			AnalogTimestamps:    analogTimestamps,
			HasAnalogTimestamps: hasAnalogTs,
			DigitalData:         digitalDataOf(msg),
		})

		if messagesRead%64 == 0 {
			opts.reportProgress(Progress{BytesRead: int64(len(stripped) - len(b)), MessagesRead: int64(messagesRead)})
		}
	}
	opts.reportProgress(Progress{BytesRead: int64(len(stripped) - len(b)), MessagesRead: int64(messagesRead)})

	session := ParsedSession{
		FileName: fileName,
		Samples:  &sliceIterator{samples: samples},
	}
	if t, ok := dateFromFileName(fileName); ok {
		session.CreatedDate = &t
	}
	if opts.ConfigurationOverride != nil {
		merged := *opts.ConfigurationOverride
		merged.merge(config)
		session.Configuration = &merged
	} else if sawAny || !config.IsZero() {
		merged := config
		session.Configuration = &merged
	}
	return session, nil
}

func analogValuesOf(msg daqproto.OutMessage) []float64 {
	if len(msg.AnalogInDataFloat) > 0 {
		out := make([]float64, len(msg.AnalogInDataFloat))
		for i, v := range msg.AnalogInDataFloat {
			out[i] = float64(v)
		}
		return out
	}
	if len(msg.AnalogInData) > 0 {
		out := make([]float64, len(msg.AnalogInData))
		for i, v := range msg.AnalogInData {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}

func digitalDataOf(msg daqproto.OutMessage) uint32 {
	if !msg.HasDigitalData {
		return 0
	}
	var buf [4]byte
	n := len(msg.DigitalData)
	if n > 4 {
		n = 4
	}
	copy(buf[:n], msg.DigitalData[:n])
	return binary.LittleEndian.Uint32(buf[:])
}

// configFromMessage extracts the configuration-like fields of msg. hasConfig
// is false when msg carries no configuration information at all, so the
// caller can distinguish "observed empty config" from "nothing observed".
func configFromMessage(msg daqproto.OutMessage) (DeviceConfiguration, bool) {
	var c DeviceConfiguration
	has := false
	if msg.HasAnalogInPortNum {
		c.AnalogPortCount = int(msg.AnalogInPortNum)
		has = true
	}
	if msg.HasDigitalPortNum {
		c.DigitalPortCount = int(msg.DigitalPortNum)
		has = true
	}
	if msg.HasTimestampFreq {
		c.TickFrequencyHz = msg.TimestampFreq
		has = true
	}
	if msg.DeviceFwRev != "" {
		c.FirmwareRevision = msg.DeviceFwRev
		has = true
	}
	if msg.DevicePn != "" {
		c.DevicePartNumber = msg.DevicePn
		has = true
	}
	if msg.HasDeviceSn {
		c.DeviceSerialNumber = strconv.FormatUint(msg.DeviceSn, 10)
		has = true
	}
	if len(msg.AnalogInCalM) > 0 && len(msg.AnalogInCalM) == len(msg.AnalogInCalB) {
		cal := make([]CalibrationPoint, len(msg.AnalogInCalM))
		for i := range cal {
			cal[i] = CalibrationPoint{Slope: float64(msg.AnalogInCalM[i]), Intercept: float64(msg.AnalogInCalB[i])}
		}
		c.Calibration = cal
		has = true
	}
	return c, has
}

func stripSentinelIfPresent(data []byte) []byte {
	if idx := bytes.Index(data, []byte(Sentinel)); idx >= 0 {
		return data[:idx]
	}
	return data
}

var errCancelled = errors.New("cancelled")
