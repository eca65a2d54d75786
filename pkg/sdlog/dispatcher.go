package sdlog

import (
	"path/filepath"
	"strings"

	daqcore "github.com/daqifi/daqifi-core"
)

// Format identifies which on-device log dialect a file name maps to.
type Format int

const (
	FormatUnknown Format = iota
	FormatBinary
	FormatJSON
	FormatCSV
)

// FormatOf maps a file extension to the log Format it names (C10),
// following the file-name convention in §6: .bin/.dat -> binary,
// .json -> JSON, .csv -> CSV.
func FormatOf(fileName string) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".bin", ".dat":
		return FormatBinary
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// Parse dispatches data to the parser matching fileName's extension
// (C10), returning NotFound's sibling InvalidArgument for an
// unrecognized extension.
func Parse(data []byte, fileName string, opts Options) (ParsedSession, error) {
	switch FormatOf(fileName) {
	case FormatBinary:
		return ParseBinary(data, fileName, opts)
	case FormatJSON:
		return ParseJSON(data, fileName, opts)
	case FormatCSV:
		return ParseCSV(data, fileName, opts)
	default:
		return ParsedSession{}, daqcore.NewError(daqcore.InvalidArgument, "sdlog.Parse",
			unsupportedExtensionError(fileName))
	}
}

type unsupportedExtensionError string

func (e unsupportedExtensionError) Error() string {
	return "unsupported log file extension: " + string(e)
}
