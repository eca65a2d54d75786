package sdlog

import (
	"errors"
	"strings"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
)

// FileListEntry is one parsed line of a device directory listing (C9).
type FileListEntry struct {
	FileName    string
	CreatedDate *time.Time
}

// ParseFileList turns a device directory listing into FileListEntry
// values, stripping leading path segments and SCPI error lines (§4.9).
func ParseFileList(lines []string) ([]FileListEntry, error) {
	if lines == nil {
		return nil, daqcore.NewError(daqcore.InvalidArgument, "sdlog.ParseFileList", errNilFileList)
	}
	var out []FileListEntry
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(line), "**ERROR") {
			continue
		}
		name := line
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		entry := FileListEntry{FileName: name}
		if t, ok := dateFromFileName(name); ok {
			entry.CreatedDate = &t
		}
		out = append(out, entry)
	}
	return out, nil
}

var errNilFileList = errors.New("file list input must not be nil")
