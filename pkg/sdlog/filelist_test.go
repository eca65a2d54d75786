package sdlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileListStripsPathSegments(t *testing.T) {
	lines := []string{"/sd/logs/log_20240101_120000.bin"}
	entries, err := ParseFileList(lines)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "log_20240101_120000.bin", entries[0].FileName)
	assert.False(t, strings.Contains(entries[0].FileName, "/"))
	require.NotNil(t, entries[0].CreatedDate)
}

func TestParseFileListRejectsErrorLines(t *testing.T) {
	lines := []string{
		"**ERROR: no such file",
		"log_20240101_120000.bin",
		"  ",
		"",
	}
	entries, err := ParseFileList(lines)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "log_20240101_120000.bin", entries[0].FileName)
	for _, e := range entries {
		assert.False(t, strings.Contains(strings.ToUpper(e.FileName), "**ERROR"))
	}
}

func TestParseFileListNilInputRejected(t *testing.T) {
	_, err := ParseFileList(nil)
	require.Error(t, err)
}

func TestParseFileListNoDateForUnrecognizedName(t *testing.T) {
	entries, err := ParseFileList([]string{"notes.txt"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].CreatedDate)
}
