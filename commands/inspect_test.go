package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convertedArchive(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	output := filepath.Join(dir, "setup.sr")
	_, _, err := executeCommand(t, "-q", writeCapture(t, dir, "setup.pcap"), output)
	require.NoError(t, err)
	return output
}

func TestInspectCommand(t *testing.T) {
	archive := convertedArchive(t)

	stdout, _, err := executeCommand(t, "inspect", archive, "--timezone", "UTC")
	require.NoError(t, err)
	for _, want := range []string{
		"Format:         version 2, sigrok 0.7.1",
		"Capture Start:  2024-03-04 05:06:07.000000 UTC",
		"Channels:       D+, D-",
		"Sample Rate:    48 MHz",
		"Samples:        572 in 1 blocks",
		"Speed:          Full-Speed",
		"Packets:        2",
		"SETUP",
		"2d 00 10",
		"ACK",
		"d2",
	} {
		assert.Contains(t, stdout, want)
	}

	stdout, _, err = executeCommand(t, "inspect", archive, "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "... 1 more")
}

func TestInspectCommandJSON(t *testing.T) {
	archive := convertedArchive(t)

	stdout, _, err := executeCommand(t, "inspect", archive, "-o", "json")
	require.NoError(t, err)

	var result inspectResult
	require.NoError(t, sonic.UnmarshalString(stdout, &result))
	assert.Equal(t, uint64(48_000_000), result.SampleRate)
	assert.Equal(t, uint64(572), result.TotalSamples)
	assert.Equal(t, "Full-Speed", result.Speed)
	assert.Equal(t, 2, result.Packets)
	require.Len(t, result.Listed, 2)
	assert.Equal(t, "SETUP", result.Listed[0].PID)
	assert.Equal(t, "d2", result.Listed[1].Data)
	require.NotNil(t, result.CaptureStart)
}

func TestInspectCommandErrors(t *testing.T) {
	_, _, err := executeCommand(t, "inspect", filepath.Join(t.TempDir(), "missing.sr"))
	assert.Error(t, err)

	notZip := filepath.Join(t.TempDir(), "text.sr")
	require.NoError(t, os.WriteFile(notZip, []byte("not an archive"), 0644))
	_, _, err = executeCommand(t, "inspect", notZip)
	assert.ErrorIs(t, err, model.ErrIO)
}
