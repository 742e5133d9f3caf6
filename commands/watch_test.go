package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCommand(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "captures")
	out := filepath.Join(root, "archives")
	require.NoError(t, os.MkdirAll(dir, 0755))
	writeCapture(t, dir, "early.pcap")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	type result struct {
		stdout string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stdout, _, err := executeCommandContext(t, ctx, "watch", dir,
			"--out-dir", out, "--cache-dir", filepath.Join(root, "cache"),
			"--debounce", "20ms", "-o", "csv")
		done <- result{stdout, err}
	}()

	// The capture present at start is converted first.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "early.sr"))
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	// Then new captures as they appear.
	require.Eventually(t, func() bool {
		// Rewritten until seen, since the watcher starts after the
		// initial pass.
		writeCapture(t, dir, "late.pcap")
		_, err := os.Stat(filepath.Join(out, "late.sr"))
		return err == nil
	}, 10*time.Second, 200*time.Millisecond)

	cancel()
	res := <-done
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "early.pcap")
	assert.Contains(t, res.stdout, "late.pcap")
}
