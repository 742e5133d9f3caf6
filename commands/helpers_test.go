package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/penwyp/go-usbll2sr/internal/testing/fixtures"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag of cmd and its subcommands to its default,
// since the flag variables outlive a single execution.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func executeCommandContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--log-file="}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeCommandContext(t, context.Background(), args...)
}

// writeCapture writes a Full-Speed pcap holding a SETUP token and an ACK.
func writeCapture(t *testing.T, dir, name string) string {
	t.Helper()
	path, err := fixtures.NewCaptureGenerator(dir).WritePcap(name, fixtures.LinkTypeFullSpeed, fixtures.SetupAck()...)
	require.NoError(t, err)
	return path
}
