package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/converter"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/raster"
	"github.com/penwyp/go-usbll2sr/internal/presentation/display"
	"github.com/penwyp/go-usbll2sr/internal/presentation/formatter"
	"github.com/penwyp/go-usbll2sr/internal/util"
	"github.com/spf13/cobra"
)

var (
	// Logging related
	debug     bool
	logLevel  string
	logFormat string
	logFile   string

	// Output related
	outputFormat string
	timezone     string
	quiet        bool

	// Conversion settings
	speedName        string
	interpolate      int
	sampleRate       uint64
	startPadding     int
	endPadding       int
	minDuration      time.Duration
	blockSize        int
	strictPID        bool
	strictSampleRate bool
	overwrite        bool

	rootCmd = &cobra.Command{
		Use:   "go-usbll2sr <capture> <output.sr>",
		Short: "Convert USB link-layer captures to sigrok session files",
		Long: `go-usbll2sr rebuilds the D+/D- signaling of Low-Speed and Full-Speed USB
packets recorded in a pcap or pcapng capture and writes it as a sigrok
session archive (.sr) that PulseView and sigrok-cli can open.

Inter-packet timing is taken from the capture. The speed comes from the
capture's link type (LINKTYPE_USB_2_0_LOW_SPEED / _FULL_SPEED) unless
--speed is given; pcapng captures always need --speed.

Examples:
  go-usbll2sr keyboard.pcap keyboard.sr              # Speed from the link type
  go-usbll2sr --speed fs trace.pcapng trace.sr        # Explicit Full-Speed
  go-usbll2sr -x 8 trace.pcap trace.sr                # 8 samples per bit
  go-usbll2sr --samplerate 24000000 in.pcap out.sr    # Fixed sample rate
  go-usbll2sr -o json in.pcap out.sr                  # JSON report
  go-usbll2sr batch ./captures --out-dir ./archives   # Convert a directory`,
		Args:               cobra.ExactArgs(2),
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		RunE:               runConvert,
	}
)

const (
	defaultLogFile  = "~/.go-usbll2sr/logs/app.log"
	defaultCacheDir = "~/.go-usbll2sr/cache"
)

func init() {
	defaults := converter.DefaultConfig()

	// Conversion settings, shared by batch and watch
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&speedName, "speed", "auto",
		"Bus speed (auto, ls, fs); auto reads the capture link type")
	flags.IntVarP(&interpolate, "interpolate", "x", defaults.Interpolate,
		"Samples per bit of the fastest speed, used when --samplerate is 0")
	flags.Uint64Var(&sampleRate, "samplerate", 0,
		"Sample rate in Hz (0 = bit rate x interpolate)")
	flags.IntVarP(&startPadding, "start-padding", "s", defaults.StartPadding,
		"Idle bit cycles before the first packet")
	flags.IntVarP(&endPadding, "end-padding", "e", defaults.EndPadding,
		"Idle bit cycles after the last packet")
	flags.DurationVar(&minDuration, "min-duration", 0,
		"Shortest session length (e.g. 10ms)")
	flags.IntVar(&blockSize, "block-size", raster.DefaultMaxBlockBytes,
		"Maximum uncompressed bytes per sample block")
	flags.BoolVar(&strictPID, "strict-pid", false,
		"Reject packets whose PID fails the check nibble")
	flags.BoolVar(&strictSampleRate, "strict-samplerate", false,
		"Fail instead of warn when the sample rate is below the bit rate")
	flags.BoolVarP(&overwrite, "overwrite", "f", false,
		"Replace existing archives")

	// Output configuration
	flags.StringVarP(&outputFormat, "output", "o", "summary",
		"Report format ("+strings.Join(formatter.Names, ", ")+")")
	flags.StringVar(&timezone, "timezone", "Local",
		"Timezone for reported times (e.g., UTC, Europe/Berlin)")
	flags.BoolVarP(&quiet, "quiet", "q", false,
		"No progress bar")

	// System and debugging
	flags.BoolVar(&debug, "debug", false,
		"Enable debug logging to stderr")
	flags.StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")
	flags.StringVar(&logFile, "log-file", defaultLogFile,
		"Log file path (empty disables file logging)")
}

// setup installs the logger and time provider for every command.
func setup(cmd *cobra.Command, args []string) error {
	level := logLevel
	if debug {
		level = "debug"
	}
	path := logFile
	if path != "" {
		path = expandPath(path)
	}
	if err := util.InitLogger(util.LoggerOptions{
		Level:   level,
		File:    path,
		Console: debug,
		Format:  util.ParseLogFormat(logFormat),
	}); err != nil {
		return err
	}
	if err := util.InitializeTimeProvider(timezone); err != nil {
		return err
	}
	if _, err := formatter.New(outputFormat); err != nil {
		return err
	}
	util.LogDebugf("Command %s started with args %v", cmd.Name(), args)
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	util.CloseLogger()
	return nil
}

// buildConfig turns the flags into a conversion template.
func buildConfig() (converter.Config, error) {
	cfg := converter.DefaultConfig()
	if name := strings.ToLower(speedName); name != "" && name != "auto" {
		speed, err := model.ParseSpeed(name)
		if err != nil {
			return cfg, err
		}
		cfg.Speed = speed
	}
	cfg.Interpolate = interpolate
	cfg.SampleRate = sampleRate
	cfg.StartPadding = startPadding
	cfg.EndPadding = endPadding
	cfg.MinDuration = minDuration
	cfg.MaxBlockBytes = blockSize
	cfg.StrictPID = strictPID
	cfg.StrictSampleRate = strictSampleRate
	cfg.Overwrite = overwrite
	return cfg, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	cfg.Input = args[0]
	cfg.Output = args[1]

	if !quiet && !debug {
		bar := display.NewProgressBar(os.Stderr, filepath.Base(cfg.Input))
		if bar.Enabled() {
			cfg.Progress = bar.Update
			defer bar.Done()
		}
	}

	report, err := converter.New(cfg).Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", cfg.Input, err)
	}
	return printReports(cmd.OutOrStdout(), []*converter.Report{report})
}

func printReports(w io.Writer, reports []*converter.Report) error {
	f, err := formatter.New(outputFormat)
	if err != nil {
		return err
	}
	return f.Format(w, reports)
}

// Execute runs the command line until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func clearCache(cacheDir string) error {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			path := filepath.Join(cacheDir, entry.Name())
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}

	return nil
}
