package commands

import (
	"fmt"

	"github.com/penwyp/go-usbll2sr/internal/converter"
	"github.com/penwyp/go-usbll2sr/internal/util"
	"github.com/spf13/cobra"
)

var (
	// Batch and watch flags
	recursive   bool
	outDir      string
	cacheDir    string
	noCache     bool
	resetCache  bool
	concurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Convert every capture in a directory",
	Long: `Converts each .pcap, .pcapng and gzip-compressed capture found in a
directory. Captures converted before with the same settings, and not
modified since, are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addBatchFlags(batchCmd)
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false,
		"Descend into subdirectories")
	cmd.Flags().StringVar(&outDir, "out-dir", "",
		"Directory for the archives (default: next to each capture)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", defaultCacheDir,
		"Conversion cache directory")
	cmd.Flags().BoolVar(&noCache, "no-cache", false,
		"Convert every capture regardless of the cache")
	cmd.Flags().BoolVarP(&resetCache, "reset", "r", false,
		"Clear the conversion cache first")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0,
		"Parallel conversions (0 = number of CPUs)")
}

// newBatch builds a batch runner over dir from the flags.
func newBatch(dir string) (*converter.Batch, error) {
	template, err := buildConfig()
	if err != nil {
		return nil, err
	}

	cfg := converter.BatchConfig{
		Dir:         expandPath(dir),
		Recursive:   recursive,
		Concurrency: concurrency,
		Template:    template,
	}
	if outDir != "" {
		cfg.OutputDir = expandPath(outDir)
	}
	if !noCache {
		cfg.CacheDir = expandPath(cacheDir)
		if err := ensureDir(cfg.CacheDir); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if resetCache {
			if err := clearCache(cfg.CacheDir); err != nil {
				return nil, fmt.Errorf("failed to clear cache: %w", err)
			}
			util.LogInfo("Cache cleared")
		}
	}
	return converter.NewBatch(cfg), nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	batch, err := newBatch(args[0])
	if err != nil {
		return err
	}

	results, err := batch.Run(cmd.Context())
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no capture files found in %s", args[0])
	}

	reports, failed := collectReports(cmd, results)
	if err := printReports(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d captures failed to convert", failed, len(results))
	}
	return nil
}

// collectReports gathers the successful reports and lists failures on
// stderr.
func collectReports(cmd *cobra.Command, results []converter.BatchResult) ([]*converter.Report, int) {
	reports := make([]*converter.Report, 0, len(results))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Input, res.Err)
			continue
		}
		reports = append(reports, res.Report)
	}
	return reports, failed
}
