// Package formatter renders conversion reports.
package formatter

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/penwyp/go-usbll2sr/internal/converter"
)

// Formatter writes a set of reports to w.
type Formatter interface {
	Format(w io.Writer, reports []*converter.Report) error
}

// Names lists the accepted output formats.
var Names = []string{"table", "json", "csv", "summary"}

// New returns the formatter registered under name.
func New(name string) (Formatter, error) {
	switch strings.ToLower(name) {
	case "", "table":
		return NewTableFormatter(), nil
	case "json":
		return NewJSONFormatter(), nil
	case "csv":
		return NewCSVFormatter(), nil
	case "summary":
		return NewSummaryFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want one of %s)", name, strings.Join(Names, ", "))
	}
}

func captureName(r *converter.Report) string {
	return filepath.Base(r.Input)
}
