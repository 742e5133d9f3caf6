package formatter

import (
	"io"

	"github.com/bytedance/sonic"
	"github.com/penwyp/go-usbll2sr/internal/converter"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) Format(w io.Writer, reports []*converter.Report) error {
	if reports == nil {
		reports = []*converter.Report{}
	}
	data, err := sonic.ConfigDefault.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
