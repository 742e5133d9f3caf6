package raster

import "github.com/penwyp/go-usbll2sr/internal/core/model"

// CheckSampleRate reports whether rate can carry every bit of the fastest
// speed in speeds. A lower rate silently drops transitions.
func CheckSampleRate(rate uint64, speeds ...model.Speed) error {
	var fastest model.Speed
	for _, s := range speeds {
		if s.BitRate() > fastest.BitRate() {
			fastest = s
		}
	}
	if fastest == model.SpeedUnknown || rate >= fastest.BitRate() {
		return nil
	}
	return &model.SampleRateTooLowError{
		SampleRate: rate,
		Required:   fastest.BitRate(),
		Speed:      fastest,
	}
}

// TotalSamples is the number of samples covering extent at rate.
func TotalSamples(extent model.Instant, rate uint64) uint64 {
	return model.SampleIndex(extent, rate)
}
