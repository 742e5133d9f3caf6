package util

import (
	"fmt"
	"sync"
	"time"
)

// TimestampLayout renders capture times down to the microsecond.
const TimestampLayout = "2006-01-02 15:04:05.000000 MST"

// TimeProvider renders absolute times in the zone chosen with --timezone.
type TimeProvider struct {
	mu       sync.RWMutex
	location *time.Location
}

var (
	timeProviderMu     sync.Mutex
	globalTimeProvider *TimeProvider
)

// InitializeTimeProvider replaces the global provider. An invalid zone
// leaves the previous provider in place.
func InitializeTimeProvider(timezone string) error {
	provider := &TimeProvider{}
	if err := provider.SetTimezone(timezone); err != nil {
		return err
	}

	timeProviderMu.Lock()
	globalTimeProvider = provider
	timeProviderMu.Unlock()
	return nil
}

// GetTimeProvider returns the global provider, defaulting to the local zone.
func GetTimeProvider() *TimeProvider {
	timeProviderMu.Lock()
	defer timeProviderMu.Unlock()
	if globalTimeProvider == nil {
		globalTimeProvider = &TimeProvider{location: time.Local}
	}
	return globalTimeProvider
}

// SetTimezone accepts an IANA zone name; "" and "Local" select the local zone.
func (tp *TimeProvider) SetTimezone(timezone string) error {
	loc := time.Local
	if timezone != "" && timezone != "Local" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w\nValid examples: Local, UTC, America/New_York, Europe/London", timezone, err)
		}
		loc = l
	}

	tp.mu.Lock()
	tp.location = loc
	tp.mu.Unlock()
	return nil
}

// Location returns the configured zone.
func (tp *TimeProvider) Location() *time.Location {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.location
}

// Format renders t in the configured zone.
func (tp *TimeProvider) Format(t time.Time, layout string) string {
	return t.In(tp.Location()).Format(layout)
}

// FormatTimestamp renders t with TimestampLayout.
func (tp *TimeProvider) FormatTimestamp(t time.Time) string {
	return tp.Format(t, TimestampLayout)
}
