package sync

import "time"

// DefaultLookback is the trailing range requested on every run
const DefaultLookback = 24 * time.Hour

// WindowSelector computes the fetch window from wall-clock time.
// There is no cursor: every call returns the full trailing lookback.
type WindowSelector struct {
	Lookback time.Duration
	Now      func() time.Time
}

// NewWindowSelector creates a selector over the system clock
func NewWindowSelector(lookback time.Duration) *WindowSelector {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &WindowSelector{Lookback: lookback, Now: time.Now}
}

// CurrentWindow returns [now-lookback, now)
func (s *WindowSelector) CurrentWindow() FetchWindow {
	now := s.Now().UTC()
	return FetchWindow{Start: now.Add(-s.Lookback), End: now}
}
