// Package window decides whether WhatsApp's customer-service window is
// open for a guest, which is when free-form messages may be sent.
package window

import "time"

// DefaultDuration is how long after a guest's last inbound message the
// window stays open.
const DefaultDuration = 24 * time.Hour

type Decider struct {
	duration time.Duration
	now      func() time.Time
}

// New creates a decider for a window of the given length
func New(duration time.Duration) *Decider {
	return &Decider{duration: duration, now: time.Now}
}

// WithClock returns a copy of d that reads the time from now
func (d *Decider) WithClock(now func() time.Time) *Decider {
	c := *d
	c.now = now
	return &c
}

// WithinWindow reports whether lastInboundAt is less than the window length
// ago. An unknown last contact is treated as outside the window.
func (d *Decider) WithinWindow(lastInboundAt *time.Time) bool {
	if lastInboundAt == nil {
		return false
	}
	return d.now().UTC().Sub(lastInboundAt.UTC()) < d.duration
}
