// Package clock provides the "real_time_tool" capability, which reports the
// current date and time so the reasoning engine can anchor time-sensitive
// answers.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/arbiter/internal/capability"
)

// Name is the capability name.
const Name = "real_time_tool"

const layout = "Monday, 02 January 2006 15:04:05 MST"

// Option configures the clock capability.
type Option func(*config)

type config struct {
	now func() time.Time
	loc *time.Location
}

// WithNow replaces the time source. Useful in tests.
func WithNow(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithLocation adds the time in loc to the output alongside UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *config) {
		c.loc = loc
	}
}

// Capability returns the real_time_tool capability.
func Capability(opts ...Option) capability.Capability {
	cfg := &config{now: time.Now}
	for _, o := range opts {
		o(cfg)
	}
	return capability.New(Name,
		"Returns the current date and time. Use it before answering anything that depends on the present date, such as current, latest, today or recent events.",
		func(_ context.Context, _ struct{}) (string, error) {
			return Format(cfg.now(), cfg.loc), nil
		})
}

// Format renders t in UTC and, when loc is set and differs from UTC, in loc.
func Format(t time.Time, loc *time.Location) string {
	out := fmt.Sprintf("Current date and time: %s (ISO 8601: %s)", t.UTC().Format(layout), t.UTC().Format(time.RFC3339))
	if loc != nil && loc != time.UTC && loc.String() != "UTC" {
		out += fmt.Sprintf("\nLocal time (%s): %s", loc, t.In(loc).Format(layout))
	}
	return out
}
