package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeUnit names a unit for delays and time-to-live values.
type TimeUnit string

// Time units.
const (
	Nanoseconds  TimeUnit = "NANOSECONDS"
	Microseconds TimeUnit = "MICROSECONDS"
	Milliseconds TimeUnit = "MILLISECONDS"
	Seconds      TimeUnit = "SECONDS"
	Minutes      TimeUnit = "MINUTES"
	Hours        TimeUnit = "HOURS"
	Days         TimeUnit = "DAYS"
)

var timeUnits = map[TimeUnit]time.Duration{
	Nanoseconds:  time.Nanosecond,
	Microseconds: time.Microsecond,
	Milliseconds: time.Millisecond,
	Seconds:      time.Second,
	Minutes:      time.Minute,
	Hours:        time.Hour,
	Days:         24 * time.Hour,
}

// Valid reports whether the unit is known. The empty unit defaults to milliseconds.
func (u TimeUnit) Valid() bool {
	if u == "" {
		return true
	}
	_, ok := timeUnits[TimeUnit(strings.ToUpper(string(u)))]
	return ok
}

// Duration converts value in this unit to a time.Duration.
func (u TimeUnit) Duration(value int64) time.Duration {
	if u == "" {
		return time.Duration(value) * time.Millisecond
	}
	unit, ok := timeUnits[TimeUnit(strings.ToUpper(string(u)))]
	if !ok {
		return 0
	}
	return time.Duration(value) * unit
}

// Delay is a pause applied before an action completes.
type Delay struct {
	TimeUnit TimeUnit `json:"timeUnit,omitempty"`
	Value    int64    `json:"value"`
}

// DelayOf builds a delay from a duration, expressed in milliseconds.
func DelayOf(d time.Duration) *Delay {
	return &Delay{TimeUnit: Milliseconds, Value: d.Milliseconds()}
}

// Duration returns the delay length. A nil delay is zero.
func (d *Delay) Duration() time.Duration {
	if d == nil || d.Value <= 0 {
		return 0
	}
	return d.TimeUnit.Duration(d.Value)
}

// Times bounds how many requests an expectation may serve.
type Times struct {
	RemainingTimes int  `json:"remainingTimes"`
	Unlimited      bool `json:"unlimited,omitempty"`
}

// Unlimited returns a Times that never runs out.
func Unlimited() *Times {
	return &Times{Unlimited: true}
}

// Once returns a Times allowing exactly one match.
func Once() *Times {
	return Exactly(1)
}

// Exactly returns a Times allowing n matches.
func Exactly(n int) *Times {
	return &Times{RemainingTimes: n}
}

// Exhausted reports whether no uses remain. A nil Times is unlimited.
func (t *Times) Exhausted() bool {
	if t == nil || t.Unlimited {
		return false
	}
	return t.RemainingTimes <= 0
}

// Decrement consumes one use and reports whether the Times is now exhausted.
func (t *Times) Decrement() bool {
	if t == nil || t.Unlimited {
		return false
	}
	if t.RemainingTimes > 0 {
		t.RemainingTimes--
	}
	return t.RemainingTimes <= 0
}

// Clone returns a copy.
func (t *Times) Clone() *Times {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (t *Times) String() string {
	if t == nil || t.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", t.RemainingTimes)
}

// TimeToLive bounds the wall-clock lifetime of an expectation. EndDate is
// fixed when the expectation is stored.
type TimeToLive struct {
	TimeUnit   TimeUnit   `json:"timeUnit,omitempty"`
	TimeToLive int64      `json:"timeToLive,omitempty"`
	Unlimited  bool       `json:"unlimited,omitempty"`
	EndDate    *time.Time `json:"endDate,omitempty"`
}

// UnlimitedTTL returns a TimeToLive that never expires.
func UnlimitedTTL() *TimeToLive {
	return &TimeToLive{Unlimited: true}
}

// TTL returns a TimeToLive of the given length.
func TTL(d time.Duration) *TimeToLive {
	return &TimeToLive{TimeUnit: Milliseconds, TimeToLive: d.Milliseconds()}
}

// Start fixes the end date relative to now unless one is already set.
func (t *TimeToLive) Start(now time.Time) {
	if t == nil || t.Unlimited || t.EndDate != nil {
		return
	}
	end := now.Add(t.TimeUnit.Duration(t.TimeToLive))
	t.EndDate = &end
}

// Expired reports whether the lifetime has elapsed at now.
func (t *TimeToLive) Expired(now time.Time) bool {
	if t == nil || t.Unlimited || t.EndDate == nil {
		return false
	}
	return !now.Before(*t.EndDate)
}

// Clone returns a copy.
func (t *TimeToLive) Clone() *TimeToLive {
	if t == nil {
		return nil
	}
	c := *t
	if t.EndDate != nil {
		end := *t.EndDate
		c.EndDate = &end
	}
	return &c
}
