// Package timeutil provides UTC calendar helpers and an injectable clock.
// Streaks and activity dates are always compared as UTC calendar days.
// No external dependencies - uses only standard library.
package timeutil

import (
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so date arithmetic can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is a manually driven clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AddDays moves the clock forward by n calendar days.
func (c *FixedClock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR DAYS (UTC)
// ══════════════════════════════════════════════════════════════════════════════

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// Date creates a UTC midnight for the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// DateTime creates a UTC time with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// StartOfDay returns 00:00:00 UTC of the calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last nanosecond of the UTC calendar day containing t.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// CalendarDaysBetween returns the signed number of UTC calendar days from
// `from` to `to`. 23:59 and 00:01 of the next day are one day apart.
func CalendarDaysBetween(from, to time.Time) int {
	a := StartOfDay(from)
	b := StartOfDay(to)
	// Rounding absorbs leap seconds; UTC has no DST shifts.
	return int(b.Sub(a).Round(time.Hour).Hours() / 24)
}

// IsSameDay checks if two times fall on the same UTC calendar day.
func IsSameDay(t1, t2 time.Time) bool {
	return CalendarDaysBetween(t1, t2) == 0
}

// IsConsecutiveDay checks if t2 is the UTC calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	return CalendarDaysBetween(t1, t2) == 1
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ══════════════════════════════════════════════════════════════════════════════

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatISO is the timestamp format used on the wire.
	FormatISO = time.RFC3339
)

// FormatDateStr formats a time as a UTC date string (YYYY-MM-DD).
func FormatDateStr(t time.Time) string {
	return t.UTC().Format(FormatDate)
}

// FormatISOStr formats a time as an RFC 3339 UTC timestamp.
func FormatISOStr(t time.Time) string {
	return t.UTC().Format(FormatISO)
}

// ParseDate parses a YYYY-MM-DD string as a UTC date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, time.UTC)
}
