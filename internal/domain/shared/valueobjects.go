package shared

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID is the backend's numeric student identifier.
type StudentID int64

// IsValid checks if the student ID is valid (positive number).
func (s StudentID) IsValid() bool {
	return s > 0
}

// Int64 returns the underlying int64 value.
func (s StudentID) Int64() int64 {
	return int64(s)
}

// String returns the string representation.
func (s StudentID) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id int64) (StudentID, error) {
	if id <= 0 {
		return 0, NewDomainError("shared", "NewStudentID", ErrInvalidID, "student ID must be positive")
	}
	return StudentID(id), nil
}

// ParseStudentID parses a decimal student ID.
func ParseStudentID(s string) (StudentID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, WrapError("shared", "ParseStudentID", ErrInvalidID, "student ID is not a number", err)
	}
	return NewStudentID(n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Date Value Object (calendar day, no time component)
// ═══════════════════════════════════════════════════════════════════════════

// DateLayout is the wire format of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day. Two Dates are equal when year, month and day match.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string. A full RFC 3339 timestamp is
// accepted too and truncated to its calendar day.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, WrapError("shared", "ParseDate", ErrInvalidFormat,
		fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s), nil)
}

// MustParseDate is ParseDate that panics on error. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time(time.UTC).Before(other.Time(time.UTC))
}

// MarshalJSON encodes d as "YYYY-MM-DD", or null for the zero Date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD" (or an RFC 3339 timestamp).
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Numeric helpers
// ═══════════════════════════════════════════════════════════════════════════

// Round2 rounds v to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
