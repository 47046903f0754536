// Package timeutil provides timezone-aware date helpers and Spanish (es-ES)
// formatting for the student dashboard.
package timeutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultTimezone is the campus timezone used when none is configured.
const DefaultTimezone = "America/Lima"

var location atomic.Pointer[time.Location]

func init() {
	location.Store(time.FixedZone(DefaultTimezone, -5*60*60))
}

// SetLocation sets the campus timezone by IANA name.
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	location.Store(loc)
	return nil
}

// Location returns the campus timezone.
func Location() *time.Location {
	return location.Load()
}

// Now returns the current time in the campus timezone.
func Now() time.Time {
	return time.Now().In(Location())
}

// Local converts t to the campus timezone.
func Local(t time.Time) time.Time {
	return t.In(Location())
}

// StartOfDay returns midnight of t's day in the campus timezone.
func StartOfDay(t time.Time) time.Time {
	l := Local(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, Location())
}

// IsSameDay checks if two times fall on the same campus day.
func IsSameDay(t1, t2 time.Time) bool {
	a1, a2 := Local(t1), Local(t2)
	return a1.Year() == a2.Year() && a1.YearDay() == a2.YearDay()
}

// DaysBetween returns the absolute number of calendar days between two times.
func DaysBetween(t1, t2 time.Time) int {
	days := int(StartOfDay(t2).Sub(StartOfDay(t1)).Round(time.Hour).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Semester returns the academic term of t: "YYYY-I" for January to July,
// "YYYY-II" otherwise.
func Semester(t time.Time) string {
	l := Local(t)
	if l.Month() <= time.July {
		return fmt.Sprintf("%d-I", l.Year())
	}
	return fmt.Sprintf("%d-II", l.Year())
}

// Common layouts.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04"
	FormatTimeES   = "15:04"

	layoutDateES = "2/1/2006"
)

// FormatDateES formats t as d/m/yyyy, the es-ES short date.
func FormatDateES(t time.Time) string {
	return Local(t).Format(layoutDateES)
}

// FormatDateTimeES formats t as d/m/yyyy HH:MM.
func FormatDateTimeES(t time.Time) string {
	l := Local(t)
	return l.Format(layoutDateES) + " " + l.Format(FormatTimeES)
}

// FormatLongES formats t as "viernes, 15 de marzo de 2024".
func FormatLongES(t time.Time) string {
	l := Local(t)
	return fmt.Sprintf("%s, %d de %s de %d", WeekdayNameES(l.Weekday()), l.Day(), MonthNameES(l.Month()), l.Year())
}

// FormatRelativeES returns a Spanish relative time such as "hace 5 min".
func FormatRelativeES(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return formatFutureES(-d)
	}
	return formatPastES(d)
}

func formatPastES(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "justo ahora"
	case d < time.Hour:
		return fmt.Sprintf("hace %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("hace %d h", int(d.Hours()))
	case d < 48*time.Hour:
		return "ayer"
	case d < 30*24*time.Hour:
		return fmt.Sprintf("hace %d días", int(d.Hours()/24))
	default:
		months := int(d.Hours() / 24 / 30)
		if months < 12 {
			if months == 1 {
				return "hace 1 mes"
			}
			return fmt.Sprintf("hace %d meses", months)
		}
		if months/12 == 1 {
			return "hace 1 año"
		}
		return fmt.Sprintf("hace %d años", months/12)
	}
}

func formatFutureES(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "ahora"
	case d < time.Hour:
		return fmt.Sprintf("en %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("en %d h", int(d.Hours()))
	case d < 48*time.Hour:
		return "mañana"
	default:
		return fmt.Sprintf("en %d días", int(d.Hours()/24))
	}
}

// WeekdayNameES returns the lowercase Spanish name of a weekday.
func WeekdayNameES(w time.Weekday) string {
	names := [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	if w < time.Sunday || w > time.Saturday {
		return ""
	}
	return names[w]
}

// MonthNameES returns the lowercase Spanish name of a month.
func MonthNameES(m time.Month) string {
	names := [...]string{
		"", "enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
	}
	if m < time.January || m > time.December {
		return ""
	}
	return names[m]
}
