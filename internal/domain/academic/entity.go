package academic

import (
	"slices"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// UnknownSubjectName is returned by FindSubjectName when the subject is not
// part of the current snapshot.
const UnknownSubjectName = "unknown subject"

// Grade bounds.
const (
	MinGradeValue = 0.0
	MaxGradeValue = 20.0
	MinWeight     = 0.0
	MaxWeight     = 100.0

	// PassingGrade is the subject average from which a subject counts as passed.
	PassingGrade = 10.0
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTIFIERS
// ══════════════════════════════════════════════════════════════════════════════

// SubjectID identifies a subject. Stable across sessions.
type SubjectID int64

// GradeID identifies a grade within a session.
type GradeID int64

// AttendanceID identifies an attendance entry within a session.
type AttendanceID int64

// AlertID identifies an alert.
type AlertID int64

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Subject is a course the student is enrolled in.
type Subject struct {
	ID            SubjectID   `json:"id"`
	Code          string      `json:"code,omitempty"`
	Name          string      `json:"name"`
	Credits       int         `json:"credits"`
	Description   string      `json:"description,omitempty"`
	Prerequisites []SubjectID `json:"prerequisites,omitempty"`
}

// Grade is a single graded assessment with its weight in the subject average.
type Grade struct {
	ID            GradeID   `json:"id"`
	SubjectID     SubjectID `json:"subject_id"`
	Value         float64   `json:"value"`
	WeightPercent float64   `json:"weight_percent"`
	RecordedAt    time.Time `json:"recorded_at"`
	Description   string    `json:"description,omitempty"`
}

// WeightedValue returns the contribution of the grade to a 100% weighted sum.
func (g Grade) WeightedValue() float64 {
	return g.Value * g.WeightPercent / 100
}

// InRange reports whether value and weight are within their domain bounds.
func (g Grade) InRange() bool {
	return g.Value >= MinGradeValue && g.Value <= MaxGradeValue &&
		g.WeightPercent >= MinWeight && g.WeightPercent <= MaxWeight
}

// AttendanceEntry is one presence or absence record for a subject on a day.
type AttendanceEntry struct {
	ID        AttendanceID `json:"id"`
	SubjectID SubjectID    `json:"subject_id"`
	Date      shared.Date  `json:"date"`
	Present   bool         `json:"present"`
	Justified bool         `json:"justified,omitempty"`
	Notes     string       `json:"notes,omitempty"`
}

type attendanceKey struct {
	subject SubjectID
	date    shared.Date
}

func (e AttendanceEntry) key() attendanceKey {
	return attendanceKey{subject: e.SubjectID, date: e.Date}
}

// AlertType is the category of an alert.
type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertDanger  AlertType = "danger"
	AlertSuccess AlertType = "success"
)

// IsValid reports whether t is a known alert type.
func (t AlertType) IsValid() bool {
	switch t {
	case AlertInfo, AlertWarning, AlertDanger, AlertSuccess:
		return true
	default:
		return false
	}
}

// Severity orders alert types for display, higher first.
func (t AlertType) Severity() int {
	switch t {
	case AlertDanger:
		return 3
	case AlertWarning:
		return 2
	case AlertInfo:
		return 1
	default:
		return 0
	}
}

// Alert is a notification surfaced to the student.
type Alert struct {
	ID        AlertID    `json:"id"`
	Type      AlertType  `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Archived  bool       `json:"archived,omitempty"`
	Read      bool       `json:"read,omitempty"`

	// Local alerts were computed in this process and do not exist on the
	// data source, so their IDs mean nothing there.
	Local bool `json:"local,omitempty"`
}

// IsExpired reports whether the alert expired before now.
func (a Alert) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// IsVisible reports whether the alert should be shown at now.
func (a Alert) IsVisible(now time.Time) bool {
	return !a.Archived && !a.IsExpired(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the full academic state of one student as received from a source.
type Snapshot struct {
	Subjects   []Subject         `json:"subjects"`
	Grades     []Grade           `json:"grades"`
	Attendance []AttendanceEntry `json:"attendance"`
	Alerts     []Alert           `json:"alerts"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	subjects := make([]Subject, len(s.Subjects))
	for i, subj := range s.Subjects {
		subj.Prerequisites = slices.Clone(subj.Prerequisites)
		subjects[i] = subj
	}
	alerts := make([]Alert, len(s.Alerts))
	for i, a := range s.Alerts {
		if a.ExpiresAt != nil {
			exp := *a.ExpiresAt
			a.ExpiresAt = &exp
		}
		alerts[i] = a
	}
	return Snapshot{
		Subjects:   subjects,
		Grades:     append([]Grade(nil), s.Grades...),
		Attendance: append([]AttendanceEntry(nil), s.Attendance...),
		Alerts:     alerts,
	}
}

// IsEmpty reports whether the snapshot holds no records at all.
func (s Snapshot) IsEmpty() bool {
	return len(s.Subjects) == 0 && len(s.Grades) == 0 &&
		len(s.Attendance) == 0 && len(s.Alerts) == 0
}
