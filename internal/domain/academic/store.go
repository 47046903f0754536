package academic

import (
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// Store holds the academic records of one authenticated session.
//
// Identifiers for new grades, attendance entries and local alerts come from
// per-collection monotonic counters seeded with the highest ID present in the
// last loaded snapshot, so they never collide with loaded or previously
// assigned records.
type Store struct {
	subjects     []Subject
	subjectIndex map[SubjectID]int
	grades       []Grade
	attendance   []AttendanceEntry
	alerts       []Alert

	lastGradeID      GradeID
	lastAttendanceID AttendanceID
	lastAlertID      AlertID

	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for new records.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		subjectIndex: make(map[SubjectID]int),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// LoadSnapshot replaces all four collections with the content of snap.
// Records are taken as they are; no range validation happens here.
func (s *Store) LoadSnapshot(snap Snapshot) {
	snap = snap.Clone()

	s.subjects = snap.Subjects
	s.grades = snap.Grades
	s.attendance = snap.Attendance
	s.alerts = snap.Alerts

	s.subjectIndex = make(map[SubjectID]int, len(s.subjects))
	for i, subj := range s.subjects {
		if _, dup := s.subjectIndex[subj.ID]; !dup {
			s.subjectIndex[subj.ID] = i
		}
	}

	s.lastGradeID, s.lastAttendanceID, s.lastAlertID = 0, 0, 0
	for _, g := range s.grades {
		s.lastGradeID = max(s.lastGradeID, g.ID)
	}
	for _, e := range s.attendance {
		s.lastAttendanceID = max(s.lastAttendanceID, e.ID)
	}
	for _, a := range s.alerts {
		s.lastAlertID = max(s.lastAlertID, a.ID)
	}
}

// Reset discards every record and identifier counter.
func (s *Store) Reset() {
	s.LoadSnapshot(Snapshot{})
}

// ──────────────────────────────────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────────────────────────────────

// AddGrade appends a grade for subjectID with a fresh ID and the current time.
// The value is kept with two-decimal precision. It always succeeds.
func (s *Store) AddGrade(subjectID SubjectID, value, weightPercent float64) Grade {
	return s.AppendGrade(Grade{
		SubjectID:     subjectID,
		Value:         value,
		WeightPercent: weightPercent,
	})
}

// AppendGrade appends g, assigning a fresh ID. RecordedAt is set to the
// current time when zero.
func (s *Store) AppendGrade(g Grade) Grade {
	s.lastGradeID++
	g.ID = s.lastGradeID
	g.Value = shared.Round2(g.Value)
	if g.RecordedAt.IsZero() {
		g.RecordedAt = s.now()
	}
	s.grades = append(s.grades, g)
	return g
}

// UpsertAttendance records presence for (subjectID, date). An existing entry
// for the pair is replaced in place and keeps its ID; otherwise a new entry
// is appended.
func (s *Store) UpsertAttendance(subjectID SubjectID, date shared.Date, present bool) AttendanceEntry {
	entry, _ := s.UpsertAttendanceEntry(AttendanceEntry{
		SubjectID: subjectID,
		Date:      date,
		Present:   present,
	})
	return entry
}

// UpsertAttendanceEntry is UpsertAttendance for a full entry. The ID of e is
// ignored. It reports whether an existing entry was replaced.
func (s *Store) UpsertAttendanceEntry(e AttendanceEntry) (AttendanceEntry, bool) {
	key := e.key()
	for i := range s.attendance {
		if s.attendance[i].key() == key {
			e.ID = s.attendance[i].ID
			s.attendance[i] = e
			return e, true
		}
	}

	s.lastAttendanceID++
	e.ID = s.lastAttendanceID
	s.attendance = append(s.attendance, e)
	return e, false
}

// MergeAlerts appends alerts whose title is not already used by a visible
// alert. An alert keeps its ID when it is set and not taken; otherwise it
// gets a fresh one and is marked Local, since the data source does not know
// it under that ID. It returns the alerts that were added.
func (s *Store) MergeAlerts(alerts []Alert) []Alert {
	now := s.now()
	seen := make(map[string]struct{}, len(s.alerts))
	ids := make(map[AlertID]struct{}, len(s.alerts))
	for _, a := range s.alerts {
		ids[a.ID] = struct{}{}
		if a.IsVisible(now) {
			seen[a.Title] = struct{}{}
		}
	}

	var added []Alert
	for _, a := range alerts {
		if _, dup := seen[a.Title]; dup {
			continue
		}
		seen[a.Title] = struct{}{}

		if _, taken := ids[a.ID]; a.ID <= 0 || taken {
			s.lastAlertID++
			a.ID = s.lastAlertID
			a.Local = true
		}
		s.lastAlertID = max(s.lastAlertID, a.ID)
		ids[a.ID] = struct{}{}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		s.alerts = append(s.alerts, a)
		added = append(added, a)
	}
	return added
}

// MarkAlertRead flags an alert as read and returns it.
func (s *Store) MarkAlertRead(id AlertID) (Alert, error) {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Read = true
			return s.alerts[i], nil
		}
	}
	return Alert{}, shared.ErrAlertNotFound
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// FindSubjectName returns the name of the subject, or UnknownSubjectName.
func (s *Store) FindSubjectName(id SubjectID) string {
	if subj, ok := s.Subject(id); ok {
		return subj.Name
	}
	return UnknownSubjectName
}

// Subject looks up a subject by ID.
func (s *Store) Subject(id SubjectID) (Subject, bool) {
	i, ok := s.subjectIndex[id]
	if !ok {
		return Subject{}, false
	}
	return s.subjects[i], true
}

// HasSubject reports whether id is part of the current snapshot.
func (s *Store) HasSubject(id SubjectID) bool {
	_, ok := s.subjectIndex[id]
	return ok
}

// Subjects returns a copy of the subjects.
func (s *Store) Subjects() []Subject {
	return s.Snapshot().Subjects
}

// Grades returns a copy of the grades in insertion order.
func (s *Store) Grades() []Grade {
	return append([]Grade{}, s.grades...)
}

// GradesFor returns the grades recorded for one subject.
func (s *Store) GradesFor(id SubjectID) []Grade {
	var out []Grade
	for _, g := range s.grades {
		if g.SubjectID == id {
			out = append(out, g)
		}
	}
	return out
}

// Attendance returns a copy of the attendance entries in insertion order.
func (s *Store) Attendance() []AttendanceEntry {
	return append([]AttendanceEntry{}, s.attendance...)
}

// AttendanceFor returns the attendance entries of one subject.
func (s *Store) AttendanceFor(id SubjectID) []AttendanceEntry {
	var out []AttendanceEntry
	for _, e := range s.attendance {
		if e.SubjectID == id {
			out = append(out, e)
		}
	}
	return out
}

// Alerts returns a copy of all alerts, including archived and expired ones.
func (s *Store) Alerts() []Alert {
	return s.Snapshot().Alerts
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Subjects:   s.subjects,
		Grades:     s.grades,
		Attendance: s.attendance,
		Alerts:     s.alerts,
	}.Clone()
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}
