package query

import (
	"context"
	"sort"

	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADES
// ══════════════════════════════════════════════════════════════════════════════

// ListGradesQuery filters grades by subject. Zero SubjectID lists all.
type ListGradesQuery struct {
	SubjectID int64
}

// GradeDTO is a grade joined with its subject name.
type GradeDTO struct {
	academic.Grade
	SubjectName   string `json:"subject_name"`
	RecordedLabel string `json:"recorded_label"`
}

// GradeListDTO lists grades with their weighted average.
type GradeListDTO struct {
	Grades  []GradeDTO `json:"grades"`
	Average float64    `json:"average"`
}

// ListGradesHandler handles ListGradesQuery.
type ListGradesHandler struct {
	deps Deps
}

// NewListGradesHandler creates a new ListGradesHandler.
func NewListGradesHandler(deps Deps) *ListGradesHandler {
	return &ListGradesHandler{deps: deps}
}

// Handle returns grades newest first.
func (h *ListGradesHandler) Handle(_ context.Context, q ListGradesQuery) (*GradeListDTO, error) {
	v, err := h.deps.read()
	if err != nil {
		return nil, err
	}

	var grades []academic.Grade
	for _, g := range v.snapshot.Grades {
		if q.SubjectID == 0 || g.SubjectID == academic.SubjectID(q.SubjectID) {
			grades = append(grades, g)
		}
	}

	out := &GradeListDTO{
		Grades:  make([]GradeDTO, 0, len(grades)),
		Average: shared.Round2(academic.AverageGrade(grades)),
	}
	for _, g := range grades {
		out.Grades = append(out.Grades, GradeDTO{
			Grade:         g,
			SubjectName:   v.subjectName(g.SubjectID),
			RecordedLabel: timeutil.FormatDateES(g.RecordedAt),
		})
	}
	sort.SliceStable(out.Grades, func(i, j int) bool {
		return out.Grades[i].RecordedAt.After(out.Grades[j].RecordedAt)
	})
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

// ListAttendanceQuery filters attendance by subject. Zero SubjectID lists all.
type ListAttendanceQuery struct {
	SubjectID int64
}

// AttendanceDTO is an attendance entry joined with its subject name.
type AttendanceDTO struct {
	academic.AttendanceEntry
	SubjectName string `json:"subject_name"`
	DateLabel   string `json:"date_label"`
}

// AttendanceListDTO lists entries with their statistics.
type AttendanceListDTO struct {
	Entries []AttendanceDTO          `json:"entries"`
	Rate    int                      `json:"rate"`
	Stats   academic.AttendanceStats `json:"stats"`
}

// ListAttendanceHandler handles ListAttendanceQuery.
type ListAttendanceHandler struct {
	deps Deps
}

// NewListAttendanceHandler creates a new ListAttendanceHandler.
func NewListAttendanceHandler(deps Deps) *ListAttendanceHandler {
	return &ListAttendanceHandler{deps: deps}
}

// Handle returns entries most recent day first.
func (h *ListAttendanceHandler) Handle(_ context.Context, q ListAttendanceQuery) (*AttendanceListDTO, error) {
	v, err := h.deps.read()
	if err != nil {
		return nil, err
	}

	var entries []academic.AttendanceEntry
	for _, e := range v.snapshot.Attendance {
		if q.SubjectID == 0 || e.SubjectID == academic.SubjectID(q.SubjectID) {
			entries = append(entries, e)
		}
	}

	out := &AttendanceListDTO{
		Entries: make([]AttendanceDTO, 0, len(entries)),
		Rate:    academic.AttendanceRate(entries),
		Stats:   academic.ComputeAttendanceStats(entries),
	}
	loc := timeutil.Location()
	for _, e := range entries {
		out.Entries = append(out.Entries, AttendanceDTO{
			AttendanceEntry: e,
			SubjectName:     v.subjectName(e.SubjectID),
			DateLabel:       timeutil.FormatDateES(e.Date.Time(loc)),
		})
	}
	sort.SliceStable(out.Entries, func(i, j int) bool {
		return out.Entries[j].Date.Before(out.Entries[i].Date)
	})
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERTS
// ══════════════════════════════════════════════════════════════════════════════

// ListAlertsQuery selects alerts. By default only active ones are listed.
type ListAlertsQuery struct {
	IncludeInactive bool
	UnreadOnly      bool
}

// ListAlertsHandler handles ListAlertsQuery.
type ListAlertsHandler struct {
	deps Deps
}

// NewListAlertsHandler creates a new ListAlertsHandler.
func NewListAlertsHandler(deps Deps) *ListAlertsHandler {
	return &ListAlertsHandler{deps: deps}
}

// Handle returns alerts most severe first.
func (h *ListAlertsHandler) Handle(_ context.Context, q ListAlertsQuery) ([]AlertDTO, error) {
	v, err := h.deps.read()
	if err != nil {
		return nil, err
	}

	alerts := academic.ActiveAlerts(v.snapshot.Alerts, v.now)
	if q.IncludeInactive {
		alerts = v.snapshot.Alerts
	}
	if q.UnreadOnly {
		unread := alerts[:0:0]
		for _, a := range alerts {
			if !a.Read {
				unread = append(unread, a)
			}
		}
		alerts = unread
	}
	return toAlertDTOs(alerts, v.now), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ListSubjectsHandler lists subjects and resolves subject names.
type ListSubjectsHandler struct {
	deps Deps
}

// NewListSubjectsHandler creates a new ListSubjectsHandler.
func NewListSubjectsHandler(deps Deps) *ListSubjectsHandler {
	return &ListSubjectsHandler{deps: deps}
}

// Handle returns the subjects of the snapshot with their summaries.
func (h *ListSubjectsHandler) Handle(_ context.Context) ([]SubjectSummaryDTO, error) {
	v, err := h.deps.read()
	if err != nil {
		return nil, err
	}
	return summarizeSubjects(v.snapshot), nil
}

// Name returns the subject name, or academic.UnknownSubjectName.
func (h *ListSubjectsHandler) Name(_ context.Context, id int64) (string, error) {
	var name string
	err := h.deps.Sessions.WithStore(func(store *academic.Store, _ session.Session) error {
		name = store.FindSubjectName(academic.SubjectID(id))
		return nil
	})
	return name, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRAMS
// ══════════════════════════════════════════════════════════════════════════════

// ListProgramsHandler lists the programs offered by the data source.
type ListProgramsHandler struct {
	deps Deps
}

// NewListProgramsHandler creates a new ListProgramsHandler.
func NewListProgramsHandler(deps Deps) *ListProgramsHandler {
	return &ListProgramsHandler{deps: deps}
}

// Handle asks the data source with the session token.
func (h *ListProgramsHandler) Handle(ctx context.Context) ([]academic.Program, error) {
	sess, err := h.deps.Sessions.Current()
	if err != nil {
		return nil, err
	}
	programs, err := h.deps.Sessions.Backend().ListPrograms(ctx, sess.Token)
	if err != nil {
		return nil, err
	}
	if programs == nil {
		programs = []academic.Program{}
	}
	return programs, nil
}
