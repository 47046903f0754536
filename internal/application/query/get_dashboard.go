package query

import (
	"context"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// The landing view: overall figures plus one summary per subject.
// ══════════════════════════════════════════════════════════════════════════════

// GetDashboardQuery has no parameters; the dashboard always belongs to the
// active session.
type GetDashboardQuery struct {
	// AlertLimit caps the alerts included. Zero means all active alerts.
	AlertLimit int
}

// DashboardDTO is the dashboard of the active session.
type DashboardDTO struct {
	Student academic.Profile `json:"student"`

	Semester       string    `json:"semester"`
	GeneratedAt    time.Time `json:"generated_at"`
	GeneratedLabel string    `json:"generated_label"`

	// Average is the weighted mean of all grades, two decimals.
	Average float64 `json:"average"`

	// CreditWeightedAverage weighs each subject average by its credits.
	CreditWeightedAverage float64 `json:"credit_weighted_average"`

	SubjectCount   int                      `json:"subject_count"`
	GradeCount     int                      `json:"grade_count"`
	AttendanceRate int                      `json:"attendance_rate"`
	Attendance     academic.AttendanceStats `json:"attendance"`

	ActiveAlertCount int        `json:"active_alert_count"`
	UnreadAlertCount int        `json:"unread_alert_count"`
	Alerts           []AlertDTO `json:"alerts"`

	Subjects []SubjectSummaryDTO `json:"subjects"`
}

// SubjectSummaryDTO summarizes one subject.
type SubjectSummaryDTO struct {
	ID             academic.SubjectID `json:"id"`
	Code           string             `json:"code,omitempty"`
	Name           string             `json:"name"`
	Credits        int                `json:"credits"`
	Average        float64            `json:"average"`
	GradeCount     int                `json:"grade_count"`
	AttendanceRate int                `json:"attendance_rate"`
	Risk           float64            `json:"risk"`
	RiskLevel      academic.RiskLevel `json:"risk_level"`
	Passed         bool               `json:"passed"`
}

// GetDashboardHandler handles GetDashboardQuery.
type GetDashboardHandler struct {
	deps Deps
}

// NewGetDashboardHandler creates a new GetDashboardHandler.
func NewGetDashboardHandler(deps Deps) *GetDashboardHandler {
	return &GetDashboardHandler{deps: deps}
}

// Handle computes the dashboard from the current store content.
func (h *GetDashboardHandler) Handle(_ context.Context, q GetDashboardQuery) (*DashboardDTO, error) {
	v, err := h.deps.read()
	if err != nil {
		return nil, err
	}
	snap := v.snapshot

	active := academic.ActiveAlerts(snap.Alerts, v.now)
	unread := 0
	for _, a := range active {
		if !a.Read {
			unread++
		}
	}
	shown := active
	if q.AlertLimit > 0 && len(shown) > q.AlertLimit {
		shown = shown[:q.AlertLimit]
	}

	dto := &DashboardDTO{
		Student:               v.session.Profile,
		Semester:              timeutil.Semester(v.now),
		GeneratedAt:           v.now,
		GeneratedLabel:        timeutil.FormatLongES(v.now),
		Average:               shared.Round2(academic.AverageGrade(snap.Grades)),
		CreditWeightedAverage: shared.Round2(academic.CreditWeightedAverage(snap.Subjects, snap.Grades)),
		SubjectCount:          len(snap.Subjects),
		GradeCount:            len(snap.Grades),
		AttendanceRate:        academic.AttendanceRate(snap.Attendance),
		Attendance:            academic.ComputeAttendanceStats(snap.Attendance),
		ActiveAlertCount:      len(active),
		UnreadAlertCount:      unread,
		Alerts:                toAlertDTOs(shown, v.now),
		Subjects:              summarizeSubjects(snap),
	}
	return dto, nil
}

func summarizeSubjects(snap academic.Snapshot) []SubjectSummaryDTO {
	grades := make(map[academic.SubjectID][]academic.Grade)
	for _, g := range snap.Grades {
		grades[g.SubjectID] = append(grades[g.SubjectID], g)
	}
	entries := make(map[academic.SubjectID][]academic.AttendanceEntry)
	for _, e := range snap.Attendance {
		entries[e.SubjectID] = append(entries[e.SubjectID], e)
	}

	out := make([]SubjectSummaryDTO, 0, len(snap.Subjects))
	for _, s := range snap.Subjects {
		avg := academic.AverageGrade(grades[s.ID])
		summary := SubjectSummaryDTO{
			ID:             s.ID,
			Code:           s.Code,
			Name:           s.Name,
			Credits:        s.Credits,
			Average:        shared.Round2(avg),
			GradeCount:     len(grades[s.ID]),
			AttendanceRate: academic.AttendanceRate(entries[s.ID]),
			RiskLevel:      academic.RiskLow,
			Passed:         len(grades[s.ID]) > 0 && avg >= academic.PassingGrade,
		}
		// Subjects without records carry no risk yet.
		if len(grades[s.ID]) > 0 || len(entries[s.ID]) > 0 {
			risk := academic.FailureRisk(grades[s.ID], entries[s.ID])
			summary.Risk = shared.Round2(risk)
			summary.RiskLevel = academic.LevelOf(risk)
		}
		out = append(out, summary)
	}
	return out
}
