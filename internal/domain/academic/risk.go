package academic

import (
	"fmt"
	"sort"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// Risk thresholds.
const (
	MinAttendancePercent = 70.0

	HighRiskThreshold   = 0.7
	MediumRiskThreshold = 0.4

	gradeRiskWeight      = 0.7
	attendanceRiskWeight = 0.3
)

// RiskLevel classifies a failure risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// LevelOf maps a risk in [0, 1] to its level.
func LevelOf(risk float64) RiskLevel {
	switch {
	case risk > HighRiskThreshold:
		return RiskHigh
	case risk > MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// FailureRisk estimates the probability of failing a subject from its grades
// and attendance, in [0, 1].
//
// The grade component grows linearly as the average drops below the passing
// grade; the attendance component grows as attendance drops below 70%.
// Missing grades count as an average of 0 and missing attendance as 0%.
func FailureRisk(grades []Grade, entries []AttendanceEntry) float64 {
	avg := AverageGrade(grades)
	pct := 0.0
	if len(entries) > 0 {
		pct = 100 * float64(countPresent(entries)) / float64(len(entries))
	}

	gradeRisk := 0.0
	if avg < PassingGrade {
		gradeRisk = (PassingGrade - avg) / PassingGrade
	}
	attendanceRisk := 0.0
	if pct < MinAttendancePercent {
		attendanceRisk = (MinAttendancePercent - pct) / MinAttendancePercent
	}

	return shared.Clamp(gradeRisk*gradeRiskWeight+attendanceRisk*attendanceRiskWeight, 0, 1)
}

// SubjectRisk is the failure risk computed for one subject.
type SubjectRisk struct {
	SubjectID SubjectID `json:"subject_id"`
	Name      string    `json:"name"`
	Risk      float64   `json:"risk"`
	Level     RiskLevel `json:"level"`
}

// RiskBySubject computes FailureRisk for every subject that has at least one
// grade or attendance entry, ordered by subject ID.
func RiskBySubject(snap Snapshot) []SubjectRisk {
	grades := make(map[SubjectID][]Grade)
	entries := make(map[SubjectID][]AttendanceEntry)
	ids := make(map[SubjectID]struct{})
	for _, g := range snap.Grades {
		grades[g.SubjectID] = append(grades[g.SubjectID], g)
		ids[g.SubjectID] = struct{}{}
	}
	for _, e := range snap.Attendance {
		entries[e.SubjectID] = append(entries[e.SubjectID], e)
		ids[e.SubjectID] = struct{}{}
	}

	names := make(map[SubjectID]string, len(snap.Subjects))
	for _, s := range snap.Subjects {
		names[s.ID] = s.Name
	}

	out := make([]SubjectRisk, 0, len(ids))
	for id := range ids {
		name, ok := names[id]
		if !ok {
			name = UnknownSubjectName
		}
		risk := FailureRisk(grades[id], entries[id])
		out = append(out, SubjectRisk{SubjectID: id, Name: name, Risk: risk, Level: LevelOf(risk)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// Titles of generated alerts. They match the titles the backend gives the
// alerts it generates, so both kinds dedupe against each other.
const (
	HighRiskTitlePrefix   = "Riesgo alto de reprobación - "
	MediumRiskTitlePrefix = "Atención requerida - "
	LowAttendanceTitle    = "Asistencia baja"
)

// GenerateAlerts derives alerts from the snapshot: one per subject at medium
// or high failure risk, plus one when overall attendance is below 70%.
// Returned alerts carry no ID and are marked Local.
func GenerateAlerts(snap Snapshot, now time.Time) []Alert {
	var alerts []Alert
	for _, r := range RiskBySubject(snap) {
		switch r.Level {
		case RiskHigh:
			alerts = append(alerts, Alert{
				Type:      AlertDanger,
				Title:     HighRiskTitlePrefix + r.Name,
				Message:   fmt.Sprintf("Tu riesgo de reprobación en %s es del %.1f%%. Te recomendamos revisar tus notas y asistencias.", r.Name, r.Risk*100),
				CreatedAt: now,
				Local:     true,
			})
		case RiskMedium:
			alerts = append(alerts, Alert{
				Type:      AlertWarning,
				Title:     MediumRiskTitlePrefix + r.Name,
				Message:   fmt.Sprintf("Tu riesgo de reprobación en %s es del %.1f%%. Es importante mejorar tu rendimiento.", r.Name, r.Risk*100),
				CreatedAt: now,
				Local:     true,
			})
		}
	}

	if len(snap.Attendance) > 0 {
		pct := 100 * float64(countPresent(snap.Attendance)) / float64(len(snap.Attendance))
		if pct < MinAttendancePercent {
			alerts = append(alerts, Alert{
				Type:      AlertWarning,
				Title:     LowAttendanceTitle,
				Message:   fmt.Sprintf("Tu porcentaje de asistencia es del %.1f%%. Recuerda que necesitas al menos 70%% para aprobar.", pct),
				CreatedAt: now,
				Local:     true,
			})
		}
	}
	return alerts
}
