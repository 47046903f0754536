package academic

import (
	"math"
	"sort"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// AverageGrade returns the weighted average of grades, renormalized by the
// total weight actually present. It returns 0 for an empty slice or when
// every weight is zero.
func AverageGrade(grades []Grade) float64 {
	var sum, totalWeight float64
	for _, g := range grades {
		sum += g.Value * (g.WeightPercent / 100)
		totalWeight += g.WeightPercent
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / (totalWeight / 100)
}

// AttendanceRate returns the share of present entries as a whole percentage.
func AttendanceRate(entries []AttendanceEntry) int {
	if len(entries) == 0 {
		return 0
	}
	return int(math.Round(100 * float64(countPresent(entries)) / float64(len(entries))))
}

func countPresent(entries []AttendanceEntry) int {
	n := 0
	for _, e := range entries {
		if e.Present {
			n++
		}
	}
	return n
}

// SubjectAverage is AverageGrade restricted to one subject.
func SubjectAverage(grades []Grade, id SubjectID) float64 {
	var own []Grade
	for _, g := range grades {
		if g.SubjectID == id {
			own = append(own, g)
		}
	}
	return AverageGrade(own)
}

// AveragesBySubject groups grades by subject and averages each group.
func AveragesBySubject(grades []Grade) map[SubjectID]float64 {
	groups := make(map[SubjectID][]Grade)
	for _, g := range grades {
		groups[g.SubjectID] = append(groups[g.SubjectID], g)
	}
	out := make(map[SubjectID]float64, len(groups))
	for id, gs := range groups {
		out[id] = AverageGrade(gs)
	}
	return out
}

// CreditWeightedAverage averages per-subject grade averages using subject
// credits as weights. Subjects without grades or credits are skipped.
func CreditWeightedAverage(subjects []Subject, grades []Grade) float64 {
	averages := AveragesBySubject(grades)

	var sum float64
	var credits int
	for _, subj := range subjects {
		avg, ok := averages[subj.ID]
		if !ok || subj.Credits <= 0 {
			continue
		}
		sum += avg * float64(subj.Credits)
		credits += subj.Credits
	}
	if credits == 0 {
		return 0
	}
	return sum / float64(credits)
}

// AttendanceStats summarizes attendance entries.
type AttendanceStats struct {
	Total   int     `json:"total"`
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Percent float64 `json:"percent"` // two decimals
}

// ComputeAttendanceStats counts entries and computes a two-decimal percentage.
func ComputeAttendanceStats(entries []AttendanceEntry) AttendanceStats {
	stats := AttendanceStats{Total: len(entries), Present: countPresent(entries)}
	stats.Absent = stats.Total - stats.Present
	if stats.Total > 0 {
		stats.Percent = shared.Round2(100 * float64(stats.Present) / float64(stats.Total))
	}
	return stats
}

// AttendanceBySubject groups entries by subject and summarizes each group.
func AttendanceBySubject(entries []AttendanceEntry) map[SubjectID]AttendanceStats {
	groups := make(map[SubjectID][]AttendanceEntry)
	for _, e := range entries {
		groups[e.SubjectID] = append(groups[e.SubjectID], e)
	}
	out := make(map[SubjectID]AttendanceStats, len(groups))
	for id, es := range groups {
		out[id] = ComputeAttendanceStats(es)
	}
	return out
}

// ActiveAlerts returns the alerts visible at now, most severe first and
// newest first within a severity.
func ActiveAlerts(alerts []Alert, now time.Time) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.IsVisible(now) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if si, sj := out[i].Type.Severity(), out[j].Type.Severity(); si != sj {
			return si > sj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
