package academic

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

func TestAverageGrade(t *testing.T) {
	tests := []struct {
		name   string
		grades []Grade
		want   float64
	}{
		{name: "empty", grades: nil, want: 0},
		{
			name: "all weights zero",
			grades: []Grade{
				{Value: 18, WeightPercent: 0},
				{Value: 12, WeightPercent: 0},
			},
			want: 0,
		},
		{
			name:   "single grade",
			grades: []Grade{{Value: 13.5, WeightPercent: 25}},
			want:   13.5,
		},
		{
			name: "weights summing to 100",
			grades: []Grade{
				{Value: 18, WeightPercent: 40},
				{Value: 14, WeightPercent: 60},
			},
			want: 15.6,
		},
		{
			name: "renormalized when weights fall short",
			grades: []Grade{
				{Value: 20, WeightPercent: 10},
				{Value: 10, WeightPercent: 10},
			},
			want: 15,
		},
		{
			name: "renormalized when weights overflow",
			grades: []Grade{
				{Value: 16, WeightPercent: 80},
				{Value: 8, WeightPercent: 80},
			},
			want: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AverageGrade(tt.grades), 1e-9)
		})
	}
}

func TestAverageGrade_StaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(8)
		grades := make([]Grade, n)
		for j := range grades {
			grades[j] = Grade{
				Value:         shared.Round2(rng.Float64() * MaxGradeValue),
				WeightPercent: float64(rng.Intn(101)),
			}
		}

		avg := AverageGrade(grades)
		assert.GreaterOrEqual(t, avg, MinGradeValue)
		assert.LessOrEqual(t, avg, MaxGradeValue+1e-9)
	}
}

func TestAverageGrade_OrderIndependent(t *testing.T) {
	grades := []Grade{
		{Value: 11, WeightPercent: 20},
		{Value: 17, WeightPercent: 35},
		{Value: 9.5, WeightPercent: 45},
	}
	reversed := []Grade{grades[2], grades[1], grades[0]}

	assert.InDelta(t, AverageGrade(grades), AverageGrade(reversed), 1e-9)
}

func TestAttendanceRate(t *testing.T) {
	entry := func(present bool) AttendanceEntry { return AttendanceEntry{Present: present} }

	tests := []struct {
		name    string
		entries []AttendanceEntry
		want    int
	}{
		{name: "empty", entries: nil, want: 0},
		{name: "half present", entries: []AttendanceEntry{entry(true), entry(true), entry(false), entry(false)}, want: 50},
		{name: "all present", entries: []AttendanceEntry{entry(true), entry(true)}, want: 100},
		{name: "none present", entries: []AttendanceEntry{entry(false)}, want: 0},
		{name: "rounds up", entries: []AttendanceEntry{entry(true), entry(true), entry(false)}, want: 67},
		{name: "rounds down", entries: []AttendanceEntry{entry(true), entry(false), entry(false)}, want: 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AttendanceRate(tt.entries))
		})
	}
}

func TestSubjectAverageAndGrouping(t *testing.T) {
	grades := []Grade{
		{SubjectID: 1, Value: 18, WeightPercent: 50},
		{SubjectID: 1, Value: 12, WeightPercent: 50},
		{SubjectID: 2, Value: 8, WeightPercent: 100},
	}

	assert.InDelta(t, 15.0, SubjectAverage(grades, 1), 1e-9)
	assert.Equal(t, 0.0, SubjectAverage(grades, 3))

	byID := AveragesBySubject(grades)
	assert.Len(t, byID, 2)
	assert.InDelta(t, 8.0, byID[2], 1e-9)
}

func TestCreditWeightedAverage(t *testing.T) {
	subjects := []Subject{
		{ID: 1, Name: "Calculus I", Credits: 4},
		{ID: 2, Name: "Programming I", Credits: 2},
		{ID: 3, Name: "Ethics", Credits: 1},
	}
	grades := []Grade{
		{SubjectID: 1, Value: 15, WeightPercent: 100},
		{SubjectID: 2, Value: 12, WeightPercent: 100},
	}

	assert.InDelta(t, 14.0, CreditWeightedAverage(subjects, grades), 1e-9)
	assert.Equal(t, 0.0, CreditWeightedAverage(subjects, nil))
}

func TestComputeAttendanceStats(t *testing.T) {
	entries := []AttendanceEntry{
		{SubjectID: 1, Present: true},
		{SubjectID: 1, Present: true},
		{SubjectID: 1, Present: false},
		{SubjectID: 2, Present: false},
	}

	stats := ComputeAttendanceStats(entries)
	assert.Equal(t, AttendanceStats{Total: 4, Present: 2, Absent: 2, Percent: 50}, stats)

	bySubject := AttendanceBySubject(entries)
	assert.Equal(t, 66.67, bySubject[1].Percent)
	assert.Equal(t, 0.0, bySubject[2].Percent)

	assert.Equal(t, AttendanceStats{}, ComputeAttendanceStats(nil))
}

func TestActiveAlerts(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	alerts := []Alert{
		{ID: 1, Type: AlertInfo, Title: "info", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: 2, Type: AlertDanger, Title: "danger", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: 3, Type: AlertWarning, Title: "expired", ExpiresAt: &past},
		{ID: 4, Type: AlertWarning, Title: "archived", Archived: true},
		{ID: 5, Type: AlertWarning, Title: "warning", ExpiresAt: &future},
	}

	active := ActiveAlerts(alerts, now)

	ids := make([]AlertID, 0, len(active))
	for _, a := range active {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []AlertID{2, 5, 1}, ids)
}
