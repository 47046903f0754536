package academic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(WithClock(func() time.Time { return fixedNow }))
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Subjects: []Subject{
			{ID: 1, Code: "MAT101", Name: "Calculus I", Credits: 4},
			{ID: 2, Code: "PRG101", Name: "Programming I", Credits: 3},
		},
		Grades: []Grade{
			{ID: 1, SubjectID: 1, Value: 15, WeightPercent: 30},
			{ID: 2, SubjectID: 2, Value: 12, WeightPercent: 50},
		},
		Attendance: []AttendanceEntry{
			{ID: 1, SubjectID: 1, Date: shared.MustParseDate("2024-03-01"), Present: true},
			{ID: 2, SubjectID: 1, Date: shared.MustParseDate("2024-03-08"), Present: false},
		},
		Alerts: []Alert{
			{ID: 7, Type: AlertInfo, Title: "Welcome", Message: "Semester started"},
		},
	}
}

func TestStore_AddGrade_WeightedAverageScenario(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(Snapshot{Subjects: []Subject{{ID: 1, Name: "Calculus I", Credits: 4}}})

	store.AddGrade(1, 18.0, 40)
	store.AddGrade(1, 14.0, 60)

	assert.InDelta(t, 15.6, AverageGrade(store.Grades()), 1e-9)
}

func TestStore_AddGrade_AssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	g := store.AddGrade(1, 17.456, 20)

	assert.Equal(t, GradeID(3), g.ID)
	assert.Equal(t, SubjectID(1), g.SubjectID)
	assert.Equal(t, 17.46, g.Value)
	assert.Equal(t, fixedNow, g.RecordedAt)
	assert.Len(t, store.Grades(), 3)
}

func TestStore_AddGrade_DoesNotValidate(t *testing.T) {
	store := newTestStore()

	g := store.AddGrade(42, 25, 150)

	assert.Equal(t, 25.0, g.Value)
	assert.Equal(t, 150.0, g.WeightPercent)
	assert.False(t, g.InRange())
}

func TestStore_IDsDoNotCollideWithGaps(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(Snapshot{
		Grades: []Grade{
			{ID: 1, SubjectID: 1, Value: 10, WeightPercent: 10},
			{ID: 5, SubjectID: 1, Value: 10, WeightPercent: 10},
		},
	})

	g := store.AddGrade(1, 11, 10)

	assert.Equal(t, GradeID(6), g.ID)
}

func TestStore_UpsertAttendance_Idempotent(t *testing.T) {
	store := newTestStore()
	day := shared.MustParseDate("2024-03-11")

	first := store.UpsertAttendance(1, day, true)
	second := store.UpsertAttendance(1, day, true)

	entries := store.AttendanceFor(1)
	require.Len(t, entries, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, entries[0].Present)
}

func TestStore_UpsertAttendance_PreservesIDOnUpdate(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	updated := store.UpsertAttendance(1, shared.MustParseDate("2024-03-08"), true)

	assert.Equal(t, AttendanceID(2), updated.ID)
	entries := store.Attendance()
	require.Len(t, entries, 2)
	assert.Equal(t, AttendanceID(2), entries[1].ID)
	assert.True(t, entries[1].Present)
}

func TestStore_UpsertAttendance_LastCallWins(t *testing.T) {
	store := newTestStore()
	day := shared.MustParseDate("2024-04-02")

	store.UpsertAttendance(2, day, true)
	store.UpsertAttendance(2, day, false)

	entries := store.AttendanceFor(2)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Present)
}

func TestStore_UpsertAttendance_DistinctKeys(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	a, replacedA := store.UpsertAttendanceEntry(AttendanceEntry{SubjectID: 2, Date: shared.MustParseDate("2024-03-01"), Present: true})
	b, replacedB := store.UpsertAttendanceEntry(AttendanceEntry{SubjectID: 1, Date: shared.MustParseDate("2024-03-02"), Present: true})

	assert.False(t, replacedA)
	assert.False(t, replacedB)
	assert.Equal(t, AttendanceID(3), a.ID)
	assert.Equal(t, AttendanceID(4), b.ID)
	assert.Len(t, store.Attendance(), 4)
}

func TestStore_FindSubjectName(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(Snapshot{Subjects: []Subject{{ID: 1, Name: "Calculus I", Credits: 4}}})

	assert.Equal(t, "Calculus I", store.FindSubjectName(1))
	assert.Equal(t, UnknownSubjectName, store.FindSubjectName(999))
}

func TestStore_LoadSnapshot_ReplacesWholesale(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())
	store.AddGrade(1, 20, 10)

	store.LoadSnapshot(Snapshot{Subjects: []Subject{{ID: 9, Name: "Physics", Credits: 2}}})

	assert.Empty(t, store.Grades())
	assert.Empty(t, store.Attendance())
	assert.Empty(t, store.Alerts())
	assert.Equal(t, UnknownSubjectName, store.FindSubjectName(1))
	assert.Equal(t, "Physics", store.FindSubjectName(9))
	assert.Equal(t, GradeID(1), store.AddGrade(9, 10, 10).ID)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	store.Reset()

	assert.True(t, store.Snapshot().IsEmpty())
	assert.Equal(t, AttendanceID(1), store.UpsertAttendance(1, shared.MustParseDate("2024-01-01"), true).ID)
}

func TestStore_AccessorsReturnCopies(t *testing.T) {
	store := newTestStore()
	snap := sampleSnapshot()
	store.LoadSnapshot(snap)

	snap.Subjects[0].Name = "mutated"
	grades := store.Grades()
	grades[0].Value = 0
	subjects := store.Subjects()
	subjects[1].Name = "mutated"

	assert.Equal(t, "Calculus I", store.FindSubjectName(1))
	assert.Equal(t, "Programming I", store.FindSubjectName(2))
	assert.Equal(t, 15.0, store.Grades()[0].Value)
}

func TestStore_MergeAlerts_DedupesByTitle(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	added := store.MergeAlerts([]Alert{
		{Type: AlertWarning, Title: "Welcome"},
		{Type: AlertWarning, Title: LowAttendanceTitle},
		{Type: AlertWarning, Title: LowAttendanceTitle},
	})

	require.Len(t, added, 1)
	assert.Equal(t, AlertID(8), added[0].ID)
	assert.Equal(t, fixedNow, added[0].CreatedAt)
	assert.Len(t, store.Alerts(), 2)
}

func TestStore_MergeAlerts_KeepsSourceIDs(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	added := store.MergeAlerts([]Alert{
		{ID: 40, Type: AlertDanger, Title: "From server"},
		{ID: 7, Type: AlertInfo, Title: "Taken ID"},
	})

	require.Len(t, added, 2)
	assert.Equal(t, AlertID(40), added[0].ID)
	assert.False(t, added[0].Local)
	assert.Equal(t, AlertID(41), added[1].ID)
	assert.True(t, added[1].Local, "a renumbered alert is unknown to the source under its new ID")

	next := store.MergeAlerts([]Alert{{Type: AlertInfo, Title: "Local"}})
	require.Len(t, next, 1)
	assert.Equal(t, AlertID(42), next[0].ID)
	assert.True(t, next[0].Local)
}

func TestStore_MarkAlertRead(t *testing.T) {
	store := newTestStore()
	store.LoadSnapshot(sampleSnapshot())

	alert, err := store.MarkAlertRead(7)
	require.NoError(t, err)
	assert.True(t, alert.Read)
	assert.False(t, alert.Local)
	assert.True(t, store.Alerts()[0].Read)

	_, err = store.MarkAlertRead(99)
	assert.True(t, shared.IsNotFound(err))
}
