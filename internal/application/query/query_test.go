package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type fakeBackend struct {
	snapshot academic.Snapshot
	programs []academic.Program
}

func (f *fakeBackend) Login(_ context.Context, username, _ string) (*academic.Credentials, error) {
	return &academic.Credentials{
		Token:   "token",
		Profile: academic.Profile{StudentID: 42, Username: username, FullName: "Ana Torres", Program: "Systems Engineering"},
	}, nil
}

func (f *fakeBackend) Logout(context.Context, string) error { return nil }

func (f *fakeBackend) FetchSnapshot(context.Context, string, shared.StudentID) (academic.Snapshot, error) {
	return f.snapshot.Clone(), nil
}

func (f *fakeBackend) SaveGrade(context.Context, string, shared.StudentID, academic.Grade) error {
	return nil
}

func (f *fakeBackend) SaveAttendance(context.Context, string, shared.StudentID, academic.AttendanceEntry) error {
	return nil
}

func (f *fakeBackend) MarkAlertRead(context.Context, string, academic.AlertID) error { return nil }

func (f *fakeBackend) ListPrograms(context.Context, string) ([]academic.Program, error) {
	return f.programs, nil
}

func day(s string) time.Time {
	return shared.MustParseDate(s).Time(time.UTC)
}

func testSnapshot() academic.Snapshot {
	return academic.Snapshot{
		Subjects: []academic.Subject{
			{ID: 1, Code: "MAT101", Name: "Calculus I", Credits: 4},
			{ID: 2, Code: "MAT102", Name: "Calculus II", Credits: 4, Prerequisites: []academic.SubjectID{1}},
			{ID: 3, Code: "PRG101", Name: "Programming I", Credits: 3},
		},
		Grades: []academic.Grade{
			{ID: 1, SubjectID: 1, Value: 18, WeightPercent: 40, RecordedAt: day("2024-03-01")},
			{ID: 2, SubjectID: 1, Value: 14, WeightPercent: 60, RecordedAt: day("2024-03-10")},
			{ID: 3, SubjectID: 3, Value: 6, WeightPercent: 50, RecordedAt: day("2024-03-05")},
			{ID: 4, SubjectID: 99, Value: 10, WeightPercent: 0, RecordedAt: day("2024-02-01")},
		},
		Attendance: []academic.AttendanceEntry{
			{ID: 1, SubjectID: 1, Date: shared.MustParseDate("2024-03-01"), Present: true},
			{ID: 2, SubjectID: 1, Date: shared.MustParseDate("2024-03-08"), Present: true},
			{ID: 3, SubjectID: 3, Date: shared.MustParseDate("2024-03-02"), Present: false},
			{ID: 4, SubjectID: 3, Date: shared.MustParseDate("2024-03-09"), Present: false},
		},
		Alerts: []academic.Alert{
			{ID: 1, Type: academic.AlertInfo, Title: "Welcome", CreatedAt: day("2024-03-01")},
			{ID: 2, Type: academic.AlertDanger, Title: "Risk", CreatedAt: day("2024-03-10"), Read: true},
			{ID: 3, Type: academic.AlertWarning, Title: "Old", Archived: true},
		},
	}
}

func newDeps(t *testing.T, backend *fakeBackend, flags *config.FeatureFlags) Deps {
	t.Helper()

	sessions := session.NewManager(session.Config{
		Backend:      backend,
		Flags:        flags,
		Logger:       logger.Nop(),
		StoreOptions: []academic.StoreOption{academic.WithClock(func() time.Time { return fixedNow })},
	})
	_, err := sessions.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	return Deps{Sessions: sessions}
}

func TestGetDashboard(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)

	dto, err := NewGetDashboardHandler(deps).Handle(context.Background(), GetDashboardQuery{})
	require.NoError(t, err)

	assert.Equal(t, "Ana Torres", dto.Student.FullName)
	assert.Equal(t, "2024-I", dto.Semester)
	assert.Contains(t, dto.GeneratedLabel, "marzo")

	assert.Equal(t, 12.4, dto.Average)
	assert.Equal(t, 11.49, dto.CreditWeightedAverage)
	assert.Equal(t, 3, dto.SubjectCount)
	assert.Equal(t, 4, dto.GradeCount)
	assert.Equal(t, 50, dto.AttendanceRate)
	assert.Equal(t, academic.AttendanceStats{Total: 4, Present: 2, Absent: 2, Percent: 50}, dto.Attendance)

	assert.Equal(t, 2, dto.ActiveAlertCount)
	assert.Equal(t, 1, dto.UnreadAlertCount)
	require.Len(t, dto.Alerts, 2)
	assert.Equal(t, academic.AlertID(2), dto.Alerts[0].ID)
	assert.NotEmpty(t, dto.Alerts[0].CreatedLabel)

	require.Len(t, dto.Subjects, 3)
	calc := dto.Subjects[0]
	assert.Equal(t, 15.6, calc.Average)
	assert.Equal(t, 2, calc.GradeCount)
	assert.Equal(t, 100, calc.AttendanceRate)
	assert.True(t, calc.Passed)
	assert.Equal(t, academic.RiskLow, calc.RiskLevel)

	calc2 := dto.Subjects[1]
	assert.Zero(t, calc2.Average)
	assert.False(t, calc2.Passed)
	assert.Zero(t, calc2.Risk)

	prog := dto.Subjects[2]
	assert.Equal(t, 6.0, prog.Average)
	assert.Equal(t, 0.58, prog.Risk)
	assert.Equal(t, academic.RiskMedium, prog.RiskLevel)
}

func TestGetDashboard_AlertLimit(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)

	dto, err := NewGetDashboardHandler(deps).Handle(context.Background(), GetDashboardQuery{AlertLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, dto.ActiveAlertCount)
	assert.Len(t, dto.Alerts, 1)
}

func TestGetDashboard_EmptySnapshot(t *testing.T) {
	deps := newDeps(t, &fakeBackend{}, nil)

	dto, err := NewGetDashboardHandler(deps).Handle(context.Background(), GetDashboardQuery{})
	require.NoError(t, err)
	assert.Zero(t, dto.Average)
	assert.Zero(t, dto.AttendanceRate)
	assert.Empty(t, dto.Subjects)
	assert.Empty(t, dto.Alerts)
}

func TestQueries_RequireSession(t *testing.T) {
	deps := Deps{Sessions: session.NewManager(session.Config{Backend: &fakeBackend{}, Logger: logger.Nop()})}
	ctx := context.Background()

	_, err := NewGetDashboardHandler(deps).Handle(ctx, GetDashboardQuery{})
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)

	_, err = NewListGradesHandler(deps).Handle(ctx, ListGradesQuery{})
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)

	_, err = NewListSubjectsHandler(deps).Name(ctx, 1)
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)

	_, err = NewListProgramsHandler(deps).Handle(ctx)
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestListGrades(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)
	h := NewListGradesHandler(deps)

	all, err := h.Handle(context.Background(), ListGradesQuery{})
	require.NoError(t, err)
	require.Len(t, all.Grades, 4)
	assert.Equal(t, academic.GradeID(2), all.Grades[0].ID)
	assert.Equal(t, "Calculus I", all.Grades[0].SubjectName)
	assert.Equal(t, academic.UnknownSubjectName, all.Grades[3].SubjectName)
	assert.NotEmpty(t, all.Grades[0].RecordedLabel)

	calc, err := h.Handle(context.Background(), ListGradesQuery{SubjectID: 1})
	require.NoError(t, err)
	assert.Len(t, calc.Grades, 2)
	assert.Equal(t, 15.6, calc.Average)
}

func TestListAttendance(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)
	h := NewListAttendanceHandler(deps)

	all, err := h.Handle(context.Background(), ListAttendanceQuery{})
	require.NoError(t, err)
	require.Len(t, all.Entries, 4)
	assert.Equal(t, "2024-03-09", all.Entries[0].Date.String())
	assert.Equal(t, "9/3/2024", all.Entries[0].DateLabel)
	assert.Equal(t, "Programming I", all.Entries[0].SubjectName)
	assert.Equal(t, 50, all.Rate)

	calc, err := h.Handle(context.Background(), ListAttendanceQuery{SubjectID: 1})
	require.NoError(t, err)
	assert.Len(t, calc.Entries, 2)
	assert.Equal(t, 100, calc.Rate)
}

func TestListAlerts(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)
	h := NewListAlertsHandler(deps)

	active, err := h.Handle(context.Background(), ListAlertsQuery{})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, academic.AlertID(2), active[0].ID)

	all, err := h.Handle(context.Background(), ListAlertsQuery{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	unread, err := h.Handle(context.Background(), ListAlertsQuery{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "Welcome", unread[0].Title)
}

func TestListSubjects(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)
	h := NewListSubjectsHandler(deps)

	subjects, err := h.Handle(context.Background())
	require.NoError(t, err)
	assert.Len(t, subjects, 3)

	name, err := h.Name(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Programming I", name)

	name, err = h.Name(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, academic.UnknownSubjectName, name)
}

func TestListPrograms(t *testing.T) {
	backend := &fakeBackend{programs: []academic.Program{{ID: 1, Name: "Systems Engineering", Semesters: 10}}}
	deps := newDeps(t, backend, nil)

	programs, err := NewListProgramsHandler(deps).Handle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backend.programs, programs)

	backend.programs = nil
	programs, err = NewListProgramsHandler(deps).Handle(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, programs)
	assert.Empty(t, programs)
}

func TestGetAcademicPath(t *testing.T) {
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, nil)

	path, err := NewGetAcademicPathHandler(deps).Handle(context.Background())
	require.NoError(t, err)

	assert.True(t, path.Acyclic)
	assert.Equal(t, 1, path.Passed)
	require.Len(t, path.Order, 3)
	assert.Equal(t, academic.SubjectID(1), path.Order[0].ID)
	assert.True(t, path.Order[0].Passed)
	assert.False(t, path.Order[0].Available)
	assert.True(t, path.Order[1].Available)

	require.Len(t, path.Suggested, 2)
	assert.Equal(t, "Calculus II", path.Suggested[0].Name)
	assert.Equal(t, "Programming I", path.Suggested[1].Name)
}

func TestGetAcademicPath_ReportsMissingPrerequisites(t *testing.T) {
	snap := testSnapshot()
	snap.Subjects = append(snap.Subjects, academic.Subject{
		ID: 4, Code: "PRG102", Name: "Programming II", Credits: 3, Prerequisites: []academic.SubjectID{3},
	})
	deps := newDeps(t, &fakeBackend{snapshot: snap}, nil)

	path, err := NewGetAcademicPathHandler(deps).Handle(context.Background())
	require.NoError(t, err)

	require.Len(t, path.Order, 4)
	assert.Empty(t, path.Order[0].MissingPrerequisites)
	assert.Empty(t, path.Order[1].MissingPrerequisites)

	blocked := path.Order[3]
	assert.Equal(t, academic.SubjectID(4), blocked.ID)
	assert.False(t, blocked.Available)
	assert.Equal(t, []academic.SubjectID{3}, blocked.MissingPrerequisites)
}

func TestGetAcademicPath_Disabled(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureCurriculum))
	deps := newDeps(t, &fakeBackend{snapshot: testSnapshot()}, flags)

	_, err := NewGetAcademicPathHandler(deps).Handle(context.Background())
	assert.ErrorIs(t, err, shared.ErrForbidden)
}
