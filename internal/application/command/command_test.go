package command

import (
	"context"
	"errors"
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
	snapshot   academic.Snapshot
	writeErr   error
	grades     []academic.Grade
	attendance []academic.AttendanceEntry
	readAlerts []academic.AlertID
}

func (f *fakeBackend) Login(_ context.Context, username, password string) (*academic.Credentials, error) {
	if password != "secret" {
		return nil, shared.ErrInvalidCredentials
	}
	return &academic.Credentials{
		Token:   "token",
		Profile: academic.Profile{StudentID: 42, Username: username, Program: "Systems Engineering", Active: true},
	}, nil
}

func (f *fakeBackend) Logout(context.Context, string) error { return nil }

func (f *fakeBackend) FetchSnapshot(context.Context, string, shared.StudentID) (academic.Snapshot, error) {
	return f.snapshot.Clone(), nil
}

func (f *fakeBackend) SaveGrade(_ context.Context, _ string, _ shared.StudentID, g academic.Grade) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.grades = append(f.grades, g)
	return nil
}

func (f *fakeBackend) SaveAttendance(_ context.Context, _ string, _ shared.StudentID, e academic.AttendanceEntry) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.attendance = append(f.attendance, e)
	return nil
}

func (f *fakeBackend) MarkAlertRead(_ context.Context, _ string, id academic.AlertID) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.readAlerts = append(f.readAlerts, id)
	return nil
}

func (f *fakeBackend) ListPrograms(context.Context, string) ([]academic.Program, error) {
	return nil, nil
}

// remoteBackend also generates alerts on the server side.
type remoteBackend struct {
	fakeBackend
	remote []academic.Alert
}

func (r *remoteBackend) GenerateRemoteAlerts(context.Context, string, shared.StudentID) ([]academic.Alert, error) {
	return r.remote, nil
}

type recordingPublisher struct {
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) last() shared.Event {
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func testSnapshot() academic.Snapshot {
	return academic.Snapshot{
		Subjects: []academic.Subject{
			{ID: 1, Name: "Calculus I", Credits: 4},
			{ID: 2, Name: "Programming I", Credits: 3},
		},
		Grades: []academic.Grade{
			{ID: 1, SubjectID: 1, Value: 18, WeightPercent: 40},
		},
		Attendance: []academic.AttendanceEntry{
			{ID: 1, SubjectID: 1, Date: shared.MustParseDate("2024-03-01"), Present: true},
		},
		Alerts: []academic.Alert{
			{ID: 5, Type: academic.AlertInfo, Title: "Welcome"},
		},
	}
}

type fixture struct {
	backend  academic.Backend
	flags    *config.FeatureFlags
	events   *recordingPublisher
	sessions *session.Manager
	deps     Deps
}

func newFixture(t *testing.T, backend academic.Backend) *fixture {
	t.Helper()

	flags := config.NewFeatureFlags()
	events := &recordingPublisher{}
	sessions := session.NewManager(session.Config{
		Backend:      backend,
		Flags:        flags,
		Logger:       logger.Nop(),
		StoreOptions: []academic.StoreOption{academic.WithClock(func() time.Time { return fixedNow })},
	})

	_, err := sessions.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	return &fixture{
		backend:  backend,
		flags:    flags,
		events:   events,
		sessions: sessions,
		deps: Deps{
			Sessions: sessions,
			Events:   events,
			Logger:   logger.Nop(),
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

func TestValidator_ReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()

	err := v.Struct("AddGrade", AddGradeCommand{SubjectID: 0, Value: 25, WeightPercent: -1})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	var vErr *shared.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "AddGrade", vErr.Op)
	assert.Contains(t, vErr.Fields, "subject_id")
	assert.Contains(t, vErr.Fields, "value")
	assert.Contains(t, vErr.Fields, "weight_percent")
	assert.NotContains(t, vErr.Fields, "description")
}

func TestValidator_NotBlank(t *testing.T) {
	v := NewValidator()

	err := v.Struct("Login", LoginCommand{Username: "   ", Password: "secret"})
	var vErr *shared.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "username cannot be blank", vErr.Fields["username"])

	assert.NoError(t, v.Struct("Login", LoginCommand{Username: "ana", Password: "secret"}))
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGIN
// ══════════════════════════════════════════════════════════════════════════════

func TestLoginHandler(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	sessions := session.NewManager(session.Config{Backend: backend, Logger: logger.Nop()})
	h := NewLoginHandler(Deps{Sessions: sessions, Logger: logger.Nop()})

	_, err := h.Handle(context.Background(), LoginCommand{Username: "ana"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), LoginCommand{Username: "ana", Password: "nope"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	sess, err := h.Handle(context.Background(), LoginCommand{Username: "ana", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, shared.StudentID(42), sess.Profile.StudentID)
	assert.True(t, sessions.IsAuthenticated())
}

// ══════════════════════════════════════════════════════════════════════════════
// ADD GRADE
// ══════════════════════════════════════════════════════════════════════════════

func TestAddGradeHandler(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	f := newFixture(t, backend)
	h := NewAddGradeHandler(f.deps)

	result, err := h.Handle(context.Background(), AddGradeCommand{SubjectID: 1, Value: 14, WeightPercent: 60, Description: "Final"})
	require.NoError(t, err)

	assert.Equal(t, academic.GradeID(2), result.Grade.ID)
	assert.Equal(t, fixedNow, result.Grade.RecordedAt)
	assert.Equal(t, "Calculus I", result.SubjectName)
	assert.Equal(t, 15.6, result.SubjectAverage)
	assert.Equal(t, 15.6, result.NewAverage)
	assert.True(t, result.Synced)
	require.Len(t, backend.grades, 1)
	assert.Equal(t, "Final", backend.grades[0].Description)

	event, ok := f.events.last().(shared.GradeAddedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(2), event.GradeID)
	assert.Equal(t, 15.6, event.NewAverage)
	assert.Equal(t, "42", event.AggregateID())
}

func TestAddGradeHandler_Rejections(t *testing.T) {
	f := newFixture(t, &fakeBackend{snapshot: testSnapshot()})
	h := NewAddGradeHandler(f.deps)

	_, err := h.Handle(context.Background(), AddGradeCommand{SubjectID: 1, Value: 20.5, WeightPercent: 10})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), AddGradeCommand{SubjectID: 99, Value: 10, WeightPercent: 10})
	assert.ErrorIs(t, err, shared.ErrSubjectNotFound)
	assert.True(t, shared.IsNotFound(err))

	assert.Empty(t, f.events.events)
}

func TestAddGradeHandler_RemoteFailureKeepsLocalGrade(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot(), writeErr: shared.ErrAPIUnavailable}
	f := newFixture(t, backend)
	h := NewAddGradeHandler(f.deps)

	result, err := h.Handle(context.Background(), AddGradeCommand{SubjectID: 2, Value: 11, WeightPercent: 50})
	require.NoError(t, err)
	assert.False(t, result.Synced)

	require.NoError(t, f.sessions.WithStore(func(store *academic.Store, _ session.Session) error {
		assert.Len(t, store.Grades(), 2)
		return nil
	}))
}

func TestAddGradeHandler_RemoteWriteDisabled(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	f := newFixture(t, backend)
	require.NoError(t, f.flags.DisableFeature(config.FeatureRemoteWrite))

	result, err := NewAddGradeHandler(f.deps).Handle(context.Background(), AddGradeCommand{SubjectID: 2, Value: 11, WeightPercent: 50})
	require.NoError(t, err)
	assert.False(t, result.Synced)
	assert.Empty(t, backend.grades)
}

func TestAddGradeHandler_RequiresSession(t *testing.T) {
	sessions := session.NewManager(session.Config{Backend: &fakeBackend{}, Logger: logger.Nop()})
	h := NewAddGradeHandler(Deps{Sessions: sessions, Logger: logger.Nop()})

	_, err := h.Handle(context.Background(), AddGradeCommand{SubjectID: 1, Value: 10, WeightPercent: 10})
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordAttendanceHandler_UpsertsByDate(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	f := newFixture(t, backend)
	h := NewRecordAttendanceHandler(f.deps)

	result, err := h.Handle(context.Background(), RecordAttendanceCommand{SubjectID: 1, Date: "2024-03-08", Present: false})
	require.NoError(t, err)
	assert.False(t, result.Replaced)
	assert.Equal(t, academic.AttendanceID(2), result.Entry.ID)
	assert.Equal(t, 50, result.SubjectRate)
	assert.Equal(t, 50, result.NewRate)
	assert.True(t, result.Synced)

	result, err = h.Handle(context.Background(), RecordAttendanceCommand{SubjectID: 1, Date: "2024-03-08", Present: true, Notes: "late"})
	require.NoError(t, err)
	assert.True(t, result.Replaced)
	assert.Equal(t, academic.AttendanceID(2), result.Entry.ID)
	assert.Equal(t, 100, result.NewRate)

	require.NoError(t, f.sessions.WithStore(func(store *academic.Store, _ session.Session) error {
		assert.Len(t, store.Attendance(), 2)
		return nil
	}))
	require.Len(t, backend.attendance, 2)
	assert.Equal(t, "late", backend.attendance[1].Notes)

	event, ok := f.events.last().(shared.AttendanceRecordedEvent)
	require.True(t, ok)
	assert.True(t, event.Replaced)
	assert.Equal(t, "2024-03-08", event.Date)
}

func TestRecordAttendanceHandler_Rejections(t *testing.T) {
	f := newFixture(t, &fakeBackend{snapshot: testSnapshot()})
	h := NewRecordAttendanceHandler(f.deps)

	_, err := h.Handle(context.Background(), RecordAttendanceCommand{SubjectID: 1, Date: "08/03/2024"})
	var vErr *shared.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Fields, "date")

	_, err = h.Handle(context.Background(), RecordAttendanceCommand{SubjectID: 7, Date: "2024-03-08"})
	assert.ErrorIs(t, err, shared.ErrSubjectNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERTS
// ══════════════════════════════════════════════════════════════════════════════

func atRiskSnapshot() academic.Snapshot {
	snap := testSnapshot()
	snap.Grades = []academic.Grade{
		{ID: 1, SubjectID: 1, Value: 2, WeightPercent: 50},
	}
	snap.Attendance = []academic.AttendanceEntry{
		{ID: 1, SubjectID: 1, Date: shared.MustParseDate("2024-03-01"), Present: false},
		{ID: 2, SubjectID: 1, Date: shared.MustParseDate("2024-03-08"), Present: false},
	}
	return snap
}

func TestGenerateAlertsHandler(t *testing.T) {
	f := newFixture(t, &fakeBackend{snapshot: atRiskSnapshot()})
	h := NewGenerateAlertsHandler(f.deps)

	result, err := h.Handle(context.Background(), GenerateAlertsCommand{Trigger: "user"})
	require.NoError(t, err)

	titles := make([]string, 0, len(result.Added))
	for _, a := range result.Added {
		titles = append(titles, a.Title)
	}
	assert.Contains(t, titles, academic.HighRiskTitlePrefix+"Calculus I")
	assert.Contains(t, titles, academic.LowAttendanceTitle)

	again, err := h.Handle(context.Background(), GenerateAlertsCommand{Trigger: "user"})
	require.NoError(t, err)
	assert.NotEmpty(t, again.Generated)
	assert.Empty(t, again.Added)

	event, ok := f.events.last().(shared.AlertsGeneratedEvent)
	require.True(t, ok)
	assert.Zero(t, event.Added)
}

func TestGenerateAlertsHandler_MergesRemoteAlerts(t *testing.T) {
	backend := &remoteBackend{
		fakeBackend: fakeBackend{snapshot: testSnapshot()},
		remote:      []academic.Alert{{ID: 30, Type: academic.AlertWarning, Title: "Exam week"}},
	}
	f := newFixture(t, backend)

	result, err := NewGenerateAlertsHandler(f.deps).Handle(context.Background(), GenerateAlertsCommand{})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Equal(t, academic.AlertID(30), result.Added[0].ID)
}

func TestGenerateAlertsHandler_Disabled(t *testing.T) {
	f := newFixture(t, &fakeBackend{snapshot: atRiskSnapshot()})
	require.NoError(t, f.flags.DisableFeature(config.FeatureRiskAlerts))

	_, err := NewGenerateAlertsHandler(f.deps).Handle(context.Background(), GenerateAlertsCommand{})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestMarkAlertReadHandler(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	f := newFixture(t, backend)
	h := NewMarkAlertReadHandler(f.deps)

	result, err := h.Handle(context.Background(), MarkAlertReadCommand{AlertID: 5})
	require.NoError(t, err)
	assert.True(t, result.Synced)
	assert.Equal(t, []academic.AlertID{5}, backend.readAlerts)

	require.NoError(t, f.sessions.WithStore(func(store *academic.Store, _ session.Session) error {
		assert.True(t, store.Alerts()[0].Read)
		return nil
	}))

	_, err = h.Handle(context.Background(), MarkAlertReadCommand{AlertID: 99})
	assert.ErrorIs(t, err, shared.ErrAlertNotFound)
	assert.Len(t, backend.readAlerts, 1)

	_, err = h.Handle(context.Background(), MarkAlertReadCommand{})
	assert.True(t, shared.IsValidation(err))
}

func TestMarkAlertReadHandler_LocalAlertIsNotPushed(t *testing.T) {
	backend := &fakeBackend{snapshot: atRiskSnapshot()}
	f := newFixture(t, backend)

	generated, err := NewGenerateAlertsHandler(f.deps).Handle(context.Background(), GenerateAlertsCommand{})
	require.NoError(t, err)
	require.NotEmpty(t, generated.Added)
	local := generated.Added[0]
	require.True(t, local.Local)

	result, err := NewMarkAlertReadHandler(f.deps).Handle(context.Background(), MarkAlertReadCommand{AlertID: int64(local.ID)})
	require.NoError(t, err)
	assert.True(t, result.Local)
	assert.False(t, result.Synced)
	assert.Empty(t, backend.readAlerts, "a local ID may belong to another alert on the source")

	require.NoError(t, f.sessions.WithStore(func(store *academic.Store, _ session.Session) error {
		for _, a := range store.Alerts() {
			if a.ID == local.ID {
				assert.True(t, a.Read)
			}
		}
		return nil
	}))
}

func TestGenerateAlertsHandler_DedupesAcrossSources(t *testing.T) {
	serverRisk := academic.Alert{ID: 900, Type: academic.AlertDanger, Title: academic.HighRiskTitlePrefix + "Calculus I"}
	snap := atRiskSnapshot()
	snap.Alerts = append(snap.Alerts, academic.Alert{ID: 800, Type: academic.AlertWarning, Title: academic.LowAttendanceTitle})
	backend := &remoteBackend{
		fakeBackend: fakeBackend{snapshot: snap},
		remote:      []academic.Alert{serverRisk},
	}
	f := newFixture(t, backend)

	result, err := NewGenerateAlertsHandler(f.deps).Handle(context.Background(), GenerateAlertsCommand{})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Equal(t, serverRisk.ID, result.Added[0].ID)
	assert.False(t, result.Added[0].Local)

	require.NoError(t, f.sessions.WithStore(func(store *academic.Store, _ session.Session) error {
		counts := make(map[string]int)
		for _, a := range store.Alerts() {
			counts[a.Title]++
		}
		assert.Equal(t, 1, counts[serverRisk.Title])
		assert.Equal(t, 1, counts[academic.LowAttendanceTitle])
		return nil
	}))

	read, err := NewMarkAlertReadHandler(f.deps).Handle(context.Background(), MarkAlertReadCommand{AlertID: 900})
	require.NoError(t, err)
	assert.True(t, read.Synced)
	assert.Equal(t, []academic.AlertID{900}, backend.readAlerts)
}
