package eventhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/command"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

type stubBackend struct{}

func (stubBackend) Login(_ context.Context, username, _ string) (*academic.Credentials, error) {
	return &academic.Credentials{Token: "t", Profile: academic.Profile{StudentID: 42, Username: username}}, nil
}
func (stubBackend) Logout(context.Context, string) error { return nil }
func (stubBackend) FetchSnapshot(context.Context, string, shared.StudentID) (academic.Snapshot, error) {
	return academic.Snapshot{}, nil
}
func (stubBackend) SaveGrade(context.Context, string, shared.StudentID, academic.Grade) error {
	return nil
}
func (stubBackend) SaveAttendance(context.Context, string, shared.StudentID, academic.AttendanceEntry) error {
	return nil
}
func (stubBackend) MarkAlertRead(context.Context, string, academic.AlertID) error { return nil }
func (stubBackend) ListPrograms(context.Context, string) ([]academic.Program, error) {
	return nil, nil
}

type fakeGenerator struct {
	triggers []string
	err      error
}

func (g *fakeGenerator) Handle(_ context.Context, cmd command.GenerateAlertsCommand) (*command.GenerateAlertsResult, error) {
	g.triggers = append(g.triggers, cmd.Trigger)
	if g.err != nil {
		return nil, g.err
	}
	return &command.GenerateAlertsResult{Added: []academic.Alert{{ID: 1, Title: academic.LowAttendanceTitle}}}, nil
}

func newSessions(t *testing.T, flags *config.FeatureFlags, login bool) *session.Manager {
	t.Helper()
	m := session.NewManager(session.Config{Backend: stubBackend{}, Flags: flags, Logger: logger.Nop()})
	if login {
		_, err := m.Login(context.Background(), "ana", "secret")
		require.NoError(t, err)
	}
	return m
}

func autoAlertFlags(t *testing.T) *config.FeatureFlags {
	t.Helper()
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.EnableFeature(config.FeatureAutoAlerts))
	return flags
}

func TestOnRecordChanged_RegeneratesAlerts(t *testing.T) {
	gen := &fakeGenerator{}
	h := NewOnRecordChangedHandler(newSessions(t, autoAlertFlags(t), true), gen, logger.Nop())

	require.NoError(t, h.Handle(shared.NewGradeAddedEvent("42", 1, 1, 4, 50, 4)))
	require.NoError(t, h.Handle(shared.NewAttendanceRecordedEvent("42", 1, 1, "2024-03-08", false, false, 0)))

	assert.Equal(t, []string{string(shared.EventGradeAdded), string(shared.EventAttendanceRecorded)}, gen.triggers)
}

func TestOnRecordChanged_Skips(t *testing.T) {
	t.Run("feature off by default", func(t *testing.T) {
		gen := &fakeGenerator{}
		h := NewOnRecordChangedHandler(newSessions(t, nil, true), gen, logger.Nop())

		require.NoError(t, h.Handle(shared.NewGradeAddedEvent("42", 1, 1, 4, 50, 4)))
		assert.Empty(t, gen.triggers)
	})

	t.Run("other student", func(t *testing.T) {
		gen := &fakeGenerator{}
		h := NewOnRecordChangedHandler(newSessions(t, autoAlertFlags(t), true), gen, logger.Nop())

		require.NoError(t, h.Handle(shared.NewGradeAddedEvent("7", 1, 1, 4, 50, 4)))
		assert.Empty(t, gen.triggers)
	})

	t.Run("no session", func(t *testing.T) {
		gen := &fakeGenerator{}
		h := NewOnRecordChangedHandler(newSessions(t, autoAlertFlags(t), false), gen, logger.Nop())

		require.NoError(t, h.Handle(shared.NewGradeAddedEvent("42", 1, 1, 4, 50, 4)))
		assert.Empty(t, gen.triggers)
	})

	t.Run("unrelated event", func(t *testing.T) {
		gen := &fakeGenerator{}
		h := NewOnRecordChangedHandler(newSessions(t, autoAlertFlags(t), true), gen, logger.Nop())

		require.NoError(t, h.Handle(shared.NewAlertReadEvent("42", 1)))
		assert.Empty(t, gen.triggers)
	})
}

func TestOnRecordChanged_PropagatesGeneratorErrors(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	h := NewOnRecordChangedHandler(newSessions(t, autoAlertFlags(t), true), gen, logger.Nop())

	assert.Error(t, h.Handle(shared.NewGradeAddedEvent("42", 1, 1, 4, 50, 4)))
}

func TestAuditLogHandler_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Level: logger.LevelInfo, Format: logger.FormatJSON})
	h := NewAuditLogHandler(log)

	event := shared.NewAlertReadEvent("42", 3)
	event.BaseEvent = event.BaseEvent.WithCorrelationID("session-1")
	require.NoError(t, h.Handle(event))

	var entry logger.LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "domain event", entry.Message)
	assert.Equal(t, string(shared.EventAlertRead), entry.Fields["event_type"])
	assert.Equal(t, "42", entry.Fields["aggregate_id"])
	assert.Equal(t, "session-1", entry.Fields["correlation_id"])
	assert.Equal(t, "audit", entry.Fields["component"])
}

type recordingSubscriber struct {
	byType map[shared.EventType]int
	all    int
}

func (s *recordingSubscriber) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	if s.byType == nil {
		s.byType = make(map[shared.EventType]int)
	}
	s.byType[t]++
	return nil
}

func (s *recordingSubscriber) SubscribeAll(shared.EventHandler) error {
	s.all++
	return nil
}

func TestRegister(t *testing.T) {
	sub := &recordingSubscriber{}
	onRecord := NewOnRecordChangedHandler(newSessions(t, nil, false), &fakeGenerator{}, logger.Nop())

	require.NoError(t, Register(sub, NewAuditLogHandler(logger.Nop()), onRecord))
	assert.Equal(t, 1, sub.all)
	assert.Equal(t, 1, sub.byType[shared.EventGradeAdded])
	assert.Equal(t, 1, sub.byType[shared.EventAttendanceRecorded])
}
