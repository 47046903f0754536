// Package eventhandler contains handlers for domain events.
package eventhandler

import (
	"context"
	"time"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/command"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RECORD CHANGED HANDLER
// Re-runs the failure-risk analysis after a grade or attendance change so
// new alerts show up without the student asking for them.
// ═══════════════════════════════════════════════════════════════════════════

// AlertGenerator runs the risk analysis of the active session.
type AlertGenerator interface {
	Handle(ctx context.Context, cmd command.GenerateAlertsCommand) (*command.GenerateAlertsResult, error)
}

// OnRecordChangedHandler regenerates alerts on grade.added and
// attendance.recorded when the auto-generation feature is on.
type OnRecordChangedHandler struct {
	sessions  *session.Manager
	generator AlertGenerator
	logger    *logger.Logger
	timeout   time.Duration
}

// NewOnRecordChangedHandler creates a new OnRecordChangedHandler.
func NewOnRecordChangedHandler(sessions *session.Manager, generator AlertGenerator, log *logger.Logger) *OnRecordChangedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnRecordChangedHandler{
		sessions:  sessions,
		generator: generator,
		logger:    log.With(logger.Component("on_record_changed")),
		timeout:   10 * time.Second,
	}
}

// EventTypes lists the events the handler subscribes to.
func (h *OnRecordChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventGradeAdded, shared.EventAttendanceRecorded}
}

// Handle implements shared.EventHandler.
func (h *OnRecordChangedHandler) Handle(event shared.Event) error {
	switch event.EventType() {
	case shared.EventGradeAdded, shared.EventAttendanceRecorded:
	default:
		return nil
	}

	sess, err := h.sessions.Current()
	if err != nil {
		// Logged out before the event was delivered.
		return nil
	}
	if sess.Profile.StudentID.String() != event.AggregateID() {
		return nil
	}
	if !h.sessions.Flags().IsEnabled(config.FeatureAutoAlerts, sess.FeatureContext()) ||
		!h.sessions.Flags().IsEnabled(config.FeatureRiskAlerts, sess.FeatureContext()) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.generator.Handle(ctx, command.GenerateAlertsCommand{Trigger: string(event.EventType())})
	if err != nil {
		if shared.IsUnauthorized(err) {
			return nil
		}
		return err
	}

	if len(result.Added) > 0 {
		h.logger.Info("alerts raised after record change",
			logger.String("event_type", string(event.EventType())),
			logger.Int("added", len(result.Added)),
		)
	}
	return nil
}
