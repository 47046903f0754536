package command

import (
	"context"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATE ALERTS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// GenerateAlertsCommand runs the failure-risk analysis of the active session.
type GenerateAlertsCommand struct {
	// Trigger names what asked for the analysis, e.g. "user" or an event type.
	Trigger string `json:"-"`
}

// GenerateAlertsResult lists the alerts the analysis produced and the ones
// that were new to the store.
type GenerateAlertsResult struct {
	Generated []academic.Alert `json:"generated"`
	Added     []academic.Alert `json:"added"`
}

// GenerateAlertsHandler handles GenerateAlertsCommand.
type GenerateAlertsHandler struct {
	deps Deps
}

// NewGenerateAlertsHandler creates a new GenerateAlertsHandler.
func NewGenerateAlertsHandler(deps Deps) *GenerateAlertsHandler {
	return &GenerateAlertsHandler{deps: deps.withDefaults()}
}

// Handle merges locally computed risk alerts into the store. When the data
// source computes alerts too and remote writes are enabled, its alerts are
// merged as well. Titles already shown are skipped.
func (h *GenerateAlertsHandler) Handle(ctx context.Context, cmd GenerateAlertsCommand) (*GenerateAlertsResult, error) {
	sess, err := h.deps.Sessions.Current()
	if err != nil {
		return nil, err
	}
	if !h.deps.Sessions.Flags().IsEnabled(config.FeatureRiskAlerts, sess.FeatureContext()) {
		return nil, shared.NewDomainError("command", "GenerateAlerts", shared.ErrForbidden, "risk alerts are disabled")
	}

	remote := h.remoteAlerts(ctx, sess)

	result := &GenerateAlertsResult{}
	err = h.deps.Sessions.WithStore(func(store *academic.Store, s session.Session) error {
		if s.ID != sess.ID {
			return shared.NewDomainError("command", "GenerateAlerts", shared.ErrInvalidState, "session changed")
		}
		// Source alerts go first so they win the title dedupe and stay
		// markable on the source.
		result.Generated = append(remote, academic.GenerateAlerts(store.Snapshot(), store.Now())...)
		result.Added = store.MergeAlerts(result.Generated)
		return nil
	})
	if err != nil {
		return nil, err
	}

	studentID := sess.Profile.StudentID
	if len(result.Added) > 0 {
		h.deps.Sessions.InvalidateCache(ctx, studentID)
	}

	titles := make([]string, 0, len(result.Added))
	for _, a := range result.Added {
		titles = append(titles, a.Title)
	}

	h.deps.Logger.Info("alerts generated",
		logger.StudentID(studentID.Int64()),
		logger.String("trigger", cmd.Trigger),
		logger.Int("generated", len(result.Generated)),
		logger.Int("added", len(result.Added)),
	)

	event := shared.NewAlertsGeneratedEvent(studentID.String(), len(result.Generated), len(result.Added), titles)
	event.BaseEvent = event.BaseEvent.WithCorrelationID(sess.ID)
	h.deps.publish(event)

	return result, nil
}

func (h *GenerateAlertsHandler) remoteAlerts(ctx context.Context, sess session.Session) []academic.Alert {
	generator, ok := h.deps.Sessions.Backend().(academic.RemoteAlertGenerator)
	if !ok || !h.deps.Sessions.Flags().IsEnabled(config.FeatureRemoteWrite, sess.FeatureContext()) {
		return nil
	}

	alerts, err := generator.GenerateRemoteAlerts(ctx, sess.Token, sess.Profile.StudentID)
	if err != nil {
		h.deps.Logger.Warn("remote alert generation failed",
			logger.StudentID(sess.Profile.StudentID.Int64()),
			logger.Err(err),
		)
		return nil
	}
	return alerts
}

// ══════════════════════════════════════════════════════════════════════════════
// MARK ALERT READ COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// MarkAlertReadCommand acknowledges an alert.
type MarkAlertReadCommand struct {
	AlertID int64 `json:"alert_id" validate:"gt=0"`
}

// MarkAlertReadResult reports whether the data source was updated. Local
// alerts exist only in this process and are never sent to the source.
type MarkAlertReadResult struct {
	AlertID int64 `json:"alert_id"`
	Local   bool  `json:"local"`
	Synced  bool  `json:"synced"`
}

// MarkAlertReadHandler handles MarkAlertReadCommand.
type MarkAlertReadHandler struct {
	deps Deps
}

// NewMarkAlertReadHandler creates a new MarkAlertReadHandler.
func NewMarkAlertReadHandler(deps Deps) *MarkAlertReadHandler {
	return &MarkAlertReadHandler{deps: deps.withDefaults()}
}

// Handle flags the alert as read locally, then on the data source.
func (h *MarkAlertReadHandler) Handle(ctx context.Context, cmd MarkAlertReadCommand) (*MarkAlertReadResult, error) {
	if err := h.deps.Validator.Struct("MarkAlertRead", cmd); err != nil {
		return nil, err
	}

	id := academic.AlertID(cmd.AlertID)

	var (
		sess  session.Session
		alert academic.Alert
	)
	err := h.deps.Sessions.WithStore(func(store *academic.Store, s session.Session) error {
		sess = s
		var err error
		alert, err = store.MarkAlertRead(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	studentID := sess.Profile.StudentID
	result := &MarkAlertReadResult{AlertID: cmd.AlertID, Local: alert.Local}
	if !alert.Local {
		result.Synced = h.deps.remoteWrite(ctx, sess, "MarkAlertRead", func(ctx context.Context, sink academic.RecordSink, token string) error {
			return sink.MarkAlertRead(ctx, token, id)
		})
	}
	h.deps.Sessions.InvalidateCache(ctx, studentID)

	event := shared.NewAlertReadEvent(studentID.String(), cmd.AlertID)
	event.BaseEvent = event.BaseEvent.WithCorrelationID(sess.ID)
	h.deps.publish(event)

	return result, nil
}
