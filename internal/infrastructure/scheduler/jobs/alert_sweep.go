// Package jobs contains the background jobs run by the scheduler.
package jobs

import (
	"context"
	"time"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/command"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// AlertSweepName is the scheduler name of AlertSweepJob.
const AlertSweepName = "alert_sweep"

// AlertGenerator runs the risk analysis of the active session.
type AlertGenerator interface {
	Handle(ctx context.Context, cmd command.GenerateAlertsCommand) (*command.GenerateAlertsResult, error)
}

// AlertSweepJob periodically re-runs the risk analysis for the signed-in
// student, so attendance that slips below the threshold without a new record
// (for example after a subject is added remotely) still raises an alert.
// It does nothing while no one is signed in or alerts.auto_generate is off.
type AlertSweepJob struct {
	sessions  *session.Manager
	generator AlertGenerator
	logger    *logger.Logger
	timeout   time.Duration
}

// NewAlertSweepJob creates a new AlertSweepJob.
func NewAlertSweepJob(sessions *session.Manager, generator AlertGenerator, log *logger.Logger) *AlertSweepJob {
	if log == nil {
		log = logger.Default()
	}
	return &AlertSweepJob{
		sessions:  sessions,
		generator: generator,
		logger:    log.With(logger.Component(AlertSweepName)),
		timeout:   30 * time.Second,
	}
}

// Name implements scheduler.Job.
func (j *AlertSweepJob) Name() string { return AlertSweepName }

// Description implements scheduler.Job.
func (j *AlertSweepJob) Description() string {
	return "re-runs failure-risk analysis for the active session"
}

// Run implements scheduler.Job.
func (j *AlertSweepJob) Run(ctx context.Context) error {
	sess, err := j.sessions.Current()
	if err != nil {
		return nil
	}
	fc := sess.FeatureContext()
	flags := j.sessions.Flags()
	if !flags.IsEnabled(config.FeatureAutoAlerts, fc) || !flags.IsEnabled(config.FeatureRiskAlerts, fc) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	result, err := j.generator.Handle(ctx, command.GenerateAlertsCommand{Trigger: "scheduler"})
	if err != nil {
		// The session ended between the check and the run.
		if shared.IsUnauthorized(err) {
			return nil
		}
		return err
	}

	if len(result.Added) > 0 {
		j.logger.Info("sweep raised alerts",
			logger.StudentID(sess.Profile.StudentID.Int64()),
			logger.Int("added", len(result.Added)),
		)
	}
	return nil
}
