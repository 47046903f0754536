// Package command contains write operations (CQRS - Commands).
// Every command mutates the session store under the session lock and then,
// outside the lock, pushes the record to the data source, drops the cached
// snapshot and publishes its domain event.
package command

import (
	"context"
	"time"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// Deps are the collaborators shared by all command handlers.
type Deps struct {
	Sessions  *session.Manager
	Validator *Validator
	Events    shared.EventPublisher
	Logger    *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Validator == nil {
		d.Validator = NewValidator()
	}
	if d.Events == nil {
		d.Events = noopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = logger.Default()
	}
	return d
}

// remoteWrite runs push against the session's data source when remote
// writes are enabled for the student. It reports whether the record reached
// the source; failures are logged and the local record stays.
func (d Deps) remoteWrite(ctx context.Context, sess session.Session, op string, push func(ctx context.Context, sink academic.RecordSink, token string) error) bool {
	if !d.Sessions.Flags().IsEnabled(config.FeatureRemoteWrite, sess.FeatureContext()) {
		return false
	}

	start := time.Now()
	if err := push(ctx, d.Sessions.Backend(), sess.Token); err != nil {
		d.Logger.Warn("remote write failed",
			logger.Operation(op),
			logger.StudentID(sess.Profile.StudentID.Int64()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		return false
	}
	return true
}

func (d Deps) publish(event shared.Event) {
	if err := d.Events.Publish(event); err != nil {
		d.Logger.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(shared.Event) error { return nil }
