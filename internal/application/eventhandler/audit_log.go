package eventhandler

import (
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// AuditLogHandler writes every domain event to the structured log.
type AuditLogHandler struct {
	logger *logger.Logger
}

// NewAuditLogHandler creates a new AuditLogHandler.
func NewAuditLogHandler(log *logger.Logger) *AuditLogHandler {
	if log == nil {
		log = logger.Default()
	}
	return &AuditLogHandler{logger: log.With(logger.Component("audit"))}
}

// Handle implements shared.EventHandler.
func (h *AuditLogHandler) Handle(event shared.Event) error {
	fields := []logger.Field{
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
		logger.Time("occurred_at", event.OccurredAt()),
		logger.Any("payload", event.Payload()),
	}
	if c, ok := event.(interface{ Correlation() string }); ok && c.Correlation() != "" {
		fields = append(fields, logger.String("correlation_id", c.Correlation()))
	}
	h.logger.Info("domain event", fields...)
	return nil
}

// Register subscribes the audit log to every event and the record handler to
// the events it reacts to.
func Register(bus shared.EventSubscriber, audit *AuditLogHandler, onRecord *OnRecordChangedHandler) error {
	if audit != nil {
		if err := bus.SubscribeAll(audit.Handle); err != nil {
			return err
		}
	}
	if onRecord != nil {
		for _, t := range onRecord.EventTypes() {
			if err := bus.Subscribe(t, onRecord.Handle); err != nil {
				return err
			}
		}
	}
	return nil
}
