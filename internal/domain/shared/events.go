package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the dashboard session.
const (
	// Session events
	EventSessionStarted EventType = "session.started"
	EventSessionEnded   EventType = "session.ended"

	// Record events
	EventSnapshotLoaded     EventType = "snapshot.loaded"
	EventGradeAdded         EventType = "grade.added"
	EventAttendanceRecorded EventType = "attendance.recorded"

	// Alert events
	EventAlertsGenerated EventType = "alerts.generated"
	EventAlertRead       EventType = "alerts.read"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted after a successful login.
type SessionStartedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Source    string `json:"source"` // "api", "postgres" or "cache"
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"username":   e.Username,
		"source":     e.Source,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(studentID, sessionID, username, source string) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, studentID).WithCorrelationID(sessionID),
		SessionID: sessionID,
		Username:  username,
		Source:    source,
	}
}

// SessionEndedEvent is emitted on logout.
type SessionEndedEvent struct {
	BaseEvent
	SessionID string        `json:"session_id"`
	Duration  time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e SessionEndedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"duration":   e.Duration.String(),
	}
}

// NewSessionEndedEvent creates a new SessionEndedEvent.
func NewSessionEndedEvent(studentID, sessionID string, duration time.Duration) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent: NewBaseEvent(EventSessionEnded, studentID).WithCorrelationID(sessionID),
		SessionID: sessionID,
		Duration:  duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Record Events
// ═══════════════════════════════════════════════════════════════════════════

// SnapshotLoadedEvent is emitted whenever the store is replaced wholesale.
type SnapshotLoadedEvent struct {
	BaseEvent
	Subjects   int  `json:"subjects"`
	Grades     int  `json:"grades"`
	Attendance int  `json:"attendance"`
	Alerts     int  `json:"alerts"`
	FromCache  bool `json:"from_cache"`
}

// Payload implements Event interface.
func (e SnapshotLoadedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subjects":   e.Subjects,
		"grades":     e.Grades,
		"attendance": e.Attendance,
		"alerts":     e.Alerts,
		"from_cache": e.FromCache,
	}
}

// NewSnapshotLoadedEvent creates a new SnapshotLoadedEvent.
func NewSnapshotLoadedEvent(studentID string, subjects, grades, attendance, alerts int, fromCache bool) SnapshotLoadedEvent {
	return SnapshotLoadedEvent{
		BaseEvent:  NewBaseEvent(EventSnapshotLoaded, studentID),
		Subjects:   subjects,
		Grades:     grades,
		Attendance: attendance,
		Alerts:     alerts,
		FromCache:  fromCache,
	}
}

// GradeAddedEvent is emitted when a grade is added to the store.
type GradeAddedEvent struct {
	BaseEvent
	GradeID       int64   `json:"grade_id"`
	SubjectID     int64   `json:"subject_id"`
	Value         float64 `json:"value"`
	WeightPercent float64 `json:"weight_percent"`
	NewAverage    float64 `json:"new_average"`
}

// Payload implements Event interface.
func (e GradeAddedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"grade_id":       e.GradeID,
		"subject_id":     e.SubjectID,
		"value":          e.Value,
		"weight_percent": e.WeightPercent,
		"new_average":    e.NewAverage,
	}
}

// NewGradeAddedEvent creates a new GradeAddedEvent.
func NewGradeAddedEvent(studentID string, gradeID, subjectID int64, value, weight, newAverage float64) GradeAddedEvent {
	return GradeAddedEvent{
		BaseEvent:     NewBaseEvent(EventGradeAdded, studentID),
		GradeID:       gradeID,
		SubjectID:     subjectID,
		Value:         value,
		WeightPercent: weight,
		NewAverage:    newAverage,
	}
}

// AttendanceRecordedEvent is emitted when attendance is inserted or replaced.
type AttendanceRecordedEvent struct {
	BaseEvent
	EntryID   int64  `json:"entry_id"`
	SubjectID int64  `json:"subject_id"`
	Date      string `json:"date"`
	Present   bool   `json:"present"`
	Replaced  bool   `json:"replaced"`
	NewRate   int    `json:"new_rate"`
}

// Payload implements Event interface.
func (e AttendanceRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entry_id":   e.EntryID,
		"subject_id": e.SubjectID,
		"date":       e.Date,
		"present":    e.Present,
		"replaced":   e.Replaced,
		"new_rate":   e.NewRate,
	}
}

// NewAttendanceRecordedEvent creates a new AttendanceRecordedEvent.
func NewAttendanceRecordedEvent(studentID string, entryID, subjectID int64, date string, present, replaced bool, newRate int) AttendanceRecordedEvent {
	return AttendanceRecordedEvent{
		BaseEvent: NewBaseEvent(EventAttendanceRecorded, studentID),
		EntryID:   entryID,
		SubjectID: subjectID,
		Date:      date,
		Present:   present,
		Replaced:  replaced,
		NewRate:   newRate,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Alert Events
// ═══════════════════════════════════════════════════════════════════════════

// AlertsGeneratedEvent is emitted after risk analysis produced new alerts.
type AlertsGeneratedEvent struct {
	BaseEvent
	Generated int      `json:"generated"`
	Added     int      `json:"added"`
	Titles    []string `json:"titles"`
}

// Payload implements Event interface.
func (e AlertsGeneratedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"generated": e.Generated,
		"added":     e.Added,
		"titles":    e.Titles,
	}
}

// NewAlertsGeneratedEvent creates a new AlertsGeneratedEvent.
func NewAlertsGeneratedEvent(studentID string, generated, added int, titles []string) AlertsGeneratedEvent {
	return AlertsGeneratedEvent{
		BaseEvent: NewBaseEvent(EventAlertsGenerated, studentID),
		Generated: generated,
		Added:     added,
		Titles:    titles,
	}
}

// AlertReadEvent is emitted when the student acknowledges an alert.
type AlertReadEvent struct {
	BaseEvent
	AlertID int64 `json:"alert_id"`
}

// Payload implements Event interface.
func (e AlertReadEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"alert_id": e.AlertID,
	}
}

// NewAlertReadEvent creates a new AlertReadEvent.
func NewAlertReadEvent(studentID string, alertID int64) AlertReadEvent {
	return AlertReadEvent{
		BaseEvent: NewBaseEvent(EventAlertRead, studentID),
		AlertID:   alertID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event into an envelope with the given ID.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env, nil
}

// Correlation returns the correlation ID of the event.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
