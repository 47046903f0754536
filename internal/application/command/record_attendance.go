package command

import (
	"context"

	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// RecordAttendanceCommand records presence for a subject on a day.
type RecordAttendanceCommand struct {
	SubjectID int64  `json:"subject_id" validate:"gt=0"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Present   bool   `json:"present"`
	Justified bool   `json:"justified"`
	Notes     string `json:"notes" validate:"max=500"`
}

// RecordAttendanceResult describes the stored entry.
type RecordAttendanceResult struct {
	Entry       academic.AttendanceEntry `json:"entry"`
	SubjectName string                   `json:"subject_name"`

	// Replaced is set when an entry for the same subject and day existed.
	Replaced bool `json:"replaced"`

	SubjectRate int  `json:"subject_rate"`
	NewRate     int  `json:"new_rate"`
	Synced      bool `json:"synced"`
}

// RecordAttendanceHandler handles RecordAttendanceCommand.
type RecordAttendanceHandler struct {
	deps Deps
}

// NewRecordAttendanceHandler creates a new RecordAttendanceHandler.
func NewRecordAttendanceHandler(deps Deps) *RecordAttendanceHandler {
	return &RecordAttendanceHandler{deps: deps.withDefaults()}
}

// Handle upserts the entry keyed by subject and date.
func (h *RecordAttendanceHandler) Handle(ctx context.Context, cmd RecordAttendanceCommand) (*RecordAttendanceResult, error) {
	if err := h.deps.Validator.Struct("RecordAttendance", cmd); err != nil {
		return nil, err
	}
	date, err := shared.ParseDate(cmd.Date)
	if err != nil {
		return nil, err
	}

	subjectID := academic.SubjectID(cmd.SubjectID)

	var (
		result RecordAttendanceResult
		sess   session.Session
	)
	err = h.deps.Sessions.WithStore(func(store *academic.Store, s session.Session) error {
		if !store.HasSubject(subjectID) {
			return shared.ErrSubjectNotFound
		}

		result.Entry, result.Replaced = store.UpsertAttendanceEntry(academic.AttendanceEntry{
			SubjectID: subjectID,
			Date:      date,
			Present:   cmd.Present,
			Justified: cmd.Justified,
			Notes:     cmd.Notes,
		})
		result.SubjectName = store.FindSubjectName(subjectID)
		result.SubjectRate = academic.AttendanceRate(store.AttendanceFor(subjectID))
		result.NewRate = academic.AttendanceRate(store.Attendance())
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	studentID := sess.Profile.StudentID
	result.Synced = h.deps.remoteWrite(ctx, sess, "SaveAttendance", func(ctx context.Context, sink academic.RecordSink, token string) error {
		return sink.SaveAttendance(ctx, token, studentID, result.Entry)
	})
	h.deps.Sessions.InvalidateCache(ctx, studentID)

	h.deps.Logger.Info("attendance recorded",
		logger.StudentID(studentID.Int64()),
		logger.SubjectID(cmd.SubjectID),
		logger.String("date", date.String()),
		logger.Bool("replaced", result.Replaced),
		logger.Bool("synced", result.Synced),
	)

	event := shared.NewAttendanceRecordedEvent(studentID.String(), int64(result.Entry.ID), cmd.SubjectID,
		date.String(), result.Entry.Present, result.Replaced, result.NewRate)
	event.BaseEvent = event.BaseEvent.WithCorrelationID(sess.ID)
	h.deps.publish(event)

	return &result, nil
}
