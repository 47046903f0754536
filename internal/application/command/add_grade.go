package command

import (
	"context"

	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADD GRADE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// AddGradeCommand contains a grade entered by the student.
type AddGradeCommand struct {
	SubjectID     int64   `json:"subject_id" validate:"gt=0"`
	Value         float64 `json:"value" validate:"gte=0,lte=20"`
	WeightPercent float64 `json:"weight_percent" validate:"gte=0,lte=100"`
	Description   string  `json:"description" validate:"max=200"`
}

// AddGradeResult describes the stored grade and the averages it changed.
type AddGradeResult struct {
	Grade          academic.Grade `json:"grade"`
	SubjectName    string         `json:"subject_name"`
	SubjectAverage float64        `json:"subject_average"`
	NewAverage     float64        `json:"new_average"`

	// Synced reports whether the grade reached the data source.
	Synced bool `json:"synced"`
}

// AddGradeHandler handles AddGradeCommand.
type AddGradeHandler struct {
	deps Deps
}

// NewAddGradeHandler creates a new AddGradeHandler.
func NewAddGradeHandler(deps Deps) *AddGradeHandler {
	return &AddGradeHandler{deps: deps.withDefaults()}
}

// Handle adds the grade to the store of the active session. The subject must
// be part of the loaded snapshot.
func (h *AddGradeHandler) Handle(ctx context.Context, cmd AddGradeCommand) (*AddGradeResult, error) {
	if err := h.deps.Validator.Struct("AddGrade", cmd); err != nil {
		return nil, err
	}

	subjectID := academic.SubjectID(cmd.SubjectID)

	var (
		result AddGradeResult
		sess   session.Session
	)
	err := h.deps.Sessions.WithStore(func(store *academic.Store, s session.Session) error {
		if !store.HasSubject(subjectID) {
			return shared.ErrSubjectNotFound
		}

		result.Grade = store.AppendGrade(academic.Grade{
			SubjectID:     subjectID,
			Value:         cmd.Value,
			WeightPercent: cmd.WeightPercent,
			Description:   cmd.Description,
		})
		grades := store.Grades()
		result.SubjectName = store.FindSubjectName(subjectID)
		result.SubjectAverage = shared.Round2(academic.SubjectAverage(grades, subjectID))
		result.NewAverage = shared.Round2(academic.AverageGrade(grades))
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	studentID := sess.Profile.StudentID
	result.Synced = h.deps.remoteWrite(ctx, sess, "SaveGrade", func(ctx context.Context, sink academic.RecordSink, token string) error {
		return sink.SaveGrade(ctx, token, studentID, result.Grade)
	})
	h.deps.Sessions.InvalidateCache(ctx, studentID)

	h.deps.Logger.Info("grade added",
		logger.StudentID(studentID.Int64()),
		logger.GradeID(int64(result.Grade.ID)),
		logger.SubjectID(cmd.SubjectID),
		logger.Bool("synced", result.Synced),
	)

	event := shared.NewGradeAddedEvent(studentID.String(), int64(result.Grade.ID), cmd.SubjectID,
		result.Grade.Value, result.Grade.WeightPercent, result.NewAverage)
	event.BaseEvent = event.BaseEvent.WithCorrelationID(sess.ID)
	h.deps.publish(event)

	return &result, nil
}
