package query

import (
	"context"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// PathSubjectDTO is one subject of the curriculum with its standing.
type PathSubjectDTO struct {
	academic.Subject
	Average   float64 `json:"average"`
	Passed    bool    `json:"passed"`
	Available bool    `json:"available"`

	// MissingPrerequisites is empty for passed subjects.
	MissingPrerequisites []academic.SubjectID `json:"missingPrerequisites"`
}

// AcademicPathDTO is the curriculum in prerequisite order plus the subjects
// the student can take next.
type AcademicPathDTO struct {
	Order     []PathSubjectDTO   `json:"order"`
	Suggested []academic.Subject `json:"suggested"`
	Passed    int                `json:"passed"`

	// Acyclic is false when prerequisites form a cycle; Order then falls
	// back to subject ID order.
	Acyclic bool `json:"acyclic"`
}

// GetAcademicPathHandler builds the academic path of the active session.
type GetAcademicPathHandler struct {
	deps Deps
}

// NewGetAcademicPathHandler creates a new GetAcademicPathHandler.
func NewGetAcademicPathHandler(deps Deps) *GetAcademicPathHandler {
	return &GetAcademicPathHandler{deps: deps}
}

// Handle returns shared.ErrForbidden when the curriculum feature is off for
// the student.
func (h *GetAcademicPathHandler) Handle(_ context.Context) (*AcademicPathDTO, error) {
	v, err := h.deps.read()
	if err != nil {
		return nil, err
	}
	if !h.deps.Sessions.Flags().IsEnabled(config.FeatureCurriculum, v.session.FeatureContext()) {
		return nil, shared.NewDomainError("query", "GetAcademicPath", shared.ErrForbidden, "curriculum path is disabled")
	}

	curriculum := academic.BuildCurriculum(v.snapshot.Subjects)
	passed := academic.PassedSubjects(v.snapshot.Grades)
	averages := academic.AveragesBySubject(v.snapshot.Grades)

	order := curriculum.Order()
	dto := &AcademicPathDTO{
		Order:     make([]PathSubjectDTO, 0, len(order)),
		Suggested: curriculum.SuggestedPath(passed),
		Acyclic:   curriculum.IsAcyclic(),
	}
	if dto.Suggested == nil {
		dto.Suggested = []academic.Subject{}
	}
	for _, s := range order {
		missing := []academic.SubjectID{}
		if passed[s.ID] {
			dto.Passed++
		} else {
			missing = curriculum.MissingPrerequisites(s.ID, passed)
		}
		dto.Order = append(dto.Order, PathSubjectDTO{
			Subject:              s,
			Average:              shared.Round2(averages[s.ID]),
			Passed:               passed[s.ID],
			Available:            !passed[s.ID] && len(missing) == 0,
			MissingPrerequisites: missing,
		})
	}
	return dto, nil
}
