package academic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func subjectIDs(subjects []Subject) []SubjectID {
	ids := make([]SubjectID, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	return ids
}

func curriculumFixture() []Subject {
	return []Subject{
		{ID: 5, Name: "Algorithms", Prerequisites: []SubjectID{3, 4}},
		{ID: 1, Name: "Calculus I"},
		{ID: 3, Name: "Programming II", Prerequisites: []SubjectID{2}},
		{ID: 2, Name: "Programming I"},
		{ID: 4, Name: "Discrete Math", Prerequisites: []SubjectID{1, 99}},
	}
}

func TestCurriculum_OrderRespectsPrerequisites(t *testing.T) {
	c := BuildCurriculum(curriculumFixture())

	assert.True(t, c.IsAcyclic())
	assert.Equal(t, []SubjectID{1, 2, 3, 4, 5}, subjectIDs(c.Order()))
}

func TestCurriculum_CycleFallsBackToIDOrder(t *testing.T) {
	c := BuildCurriculum([]Subject{
		{ID: 3, Name: "C", Prerequisites: []SubjectID{2}},
		{ID: 2, Name: "B", Prerequisites: []SubjectID{3}},
		{ID: 1, Name: "A"},
	})

	assert.False(t, c.IsAcyclic())
	assert.Equal(t, []SubjectID{1, 2, 3}, subjectIDs(c.Order()))
}

func TestCurriculum_CanTake(t *testing.T) {
	c := BuildCurriculum(curriculumFixture())
	passed := map[SubjectID]bool{2: true}

	assert.True(t, c.CanTake(1, passed))
	assert.True(t, c.CanTake(3, passed))
	assert.False(t, c.CanTake(5, passed))
	assert.False(t, c.CanTake(4, map[SubjectID]bool{1: true}), "unknown prerequisite blocks the subject")
	assert.False(t, c.CanTake(77, passed))
}

func TestCurriculum_MissingPrerequisites(t *testing.T) {
	c := BuildCurriculum(curriculumFixture())
	passed := map[SubjectID]bool{2: true}

	assert.Equal(t, []SubjectID{3, 4}, c.MissingPrerequisites(5, passed))
	assert.Equal(t, []SubjectID{99}, c.MissingPrerequisites(4, map[SubjectID]bool{1: true}), "unknown prerequisite is reported")
	assert.Empty(t, c.MissingPrerequisites(3, passed))
	assert.Empty(t, c.MissingPrerequisites(1, passed))
	assert.Nil(t, c.MissingPrerequisites(77, passed))
}

func TestCurriculum_SuggestedPath(t *testing.T) {
	c := BuildCurriculum(curriculumFixture())

	path := c.SuggestedPath(map[SubjectID]bool{1: true, 2: true, 3: true})

	assert.Empty(t, path)
}

func TestCurriculum_SuggestedPathFromGrades(t *testing.T) {
	c := BuildCurriculum(curriculumFixture())
	passed := PassedSubjects([]Grade{
		{SubjectID: 2, Value: 14, WeightPercent: 100},
		{SubjectID: 1, Value: 9.99, WeightPercent: 100},
	})

	assert.Equal(t, map[SubjectID]bool{2: true}, passed)
	assert.Equal(t, []SubjectID{1, 3}, subjectIDs(c.SuggestedPath(passed)))
}
