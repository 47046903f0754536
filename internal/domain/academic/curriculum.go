package academic

import (
	"container/heap"
	"sort"
)

// Curriculum is the prerequisite graph over a set of subjects.
// Edges point from a prerequisite to the subject that requires it.
type Curriculum struct {
	subjects map[SubjectID]Subject
	next     map[SubjectID][]SubjectID
	order    []SubjectID
	acyclic  bool
}

// BuildCurriculum builds the prerequisite graph. Prerequisites that are not
// part of subjects are ignored.
func BuildCurriculum(subjects []Subject) *Curriculum {
	c := &Curriculum{
		subjects: make(map[SubjectID]Subject, len(subjects)),
		next:     make(map[SubjectID][]SubjectID),
	}
	for _, s := range subjects {
		c.subjects[s.ID] = s
	}
	for _, s := range subjects {
		for _, pre := range s.Prerequisites {
			if _, ok := c.subjects[pre]; ok && pre != s.ID {
				c.next[pre] = append(c.next[pre], s.ID)
			}
		}
	}
	c.order, c.acyclic = c.topologicalOrder()
	return c
}

// topologicalOrder runs Kahn's algorithm, always taking the smallest ready
// ID. On a cycle it falls back to plain ID order.
func (c *Curriculum) topologicalOrder() ([]SubjectID, bool) {
	indegree := make(map[SubjectID]int, len(c.subjects))
	for id := range c.subjects {
		indegree[id] += 0
		for _, n := range c.next[id] {
			indegree[n]++
		}
	}

	ready := &idHeap{}
	for id, d := range indegree {
		if d == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]SubjectID, 0, len(c.subjects))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(SubjectID)
		order = append(order, id)
		for _, n := range c.next[id] {
			indegree[n]--
			if indegree[n] == 0 {
				heap.Push(ready, n)
			}
		}
	}

	if len(order) == len(c.subjects) {
		return order, true
	}

	order = order[:0]
	for id := range c.subjects {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return order, false
}

// Order returns subjects in an order that respects prerequisites.
func (c *Curriculum) Order() []Subject {
	out := make([]Subject, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.subjects[id])
	}
	return out
}

// IsAcyclic reports whether the prerequisite graph has no cycles.
func (c *Curriculum) IsAcyclic() bool {
	return c.acyclic
}

// CanTake reports whether every prerequisite of id is in passed.
func (c *Curriculum) CanTake(id SubjectID, passed map[SubjectID]bool) bool {
	subj, ok := c.subjects[id]
	if !ok {
		return false
	}
	for _, pre := range subj.Prerequisites {
		if !passed[pre] {
			return false
		}
	}
	return true
}

// MissingPrerequisites lists, in declaration order, the prerequisites of id
// that are not in passed. Prerequisites outside the curriculum count as
// missing. It returns nil for an unknown subject.
func (c *Curriculum) MissingPrerequisites(id SubjectID, passed map[SubjectID]bool) []SubjectID {
	subj, ok := c.subjects[id]
	if !ok {
		return nil
	}
	missing := make([]SubjectID, 0)
	for _, pre := range subj.Prerequisites {
		if !passed[pre] {
			missing = append(missing, pre)
		}
	}
	return missing
}

// SuggestedPath returns, in curriculum order, the subjects not yet passed
// whose prerequisites are all passed.
func (c *Curriculum) SuggestedPath(passed map[SubjectID]bool) []Subject {
	var out []Subject
	for _, id := range c.order {
		if passed[id] {
			continue
		}
		if c.CanTake(id, passed) {
			out = append(out, c.subjects[id])
		}
	}
	return out
}

// PassedSubjects returns the subjects whose grade average reaches PassingGrade.
func PassedSubjects(grades []Grade) map[SubjectID]bool {
	passed := make(map[SubjectID]bool)
	for id, avg := range AveragesBySubject(grades) {
		if avg >= PassingGrade {
			passed[id] = true
		}
	}
	return passed
}

type idHeap []SubjectID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(SubjectID)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
