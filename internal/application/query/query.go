// Package query contains read operations (CQRS - Queries).
// Queries read a copy of the session store and recompute every derived
// figure on each call.
package query

import (
	"time"

	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/pkg/timeutil"
)

// Deps are the collaborators shared by all query handlers.
type Deps struct {
	Sessions *session.Manager
}

// view is a consistent copy of the session state taken under the lock.
type view struct {
	session  session.Session
	snapshot academic.Snapshot
	now      time.Time
	names    map[academic.SubjectID]string
}

func (d Deps) read() (view, error) {
	var v view
	err := d.Sessions.WithStore(func(store *academic.Store, sess session.Session) error {
		v = view{session: sess, snapshot: store.Snapshot(), now: store.Now()}
		return nil
	})
	if err != nil {
		return view{}, err
	}

	v.names = make(map[academic.SubjectID]string, len(v.snapshot.Subjects))
	for _, s := range v.snapshot.Subjects {
		v.names[s.ID] = s.Name
	}
	return v, nil
}

// subjectName resolves a name the way Store.FindSubjectName does.
func (v view) subjectName(id academic.SubjectID) string {
	if name, ok := v.names[id]; ok {
		return name
	}
	return academic.UnknownSubjectName
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED DTOs
// ══════════════════════════════════════════════════════════════════════════════

// AlertDTO is an alert with display labels.
type AlertDTO struct {
	academic.Alert
	CreatedLabel string `json:"created_label,omitempty"`
}

func toAlertDTOs(alerts []academic.Alert, now time.Time) []AlertDTO {
	out := make([]AlertDTO, 0, len(alerts))
	for _, a := range alerts {
		dto := AlertDTO{Alert: a}
		if !a.CreatedAt.IsZero() {
			dto.CreatedLabel = timeutil.FormatRelativeES(a.CreatedAt, now)
		}
		out = append(out, dto)
	}
	return out
}
