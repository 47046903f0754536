package academic

import (
	"context"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// Implemented by the academic API client and the Postgres source in
// infrastructure.
// ══════════════════════════════════════════════════════════════════════════════

// Profile describes the authenticated student.
type Profile struct {
	StudentID  shared.StudentID `json:"student_id"`
	Username   string           `json:"username"`
	FullName   string           `json:"full_name"`
	Email      string           `json:"email,omitempty"`
	Code       string           `json:"code"`
	Program    string           `json:"program"`
	Semester   int              `json:"semester"`
	EnrolledOn shared.Date      `json:"enrolled_on,omitempty"`
	Active     bool             `json:"active"`
}

// Credentials is the result of a successful authentication.
type Credentials struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}

// Program is an academic program (degree) offered by the institution.
type Program struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Semesters int    `json:"semesters"`
}

// Authenticator verifies student credentials.
type Authenticator interface {
	// Login returns the token and profile of the student.
	// Returns shared.ErrInvalidCredentials when the pair does not match.
	Login(ctx context.Context, username, password string) (*Credentials, error)

	// Logout invalidates token on the source. Sources without server-side
	// sessions return nil.
	Logout(ctx context.Context, token string) error
}

// SnapshotSource loads the academic records of one student.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, token string, studentID shared.StudentID) (Snapshot, error)
}

// RecordSink persists records created during a session.
type RecordSink interface {
	SaveGrade(ctx context.Context, token string, studentID shared.StudentID, g Grade) error
	SaveAttendance(ctx context.Context, token string, studentID shared.StudentID, e AttendanceEntry) error
	MarkAlertRead(ctx context.Context, token string, id AlertID) error
}

// ProgramCatalog lists academic programs.
type ProgramCatalog interface {
	ListPrograms(ctx context.Context, token string) ([]Program, error)
}

// RemoteAlertGenerator is implemented by sources that compute alerts on the
// server side. Optional.
type RemoteAlertGenerator interface {
	GenerateRemoteAlerts(ctx context.Context, token string, studentID shared.StudentID) ([]Alert, error)
}

// Backend groups everything a data source provides.
type Backend interface {
	Authenticator
	SnapshotSource
	RecordSink
	ProgramCatalog
}

// SnapshotCache keeps recently fetched snapshots.
type SnapshotCache interface {
	// Get returns the cached snapshot. Returns an error matching
	// shared.ErrNotFound on a miss.
	Get(ctx context.Context, studentID shared.StudentID) (Snapshot, error)
	Set(ctx context.Context, studentID shared.StudentID, snap Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, studentID shared.StudentID) error
}
