package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/circuitbreaker"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
	"github.com/academic-tracker/student-dashboard/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC SOURCE
// ══════════════════════════════════════════════════════════════════════════════

var _ academic.Backend = (*AcademicSource)(nil)

// AcademicSource implements academic.Backend on top of the backend tables.
// Tokens are opaque session keys issued by Login and only valid for the
// lifetime of the process.
type AcademicSource struct {
	conn    *Connection
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
	loc     *time.Location
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]shared.StudentID
}

// SourceOption configures an AcademicSource.
type SourceOption func(*AcademicSource)

// WithRetrier overrides the retry policy.
func WithRetrier(r *retry.Retrier) SourceOption {
	return func(s *AcademicSource) { s.retrier = r }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) SourceOption {
	return func(s *AcademicSource) { s.breaker = cb }
}

// WithLocation sets the zone used for grade timestamps.
func WithLocation(loc *time.Location) SourceOption {
	return func(s *AcademicSource) { s.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) SourceOption {
	return func(s *AcademicSource) { s.log = l }
}

// NewAcademicSource creates a source reading through conn.
func NewAcademicSource(conn *Connection, opts ...SourceOption) *AcademicSource {
	s := &AcademicSource{
		conn:     conn,
		retrier:  retry.DatabaseRetrier(),
		log:      logger.Default(),
		loc:      time.UTC,
		timeout:  conn.config.QueryTimeout,
		sessions: make(map[string]shared.StudentID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("postgres"))

	if s.breaker == nil {
		s.breaker = circuitbreaker.DatabaseBreaker(IsDatabaseFailure, func(name string, from, to circuitbreaker.State) {
			s.log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	}
	return s
}

// IsDatabaseFailure reports whether err says something about the health of
// the database rather than about the request.
func IsDatabaseFailure(err error) bool {
	return IsTransient(err) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ──────────────────────────────────────────────────────────────────────────────
// Authenticator
// ──────────────────────────────────────────────────────────────────────────────

type loginRow struct {
	userID      int64
	password    string
	username    string
	firstName   string
	lastName    string
	email       string
	userActive  bool
	studentID   int64
	code        string
	program     string
	semester    int
	enrolledOn  time.Time
	studentFlag bool
}

// Login verifies the Django password hash of username and issues a token.
func (s *AcademicSource) Login(ctx context.Context, username, password string) (*academic.Credentials, error) {
	const query = `
		SELECT u.id, u.password, u.username, u.first_name, u.last_name, u.email, u.is_active,
			   e.id, e.codigo, e.carrera, e.semestre_actual, e.fecha_ingreso, e.activo
		FROM auth_user u
		JOIN estudiantes_estudiante e ON e.user_id = u.id
		WHERE u.username = $1
	`

	var row loginRow
	found := true
	err := s.run(ctx, "Login", func(ctx context.Context) error {
		err := s.conn.QueryRow(ctx, query, username).Scan(
			&row.userID, &row.password, &row.username, &row.firstName, &row.lastName,
			&row.email, &row.userActive, &row.studentID, &row.code, &row.program,
			&row.semester, &row.enrolledOn, &row.studentFlag,
		)
		if IsNoRows(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, shared.ErrInvalidCredentials
	}

	ok, err := VerifyDjangoPassword(password, row.password)
	if err != nil {
		s.log.Warn("unverifiable password hash", logger.Username(username), logger.Err(err))
	}
	if !ok {
		return nil, shared.ErrInvalidCredentials
	}
	if !row.userActive || !row.studentFlag {
		return nil, shared.ErrStudentInactive
	}

	id, err := shared.NewStudentID(row.studentID)
	if err != nil {
		return nil, err
	}

	fullName := strings.TrimSpace(row.firstName + " " + row.lastName)
	if fullName == "" {
		fullName = row.username
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = id
	s.mu.Unlock()

	return &academic.Credentials{
		Token: token,
		Profile: academic.Profile{
			StudentID:  id,
			Username:   row.username,
			FullName:   fullName,
			Email:      row.email,
			Code:       row.code,
			Program:    row.program,
			Semester:   row.semester,
			EnrolledOn: shared.DateOf(row.enrolledOn),
			Active:     true,
		},
	}, nil
}

// Logout forgets token.
func (s *AcademicSource) Logout(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *AcademicSource) authorize(op, token string, studentID shared.StudentID) error {
	s.mu.RLock()
	owner, ok := s.sessions[token]
	s.mu.RUnlock()

	switch {
	case !ok:
		return shared.NewDomainError("postgres", op, shared.ErrUnauthorized, "unknown session token")
	case studentID != 0 && owner != studentID:
		return shared.NewDomainError("postgres", op, shared.ErrForbidden, "token belongs to another student")
	}
	return nil
}

func (s *AcademicSource) owner(token string) shared.StudentID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[token]
}

// ──────────────────────────────────────────────────────────────────────────────
// SnapshotSource
// ──────────────────────────────────────────────────────────────────────────────

// FetchSnapshot reads the four collections of studentID in one read-only
// repeatable-read transaction.
func (s *AcademicSource) FetchSnapshot(ctx context.Context, token string, studentID shared.StudentID) (academic.Snapshot, error) {
	if err := s.authorize("FetchSnapshot", token, studentID); err != nil {
		return academic.Snapshot{}, err
	}

	var snap academic.Snapshot
	err := s.run(ctx, "FetchSnapshot", func(ctx context.Context) error {
		return s.conn.WithTx(ctx, SnapshotTxOptions(), func(tx pgx.Tx) error {
			var err error
			if snap.Subjects, err = s.loadSubjects(ctx, tx); err != nil {
				return err
			}
			if snap.Grades, err = s.loadGrades(ctx, tx, studentID); err != nil {
				return err
			}
			if snap.Attendance, err = s.loadAttendance(ctx, tx, studentID); err != nil {
				return err
			}
			snap.Alerts, err = s.loadAlerts(ctx, tx, studentID)
			return err
		})
	})
	if err != nil {
		return academic.Snapshot{}, err
	}

	s.log.Debug("snapshot loaded",
		logger.StudentID(studentID.Int64()),
		logger.Int("subjects", len(snap.Subjects)),
		logger.Int("grades", len(snap.Grades)),
	)
	return snap, nil
}

func (s *AcademicSource) loadSubjects(ctx context.Context, q Querier) ([]academic.Subject, error) {
	rows, err := q.Query(ctx, `
		SELECT id, codigo, nombre, creditos, COALESCE(descripcion, '')
		FROM materias_materia
		WHERE activa
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}

	subjects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Subject, error) {
		var subj academic.Subject
		err := row.Scan(&subj.ID, &subj.Code, &subj.Name, &subj.Credits, &subj.Description)
		return subj, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan subjects: %w", err)
	}

	index := make(map[academic.SubjectID]int, len(subjects))
	for i, subj := range subjects {
		index[subj.ID] = i
	}

	// from_materia_id requires to_materia_id.
	rows, err = q.Query(ctx, `
		SELECT from_materia_id, to_materia_id
		FROM materias_materia_prerequisitos
		ORDER BY from_materia_id, to_materia_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query prerequisites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subject, prereq academic.SubjectID
		if err := rows.Scan(&subject, &prereq); err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		if i, ok := index[subject]; ok {
			subjects[i].Prerequisites = append(subjects[i].Prerequisites, prereq)
		}
	}
	return subjects, rows.Err()
}

func (s *AcademicSource) loadGrades(ctx context.Context, q Querier, studentID shared.StudentID) ([]academic.Grade, error) {
	rows, err := q.Query(ctx, `
		SELECT id, materia_id, valor::float8, porcentaje::float8, COALESCE(descripcion, ''), fecha
		FROM notas_nota
		WHERE estudiante_id = $1
		ORDER BY fecha, id
	`, studentID.Int64())
	if err != nil {
		return nil, fmt.Errorf("query grades: %w", err)
	}

	grades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Grade, error) {
		var g academic.Grade
		var day time.Time
		if err := row.Scan(&g.ID, &g.SubjectID, &g.Value, &g.WeightPercent, &g.Description, &day); err != nil {
			return g, err
		}
		g.RecordedAt = shared.DateOf(day).Time(s.loc)
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan grades: %w", err)
	}
	return grades, nil
}

func (s *AcademicSource) loadAttendance(ctx context.Context, q Querier, studentID shared.StudentID) ([]academic.AttendanceEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, materia_id, fecha, asistio, justificada, COALESCE(observaciones, '')
		FROM asistencias_asistencia
		WHERE estudiante_id = $1
		ORDER BY fecha, id
	`, studentID.Int64())
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.AttendanceEntry, error) {
		var e academic.AttendanceEntry
		var day time.Time
		if err := row.Scan(&e.ID, &e.SubjectID, &day, &e.Present, &e.Justified, &e.Notes); err != nil {
			return e, err
		}
		e.Date = shared.DateOf(day)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan attendance: %w", err)
	}
	return entries, nil
}

func (s *AcademicSource) loadAlerts(ctx context.Context, q Querier, studentID shared.StudentID) ([]academic.Alert, error) {
	rows, err := q.Query(ctx, `
		SELECT id, tipo, titulo, mensaje, fecha_creacion, fecha_vencimiento, leida
		FROM alertas_alerta
		WHERE estudiante_id = $1 AND activa
		ORDER BY fecha_creacion DESC, id
	`, studentID.Int64())
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}

	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Alert, error) {
		var a academic.Alert
		var kind string
		if err := row.Scan(&a.ID, &kind, &a.Title, &a.Message, &a.CreatedAt, &a.ExpiresAt, &a.Read); err != nil {
			return a, err
		}
		a.Type = academic.AlertType(kind)
		if !a.Type.IsValid() {
			a.Type = academic.AlertInfo
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}
	return alerts, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RecordSink
// ──────────────────────────────────────────────────────────────────────────────

// SaveGrade inserts g into notas_nota. A second grade with the same
// description for the subject is rejected with shared.ErrAlreadyExists.
func (s *AcademicSource) SaveGrade(ctx context.Context, token string, studentID shared.StudentID, g academic.Grade) error {
	if err := s.authorize("SaveGrade", token, studentID); err != nil {
		return err
	}

	recorded := g.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().In(s.loc)
	}
	day := shared.DateOf(recorded.In(s.loc)).Time(time.UTC)

	err := s.run(ctx, "SaveGrade", func(ctx context.Context) error {
		_, err := s.conn.Exec(ctx, `
			INSERT INTO notas_nota (estudiante_id, materia_id, valor, porcentaje, descripcion, fecha)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		`, studentID.Int64(), int64(g.SubjectID), g.Value, g.WeightPercent, g.Description, day)
		return err
	})
	return s.mapWriteError("SaveGrade", err)
}

// SaveAttendance upserts e on (student, subject, date).
func (s *AcademicSource) SaveAttendance(ctx context.Context, token string, studentID shared.StudentID, e academic.AttendanceEntry) error {
	if err := s.authorize("SaveAttendance", token, studentID); err != nil {
		return err
	}

	err := s.run(ctx, "SaveAttendance", func(ctx context.Context) error {
		_, err := s.conn.Exec(ctx, `
			INSERT INTO asistencias_asistencia (estudiante_id, materia_id, fecha, asistio, justificada, observaciones)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
			ON CONFLICT (estudiante_id, materia_id, fecha) DO UPDATE SET
				asistio = EXCLUDED.asistio,
				justificada = EXCLUDED.justificada,
				observaciones = EXCLUDED.observaciones
		`, studentID.Int64(), int64(e.SubjectID), e.Date.Time(time.UTC), e.Present, e.Justified, e.Notes)
		return err
	})
	return s.mapWriteError("SaveAttendance", err)
}

// MarkAlertRead flags an alert of the token's student as read.
func (s *AcademicSource) MarkAlertRead(ctx context.Context, token string, id academic.AlertID) error {
	if err := s.authorize("MarkAlertRead", token, 0); err != nil {
		return err
	}
	studentID := s.owner(token)

	var affected int64
	err := s.run(ctx, "MarkAlertRead", func(ctx context.Context) error {
		tag, err := s.conn.Exec(ctx,
			`UPDATE alertas_alerta SET leida = TRUE WHERE id = $1 AND estudiante_id = $2`,
			int64(id), studentID.Int64(),
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return shared.ErrAlertNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ProgramCatalog
// ──────────────────────────────────────────────────────────────────────────────

// ListPrograms returns the distinct programs students are enrolled in. The
// backend stores the program as free text, so codes equal names and the
// semester count is the highest semester any student has reached.
func (s *AcademicSource) ListPrograms(ctx context.Context, token string) ([]academic.Program, error) {
	if err := s.authorize("ListPrograms", token, 0); err != nil {
		return nil, err
	}

	var programs []academic.Program
	err := s.run(ctx, "ListPrograms", func(ctx context.Context) error {
		rows, err := s.conn.Query(ctx, `
			SELECT carrera, MAX(semestre_actual)
			FROM estudiantes_estudiante
			GROUP BY carrera
			ORDER BY carrera
		`)
		if err != nil {
			return err
		}
		programs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Program, error) {
			var p academic.Program
			err := row.Scan(&p.Name, &p.Semesters)
			p.Code = p.Name
			return p, err
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range programs {
		programs[i].ID = int64(i + 1)
	}
	return programs, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Resilience
// ──────────────────────────────────────────────────────────────────────────────

// run executes fn through the retrier and breaker with the query timeout.
// Transient failures are retried; everything else is returned as is.
func (s *AcademicSource) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			if s.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			err := fn(ctx)
			if IsTransient(err) {
				return retry.Retryable(err)
			}
			return err
		})
	})

	s.log.Debug("query finished",
		logger.Operation(op),
		logger.Latency(time.Since(start)),
		logger.Bool("ok", err == nil),
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.WrapError("postgres", op, shared.ErrServiceUnavailable, "circuit open", err)
	case IsDatabaseFailure(err):
		return shared.WrapError("postgres", op, shared.ErrServiceUnavailable, "database unavailable", err)
	default:
		return err
	}
}

func (s *AcademicSource) mapWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return shared.WrapError("postgres", op, shared.ErrAlreadyExists, "record already exists", err)
	case IsForeignKeyViolation(err):
		return shared.WrapError("postgres", op, shared.ErrNotFound, "unknown subject or student", err)
	case IsCheckViolation(err):
		return shared.WrapError("postgres", op, shared.ErrValueOutOfRange, "value out of range", err)
	default:
		return err
	}
}

// Health reports the state of the pool and breaker.
func (s *AcademicSource) Health(ctx context.Context) (*HealthStatus, error) {
	return s.conn.Health(ctx)
}

// BreakerState returns the breaker state name.
func (s *AcademicSource) BreakerState() string {
	return s.breaker.State().String()
}
