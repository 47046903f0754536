package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// The backend owns its schema in production. These migrations create the
// subset of it the dashboard reads, for local development and tests.
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "dashboard_schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}

		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}

			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}

		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}

// Status returns the migration status.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)

	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}

	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_subjects", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_records", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS auth_user (
    id SERIAL PRIMARY KEY,
    password VARCHAR(128) NOT NULL,
    last_login TIMESTAMP WITH TIME ZONE NULL,
    is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
    username VARCHAR(150) NOT NULL UNIQUE,
    first_name VARCHAR(150) NOT NULL DEFAULT '',
    last_name VARCHAR(150) NOT NULL DEFAULT '',
    email VARCHAR(254) NOT NULL DEFAULT '',
    is_staff BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    date_joined TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS estudiantes_estudiante (
    id BIGSERIAL PRIMARY KEY,
    user_id INTEGER NOT NULL UNIQUE REFERENCES auth_user(id) ON DELETE CASCADE,
    codigo VARCHAR(20) NOT NULL UNIQUE,
    carrera VARCHAR(100) NOT NULL,
    semestre_actual INTEGER NOT NULL DEFAULT 1,
    fecha_ingreso DATE NOT NULL DEFAULT CURRENT_DATE,
    activo BOOLEAN NOT NULL DEFAULT TRUE
);
`

const migration001Down = `
DROP TABLE IF EXISTS estudiantes_estudiante;
DROP TABLE IF EXISTS auth_user;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SUBJECTS AND PREREQUISITES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS materias_materia (
    id BIGSERIAL PRIMARY KEY,
    codigo VARCHAR(20) NOT NULL UNIQUE,
    nombre VARCHAR(200) NOT NULL,
    creditos INTEGER NOT NULL,
    descripcion TEXT NULL,
    activa BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS materias_materia_prerequisitos (
    id BIGSERIAL PRIMARY KEY,
    from_materia_id BIGINT NOT NULL REFERENCES materias_materia(id) ON DELETE CASCADE,
    to_materia_id BIGINT NOT NULL REFERENCES materias_materia(id) ON DELETE CASCADE,
    UNIQUE (from_materia_id, to_materia_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS materias_materia_prerequisitos;
DROP TABLE IF EXISTS materias_materia;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: GRADES, ATTENDANCE AND ALERTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS notas_nota (
    id BIGSERIAL PRIMARY KEY,
    estudiante_id BIGINT NOT NULL REFERENCES estudiantes_estudiante(id) ON DELETE CASCADE,
    materia_id BIGINT NOT NULL REFERENCES materias_materia(id) ON DELETE CASCADE,
    valor NUMERIC(5,2) NOT NULL,
    porcentaje NUMERIC(5,2) NOT NULL,
    descripcion VARCHAR(200) NULL,
    fecha DATE NOT NULL DEFAULT CURRENT_DATE,
    UNIQUE (estudiante_id, materia_id, descripcion),
    CONSTRAINT valid_valor CHECK (valor >= 0 AND valor <= 20),
    CONSTRAINT valid_porcentaje CHECK (porcentaje >= 0 AND porcentaje <= 100)
);

CREATE INDEX IF NOT EXISTS idx_notas_estudiante ON notas_nota(estudiante_id);

CREATE TABLE IF NOT EXISTS asistencias_asistencia (
    id BIGSERIAL PRIMARY KEY,
    estudiante_id BIGINT NOT NULL REFERENCES estudiantes_estudiante(id) ON DELETE CASCADE,
    materia_id BIGINT NOT NULL REFERENCES materias_materia(id) ON DELETE CASCADE,
    fecha DATE NOT NULL,
    asistio BOOLEAN NOT NULL DEFAULT TRUE,
    justificada BOOLEAN NOT NULL DEFAULT FALSE,
    observaciones TEXT NULL,
    UNIQUE (estudiante_id, materia_id, fecha)
);

CREATE INDEX IF NOT EXISTS idx_asistencias_estudiante ON asistencias_asistencia(estudiante_id);

CREATE TABLE IF NOT EXISTS alertas_alerta (
    id BIGSERIAL PRIMARY KEY,
    estudiante_id BIGINT NOT NULL REFERENCES estudiantes_estudiante(id) ON DELETE CASCADE,
    tipo VARCHAR(20) NOT NULL DEFAULT 'info',
    titulo VARCHAR(200) NOT NULL,
    mensaje TEXT NOT NULL,
    fecha_creacion TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    fecha_vencimiento TIMESTAMP WITH TIME ZONE NULL,
    activa BOOLEAN NOT NULL DEFAULT TRUE,
    leida BOOLEAN NOT NULL DEFAULT FALSE,
    CONSTRAINT valid_tipo CHECK (tipo IN ('info', 'warning', 'danger', 'success'))
);

CREATE INDEX IF NOT EXISTS idx_alertas_estudiante_activa ON alertas_alerta(estudiante_id) WHERE activa;
`

const migration003Down = `
DROP TABLE IF EXISTS alertas_alerta;
DROP TABLE IF EXISTS asistencias_asistencia;
DROP TABLE IF EXISTS notas_nota;
`
