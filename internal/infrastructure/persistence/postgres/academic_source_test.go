package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/circuitbreaker"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
	"github.com/academic-tracker/student-dashboard/pkg/retry"
)

func newTestSource(opts ...SourceOption) *AcademicSource {
	conn := &Connection{config: DefaultConfig("postgres://localhost/test")}
	opts = append([]SourceOption{
		WithLogger(logger.Nop()),
		WithRetrier(retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0))),
	}, opts...)
	return NewAcademicSource(conn, opts...)
}

func TestAcademicSource_TokensAreScopedToStudent(t *testing.T) {
	src := newTestSource()
	src.sessions["tok"] = 7

	assert.NoError(t, src.authorize("FetchSnapshot", "tok", 7))
	assert.True(t, shared.IsUnauthorized(src.authorize("FetchSnapshot", "other", 7)))
	assert.ErrorIs(t, src.authorize("FetchSnapshot", "tok", 8), shared.ErrForbidden)

	require.NoError(t, src.Logout(context.Background(), "tok"))
	assert.ErrorIs(t, src.authorize("FetchSnapshot", "tok", 7), shared.ErrUnauthorized)
}

func TestAcademicSource_RejectsUnknownTokenBeforeQuerying(t *testing.T) {
	src := newTestSource()
	ctx := context.Background()

	_, err := src.FetchSnapshot(ctx, "missing", 1)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	assert.ErrorIs(t, src.MarkAlertRead(ctx, "missing", 3), shared.ErrUnauthorized)

	_, err = src.ListPrograms(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestAcademicSource_RunRetriesTransientErrors(t *testing.T) {
	src := newTestSource()
	calls := 0

	err := src.run(context.Background(), "Probe", func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "57P01"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAcademicSource_RunReportsUnavailableAfterRetries(t *testing.T) {
	src := newTestSource()
	calls := 0

	err := src.run(context.Background(), "Probe", func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "53300"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.True(t, shared.IsRetryable(err))
}

func TestAcademicSource_RunDoesNotRetryRequestErrors(t *testing.T) {
	src := newTestSource()
	calls := 0

	err := src.run(context.Background(), "Probe", func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})

	assert.Equal(t, 1, calls)
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, "closed", src.BreakerState())
}

func TestAcademicSource_OpenBreakerFailsFast(t *testing.T) {
	breaker := circuitbreaker.New("test-db",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithIsFailure(IsDatabaseFailure),
	)
	src := newTestSource(WithBreaker(breaker), WithRetrier(retry.New(retry.WithMaxAttempts(1))))

	_ = src.run(context.Background(), "Probe", func(context.Context) error {
		return &pgconn.PgError{Code: "08006"}
	})
	require.Equal(t, "open", src.BreakerState())

	called := false
	err := src.run(context.Background(), "Probe", func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestMapWriteError(t *testing.T) {
	src := newTestSource()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, shared.ErrAlreadyExists},
		{"foreign key", &pgconn.PgError{Code: "23503"}, shared.ErrNotFound},
		{"check", &pgconn.PgError{Code: "23514"}, shared.ErrValueOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, src.mapWriteError("SaveGrade", tt.err), tt.want)
		})
	}

	assert.NoError(t, src.mapWriteError("SaveGrade", nil))
	other := errors.New("boom")
	assert.Equal(t, other, src.mapWriteError("SaveGrade", other))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(pgx.ErrNoRows))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "57P03"})))
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
	assert.Contains(t, migrations[2].UpSQL, "UNIQUE (estudiante_id, materia_id, fecha)")
}
