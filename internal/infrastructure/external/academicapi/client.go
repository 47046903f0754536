package academicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/circuitbreaker"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
	"github.com/academic-tracker/student-dashboard/pkg/retry"
)

var _ academic.Backend = (*Client)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the academic API client.
type ClientConfig struct {
	// BaseURL is the API root including the /api prefix
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for client-side throttling
	RateLimiterConfig RateLimiterConfig

	// Retrier for transient failures. Defaults to retry.APIRetrier().
	Retrier *retry.Retrier

	// Breaker guards the API. Defaults to circuitbreaker.APIBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	// Location for date-only fields. Defaults to UTC.
	Location *time.Location

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	Logger *logger.Logger

	// Debug logs every request
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           15 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the academic REST API client. It implements academic.Backend.
type Client struct {
	config      ClientConfig
	baseURL     string
	httpClient  *http.Client
	logger      *logger.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

// NewClient creates a new academic API client.
func NewClient(config ClientConfig) *Client {
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("academicapi"))

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.APIRetrier()
	}

	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.APIBreaker(IsBreakerFailure, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	}

	return &Client{
		config:      config,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		httpClient:  httpClient,
		logger:      log,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     breaker,
		retrier:     retrier,
		mapper:      NewMapper(config.Location),
	}
}

// IsBreakerFailure counts only server-side failures against the breaker.
// Rejected credentials or bad input say nothing about the API's health.
func IsBreakerFailure(err error) bool {
	return shared.IsRetryable(err)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Login authenticates with username and password and returns the API token
// with the student's profile.
func (c *Client) Login(ctx context.Context, username, password string) (*academic.Credentials, error) {
	var response LoginResponseDTO
	err := c.doRequest(ctx, "Login", http.MethodPost, "/auth/login/", "", LoginRequestDTO{
		Username: username,
		Password: password,
	}, &response)
	if err != nil {
		if shared.IsValidation(err) || shared.IsUnauthorized(err) {
			return nil, shared.WrapError("api", "Login", shared.ErrInvalidCredentials, "login rejected", err)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if response.Token == "" {
		return nil, shared.WrapError("api", "Login", shared.ErrAPIInvalidResponse, "login response without token", nil)
	}

	profile, err := c.mapper.ProfileFromDTO(response.Estudiante)
	if err != nil {
		return nil, shared.WrapError("api", "Login", shared.ErrAPIInvalidResponse, "login response without student", err)
	}
	if profile.Username == "" {
		profile.Username = username
	}
	if !profile.Active {
		return nil, shared.ErrStudentInactive
	}

	return &academic.Credentials{Token: response.Token, Profile: profile}, nil
}

// Logout invalidates token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	if err := c.doRequest(ctx, "Logout", http.MethodPost, "/auth/logout/", token, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// GetProfile fetches the profile of the token's owner.
func (c *Client) GetProfile(ctx context.Context, token string) (*academic.Profile, error) {
	var dto EstudianteDTO
	if err := c.doRequest(ctx, "GetProfile", http.MethodGet, "/auth/perfil/", token, nil, &dto); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	profile, err := c.mapper.ProfileFromDTO(&dto)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListSubjects fetches all active subjects.
func (c *Client) ListSubjects(ctx context.Context, token string) ([]MateriaDTO, error) {
	subjects, err := getAll[MateriaDTO](ctx, c, "ListSubjects", "/materias/", token)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// GetCurriculum fetches the prerequisite graph.
func (c *Client) GetCurriculum(ctx context.Context, token string) (*CurriculumDTO, error) {
	var response CurriculumDTO
	if err := c.doRequest(ctx, "GetCurriculum", http.MethodGet, "/materias/malla_curricular/", token, nil, &response); err != nil {
		return nil, fmt.Errorf("get curriculum: %w", err)
	}
	return &response, nil
}

// ListPrograms fetches the academic programs.
func (c *Client) ListPrograms(ctx context.Context, token string) ([]academic.Program, error) {
	dtos, err := getAll[CarreraDTO](ctx, c, "ListPrograms", "/carreras/", token)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}

	programs := make([]academic.Program, 0, len(dtos))
	for _, dto := range dtos {
		programs = append(programs, c.mapper.ProgramFromDTO(dto))
	}
	return programs, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListGrades fetches the grades of a student.
func (c *Client) ListGrades(ctx context.Context, token string, studentID shared.StudentID) ([]NotaDTO, error) {
	path := "/notas/?" + url.Values{"estudiante": {studentID.String()}}.Encode()
	grades, err := getAll[NotaDTO](ctx, c, "ListGrades", path, token)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// CreateGrade creates a grade.
func (c *Client) CreateGrade(ctx context.Context, token string, req NotaCreateDTO) error {
	if err := c.doRequest(ctx, "CreateGrade", http.MethodPost, "/notas/", token, req, nil); err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// SaveGrade pushes a grade recorded in the dashboard.
func (c *Client) SaveGrade(ctx context.Context, token string, studentID shared.StudentID, g academic.Grade) error {
	return c.CreateGrade(ctx, token, c.mapper.GradeToDTO(studentID, g))
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListAttendance fetches the attendance records of a student, optionally
// limited to one subject (subjectID > 0).
func (c *Client) ListAttendance(ctx context.Context, token string, studentID shared.StudentID, subjectID academic.SubjectID) ([]AsistenciaDTO, error) {
	params := url.Values{"estudiante": {studentID.String()}}
	if subjectID > 0 {
		params.Set("materia", strconv.FormatInt(int64(subjectID), 10))
	}

	entries, err := getAll[AsistenciaDTO](ctx, c, "ListAttendance", "/asistencias/?"+params.Encode(), token)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return entries, nil
}

// RecordAttendance creates an attendance record.
func (c *Client) RecordAttendance(ctx context.Context, token string, req AsistenciaCreateDTO) error {
	if err := c.doRequest(ctx, "RecordAttendance", http.MethodPost, "/asistencias/", token, req, nil); err != nil {
		return fmt.Errorf("record attendance: %w", err)
	}
	return nil
}

// UpdateAttendance updates an existing attendance record.
func (c *Client) UpdateAttendance(ctx context.Context, token string, id int64, req AsistenciaUpdateDTO) error {
	path := fmt.Sprintf("/asistencias/%d/", id)
	if err := c.doRequest(ctx, "UpdateAttendance", http.MethodPatch, path, token, req, nil); err != nil {
		return fmt.Errorf("update attendance: %w", err)
	}
	return nil
}

// SaveAttendance pushes an attendance entry. The API keeps one record per
// (student, subject, date) and rejects duplicates, so when the create is
// refused the existing record is looked up and patched instead.
func (c *Client) SaveAttendance(ctx context.Context, token string, studentID shared.StudentID, e academic.AttendanceEntry) error {
	err := c.RecordAttendance(ctx, token, c.mapper.AttendanceToDTO(studentID, e))
	if err == nil || !shared.IsValidation(err) {
		return err
	}

	existing, listErr := c.ListAttendance(ctx, token, studentID, e.SubjectID)
	if listErr != nil {
		return err
	}
	for _, dto := range existing {
		if dto.Materia.ID == int64(e.SubjectID) && dto.Fecha == e.Date.String() {
			return c.UpdateAttendance(ctx, token, dto.ID, AsistenciaUpdateDTO{
				Asistio:       e.Present,
				Justificada:   e.Justified,
				Observaciones: e.Notes,
			})
		}
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListAlerts fetches the active, unexpired alerts of a student.
func (c *Client) ListAlerts(ctx context.Context, token string, studentID shared.StudentID) ([]AlertaDTO, error) {
	params := url.Values{"estudiante": {studentID.String()}, "activa": {"true"}}
	alerts, err := getAll[AlertaDTO](ctx, c, "ListAlerts", "/alertas/?"+params.Encode(), token)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertRead marks an alert as read on the server.
func (c *Client) MarkAlertRead(ctx context.Context, token string, id academic.AlertID) error {
	path := fmt.Sprintf("/alertas/%d/marcar_leida/", id)
	if err := c.doRequest(ctx, "MarkAlertRead", http.MethodPost, path, token, nil, nil); err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	return nil
}

// GenerateRemoteAlerts asks the server to run its own risk analysis for a
// student and returns the alerts it created.
func (c *Client) GenerateRemoteAlerts(ctx context.Context, token string, studentID shared.StudentID) ([]academic.Alert, error) {
	var response GenerateAlertsResponseDTO
	err := c.doRequest(ctx, "GenerateRemoteAlerts", http.MethodPost, "/alertas/generar_automaticas/", token,
		GenerateAlertsRequestDTO{Estudiante: studentID.Int64()}, &response)
	if err != nil {
		return nil, fmt.Errorf("generate remote alerts: %w", err)
	}
	return c.mapper.AlertsFromDTO(response.Alertas), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// FetchSnapshot loads subjects, curriculum, grades, attendance and alerts in
// parallel and maps them to a Snapshot.
func (c *Client) FetchSnapshot(ctx context.Context, token string, studentID shared.StudentID) (academic.Snapshot, error) {
	var (
		materias   []MateriaDTO
		curriculum *CurriculumDTO
		notas      []NotaDTO
		asistencia []AsistenciaDTO
		alertas    []AlertaDTO
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		materias, err = c.ListSubjects(gctx, token)
		return err
	})
	g.Go(func() error {
		var err error
		curriculum, err = c.GetCurriculum(gctx, token)
		if err != nil && shared.IsNotFound(err) {
			// older backends have no curriculum endpoint
			curriculum, err = nil, nil
		}
		return err
	})
	g.Go(func() (err error) {
		notas, err = c.ListGrades(gctx, token, studentID)
		return err
	})
	g.Go(func() (err error) {
		asistencia, err = c.ListAttendance(gctx, token, studentID, 0)
		return err
	})
	g.Go(func() (err error) {
		alertas, err = c.ListAlerts(gctx, token, studentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return academic.Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}

	grades, err := c.mapper.GradesFromDTO(notas)
	if err != nil {
		return academic.Snapshot{}, shared.WrapError("api", "FetchSnapshot", shared.ErrAPIInvalidResponse, "bad grade", err)
	}
	entries, err := c.mapper.AttendanceListFromDTO(asistencia)
	if err != nil {
		return academic.Snapshot{}, shared.WrapError("api", "FetchSnapshot", shared.ErrAPIInvalidResponse, "bad attendance", err)
	}

	return academic.Snapshot{
		Subjects:   c.mapper.SubjectsFromDTO(materias, curriculum),
		Grades:     grades,
		Attendance: entries,
		Alerts:     c.mapper.AlertsFromDTO(alertas),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// getAll fetches a list endpoint, following "next" links of paginated
// responses.
func getAll[T any](ctx context.Context, c *Client, op, path, token string) ([]T, error) {
	var all []T
	for path != "" {
		var page Page[T]
		if err := c.doRequest(ctx, op, http.MethodGet, path, token, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		path = page.Next
	}
	return all, nil
}

// doRequest performs an HTTP request with rate limiting, circuit breaking
// and retries.
func (c *Client) doRequest(ctx context.Context, op, method, path, token string, body, result any) error {
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return err
			}
			return c.doSingleRequest(ctx, op, method, path, token, body, result)
		})
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("api", op, shared.ErrAPIUnavailable, "circuit open", err)
	}
	return err
}

// doSingleRequest performs one HTTP request and maps failures to shared
// error kinds. Transient failures come back wrapped with retry.Retryable.
func (c *Client) doSingleRequest(ctx context.Context, op, method, path, token string, body, result any) error {
	fullURL := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		fullURL = c.baseURL + path
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.config.Debug {
		c.logger.Debug("academic api request",
			logger.Operation(op),
			logger.String("method", method),
			logger.String("path", path),
			logger.Latency(time.Since(start)),
		)
	}
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(shared.WrapError("api", op, shared.ErrAPIUnavailable, "read response", err))
	}

	if resp.StatusCode >= 400 {
		return c.statusError(op, resp, respBody)
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return shared.WrapError("api", op, shared.ErrAPIInvalidResponse, "decode response", err)
		}
	}
	return nil
}

// transportError classifies a failure to get any response.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return shared.WrapError("api", op, shared.ErrAPITimeout, "request deadline exceeded", err)
		}
		return ctxErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retryable(shared.WrapError("api", op, shared.ErrAPITimeout, "request timeout", err))
	}
	return retry.Retryable(shared.WrapError("api", op, shared.ErrAPIUnavailable, "request failed", err))
}

// statusError maps an HTTP error status to a shared error kind.
func (c *Client) statusError(op string, resp *http.Response, body []byte) error {
	apiErr := parseAPIError(resp.StatusCode, body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return shared.WrapError("api", op, shared.ErrUnauthorized, "not authenticated", apiErr)
	case resp.StatusCode == http.StatusForbidden:
		return shared.WrapError("api", op, shared.ErrUnauthorized, "forbidden", apiErr)
	case resp.StatusCode == http.StatusNotFound:
		return shared.WrapError("api", op, shared.ErrNotFound, "not found", apiErr)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.rateLimiter.RecordRateLimitHit(retryAfter)
		return retry.RetryableAfter(shared.WrapError("api", op, shared.ErrAPIRateLimited, "rate limited", apiErr), retryAfter)
	case resp.StatusCode >= 500:
		return retry.Retryable(shared.WrapError("api", op, shared.ErrAPIUnavailable, "server error", apiErr))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity ||
		resp.StatusCode == http.StatusConflict:
		return shared.WrapError("api", op, shared.ErrValidation, "rejected", apiErr)
	default:
		return shared.WrapError("api", op, shared.ErrExternalService, "unexpected status", apiErr)
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing or invalid values mean one second.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return time.Second
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return time.Second
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Ping checks that the API root answers. It bypasses retries so readiness
// checks fail fast.
func (c *Client) Ping(ctx context.Context) error {
	return c.doSingleRequest(ctx, "Ping", http.MethodGet, "/", "", nil, nil)
}

// ClientStatus is a snapshot of the client's protection layers.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus     `json:"rate_limiter"`
	CircuitBreaker string                `json:"circuit_breaker"`
	Counts         circuitbreaker.Counts `json:"counts"`
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: c.breaker.State().String(),
		Counts:         c.breaker.Counts(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
