package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/academic-tracker/student-dashboard/internal/application/command"
	"github.com/academic-tracker/student-dashboard/internal/application/query"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if status.Version == "" {
		status.Version = s.deps.Version
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var cmd command.LoginCommand
	if !s.decode(w, r, "Login", &cmd) {
		return
	}

	sess, err := s.deps.Login.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Logout(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Reload(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess)
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD & SUBJECT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.Dashboard.Handle(r.Context(), query.GetDashboardQuery{
		AlertLimit: getQueryParamInt(r, "alert_limit", 0),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.deps.Subjects.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, subjects, &ResponseMeta{TotalCount: len(subjects)})
}

func (s *Server) handleGetSubjectName(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "GetSubjectName")
	if !ok {
		return
	}

	name, err := s.deps.Subjects.Name(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "name": name})
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.deps.Programs.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, programs, &ResponseMeta{TotalCount: len(programs)})
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADE & ATTENDANCE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListGrades(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Grades.Handle(r.Context(), query.ListGradesQuery{
		SubjectID: int64(getQueryParamInt(r, "subject_id", 0)),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, list, &ResponseMeta{TotalCount: len(list.Grades)})
}

func (s *Server) handleAddGrade(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddGradeCommand
	if !s.decode(w, r, "AddGrade", &cmd) {
		return
	}

	result, err := s.deps.AddGrade.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Attendance.Handle(r.Context(), query.ListAttendanceQuery{
		SubjectID: int64(getQueryParamInt(r, "subject_id", 0)),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, list, &ResponseMeta{TotalCount: len(list.Entries)})
}

// handleRecordAttendance answers 201 for a new day and 200 when an existing
// entry was replaced.
func (s *Server) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var cmd command.RecordAttendanceCommand
	if !s.decode(w, r, "RecordAttendance", &cmd) {
		return
	}

	result, err := s.deps.RecordAttendance.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replaced {
		status = http.StatusOK
	}
	writeJSON(w, r, status, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT & PATH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.deps.Alerts.Handle(r.Context(), query.ListAlertsQuery{
		IncludeInactive: getQueryParamBool(r, "include_inactive"),
		UnreadOnly:      getQueryParamBool(r, "unread_only"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, alerts, &ResponseMeta{TotalCount: len(alerts)})
}

func (s *Server) handleGenerateAlerts(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GenerateAlerts.Handle(r.Context(), command.GenerateAlertsCommand{Trigger: "user"})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "MarkAlertRead")
	if !ok {
		return
	}

	result, err := s.deps.MarkAlertRead.Handle(r.Context(), command.MarkAlertReadCommand{AlertID: id})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleGetAcademicPath(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.AcademicPath.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, path)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DECODING
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body into dst. It writes a 400 and returns false when
// the body is missing or malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large", nil)
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", op+": request body is empty", nil)
	default:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", op+": malformed JSON body", nil)
	}
	return false
}

// pathID parses the {id} path segment as a positive integer.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, op string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		verr := shared.NewValidationError(op)
		verr.Add("id", "id must be a positive integer")
		s.writeError(w, r, verr)
		return 0, false
	}
	return id, true
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorStatus maps a domain error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var verr *shared.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrAPIInvalidResponse):
		return http.StatusBadGateway, "bad_gateway"
	case errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrTimeout),
		errors.Is(err, shared.ErrRateLimited):
		return http.StatusServiceUnavailable, "service_unavailable"
	case shared.IsExternalService(err):
		return http.StatusBadGateway, "bad_gateway"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError writes err in the error envelope. Internal errors are logged
// and their message is not exposed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)

	var fields map[string]string
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		fields = verr.Fields
	}

	message := err.Error()
	var derr *shared.DomainError
	if errors.As(err, &derr) {
		message = derr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
		)
		if status == http.StatusInternalServerError {
			message = "An unexpected error occurred"
		}
	}

	writeJSONError(w, r, status, code, message, fields)
}
