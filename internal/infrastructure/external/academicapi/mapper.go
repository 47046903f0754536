package academicapi

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// ErrNilDTO is returned when a required DTO is missing from a response.
var ErrNilDTO = errors.New("academicapi: nil DTO")

// Mapper converts between API DTOs and academic domain types. Dates without
// a time of day are placed at midnight in loc.
type Mapper struct {
	loc *time.Location
}

// NewMapper creates a Mapper. A nil loc means UTC.
func NewMapper(loc *time.Location) *Mapper {
	if loc == nil {
		loc = time.UTC
	}
	return &Mapper{loc: loc}
}

// ──────────────────────────────────────────────────────────────────────────────
// Student
// ──────────────────────────────────────────────────────────────────────────────

// ProfileFromDTO converts an EstudianteDTO to a Profile.
func (m *Mapper) ProfileFromDTO(dto *EstudianteDTO) (academic.Profile, error) {
	if dto == nil {
		return academic.Profile{}, ErrNilDTO
	}

	id, err := shared.NewStudentID(dto.ID)
	if err != nil {
		return academic.Profile{}, err
	}

	profile := academic.Profile{
		StudentID: id,
		FullName:  dto.NombreCompleto,
		Email:     dto.Email,
		Code:      dto.Codigo,
		Program:   dto.Carrera,
		Semester:  dto.SemestreActual,
		Active:    dto.Activo,
	}

	if dto.User != nil {
		profile.Username = dto.User.Username
		if profile.Email == "" {
			profile.Email = dto.User.Email
		}
		if profile.FullName == "" {
			profile.FullName = strings.TrimSpace(dto.User.FirstName + " " + dto.User.LastName)
		}
	}
	if profile.FullName == "" {
		profile.FullName = profile.Username
	}

	if dto.FechaIngreso != "" {
		if d, err := shared.ParseDate(dto.FechaIngreso); err == nil {
			profile.EnrolledOn = d
		}
	}

	return profile, nil
}

// ProgramFromDTO converts a CarreraDTO to a Program.
func (m *Mapper) ProgramFromDTO(dto CarreraDTO) academic.Program {
	return academic.Program{
		ID:        dto.ID,
		Code:      dto.Codigo,
		Name:      dto.Nombre,
		Semesters: dto.Semestres,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Subjects
// ──────────────────────────────────────────────────────────────────────────────

// SubjectsFromDTO converts subjects, taking prerequisites from the subject
// itself when present and from the curriculum graph otherwise. Inactive
// subjects are skipped.
func (m *Mapper) SubjectsFromDTO(materias []MateriaDTO, curriculum *CurriculumDTO) []academic.Subject {
	prereqs := make(map[int64][]academic.SubjectID)
	if curriculum != nil {
		for _, edge := range curriculum.Aristas {
			prereqs[edge.Target] = append(prereqs[edge.Target], academic.SubjectID(edge.Source))
		}
	}

	subjects := make([]academic.Subject, 0, len(materias))
	for _, dto := range materias {
		if !dto.Activa {
			continue
		}

		subject := academic.Subject{
			ID:          academic.SubjectID(dto.ID),
			Code:        dto.Codigo,
			Name:        dto.Nombre,
			Credits:     dto.Creditos,
			Description: dto.Descripcion,
		}

		if len(dto.Prerequisitos) > 0 {
			for _, p := range dto.Prerequisitos {
				subject.Prerequisites = append(subject.Prerequisites, academic.SubjectID(p))
			}
		} else {
			subject.Prerequisites = slices.Clone(prereqs[dto.ID])
		}
		slices.Sort(subject.Prerequisites)
		subject.Prerequisites = slices.Compact(subject.Prerequisites)

		subjects = append(subjects, subject)
	}
	return subjects
}

// ──────────────────────────────────────────────────────────────────────────────
// Grades
// ──────────────────────────────────────────────────────────────────────────────

// GradeFromDTO converts a NotaDTO to a Grade.
func (m *Mapper) GradeFromDTO(dto NotaDTO) (academic.Grade, error) {
	grade := academic.Grade{
		ID:            academic.GradeID(dto.ID),
		SubjectID:     academic.SubjectID(dto.Materia.ID),
		Value:         dto.Valor.Float64(),
		WeightPercent: dto.Porcentaje.Float64(),
		Description:   dto.Descripcion,
	}

	if dto.Fecha != "" {
		d, err := shared.ParseDate(dto.Fecha)
		if err != nil {
			return academic.Grade{}, err
		}
		grade.RecordedAt = d.Time(m.loc)
	}
	return grade, nil
}

// GradesFromDTO converts a list of grades.
func (m *Mapper) GradesFromDTO(dtos []NotaDTO) ([]academic.Grade, error) {
	grades := make([]academic.Grade, 0, len(dtos))
	for _, dto := range dtos {
		g, err := m.GradeFromDTO(dto)
		if err != nil {
			return nil, err
		}
		grades = append(grades, g)
	}
	return grades, nil
}

// GradeToDTO converts a Grade into a create request for studentID.
func (m *Mapper) GradeToDTO(studentID shared.StudentID, g academic.Grade) NotaCreateDTO {
	return NotaCreateDTO{
		Estudiante:  studentID.Int64(),
		Materia:     int64(g.SubjectID),
		Valor:       Decimal(g.Value),
		Porcentaje:  Decimal(g.WeightPercent),
		Descripcion: g.Description,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Attendance
// ──────────────────────────────────────────────────────────────────────────────

// AttendanceFromDTO converts an AsistenciaDTO to an AttendanceEntry.
func (m *Mapper) AttendanceFromDTO(dto AsistenciaDTO) (academic.AttendanceEntry, error) {
	d, err := shared.ParseDate(dto.Fecha)
	if err != nil {
		return academic.AttendanceEntry{}, err
	}
	return academic.AttendanceEntry{
		ID:        academic.AttendanceID(dto.ID),
		SubjectID: academic.SubjectID(dto.Materia.ID),
		Date:      d,
		Present:   dto.Asistio,
		Justified: dto.Justificada,
		Notes:     dto.Observaciones,
	}, nil
}

// AttendanceListFromDTO converts a list of attendance records.
func (m *Mapper) AttendanceListFromDTO(dtos []AsistenciaDTO) ([]academic.AttendanceEntry, error) {
	entries := make([]academic.AttendanceEntry, 0, len(dtos))
	for _, dto := range dtos {
		e, err := m.AttendanceFromDTO(dto)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AttendanceToDTO converts an entry into a create request for studentID.
func (m *Mapper) AttendanceToDTO(studentID shared.StudentID, e academic.AttendanceEntry) AsistenciaCreateDTO {
	return AsistenciaCreateDTO{
		Estudiante:    studentID.Int64(),
		Materia:       int64(e.SubjectID),
		Fecha:         e.Date.String(),
		Asistio:       e.Present,
		Justificada:   e.Justified,
		Observaciones: e.Notes,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Alerts
// ──────────────────────────────────────────────────────────────────────────────

// AlertFromDTO converts an AlertaDTO to an Alert. Unknown types become info.
func (m *Mapper) AlertFromDTO(dto AlertaDTO) academic.Alert {
	alertType := academic.AlertType(strings.ToLower(dto.Tipo))
	if !alertType.IsValid() {
		alertType = academic.AlertInfo
	}

	alert := academic.Alert{
		ID:       academic.AlertID(dto.ID),
		Type:     alertType,
		Title:    dto.Titulo,
		Message:  dto.Mensaje,
		Archived: !dto.Activa,
		Read:     dto.Leida,
	}
	if dto.FechaCreacion != nil {
		alert.CreatedAt = *dto.FechaCreacion
	}
	if dto.FechaVencimiento != nil {
		exp := *dto.FechaVencimiento
		alert.ExpiresAt = &exp
	}
	return alert
}

// AlertsFromDTO converts a list of alerts.
func (m *Mapper) AlertsFromDTO(dtos []AlertaDTO) []academic.Alert {
	alerts := make([]academic.Alert, 0, len(dtos))
	for _, dto := range dtos {
		alerts = append(alerts, m.AlertFromDTO(dto))
	}
	return alerts
}
