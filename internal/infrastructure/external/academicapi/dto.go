// Package academicapi implements the client for the academic REST API.
// It handles authentication, the student's subjects, grades, attendance and
// alerts, and maps the API representation to the academic domain.
package academicapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRIMITIVES
// ══════════════════════════════════════════════════════════════════════════════

// Decimal is a number the API serializes either as a JSON string ("18.50")
// or as a JSON number.
type Decimal float64

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*d = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("decimal: %w", err)
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*d = 0
			return nil
		}
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("decimal %q: %w", raw, err)
	}
	*d = Decimal(v)
	return nil
}

// MarshalJSON writes the value as a two-decimal string, the format the API
// uses for decimal fields.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatFloat(float64(d), 'f', 2, 64))), nil
}

// Float64 returns d as a float64.
func (d Decimal) Float64() float64 {
	return float64(d)
}

// Ref is a foreign key that arrives either as a bare ID or as a nested object
// with an "id" field.
type Ref struct {
	ID int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		r.ID = 0
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("ref: %w", err)
		}
		r.ID = obj.ID
		return nil
	}
	return json.Unmarshal(data, &r.ID)
}

// MarshalJSON writes the bare ID.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// Page is a list response. Unpaginated endpoints return a bare JSON array,
// paginated ones an object with count/next/results; both decode into Page.
type Page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next,omitempty"`
	Results []T    `json:"results"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*p = Page[T]{Count: len(items), Results: items}
		return nil
	}

	var out struct {
		Count   int    `json:"count"`
		Next    string `json:"next"`
		Results []T    `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = Page[T]{Count: out.Count, Next: out.Next, Results: out.Results}
	return nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	// Detail is the "detail" or "error" message, if any.
	Detail string
	// Fields holds per-field validation messages.
	Fields map[string]string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status %d", e.Status)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, e.Fields[k])
		}
	}
	return b.String()
}

// parseAPIError decodes the error body of a response. Bodies look like
// {"detail": "..."}, {"error": "..."} or {"field": ["msg", ...]}.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return apiErr
	}

	for key, value := range raw {
		switch key {
		case "detail", "error":
			var s string
			if json.Unmarshal(value, &s) == nil {
				apiErr.Detail = s
			}
		case "non_field_errors":
			var list []string
			if json.Unmarshal(value, &list) == nil {
				apiErr.Detail = strings.Join(list, "; ")
			}
		default:
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string]string)
			}
			var list []string
			var s string
			switch {
			case json.Unmarshal(value, &list) == nil:
				apiErr.Fields[key] = strings.Join(list, "; ")
			case json.Unmarshal(value, &s) == nil:
				apiErr.Fields[key] = s
			default:
				apiErr.Fields[key] = string(value)
			}
		}
	}
	return apiErr
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH DTOs
// ══════════════════════════════════════════════════════════════════════════════

// LoginRequestDTO is the body of POST /auth/login/.
type LoginRequestDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponseDTO is returned by POST /auth/login/.
type LoginResponseDTO struct {
	Token      string         `json:"token"`
	Estudiante *EstudianteDTO `json:"estudiante"`
}

// UserDTO is the account behind a student.
type UserDTO struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// EstudianteDTO is a student as returned by the API.
type EstudianteDTO struct {
	ID             int64    `json:"id"`
	User           *UserDTO `json:"user"`
	Codigo         string   `json:"codigo"`
	Carrera        string   `json:"carrera"`
	SemestreActual int      `json:"semestre_actual"`
	FechaIngreso   string   `json:"fecha_ingreso"`
	Activo         bool     `json:"activo"`
	NombreCompleto string   `json:"nombre_completo"`
	Email          string   `json:"email"`
}

// CarreraDTO is an academic program.
type CarreraDTO struct {
	ID        int64  `json:"id"`
	Codigo    string `json:"codigo"`
	Nombre    string `json:"nombre"`
	Semestres int    `json:"semestres"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// MateriaDTO is a subject. The list endpoint omits description and
// prerequisites.
type MateriaDTO struct {
	ID            int64   `json:"id"`
	Codigo        string  `json:"codigo"`
	Nombre        string  `json:"nombre"`
	Creditos      int     `json:"creditos"`
	Descripcion   string  `json:"descripcion,omitempty"`
	Prerequisitos []int64 `json:"prerequisitos,omitempty"`
	Activa        bool    `json:"activa"`
}

// CurriculumDTO is the prerequisite graph from GET /materias/malla_curricular/.
type CurriculumDTO struct {
	Nodos   []CurriculumNodeDTO `json:"nodos"`
	Aristas []CurriculumEdgeDTO `json:"aristas"`
}

// CurriculumNodeDTO is a subject in the curriculum graph.
type CurriculumNodeDTO struct {
	ID       int64  `json:"id"`
	Codigo   string `json:"codigo"`
	Nombre   string `json:"nombre"`
	Creditos int    `json:"creditos"`
}

// CurriculumEdgeDTO links a prerequisite (Source) to the subject that
// requires it (Target).
type CurriculumEdgeDTO struct {
	Source int64 `json:"source"`
	Target int64 `json:"target"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// NotaDTO is a grade as returned by GET /notas/.
type NotaDTO struct {
	ID             int64   `json:"id"`
	Materia        Ref     `json:"materia"`
	Valor          Decimal `json:"valor"`
	Porcentaje     Decimal `json:"porcentaje"`
	Descripcion    string  `json:"descripcion"`
	Fecha          string  `json:"fecha"`
	ValorPonderado Decimal `json:"valor_ponderado"`
}

// NotaCreateDTO is the body of POST /notas/.
type NotaCreateDTO struct {
	Estudiante  int64   `json:"estudiante"`
	Materia     int64   `json:"materia"`
	Valor       Decimal `json:"valor"`
	Porcentaje  Decimal `json:"porcentaje"`
	Descripcion string  `json:"descripcion,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// AsistenciaDTO is an attendance record as returned by GET /asistencias/.
type AsistenciaDTO struct {
	ID            int64  `json:"id"`
	Materia       Ref    `json:"materia"`
	Fecha         string `json:"fecha"`
	Asistio       bool   `json:"asistio"`
	Justificada   bool   `json:"justificada"`
	Observaciones string `json:"observaciones"`
}

// AsistenciaCreateDTO is the body of POST /asistencias/.
type AsistenciaCreateDTO struct {
	Estudiante    int64  `json:"estudiante"`
	Materia       int64  `json:"materia"`
	Fecha         string `json:"fecha"`
	Asistio       bool   `json:"asistio"`
	Justificada   bool   `json:"justificada"`
	Observaciones string `json:"observaciones,omitempty"`
}

// AsistenciaUpdateDTO is the body of PATCH /asistencias/{id}/.
type AsistenciaUpdateDTO struct {
	Asistio       bool   `json:"asistio"`
	Justificada   bool   `json:"justificada"`
	Observaciones string `json:"observaciones,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// AlertaDTO is an alert as returned by GET /alertas/.
type AlertaDTO struct {
	ID               int64      `json:"id"`
	Tipo             string     `json:"tipo"`
	TipoDisplay      string     `json:"tipo_display,omitempty"`
	Titulo           string     `json:"titulo"`
	Mensaje          string     `json:"mensaje"`
	FechaCreacion    *time.Time `json:"fecha_creacion"`
	FechaVencimiento *time.Time `json:"fecha_vencimiento"`
	Activa           bool       `json:"activa"`
	Leida            bool       `json:"leida"`
}

// GenerateAlertsRequestDTO is the body of POST /alertas/generar_automaticas/.
type GenerateAlertsRequestDTO struct {
	Estudiante int64 `json:"estudiante"`
}

// GenerateAlertsResponseDTO is returned by POST /alertas/generar_automaticas/.
type GenerateAlertsResponseDTO struct {
	AlertasGeneradas int         `json:"alertas_generadas"`
	Alertas          []AlertaDTO `json:"alertas"`
}
