// Package academic holds the dashboard's domain state for one authenticated
// student and the metrics derived from it.
//
// # Store
//
// Store owns the four collections of a session (subjects, grades, attendance
// and alerts). It is replaced wholesale by LoadSnapshot and mutated by
// AddGrade and UpsertAttendance:
//
//	store := academic.NewStore()
//	store.LoadSnapshot(snapshot)
//	store.AddGrade(1, 18, 40)
//	store.UpsertAttendance(1, shared.MustParseDate("2024-03-11"), true)
//
// Attendance is keyed by (subject, date). Upserting the same pair twice
// leaves a single entry carrying the last present flag and the first ID.
//
// Store is not safe for concurrent use. The session layer serializes access.
//
// # Metrics
//
// AverageGrade, AttendanceRate and the other calculators are pure functions
// over slices and never fail: an empty input or a zero total weight yields 0.
//
// # Risk and curriculum
//
// FailureRisk and GenerateAlerts derive warning alerts from grades and
// attendance. Curriculum orders subjects by their prerequisites and suggests
// which ones the student can take next.
package academic
