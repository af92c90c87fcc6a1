package attendance

import "time"

// Status is the derived attendance state for one person on one day.
type Status string

const (
	StatusUnmarked Status = "unmarked"
	StatusPresent  Status = "present"
	StatusAbsent   Status = "absent"
)

// Action is the next attendance action for a person.
type Action string

const (
	ActionIn  Action = "in"
	ActionOut Action = "out"
)

// GuardianType identifies who performed a check-in or check-out.
type GuardianType string

const (
	GuardianFather   GuardianType = "Father"
	GuardianMother   GuardianType = "Mother"
	GuardianGuardian GuardianType = "Guardian"
	GuardianCaptain  GuardianType = "Captain"
	GuardianSystem   GuardianType = "System"
)

// Method is how a status change was initiated.
type Method string

const (
	MethodManual Method = "Manual"
	MethodQR     Method = "QR Scanner"
)

// Event is one sparse daily attendance record as returned by the backend.
// PersonKey may hold either the numeric directory id or the human-readable
// roster code, depending on which key the original write used.
type Event struct {
	PersonKey       string       `json:"person_key"`
	Date            string       `json:"date"` // YYYY-MM-DD
	InTime          string       `json:"in_time,omitempty"`
	OutTime         string       `json:"out_time,omitempty"`
	InGuardianType  GuardianType `json:"in_guardian_type,omitempty"`
	InGuardianName  string       `json:"in_guardian_name,omitempty"`
	OutGuardianType GuardianType `json:"out_guardian_type,omitempty"`
	OutGuardianName string       `json:"out_guardian_name,omitempty"`
	// Status as reported by the server. The derived status wins whenever an
	// in-time is present.
	Status string `json:"status,omitempty"`
	// Legacy free-text "marked by" field still emitted by older backend rows.
	MarkedBy string `json:"marked_by,omitempty"`
}

// Clock supplies the current instant. Injected everywhere a timestamp or a
// freshness window is computed so tests can pin time.
type Clock func() time.Time

// TimeOfDay formats t as the 24-hour wall-clock string used in event rows
// and commit payloads.
func TimeOfDay(t time.Time) string {
	return t.Format("15:04")
}

// DateOf formats t as the calendar-day key used to scope event fetches.
func DateOf(t time.Time) string {
	return t.Format("2006-01-02")
}
