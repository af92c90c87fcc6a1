// Package scan resolves a QR payload or a manually typed code against the
// in-memory roster. It never touches the network.
package scan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"schoolgate/internal/roster"
)

// NotFoundError reports that a payload matched nobody. It carries the value
// actually searched and the roster size so the failure can be shown with
// enough context to retry.
type NotFoundError struct {
	Query      string
	RosterSize int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no person matching %q in roster of %d", e.Query, e.RosterSize)
}

// ResolvePerson finds the roster entry a scanned or typed payload refers to.
//
// The payload is either a JSON object carrying a student_id or id field, or
// a bare code. Match attempts stop at the first hit: exact match on external
// code, id or login name; case-insensitive match on the same fields; display
// name substring; numeric comparison when the payload parses as an integer.
func ResolvePerson(payload string, people []roster.Person) (roster.Person, error) {
	code := extractCode(payload)

	for _, p := range people {
		if code == p.ExternalCode || code == strconv.FormatInt(p.ID, 10) || code == p.LoginName {
			return p, nil
		}
	}
	for _, p := range people {
		if strings.EqualFold(code, p.ExternalCode) || strings.EqualFold(code, p.LoginName) {
			return p, nil
		}
	}
	for _, p := range people {
		if code != "" && strings.Contains(strings.ToLower(p.DisplayName), strings.ToLower(code)) {
			return p, nil
		}
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(code), 10, 64); err == nil {
		for _, p := range people {
			if p.ID == n {
				return p, nil
			}
		}
	}
	return roster.Person{}, &NotFoundError{Query: code, RosterSize: len(people)}
}

// extractCode pulls the identifying value out of the payload: the student_id
// or id field of a JSON object, or the raw payload when it is not JSON.
func extractCode(payload string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return strings.TrimSpace(payload)
	}
	for _, field := range []string{"student_id", "id"} {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return strings.TrimSpace(payload)
}
