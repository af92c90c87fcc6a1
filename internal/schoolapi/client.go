// Package schoolapi is the HTTP client for the legacy PHP school backend.
// All reads degrade to an empty contribution on failure; only the attendance
// write distinguishes a business rejection from a transport failure.
package schoolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"schoolgate/internal/attendance"
	"schoolgate/internal/roster"
)

// SourceError means a read endpoint was unreachable or returned garbage.
// Callers treat the source as empty and keep rendering.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RejectedError means the backend processed the attendance write and said no.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "attendance write rejected"
	}
	return "attendance write rejected: " + e.Message
}

// TransportError means the attendance write never completed. User-facing
// handling matches RejectedError; logs and the journal keep them apart.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("attendance write failed in transit: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Branch is one entry of the branch filter lookup table.
type Branch struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WriteRequest is the body of an attendance commit.
type WriteRequest struct {
	PersonID     int64                   `json:"person_id"`
	Date         string                  `json:"date"`
	Action       attendance.Action       `json:"action"`
	Time         string                  `json:"time"`
	GuardianType attendance.GuardianType `json:"guardian_type"`
	GuardianName string                  `json:"guardian_name"`
	MarkedByName string                  `json:"marked_by_name"`
	MarkedByRole string                  `json:"marked_by_role"`
}

// Client calls the PHP backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with the given request timeout. A timeout is treated
// the same as any other transport failure: retryable, non-fatal.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// get fetches and unwraps a {success, data} envelope into out.
func (c *Client) get(ctx context.Context, source, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &SourceError{Source: source, Err: err}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &SourceError{Source: source, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &SourceError{Source: source, Err: fmt.Errorf("%s: %s", resp.Status, string(body))}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &SourceError{Source: source, Err: err}
	}
	if !env.Success {
		return &SourceError{Source: source, Err: fmt.Errorf("backend reported failure: %s", env.Message)}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &SourceError{Source: source, Err: err}
	}
	return nil
}

// personRow mirrors the backend's person shape for both directories.
type personRow struct {
	ID            int64  `json:"id"`
	StudentCode   string `json:"student_code"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	BranchID      int64  `json:"branch_id"`
	Role          string `json:"role"`
	FatherName    string `json:"father_name"`
	FatherPhoto   string `json:"father_photo"`
	MotherName    string `json:"mother_name"`
	MotherPhoto   string `json:"mother_photo"`
	GuardianName  string `json:"guardian_name"`
	GuardianPhoto string `json:"guardian_photo"`
}

func (r personRow) toPerson() roster.Person {
	return roster.Person{
		ID:            r.ID,
		ExternalCode:  r.StudentCode,
		DisplayName:   r.Name,
		Email:         r.Email,
		LoginName:     r.Username,
		BranchID:      r.BranchID,
		Role:          r.Role,
		FatherName:    r.FatherName,
		FatherPhoto:   r.FatherPhoto,
		MotherName:    r.MotherName,
		MotherPhoto:   r.MotherPhoto,
		GuardianName:  r.GuardianName,
		GuardianPhoto: r.GuardianPhoto,
	}
}

// ListStudents fetches the dedicated roster source for a branch.
func (c *Client) ListStudents(ctx context.Context, branchID int64) ([]roster.Person, error) {
	q := url.Values{}
	if branchID != 0 {
		q.Set("branch_id", strconv.FormatInt(branchID, 10))
	}
	var rows []personRow
	if err := c.get(ctx, "students", "/students", q, &rows); err != nil {
		return nil, err
	}
	people := make([]roster.Person, 0, len(rows))
	for _, r := range rows {
		people = append(people, r.toPerson())
	}
	return people, nil
}

// ListAccounts fetches the generic accounts directory, optionally filtered
// by role and branch.
func (c *Client) ListAccounts(ctx context.Context, role string, branchID int64) ([]roster.Person, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if branchID != 0 {
		q.Set("branch_id", strconv.FormatInt(branchID, 10))
	}
	var rows []personRow
	if err := c.get(ctx, "accounts", "/accounts", q, &rows); err != nil {
		return nil, err
	}
	people := make([]roster.Person, 0, len(rows))
	for _, r := range rows {
		people = append(people, r.toPerson())
	}
	return people, nil
}

// eventRow mirrors the backend's sparse daily attendance row.
type eventRow struct {
	StudentID       string `json:"student_id"`
	Date            string `json:"date"`
	InTime          string `json:"in_time"`
	OutTime         string `json:"out_time"`
	InGuardianType  string `json:"in_guardian_type"`
	InGuardianName  string `json:"in_guardian_name"`
	OutGuardianType string `json:"out_guardian_type"`
	OutGuardianName string `json:"out_guardian_name"`
	Status          string `json:"status"`
	MarkedBy        string `json:"marked_by"`
}

// ListAttendance fetches the day's events for a branch.
func (c *Client) ListAttendance(ctx context.Context, date string, branchID int64) ([]attendance.Event, error) {
	q := url.Values{}
	q.Set("date", date)
	if branchID != 0 {
		q.Set("branch_id", strconv.FormatInt(branchID, 10))
	}
	var rows []eventRow
	if err := c.get(ctx, "attendance", "/attendance", q, &rows); err != nil {
		return nil, err
	}
	events := make([]attendance.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, attendance.Event{
			PersonKey:       r.StudentID,
			Date:            r.Date,
			InTime:          r.InTime,
			OutTime:         r.OutTime,
			InGuardianType:  attendance.GuardianType(r.InGuardianType),
			InGuardianName:  r.InGuardianName,
			OutGuardianType: attendance.GuardianType(r.OutGuardianType),
			OutGuardianName: r.OutGuardianName,
			Status:          r.Status,
			MarkedBy:        r.MarkedBy,
		})
	}
	return events, nil
}

// ListBranches fetches the branch filter lookup table.
func (c *Client) ListBranches(ctx context.Context) ([]Branch, error) {
	var branches []Branch
	if err := c.get(ctx, "branches", "/branches", nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// PostAttendance commits one check-in or check-out.
func (c *Client) PostAttendance(ctx context.Context, w WriteRequest) error {
	body, err := json.Marshal(w)
	if err != nil {
		return &TransportError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/attendance", bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &TransportError{Err: err}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &RejectedError{Message: env.Message}
	}
	return nil
}
