// Package workflow drives the guardian-attribution state machine between a
// tap or scan and a committed attendance write:
//
//	Idle → ActionSelected → GuardianPending → Committing → Idle
//
// with a cancel edge from GuardianPending back to Idle. A write can only be
// issued from Committing, and Committing is only reachable through a
// guardian selection, so no code path can mark attendance anonymously.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolgate/internal/attendance"
	"schoolgate/internal/journal"
	"schoolgate/internal/metrics"
	"schoolgate/internal/queue"
	"schoolgate/internal/roster"
	"schoolgate/internal/schoolapi"
)

// State names for the pending-action machine.
type State string

const (
	StateIdle            State = "Idle"
	StateActionSelected  State = "ActionSelected"
	StateGuardianPending State = "GuardianPending"
	StateCommitting      State = "Committing"
)

// Transition is one recorded state change of a pending action. The full
// trace exists so tests can assert machine invariants from observed
// behavior instead of source inspection.
type Transition struct {
	PendingID string
	From, To  State
}

// Candidate is one selectable guardian.
type Candidate struct {
	Type  attendance.GuardianType `json:"type"`
	Name  string                  `json:"name"`
	Photo string                  `json:"photo,omitempty"`
}

// PendingAction is the transient workflow state between a tap/scan and a
// commit or cancel. It is consumed exactly once.
type PendingAction struct {
	ID         string            `json:"id"`
	Person     roster.Person     `json:"person"`
	Action     attendance.Action `json:"action"`
	Method     attendance.Method `json:"method"`
	State      State             `json:"state"`
	Candidates []Candidate       `json:"candidates"`
}

// Writer is the slice of the backend client the workflow needs.
type Writer interface {
	PostAttendance(ctx context.Context, w schoolapi.WriteRequest) error
}

// Patcher receives the optimistic projection after an accepted write.
type Patcher interface {
	Patch(p roster.Person, action attendance.Action, timeOfDay, by string)
}

// Result reports an accepted commit back to the caller.
type Result struct {
	Time string `json:"time"`
	By   string `json:"by"`
}

var (
	// ErrUnknownAction means the pending-action id is gone: already
	// committed, cancelled, or never existed.
	ErrUnknownAction = errors.New("unknown pending action")
	// ErrCommitInFlight means a commit for the same person is still
	// outstanding; the second tap is dropped, not queued behind it.
	ErrCommitInFlight = errors.New("commit already in flight for this person")
	// ErrBadCandidate means the selected guardian index is out of range.
	ErrBadCandidate = errors.New("invalid guardian selection")
)

// Manager owns every pending action for one screen.
type Manager struct {
	api   Writer
	patch Patcher
	now   attendance.Clock
	q     queue.Queue // nil disables journal publishing

	mu       sync.Mutex
	pending  map[string]*PendingAction
	inflight map[string]bool // person identity → commit outstanding
	trace    []Transition
}

// NewManager builds a workflow manager. q may be nil when no journal worker
// is deployed.
func NewManager(api Writer, patch Patcher, now attendance.Clock, q queue.Queue) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		api:      api,
		patch:    patch,
		now:      now,
		q:        q,
		pending:  make(map[string]*PendingAction),
		inflight: make(map[string]bool),
	}
}

// personKey picks the strongest identity field for the in-flight guard,
// mirroring the merge priority.
func personKey(p roster.Person) string {
	if p.ExternalCode != "" {
		return "code:" + p.ExternalCode
	}
	if p.Email != "" {
		return "email:" + p.Email
	}
	return "id:" + strconv.FormatInt(p.ID, 10)
}

// Begin starts the workflow for a tapped or scanned person: the action type
// is inferred from the person's derived row, the guardian prompt is built,
// and the pending action lands in GuardianPending awaiting a selection.
func (m *Manager) Begin(view attendance.DerivedView, method attendance.Method) (*PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[personKey(view.Person)] {
		return nil, ErrCommitInFlight
	}

	pa := &PendingAction{
		ID:     uuid.NewString(),
		Person: view.Person,
		Action: attendance.NextAction(view),
		Method: method,
		State:  StateIdle,
	}
	m.transition(pa, StateActionSelected)

	pa.Candidates = Guardians(view.Person)
	m.transition(pa, StateGuardianPending)

	m.pending[pa.ID] = pa
	return pa, nil
}

// Guardians builds the ordered guardian prompt for a person: father, mother,
// named guardian, then the synthetic captain. Unnamed entries are dropped;
// the captain is always kept, so the prompt is never empty.
func Guardians(p roster.Person) []Candidate {
	var out []Candidate
	if p.FatherName != "" {
		out = append(out, Candidate{Type: attendance.GuardianFather, Name: p.FatherName, Photo: p.FatherPhoto})
	}
	if p.MotherName != "" {
		out = append(out, Candidate{Type: attendance.GuardianMother, Name: p.MotherName, Photo: p.MotherPhoto})
	}
	if p.GuardianName != "" {
		out = append(out, Candidate{Type: attendance.GuardianGuardian, Name: p.GuardianName, Photo: p.GuardianPhoto})
	}
	out = append(out, Candidate{Type: attendance.GuardianCaptain, Name: "Captain"})
	return out
}

// Commit consumes the pending action with the selected guardian and issues
// exactly one write. The timestamp is taken here, at commit instant, not at
// tap instant. Whatever the outcome, the pending action is gone afterwards;
// a failed commit is re-initiated from scratch by the user.
func (m *Manager) Commit(ctx context.Context, pendingID string, candidate int, markedByName, markedByRole string) (Result, error) {
	m.mu.Lock()
	pa, ok := m.pending[pendingID]
	if !ok || pa.State != StateGuardianPending {
		m.mu.Unlock()
		return Result{}, ErrUnknownAction
	}
	if candidate < 0 || candidate >= len(pa.Candidates) {
		m.mu.Unlock()
		return Result{}, ErrBadCandidate
	}
	chosen := pa.Candidates[candidate]

	// Guardian selected: the only edge into Committing.
	m.transition(pa, StateCommitting)
	delete(m.pending, pa.ID)
	key := personKey(pa.Person)
	m.inflight[key] = true
	m.mu.Unlock()

	now := m.now()
	req := schoolapi.WriteRequest{
		PersonID:     pa.Person.ID,
		Date:         attendance.DateOf(now),
		Action:       pa.Action,
		Time:         attendance.TimeOfDay(now),
		GuardianType: chosen.Type,
		GuardianName: chosen.Name,
		MarkedByName: markedByName,
		MarkedByRole: markedByRole,
	}
	err := m.api.PostAttendance(ctx, req)

	m.mu.Lock()
	m.transition(pa, StateIdle)
	delete(m.inflight, key)
	m.mu.Unlock()

	m.record(req, pa, err)

	if err != nil {
		var rej *schoolapi.RejectedError
		if errors.As(err, &rej) {
			log.Printf("workflow: commit rejected for %s: %v", key, err)
			metrics.Commits.WithLabelValues(string(pa.Action), journal.OutcomeRejected).Inc()
		} else {
			log.Printf("workflow: commit transport failure for %s: %v", key, err)
			metrics.Commits.WithLabelValues(string(pa.Action), journal.OutcomeNetworkFailure).Inc()
		}
		return Result{}, err
	}

	by := chosen.Name + " (" + string(chosen.Type) + ")"
	if m.patch != nil {
		m.patch.Patch(pa.Person, pa.Action, req.Time, by)
	}
	metrics.Commits.WithLabelValues(string(pa.Action), journal.OutcomeAccepted).Inc()
	return Result{Time: req.Time, By: by}, nil
}

// Cancel discards a pending action without a network call or any local
// mutation.
func (m *Manager) Cancel(pendingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pa, ok := m.pending[pendingID]
	if !ok {
		return ErrUnknownAction
	}
	m.transition(pa, StateIdle)
	delete(m.pending, pendingID)
	return nil
}

// record publishes the journal entry for an issued write.
func (m *Manager) record(req schoolapi.WriteRequest, pa *PendingAction, commitErr error) {
	if m.q == nil {
		return
	}
	entry := journal.Entry{
		ID:           uuid.NewString(),
		PersonID:     req.PersonID,
		PersonCode:   pa.Person.ExternalCode,
		Date:         req.Date,
		Action:       string(req.Action),
		Time:         req.Time,
		GuardianType: string(req.GuardianType),
		GuardianName: req.GuardianName,
		MarkedByName: req.MarkedByName,
		MarkedByRole: req.MarkedByRole,
		Method:       string(pa.Method),
		Outcome:      journal.OutcomeAccepted,
		IssuedAt:     m.now().UTC(),
	}
	if commitErr != nil {
		entry.Detail = commitErr.Error()
		var rej *schoolapi.RejectedError
		if errors.As(commitErr, &rej) {
			entry.Outcome = journal.OutcomeRejected
		} else {
			entry.Outcome = journal.OutcomeNetworkFailure
		}
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.q.Publish(ctx, queue.Message{Type: "commit", Body: body}); err != nil {
		log.Printf("workflow: journal publish failed: %v", err)
	}
}

func (m *Manager) transition(pa *PendingAction, to State) {
	m.trace = append(m.trace, Transition{PendingID: pa.ID, From: pa.State, To: to})
	pa.State = to
}

// Trace returns a copy of every transition recorded so far.
func (m *Manager) Trace() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.trace))
	copy(out, m.trace)
	return out
}
