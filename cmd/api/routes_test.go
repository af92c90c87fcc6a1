package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"schoolgate/internal/attendance"
	"schoolgate/internal/config"
	"schoolgate/internal/presence"
	"schoolgate/internal/queue"
	"schoolgate/internal/refresh"
	"schoolgate/internal/schoolapi"
	"schoolgate/internal/store"
	"schoolgate/internal/workflow"
)

// fakeBackend plays the PHP school API.
type fakeBackend struct {
	mu           sync.Mutex
	down         bool // all endpoints answer 500
	students     []map[string]any
	accounts     []map[string]any
	events       []map[string]any
	writes       []map[string]any
	rejectWrites string // non-empty message makes POST /attendance fail
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	list := func(rows func() []map[string]any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.down {
				http.Error(w, "gone", http.StatusInternalServerError)
				return
			}
			data := rows()
			if data == nil {
				data = []map[string]any{}
			}
			json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
		}
	}
	mux.HandleFunc("GET /students", list(func() []map[string]any { return f.students }))
	mux.HandleFunc("GET /accounts", list(func() []map[string]any { return f.accounts }))
	mux.HandleFunc("GET /attendance", list(func() []map[string]any { return f.events }))
	mux.HandleFunc("GET /branches", list(func() []map[string]any {
		return []map[string]any{{"id": 1, "name": "Main Campus"}}
	}))
	mux.HandleFunc("POST /attendance", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if f.rejectWrites != "" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": f.rejectWrites})
			return
		}
		f.writes = append(f.writes, body)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	return mux
}

var testClock = func() time.Time {
	return time.Date(2024, 3, 1, 9, 15, 0, 0, time.Local)
}

func newTestRouter(t *testing.T, backend *fakeBackend) (*gin.Engine, map[string]*screen) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	cfg := config.App{
		JWTIssuer:       "schoolgate-test",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Hour,
		RefreshTTL:      time.Hour,
		RateLimitPerMin: 10000,
	}

	api := schoolapi.New(srv.URL, 2*time.Second)
	now := attendance.Clock(testClock)
	screens := map[string]*screen{}
	for audience, role := range map[string]string{"students": "student", "staff": "staff"} {
		ref := refresh.New(api, role, now)
		screens[audience] = &screen{refresher: ref, wf: workflow.NewManager(api, ref, now, queue.NewInMemory(16))}
	}

	redisClient := store.NewRedis("127.0.0.1:1") // never reached in these tests

	d := deps{
		api:     api,
		screens: screens,
		tracker: presence.NewTracker(redisClient.Client, now),
		redis:   redisClient,
		now:     now,
	}
	return newRouter(cfg, d), screens
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, r *gin.Engine) string {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/v1/staff/register", "", map[string]any{
		"device_id": "tablet-7", "staff_name": "Ms. Teacher",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestAttendanceEndpointsRequireToken(t *testing.T) {
	r, _ := newTestRouter(t, &fakeBackend{})
	rec := doJSON(t, r, http.MethodGet, "/v1/attendance/students/view", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBranchesLookup(t *testing.T) {
	r, _ := newTestRouter(t, &fakeBackend{})
	token := register(t, r)

	rec := doJSON(t, r, http.MethodGet, "/v1/branches", token, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Main Campus")
}

func TestCheckInEndToEnd(t *testing.T) {
	backend := &fakeBackend{
		students: []map[string]any{{
			"id": 1, "student_code": "S001", "name": "Alice",
			"father_name": "John", "mother_name": "Jane",
		}},
	}
	r, screens := newTestRouter(t, backend)
	token := register(t, r)

	// Screen opens: Alice is unmarked.
	rec := doJSON(t, r, http.MethodGet, "/v1/attendance/students/view", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Date  string                   `json:"date"`
		Views []attendance.DerivedView `json:"views"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "2024-03-01", view.Date)
	assert.Len(t, view.Views, 1)
	assert.Equal(t, attendance.StatusUnmarked, view.Views[0].Status)

	// Tap Alice: the inferred action is a check-in and the guardian prompt
	// offers John, Jane and the captain.
	rec = doJSON(t, r, http.MethodPost, "/v1/attendance/students/select", token, map[string]any{
		"payload": "S001", "method": "Manual",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var sel struct {
		Pending workflow.PendingAction `json:"pending"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))
	assert.Equal(t, attendance.ActionIn, sel.Pending.Action)
	assert.Len(t, sel.Pending.Candidates, 3)
	assert.Equal(t, "Jane", sel.Pending.Candidates[1].Name)

	// Select mother and commit.
	rec = doJSON(t, r, http.MethodPost, "/v1/attendance/students/commit", token, map[string]any{
		"pending_id": sel.Pending.ID, "candidate": 1,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "09:15")
	assert.Contains(t, rec.Body.String(), "Jane (Mother)")

	// Exactly one write reached the backend, with the commit-instant time.
	backend.mu.Lock()
	assert.Len(t, backend.writes, 1)
	assert.Equal(t, "in", backend.writes[0]["action"])
	assert.Equal(t, "09:15", backend.writes[0]["time"])
	assert.Equal(t, "Mother", backend.writes[0]["guardian_type"])
	assert.Equal(t, "Jane", backend.writes[0]["guardian_name"])
	assert.Equal(t, "tablet-7", backend.writes[0]["marked_by_name"])
	backend.mu.Unlock()

	// The snapshot reflects the commit with no further backend round-trip:
	// the fake backend still reports no events.
	snap := screens["students"].refresher.Snapshot()
	assert.Equal(t, attendance.StatusPresent, snap.Views[0].Status)
	assert.Equal(t, "09:15", snap.Views[0].InTime)
	assert.Equal(t, "Jane (Mother)", snap.Views[0].InBy)
}

func TestScanUnknownCodeIsRetryable(t *testing.T) {
	backend := &fakeBackend{
		students: []map[string]any{{"id": 1, "student_code": "S001", "name": "Alice"}},
	}
	r, _ := newTestRouter(t, backend)
	token := register(t, r)

	doJSON(t, r, http.MethodGet, "/v1/attendance/students/view", token, nil)

	rec := doJSON(t, r, http.MethodPost, "/v1/attendance/students/select", token, map[string]any{
		"payload": `{"student_id":"NOPE"}`, "method": "QR Scanner",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp struct {
		Query      string `json:"query"`
		RosterSize int    `json:"roster_size"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NOPE", resp.Query)
	assert.Equal(t, 1, resp.RosterSize)

	// The session is not dead: the same client resolves a good code next.
	rec = doJSON(t, r, http.MethodPost, "/v1/attendance/students/select", token, map[string]any{
		"payload": "S001", "method": "QR Scanner",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommitRejectionSurfacesServerMessage(t *testing.T) {
	backend := &fakeBackend{
		students:     []map[string]any{{"id": 1, "student_code": "S001", "name": "Alice"}},
		rejectWrites: "attendance window closed",
	}
	r, screens := newTestRouter(t, backend)
	token := register(t, r)

	doJSON(t, r, http.MethodGet, "/v1/attendance/students/view", token, nil)
	rec := doJSON(t, r, http.MethodPost, "/v1/attendance/students/select", token, map[string]any{
		"payload": "S001",
	})
	var sel struct {
		Pending workflow.PendingAction `json:"pending"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))

	rec = doJSON(t, r, http.MethodPost, "/v1/attendance/students/commit", token, map[string]any{
		"pending_id": sel.Pending.ID, "candidate": 0,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "attendance window closed")

	// No local mutation on a rejected write.
	snap := screens["students"].refresher.Snapshot()
	assert.Equal(t, attendance.StatusUnmarked, snap.Views[0].Status)
}

func TestCancelDiscardsWithoutWrite(t *testing.T) {
	backend := &fakeBackend{
		students: []map[string]any{{"id": 1, "student_code": "S001", "name": "Alice"}},
	}
	r, _ := newTestRouter(t, backend)
	token := register(t, r)

	doJSON(t, r, http.MethodGet, "/v1/attendance/students/view", token, nil)
	rec := doJSON(t, r, http.MethodPost, "/v1/attendance/students/select", token, map[string]any{
		"payload": "S001",
	})
	var sel struct {
		Pending workflow.PendingAction `json:"pending"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))

	rec = doJSON(t, r, http.MethodPost, "/v1/attendance/students/cancel", token, map[string]any{
		"pending_id": sel.Pending.ID,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	backend.mu.Lock()
	assert.Empty(t, backend.writes)
	backend.mu.Unlock()
}

func TestViewSurvivesBackendOutage(t *testing.T) {
	// Every backend endpoint answers 500: the view endpoint still returns
	// the (empty) baseline rather than erroring the whole screen.
	r, _ := newTestRouter(t, &fakeBackend{down: true})
	token := register(t, r)

	rec := doJSON(t, r, http.MethodGet, "/v1/attendance/students/view", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
