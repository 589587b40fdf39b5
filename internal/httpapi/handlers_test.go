package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/auth"
	"consult-platform/internal/calls"
	"consult-platform/internal/config"
	"consult-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

var testNow = time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

// headerIdentity stands in for the JWT middleware.
func headerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), c.GetHeader("X-User"), c.GetHeader("X-Role"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type testAPI struct {
	t     *testing.T
	r     *gin.Engine
	store *calls.MemoryStore
}

func newTestAPIWith(t *testing.T, uow calls.UnitOfWork, store *calls.MemoryStore) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := calls.NewService(uow, calls.Options{}).WithClock(func() time.Time { return testNow })
	h := Handlers{
		Calls:   svc,
		Reports: reporting.NewService(reporting.NewCallsSource(svc), 15),
	}
	if store != nil {
		h.Audit = audit.NewService(store, nil)
	}
	r := gin.New()
	h.Register(r, headerIdentity())
	return &testAPI{t: t, r: r, store: store}
}

func newTestAPI(t *testing.T) *testAPI {
	store := calls.NewMemoryStore()
	return newTestAPIWith(t, store, store)
}

func (a *testAPI) do(method, path, user, role string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	req.Header.Set("X-Role", role)
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (a *testAPI) createAssigned(subscriber, provider string) calls.CallRequest {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/calls", subscriber, "subscriber", gin.H{"purpose": "contract review", "consultation_type": "legal"})
	if w.Code != http.StatusCreated {
		a.t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[calls.CallRequest](a.t, w)
	w = a.do(http.MethodPost, "/v1/calls/"+created.ID+"/assign", "coord", "coordinator", gin.H{"provider_id": provider})
	if w.Code != http.StatusOK {
		a.t.Fatalf("assign: %d %s", w.Code, w.Body.String())
	}
	return decode[calls.CallRequest](a.t, w)
}

func TestAPI_ScheduleConflict(t *testing.T) {
	a := newTestAPI(t)
	first := a.createAssigned("sub-1", "P")
	if first.Status != calls.StatusAssigned || first.SubscriberID != "sub-1" {
		t.Fatalf("unexpected call %+v", first)
	}

	w := a.do(http.MethodPost, "/v1/calls/"+first.ID+"/schedule", "P", "provider", gin.H{
		"scheduled_at": "2024-01-10T10:00:00Z", "duration_minutes": 30,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("schedule: %d %s", w.Code, w.Body.String())
	}

	second := a.createAssigned("sub-2", "P")
	w = a.do(http.MethodPost, "/v1/calls/"+second.ID+"/schedule", "P", "provider", gin.H{
		"scheduled_at": "2024-01-10T10:15:00Z", "duration_minutes": 30,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
	body := decode[struct {
		Error          string   `json:"error"`
		ConflictingIDs []string `json:"conflicting_ids"`
	}](t, w)
	if body.Error != "scheduling_conflict" || len(body.ConflictingIDs) != 1 || body.ConflictingIDs[0] != first.ID {
		t.Fatalf("unexpected conflict body %+v", body)
	}

	w = a.do(http.MethodGet, "/v1/providers/P/availability?start=2024-01-10T10:30:00Z&duration_minutes=30", "sub-2", "subscriber", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", w.Code, w.Body.String())
	}
	if avail := decode[calls.Availability](t, w); !avail.Available {
		t.Fatalf("expected 10:30 to be free")
	}
}

func TestAPI_InvalidTransitionIs409(t *testing.T) {
	a := newTestAPI(t)
	c := a.createAssigned("sub-1", "P")

	w := a.do(http.MethodPost, "/v1/calls/"+c.ID+"/start", "P", "provider", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
	if body := decode[gin.H](t, w); body["error"] != "invalid_transition" || body["from"] != "ASSIGNED" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAPI_OwnershipHidesOtherCalls(t *testing.T) {
	a := newTestAPI(t)
	c := a.createAssigned("sub-1", "P")

	cases := []struct {
		user, role string
		want       int
	}{
		{"sub-1", "subscriber", http.StatusOK},
		{"sub-2", "subscriber", http.StatusNotFound},
		{"P", "provider", http.StatusOK},
		{"Q", "provider", http.StatusNotFound},
		{"coord", "coordinator", http.StatusOK},
		{"root", "admin", http.StatusOK},
	}
	for _, tc := range cases {
		if w := a.do(http.MethodGet, "/v1/calls/"+c.ID, tc.user, tc.role, nil); w.Code != tc.want {
			t.Fatalf("%s/%s: expected %d, got %d", tc.user, tc.role, tc.want, w.Code)
		}
	}

	if w := a.do(http.MethodGet, "/v1/subscribers/sub-1/calls", "sub-2", "subscriber", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another subscriber's listing, got %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/v1/calls/"+c.ID+"/assign", "sub-1", "subscriber", gin.H{"provider_id": "X"}); w.Code != http.StatusForbidden {
		t.Fatalf("subscribers cannot assign providers, got %d", w.Code)
	}
}

func TestAPI_HistoryRecordsActor(t *testing.T) {
	a := newTestAPI(t)
	c := a.createAssigned("sub-1", "P")

	w := a.do(http.MethodPost, "/v1/calls/"+c.ID+"/cancel", "sub-1", "subscriber", gin.H{"reason": "found help elsewhere"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodGet, "/v1/calls/"+c.ID+"/history", "sub-1", "subscriber", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
	body := decode[struct {
		Items []calls.HistoryEntry `json:"items"`
		Total int                  `json:"total"`
	}](t, w)
	if body.Total != 3 {
		t.Fatalf("expected created, assigned, cancelled rows, got %d", body.Total)
	}
	last := body.Items[2]
	if last.To != calls.StatusCancelled || last.ChangedBy == nil || *last.ChangedBy != "sub-1" || last.Reason != "found help elsewhere" {
		t.Fatalf("unexpected history row %+v", last)
	}
	if first := body.Items[1]; first.ChangedBy == nil || *first.ChangedBy != "coord" {
		t.Fatalf("expected coordinator recorded on assignment")
	}
}

func TestAPI_ValidationErrors(t *testing.T) {
	a := newTestAPI(t)
	c := a.createAssigned("sub-1", "P")

	w := a.do(http.MethodPost, "/v1/calls/"+c.ID+"/schedule", "P", "provider", gin.H{"scheduled_at": "2024-01-10T10:00:00Z", "duration_minutes": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing duration, got %d", w.Code)
	}

	w = a.do(http.MethodPut, "/v1/calls/"+c.ID+"/link", "P", "provider", gin.H{"call_link": "not a number", "platform": "phone"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad phone link, got %d %s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodPut, "/v1/calls/"+c.ID+"/link", "P", "provider", gin.H{"call_link": "+1 650-253-0000", "platform": "phone"})
	if w.Code != http.StatusOK {
		t.Fatalf("link: %d %s", w.Code, w.Body.String())
	}
	if got := decode[calls.CallRequest](t, w); got.CallLink == nil || *got.CallLink != "+16502530000" {
		t.Fatalf("expected normalized link, got %v", got.CallLink)
	}

	if w := a.do(http.MethodGet, "/v1/calls/missing", "coord", "coordinator", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPI_AdminPurge(t *testing.T) {
	a := newTestAPI(t)
	c := a.createAssigned("sub-1", "P")

	if w := a.do(http.MethodDelete, "/v1/admin/calls/"+c.ID+"/history", "coord", "coordinator", gin.H{"reason": "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("coordinators cannot purge, got %d", w.Code)
	}
	if w := a.do(http.MethodDelete, "/v1/admin/calls/"+c.ID+"/history", "root", "admin", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected reason required, got %d", w.Code)
	}
	w := a.do(http.MethodDelete, "/v1/admin/calls/"+c.ID+"/history", "root", "admin", gin.H{"reason": "data request"})
	if w.Code != http.StatusOK {
		t.Fatalf("purge: %d %s", w.Code, w.Body.String())
	}
	if got := decode[gin.H](t, w); got["purged"] != float64(2) {
		t.Fatalf("expected 2 rows purged, got %v", got["purged"])
	}
}

type busyUoW struct{}

func (busyUoW) Transaction(ctx context.Context, opts calls.TxOptions, work func(ctx context.Context, r calls.Repos) error) error {
	return calls.ErrRetryable
}

func TestAPI_RetryableIs503(t *testing.T) {
	a := newTestAPIWith(t, busyUoW{}, nil)
	w := a.do(http.MethodGet, "/v1/calls/any", "coord", "coordinator", nil)
	if w.Code != http.StatusServiceUnavailable || w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 503 with Retry-After, got %d", w.Code)
	}
}

func TestAPI_MinutesAndSummary(t *testing.T) {
	a := newTestAPI(t)
	c := a.createAssigned("sub-1", "P")
	a.do(http.MethodPost, "/v1/calls/"+c.ID+"/schedule", "P", "provider", gin.H{"scheduled_at": "2024-01-09T08:00:00Z", "duration_minutes": 30})
	if w := a.do(http.MethodPost, "/v1/calls/"+c.ID+"/start", "P", "provider", nil); w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodPost, "/v1/calls/"+c.ID+"/end", "P", "provider", nil); w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body.String())
	}

	w := a.do(http.MethodGet, "/v1/subscribers/sub-1/minutes?from=2024-01-09T00:00:00Z&to=2024-01-10T00:00:00Z", "sub-1", "subscriber", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("minutes: %d %s", w.Code, w.Body.String())
	}
	if m := decode[calls.CallMinutes](t, w); m.TotalMinutes != 0 || m.UnitMinutes != 15 {
		t.Fatalf("unexpected minutes %+v", m)
	}

	w = a.do(http.MethodGet, "/v1/subscribers/sub-1/summary?from=2024-01-09T00:00:00Z&to=2024-01-10T00:00:00Z", "sub-1", "subscriber", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	if s := decode[reporting.CallsSummary](t, w); s.TotalCalls != 1 || s.CompletedCalls != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}

	if w := a.do(http.MethodGet, "/v1/subscribers/sub-1/minutes", "sub-1", "subscriber", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without range, got %d", w.Code)
	}
}

func TestAPI_LoginRefreshAndBearerAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	store := calls.NewMemoryStore()
	h := Handlers{Auth: m, Calls: calls.NewService(store, calls.Options{})}
	r := gin.New()
	h.Register(r, auth.RequireAccessToken(m))

	post := func(path, token string, body any) *httptest.ResponseRecorder {
		buf, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := post("/v1/auth/login", "", gin.H{"user_id": "sub-1", "role": "system"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected hidden role to be refused at login, got %d", w.Code)
	}
	w := post("/v1/auth/login", "", gin.H{"user_id": "sub-1", "role": "subscriber"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	pair := decode[auth.TokenPair](t, w)

	if w := post("/v1/calls", "", gin.H{"purpose": "p", "consultation_type": "c"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w = post("/v1/calls", pair.AccessToken, gin.H{"purpose": "p", "consultation_type": "c"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create with token: %d %s", w.Code, w.Body.String())
	}
	created := decode[calls.CallRequest](t, w)
	if created.SubscriberID != "sub-1" {
		t.Fatalf("expected subscriber from token, got %q", created.SubscriberID)
	}
	hist, _, err := h.Calls.History(context.Background(), created.ID, calls.Page{})
	if err != nil || len(hist) != 1 || hist[0].ChangedBy == nil || *hist[0].ChangedBy != "sub-1" {
		t.Fatalf("expected creation recorded with token subject, got %+v err=%v", hist, err)
	}

	if w := post("/v1/auth/refresh", "", gin.H{"refresh_token": pair.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected access token to be refused for refresh, got %d", w.Code)
	}
	w = post("/v1/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", w.Code, w.Body.String())
	}
	if next := decode[auth.TokenPair](t, w); next.AccessToken == "" || next.RefreshToken == "" {
		t.Fatalf("expected a new pair, got %+v", next)
	}
}
