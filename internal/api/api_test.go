package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/messaging"
	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/sched"
	"github.com/BTreeMap/StudyPipe/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *messaging.MockService) {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := sched.NewService(st, st, sched.NewEventService(st))
	msg := messaging.NewMockService()
	return NewServer(svc, st, msg), st, msg
}

func dailyPlan(guid string) models.SchedulePlan {
	schedule := models.Schedule{
		Label:        "Daily Survey",
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     "P1D",
		Times:        []string{"08:00"},
		Activities: []models.Activity{{
			Label:  "Daily Survey",
			Guid:   "act-1",
			Survey: &models.SurveyReference{Guid: "survey-1"},
		}},
	}
	return models.SchedulePlan{
		Guid:     guid,
		StudyKey: "study",
		Strategy: models.ScheduleStrategy{Type: models.StrategyTypeSimple, Schedule: &schedule},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}

func TestEventsLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	enrolled := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := postJSON(t, handler, "/v1/events?healthCode=hc", models.ActivityEvent{EventID: models.EventEnrollment, Timestamp: enrolled.UnixMilli()})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Enrollment is immutable: a second publish must not move it.
	w = postJSON(t, handler, "/v1/events?healthCode=hc", models.ActivityEvent{EventID: models.EventEnrollment, Timestamp: enrolled.AddDate(0, 1, 0).UnixMilli()})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/events?healthCode=hc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listResp struct {
		Status string               `json:"status"`
		Result map[string]time.Time `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got := listResp.Result[models.EventEnrollment]; !got.Equal(enrolled) {
		t.Errorf("enrollment shifted: %v", got)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/events?healthCode=hc", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/events?healthCode=hc", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	listResp.Result = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listResp.Result) != 0 {
		t.Errorf("events survived deletion: %v", listResp.Result)
	}
}

func TestEventsRequireHealthCode(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestActivitiesEndToEnd(t *testing.T) {
	srv, st, _ := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/v1/plans?studyKey=study", dailyPlan("plan-1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("plan save failed: %d %s", w.Code, w.Body.String())
	}

	enrolled := time.Now().UTC().Add(-24 * time.Hour)
	if err := st.PublishEvent(models.ActivityEvent{HealthCode: "secret-hc", EventID: models.EventEnrollment, Timestamp: enrolled.UnixMilli()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/activities?healthCode=secret-hc&studyKey=study&daysAhead=3&tz=UTC", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret-hc") {
		t.Error("health code leaked into activity payload")
	}
	if !strings.Contains(body, `"status"`) {
		t.Error("derived status missing from activity payload")
	}

	var listResp struct {
		Result []struct {
			Guid        string `json:"guid"`
			ScheduledOn string `json:"scheduledOn"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listResp.Result) == 0 {
		t.Fatal("expected scheduled activities")
	}

	// Report the first instance finished and verify the update round-trips.
	finished := time.Now().UTC().Format(time.RFC3339)
	update := []map[string]interface{}{{
		"guid":       listResp.Result[0].Guid,
		"finishedOn": finished,
	}}
	w = postJSON(t, handler, "/v1/activities?healthCode=secret-hc", update)
	if w.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", w.Code, w.Body.String())
	}
	stored, err := st.GetScheduledActivity("secret-hc", listResp.Result[0].Guid)
	if err != nil || stored == nil {
		t.Fatalf("updated instance not stored: %v", err)
	}
	if stored.FinishedOn == nil {
		t.Error("finishedOn not applied")
	}
}

func TestActivitiesRequireParticipantContext(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	cases := []string{
		"/v1/activities",
		"/v1/activities?healthCode=hc",
		"/v1/activities?healthCode=hc&studyKey=study&appVersion=abc",
	}
	for _, path := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestUpdateActivitiesRejectsMissingGuid(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := postJSON(t, srv.Handler(), "/v1/activities?healthCode=hc", []map[string]interface{}{{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlansLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	// Posting a plan without a guid assigns one.
	plan := dailyPlan("")
	w := postJSON(t, handler, "/v1/plans?studyKey=study", plan)
	if w.Code != http.StatusCreated {
		t.Fatalf("plan save failed: %d %s", w.Code, w.Body.String())
	}
	var saveResp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &saveResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(saveResp.Result, "plan_") {
		t.Errorf("expected generated plan guid, got %q", saveResp.Result)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/plans?studyKey=study", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listResp struct {
		Result []models.SchedulePlan `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listResp.Result) != 1 || listResp.Result[0].Guid != saveResp.Result {
		t.Fatalf("unexpected plan listing: %+v", listResp.Result)
	}

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/v1/plans/%s?studyKey=study", saveResp.Result), nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/plans?studyKey=study", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	listResp.Result = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listResp.Result) != 0 {
		t.Errorf("plan survived deletion: %+v", listResp.Result)
	}
}

func TestPlansRejectInvalidStrategy(t *testing.T) {
	srv, _, _ := newTestServer(t)
	plan := dailyPlan("plan-bad")
	plan.Strategy.Schedule = nil
	w := postJSON(t, srv.Handler(), "/v1/plans?studyKey=study", plan)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/v1/activities?healthCode=hc&studyKey=study"},
		{http.MethodPut, "/v1/events?healthCode=hc"},
		{http.MethodGet, "/v1/reminders"},
		{http.MethodPost, "/health"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}
