// Package api provides HTTP handlers for StudyPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/sched"
)

// participantRequest is the participant context parsed from query parameters.
type participantRequest struct {
	criteria  models.CriteriaContext
	timeZone  string
	daysAhead int
}

// parseParticipant extracts the participant context every activity operation
// needs. healthCode and studyKey are mandatory; the rest default to the
// loosest interpretation (no platform, no data groups, UTC).
func parseParticipant(r *http.Request) (participantRequest, error) {
	q := r.URL.Query()
	healthCode := q.Get("healthCode")
	if healthCode == "" {
		return participantRequest{}, errors.New("missing required parameter: healthCode")
	}
	studyKey := q.Get("studyKey")
	if studyKey == "" {
		return participantRequest{}, errors.New("missing required parameter: studyKey")
	}
	userID := q.Get("userId")
	if userID == "" {
		// The A/B bucket must stay stable for the participant, so fall back
		// to the health code rather than an empty string shared by everyone.
		userID = healthCode
	}

	appVersion := 0
	if v := q.Get("appVersion"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return participantRequest{}, errors.New("invalid appVersion: must be an integer")
		}
		appVersion = parsed
	}
	daysAhead := 0
	if v := q.Get("daysAhead"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return participantRequest{}, errors.New("invalid daysAhead: must be an integer")
		}
		daysAhead = parsed
	}
	var dataGroups []string
	if v := q.Get("dataGroups"); v != "" {
		dataGroups = strings.Split(v, ",")
	}

	return participantRequest{
		criteria: models.CriteriaContext{
			StudyKey:   studyKey,
			UserID:     userID,
			HealthCode: healthCode,
			Platform:   q.Get("platform"),
			AppVersion: appVersion,
			DataGroups: dataGroups,
			Language:   q.Get("lang"),
		},
		timeZone:  q.Get("tz"),
		daysAhead: daysAhead,
	}, nil
}

// isValidationError reports whether an error should surface as a client error
// rather than an internal one.
func isValidationError(err error) bool {
	for _, sentinel := range []error{
		models.ErrEmptyHealthCode,
		models.ErrEmptyEventID,
		models.ErrInvalidEventTime,
		models.ErrMissingPlanGuid,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// activitiesHandler serves the participant's scheduled activity list (GET) and
// applies client-reported lifecycle updates (POST).
func (s *Server) activitiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.activitiesHandler: processing request", "method", r.Method, "path", r.URL.Path)
	switch r.Method {
	case http.MethodGet:
		s.getActivitiesHandler(w, r)
	case http.MethodPost:
		s.updateActivitiesHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.activitiesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) getActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseParticipant(r)
	if err != nil {
		slog.Warn("Server.getActivitiesHandler: bad participant context", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, err := s.svc.BuildScheduleContext(req.criteria, req.timeZone, time.Now(), req.daysAhead)
	if err != nil {
		slog.Error("Server.getActivitiesHandler: failed to build schedule context", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load participant state"))
		return
	}
	activities, err := s.svc.GetScheduledActivities(req.criteria.StudyKey, ctx)
	if err != nil {
		slog.Error("Server.getActivitiesHandler: failed to compute activities", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute scheduled activities"))
		return
	}
	slog.Debug("Server.getActivitiesHandler: computed activities", "study", req.criteria.StudyKey, "count", len(activities))
	writeJSONResponse(w, http.StatusOK, models.Success(activities))
}

func (s *Server) updateActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	healthCode := r.URL.Query().Get("healthCode")
	if healthCode == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("missing required parameter: healthCode"))
		return
	}
	var updates []models.ScheduledActivity
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		slog.Warn("Server.updateActivitiesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	saved, err := s.svc.UpdateScheduledActivities(healthCode, updates)
	if err != nil {
		if errors.Is(err, sched.ErrMissingInstanceGuid) || isValidationError(err) {
			slog.Warn("Server.updateActivitiesHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.updateActivitiesHandler: failed to apply updates", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update scheduled activities"))
		return
	}
	slog.Info("Server.updateActivitiesHandler: updates applied", "count", len(saved))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Activities updated successfully", saved))
}

// eventsHandler publishes (POST), lists (GET), and deletes (DELETE) a
// participant's activity events.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	healthCode := r.URL.Query().Get("healthCode")
	if healthCode == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("missing required parameter: healthCode"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		var event models.ActivityEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := s.svc.Events().PublishEvent(healthCode, event.EventID, event.Timestamp); err != nil {
			if isValidationError(err) {
				writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
				return
			}
			slog.Error("Server.eventsHandler: failed to publish event", "error", err, "eventId", event.EventID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to publish event"))
			return
		}
		slog.Info("Server.eventsHandler: event published", "eventId", event.EventID)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Event published successfully", nil))
	case http.MethodGet:
		events, err := s.svc.Events().GetActivityEventMap(healthCode)
		if err != nil {
			slog.Error("Server.eventsHandler: failed to fetch events", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch events"))
			return
		}
		slog.Debug("Server.eventsHandler: events fetched", "count", len(events))
		writeJSONResponse(w, http.StatusOK, models.Success(events))
	case http.MethodDelete:
		if err := s.svc.Events().DeleteActivityEvents(healthCode); err != nil {
			slog.Error("Server.eventsHandler: failed to delete events", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete events"))
			return
		}
		slog.Info("Server.eventsHandler: events deleted")
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Events deleted successfully", nil))
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		slog.Warn("Server.eventsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
