package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/messaging"
	"github.com/BTreeMap/StudyPipe/internal/models"
)

// DefaultReminderTimeout bounds one reminder delivery, sweep runs included.
const DefaultReminderTimeout = 30 * time.Second

// reminderRequest is the payload of POST /v1/reminders. It carries the
// participant context needed to recompute the activity list plus the SMS
// destination.
type reminderRequest struct {
	HealthCode string   `json:"healthCode"`
	StudyKey   string   `json:"studyKey"`
	Phone      string   `json:"phone"`
	UserID     string   `json:"userId,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	AppVersion int      `json:"appVersion,omitempty"`
	DataGroups []string `json:"dataGroups,omitempty"`
	Language   string   `json:"lang,omitempty"`
	TimeZone   string   `json:"tz,omitempty"`
	DaysAhead  int      `json:"daysAhead,omitempty"`
}

// remindersHandler handles POST /v1/reminders: it texts the participant their
// currently available activities and, when the sweep is configured, registers
// them for recurring reminders.
func (s *Server) remindersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.remindersHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.remindersHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.remindersHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.HealthCode == "" || req.StudyKey == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: healthCode, studyKey"))
		return
	}
	canonicalPhone, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Phone)
	if err != nil {
		slog.Warn("Server.remindersHandler: recipient validation failed", "error", err, "original_phone", req.Phone)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	req.Phone = canonicalPhone
	if req.UserID == "" {
		req.UserID = req.HealthCode
	}

	if s.reminderCron != "" {
		s.mu.Lock()
		s.reminders[req.HealthCode] = req
		s.mu.Unlock()
		slog.Debug("Server.remindersHandler: participant registered for sweep", "study", req.StudyKey)
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultReminderTimeout)
	defer cancel()
	sent, err := s.sendReminder(ctx, req)
	if err != nil {
		slog.Error("Server.remindersHandler: failed to send reminder", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send reminder"))
		return
	}
	if !sent {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("No activities currently available; reminder not sent", nil))
		return
	}
	slog.Info("Server.remindersHandler: reminder sent", "study", req.StudyKey)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Reminder sent successfully", nil))
}

// sendReminder recomputes the participant's activity list and texts the
// available subset. It reports whether a message went out.
func (s *Server) sendReminder(ctx context.Context, req reminderRequest) (bool, error) {
	criteria := models.CriteriaContext{
		StudyKey:   req.StudyKey,
		UserID:     req.UserID,
		HealthCode: req.HealthCode,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		DataGroups: req.DataGroups,
		Language:   req.Language,
	}
	now := time.Now()
	sctx, err := s.svc.BuildScheduleContext(criteria, req.TimeZone, now, req.DaysAhead)
	if err != nil {
		return false, err
	}
	activities, err := s.svc.GetScheduledActivities(req.StudyKey, sctx)
	if err != nil {
		return false, err
	}
	text := messaging.BuildReminderText(activities, now)
	if text == "" {
		slog.Debug("Server.sendReminder: nothing available, skipping", "study", req.StudyKey)
		return false, nil
	}
	if err := s.msgService.SendMessage(ctx, req.Phone, text); err != nil {
		return false, err
	}
	return true, nil
}

// reminderSweep re-sends reminders to every registered participant. It runs
// under the cron scheduler when a sweep expression is configured.
func (s *Server) reminderSweep() {
	s.mu.Lock()
	pending := make([]reminderRequest, 0, len(s.reminders))
	for _, req := range s.reminders {
		pending = append(pending, req)
	}
	s.mu.Unlock()

	slog.Debug("Server.reminderSweep: starting", "participants", len(pending))
	for _, req := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultReminderTimeout)
		sent, err := s.sendReminder(ctx, req)
		cancel()
		if err != nil {
			slog.Error("Server.reminderSweep: reminder failed", "error", err, "study", req.StudyKey)
			continue
		}
		if sent {
			slog.Debug("Server.reminderSweep: reminder sent", "study", req.StudyKey)
		}
	}
}
