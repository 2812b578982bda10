package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/util"
)

// plansHandler handles schedule plan storage for a study:
// POST/GET /v1/plans and DELETE /v1/plans/{guid}.
func (s *Server) plansHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.plansHandler: processing request", "method", r.Method, "path", r.URL.Path)

	studyKey := r.URL.Query().Get("studyKey")
	if studyKey == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("missing required parameter: studyKey"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/plans")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		switch r.Method {
		case http.MethodPost:
			s.savePlanHandler(w, r, studyKey)
		case http.MethodGet:
			s.listPlansHandler(w, r, studyKey)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	planGuid := segments[0]
	if len(segments) == 1 {
		switch r.Method {
		case http.MethodDelete:
			s.deletePlanHandler(w, r, studyKey, planGuid)
		default:
			w.Header().Set("Allow", "DELETE")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown plan endpoint"))
}

// savePlanHandler handles POST /v1/plans
func (s *Server) savePlanHandler(w http.ResponseWriter, r *http.Request, studyKey string) {
	var plan models.SchedulePlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		slog.Warn("Server.savePlanHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	plan.StudyKey = studyKey
	if plan.Guid == "" {
		plan.Guid = util.GeneratePlanGuid()
	}
	if err := plan.Validate(); err != nil {
		slog.Warn("Server.savePlanHandler: validation failed", "error", err, "plan", plan.Guid)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.plans.SaveSchedulePlan(plan); err != nil {
		slog.Error("Server.savePlanHandler: failed to save plan", "error", err, "plan", plan.Guid)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save schedule plan"))
		return
	}
	slog.Info("Server.savePlanHandler: plan saved", "study", studyKey, "plan", plan.Guid)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Schedule plan saved successfully", plan.Guid))
}

// listPlansHandler handles GET /v1/plans
func (s *Server) listPlansHandler(w http.ResponseWriter, r *http.Request, studyKey string) {
	plans, err := s.plans.ListSchedulePlans(studyKey)
	if err != nil {
		slog.Error("Server.listPlansHandler: failed to list plans", "error", err, "study", studyKey)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list schedule plans"))
		return
	}
	slog.Debug("Server.listPlansHandler: plans listed", "study", studyKey, "count", len(plans))
	writeJSONResponse(w, http.StatusOK, models.Success(plans))
}

// deletePlanHandler handles DELETE /v1/plans/{guid}
func (s *Server) deletePlanHandler(w http.ResponseWriter, r *http.Request, studyKey, planGuid string) {
	if err := s.plans.DeleteSchedulePlan(studyKey, planGuid); err != nil {
		slog.Error("Server.deletePlanHandler: failed to delete plan", "error", err, "plan", planGuid)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete schedule plan"))
		return
	}
	slog.Info("Server.deletePlanHandler: plan deleted", "study", studyKey, "plan", planGuid)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Schedule plan deleted successfully", nil))
}
