package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jsenecal/netbox-notices/internal/composer"
	"github.com/jsenecal/netbox-notices/internal/server"
	"github.com/jsenecal/netbox-notices/pkg/models"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// composeResponse is the JSON form of a composition run.
type composeResponse struct {
	TemplateID int64                         `json:"templateId"`
	Created    []models.PreparedNotification `json:"created"`
	Reused     []models.PreparedNotification `json:"reused"`
	Skipped    []string                      `json:"skipped,omitempty"`
	Errors     []string                      `json:"errors,omitempty"`
}

func newComposeResponse(result *composer.CompositionResult) composeResponse {
	resp := composeResponse{
		TemplateID: result.TemplateID,
		Created:    result.Created,
		Reused:     result.Reused,
		Skipped:    result.Skipped,
	}
	if resp.Created == nil {
		resp.Created = []models.PreparedNotification{}
	}
	if resp.Reused == nil {
		resp.Reused = []models.PreparedNotification{}
	}
	for _, groupErr := range result.Errors.WrappedErrors() {
		resp.Errors = append(resp.Errors, groupErr.Error())
	}
	return resp
}

// EventsHandler handles event composition.
// Routes:
//
//	POST /api/v1/events/{type}/{id}/compose?force=true
func EventsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts, err := parseResourcePath(r.URL.Path, "/api/v1/events")
		if err != nil || len(parts) != 3 || parts[2] != "compose" {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var eventType reference.Type
		switch parts[0] {
		case "maintenance":
			eventType = reference.TypeMaintenance
		case "outage":
			eventType = reference.TypeOutage
		default:
			respondError(w, http.StatusBadRequest, "unknown event type")
			return
		}

		eventID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid event ID")
			return
		}

		force := r.URL.Query().Get("force") == "true"

		result, err := srv.Composer.ComposeForEvent(
			r.Context(), reference.To(eventType, eventID), force)
		if err != nil {
			var notFound *composer.NotFoundError
			if errors.As(err, &notFound) {
				respondError(w, http.StatusNotFound, err.Error())
				return
			}
			srv.Logger.Error("composition failed",
				"event_type", parts[0], "event_id", eventID, "error", err)
			respondError(w, http.StatusInternalServerError, "composition failed")
			return
		}

		respondJSON(w, http.StatusOK, newComposeResponse(result))
	})
}
