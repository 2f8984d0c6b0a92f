package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/internal/composer"
	"github.com/jsenecal/netbox-notices/internal/lifecycle"
	"github.com/jsenecal/netbox-notices/internal/server"
	"github.com/jsenecal/netbox-notices/pkg/models"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// statusRequest is the body of a status transition request.
type statusRequest struct {
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Note      string     `json:"note,omitempty"`
	Actor     string     `json:"actor,omitempty"`
}

// standaloneRequest is the body of a standalone composition request.
type standaloneRequest struct {
	Targets []string `json:"targets"`
	Force   bool     `json:"force,omitempty"`
}

// MessagesHandler handles prepared notification endpoints.
// Routes:
//
//	GET  /api/v1/messages?status=ready
//	POST /api/v1/messages/compose
//	GET  /api/v1/messages/{id}
//	POST /api/v1/messages/{id}/status
func MessagesHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts, err := parseResourcePath(r.URL.Path, "/api/v1/messages")
		if err != nil {
			respondError(w, http.StatusNotFound, "not found")
			return
		}

		if len(parts) == 0 {
			if r.Method != http.MethodGet {
				respondError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			listMessages(w, r, srv)
			return
		}

		if len(parts) == 1 && parts[0] == "compose" {
			if r.Method != http.MethodPost {
				respondError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			composeStandalone(w, r, srv)
			return
		}

		id, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid message ID")
			return
		}

		switch {
		case len(parts) == 1:
			if r.Method != http.MethodGet {
				respondError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			getMessage(w, r, srv, uint(id))
		case len(parts) == 2 && parts[1] == "status":
			if r.Method != http.MethodPost {
				respondError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			updateMessageStatus(w, r, srv, uint(id))
		default:
			respondError(w, http.StatusNotFound, "not found")
		}
	})
}

func composeStandalone(w http.ResponseWriter, r *http.Request, srv server.Server) {
	var req standaloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	targets := make([]reference.Ref, 0, len(req.Targets))
	for _, s := range req.Targets {
		ref, err := reference.Parse(s)
		if err != nil || ref.IsWildcard() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid target %q", s))
			return
		}
		targets = append(targets, ref)
	}

	result, err := srv.Composer.ComposeStandalone(r.Context(), targets, req.Force)
	if err != nil {
		var disallowed *composer.DisallowedTargetError
		if errors.As(err, &disallowed) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		srv.Logger.Error("standalone composition failed", "error", err)
		respondError(w, http.StatusInternalServerError, "composition failed")
		return
	}
	respondJSON(w, http.StatusOK, newComposeResponse(result))
}

func listMessages(w http.ResponseWriter, r *http.Request, srv server.Server) {
	status := r.URL.Query().Get("status")
	if status != "" {
		if _, ok := models.AllowedTransitions[status]; !ok {
			respondError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}

	var notifications []models.PreparedNotification
	var err error
	if status != "" {
		notifications, err = models.ListByStatus(srv.DB.WithContext(r.Context()), status)
	} else {
		err = srv.DB.WithContext(r.Context()).
			Order("created_at ASC").
			Find(&notifications).Error
	}
	if err != nil {
		srv.Logger.Error("failed to list messages", "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if notifications == nil {
		notifications = []models.PreparedNotification{}
	}
	respondJSON(w, http.StatusOK, notifications)
}

func getMessage(w http.ResponseWriter, r *http.Request, srv server.Server, id uint) {
	var n models.PreparedNotification
	if err := n.Get(srv.DB.WithContext(r.Context()), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "message not found")
			return
		}
		srv.Logger.Error("failed to get message", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func updateMessageStatus(w http.ResponseWriter, r *http.Request, srv server.Server, id uint) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "status is required")
		return
	}

	n, err := srv.Lifecycle.Transition(
		r.Context(), id, req.Status, req.Timestamp, req.Note, req.Actor)
	if err != nil {
		var (
			invalid    *lifecycle.InvalidTransitionError
			conflict   *lifecycle.ConflictError
			noRcpts    *lifecycle.EmptyRecipientsError
			chronology *lifecycle.ChronologyViolationError
		)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(w, http.StatusNotFound, "message not found")
		case errors.As(err, &invalid), errors.As(err, &noRcpts), errors.As(err, &chronology):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &conflict):
			respondError(w, http.StatusConflict, err.Error())
		default:
			srv.Logger.Error("status transition failed",
				"id", id, "status", req.Status, "error", err)
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	respondJSON(w, http.StatusOK, n)
}
