package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jsenecal/netbox-notices/internal/composer"
	"github.com/jsenecal/netbox-notices/internal/lifecycle"
	"github.com/jsenecal/netbox-notices/internal/server"
	"github.com/jsenecal/netbox-notices/pkg/journal"
	"github.com/jsenecal/netbox-notices/pkg/messaging"
	"github.com/jsenecal/netbox-notices/pkg/models"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

type fakeStore struct {
	events  map[string]*messaging.Event
	impacts map[string][]messaging.Impact
}

func (s *fakeStore) Event(_ context.Context, ref reference.Ref) (*messaging.Event, error) {
	return s.events[ref.String()], nil
}

func (s *fakeStore) ImpactsForEvent(_ context.Context, ref reference.Ref) ([]messaging.Impact, error) {
	return s.impacts[ref.String()], nil
}

type fakeDirectory struct {
	owners      map[string]*messaging.Party
	assignments map[int64][]messaging.ContactAssignment
}

func (d *fakeDirectory) PartyForTarget(_ context.Context, target reference.Ref) (*messaging.Party, error) {
	return d.owners[target.String()], nil
}

func (d *fakeDirectory) AssignmentsForParty(_ context.Context, partyID int64) ([]messaging.ContactAssignment, error) {
	return d.assignments[partyID], nil
}

func (d *fakeDirectory) Contact(_ context.Context, id int64) (*messaging.ContactAssignment, error) {
	for _, assignments := range d.assignments {
		for _, a := range assignments {
			if a.ContactID == id {
				return &a, nil
			}
		}
	}
	return nil, nil
}

func newTestServer(t *testing.T) (server.Server, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.NotificationTemplate{},
		&models.TemplateScope{},
		&models.PreparedNotification{},
		&models.JournalEntry{},
	))

	eventRef := reference.To(reference.TypeMaintenance, 1)
	store := &fakeStore{
		events: map[string]*messaging.Event{
			eventRef.String(): {
				Ref:    eventRef,
				Type:   messaging.EventTypeMaintenance,
				Status: "CONFIRMED",
				Name:   "Core upgrade",
				Start:  time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC),
				End:    time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC),
			},
		},
		impacts: map[string][]messaging.Impact{
			eventRef.String(): {
				{ID: 1, Event: eventRef, Target: reference.To(reference.TypeCircuit, 100),
					TargetDisplay: "CKT-100", Severity: messaging.ImpactOutage},
			},
		},
	}
	dir := &fakeDirectory{
		owners: map[string]*messaging.Party{
			"circuit:100": {ID: 10, Name: "Acme"},
		},
		assignments: map[int64][]messaging.ContactAssignment{
			10: {{ContactID: 100, Email: "noc@acme.example", Name: "Acme NOC", Role: "noc", Priority: "primary"}},
		},
	}

	tmpl := &models.NotificationTemplate{
		Name: "maintenance-default", Slug: "maintenance-default",
		EventType: "maintenance", Granularity: "per_party",
		SubjectTemplate: "{{.maintenance.Name}} notice for {{.party.Name}}",
		BodyTemplate:    "Maintenance window details.",
		BodyFormat:      "text",
		Weight:          1000,
	}
	require.NoError(t, tmpl.Create(db))
	scope := &models.TemplateScope{TemplateID: tmpl.ID, TargetType: "maintenance", Weight: 100}
	require.NoError(t, scope.Create(db))

	log := hclog.NewNullLogger()
	return server.Server{
		DB:     db,
		Logger: log,
		Composer: composer.NewComposer(db, store, dir, composer.Config{
			BaseURL: "http://localhost:8000",
			Registry: reference.NewRegistry(
				reference.TypeMaintenance, reference.TypeOutage, reference.TypeSite),
		}, log),
		Lifecycle: lifecycle.NewStateMachine(db, dir, journal.NewDBSink(db), log),
	}, db
}

func TestEventsHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := EventsHandler(srv)

	t.Run("compose", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/maintenance/1/compose", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp composeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Created, 1)
		assert.Equal(t, "party:10", resp.Created[0].GroupKey)
		assert.Equal(t, "Core upgrade notice for Acme", resp.Created[0].Subject)
		assert.Empty(t, resp.Errors)
	})

	t.Run("rerun reuses the draft", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/maintenance/1/compose", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp composeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Empty(t, resp.Created)
		assert.Len(t, resp.Reused, 1)
	})

	t.Run("unknown event", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/maintenance/999/compose", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown event type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/incident/1/compose", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events/maintenance/1/compose", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestMessagesHandler(t *testing.T) {
	srv, db := newTestServer(t)
	events := EventsHandler(srv)
	messages := MessagesHandler(srv)

	// Compose one draft to work with.
	rec := httptest.NewRecorder()
	events.ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/api/v1/events/maintenance/1/compose", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var drafts []models.PreparedNotification
	require.NoError(t, db.Find(&drafts).Error)
	require.Len(t, drafts, 1)
	id := drafts[0].ID

	postStatus := func(t *testing.T, id uint, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/messages/"+itoa(id)+"/status", strings.NewReader(body))
		rec := httptest.NewRecorder()
		messages.ServeHTTP(rec, req)
		return rec
	}

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
		rec := httptest.NewRecorder()
		messages.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var list []models.PreparedNotification
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		assert.Len(t, list, 1)
	})

	t.Run("list by status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?status=ready", nil)
		rec := httptest.NewRecorder()
		messages.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var list []models.PreparedNotification
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		assert.Empty(t, list)
	})

	t.Run("list with unknown status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?status=archived", nil)
		rec := httptest.NewRecorder()
		messages.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+itoa(id), nil)
		rec := httptest.NewRecorder()
		messages.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var n models.PreparedNotification
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&n))
		assert.Equal(t, id, n.ID)
		assert.Equal(t, models.StatusDraft, n.Status)
	})

	t.Run("get missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/9999", nil)
		rec := httptest.NewRecorder()
		messages.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("approve", func(t *testing.T) {
		rec := postStatus(t, id,
			`{"status":"ready","actor":"operator","note":"maintenance window confirmed"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var n models.PreparedNotification
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&n))
		assert.Equal(t, models.StatusReady, n.Status)
		assert.Equal(t, "operator", n.ApprovedBy)
		require.Len(t, n.Recipients, 1)
		assert.Equal(t, "noc@acme.example", n.Recipients[0].Email)

		entries, err := models.ListJournalForSubject(db, "notification:"+itoa(id))
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Contains(t, entries[0].Text, "maintenance window confirmed")
	})

	t.Run("invalid transition", func(t *testing.T) {
		rec := postStatus(t, id, `{"status":"delivered"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("failure reason lands in the journal", func(t *testing.T) {
		require.Equal(t, http.StatusOK, postStatus(t, id, `{"status":"sent"}`).Code)
		require.Equal(t, http.StatusOK,
			postStatus(t, id, `{"status":"failed","note":"SMTP 550","actor":"mailer"}`).Code)

		entries, err := models.ListJournalForSubject(db, "notification:"+itoa(id))
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Equal(t, "warning", entries[0].Severity)
		assert.Contains(t, entries[0].Text, "SMTP 550")
	})

	t.Run("missing status field", func(t *testing.T) {
		rec := postStatus(t, id, `{"actor":"operator"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("transition on missing message", func(t *testing.T) {
		rec := postStatus(t, 9999, `{"status":"ready"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMessagesCompose(t *testing.T) {
	srv, db := newTestServer(t)
	handler := MessagesHandler(srv)

	standalone := &models.NotificationTemplate{
		Name: "advisory", Slug: "advisory",
		EventType: "none", Granularity: "per_event",
		SubjectTemplate: "Service advisory",
		BodyTemplate:    "Please review the attached notice.",
		BodyFormat:      "text",
		Weight:          1000,
	}
	require.NoError(t, standalone.Create(db))

	post := func(t *testing.T, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/messages/compose", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("compose", func(t *testing.T) {
		rec := post(t, `{"targets":["site:5"]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp composeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Created, 1)
		assert.Equal(t, "Service advisory", resp.Created[0].Subject)
		assert.Equal(t, "event", resp.Created[0].GroupKey)
	})

	t.Run("disallowed target type", func(t *testing.T) {
		rec := post(t, `{"targets":["device:7"]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("wildcard target rejected", func(t *testing.T) {
		rec := post(t, `{"targets":["site:*"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := post(t, `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/compose", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
