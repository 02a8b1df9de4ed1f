package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crm-automation/internal/actions"
	"crm-automation/internal/automation"
	"crm-automation/internal/crm"
	"crm-automation/internal/models"
	"crm-automation/internal/queue"
)

func seedInbox(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.Channel{ID: "wa", TenantID: "tn", Provider: "meta", ExternalID: "1555"}).Error)
	require.NoError(t, db.Create(&models.Contact{ID: "ct1", TenantID: "tn", Name: "Ana", Phone: "5511999990000"}).Error)
	require.NoError(t, db.Create(&models.Conversation{ID: "conv1", TenantID: "tn", ChannelID: "wa", ContactID: "ct1", Status: "open"}).Error)
}

func TestContactTagsRaiseEvents(t *testing.T) {
	db := newTestDB(t)
	seedInbox(t, db)
	events := &captureEnqueuer{}
	r := newRouter(NewContactHandler(crm.NewStore(db), events, zerolog.Nop()))

	w := do(r, http.MethodPost, "/api/contacts/ct1/tags", "tn", map[string]string{"tag_id": "vip"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"vip"}, decode[[]string](t, do(r, http.MethodGet, "/api/contacts/ct1/tags", "tn", nil)))

	w = do(r, http.MethodDelete, "/api/contacts/ct1/tags/vip", "tn", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{}, decode[[]string](t, do(r, http.MethodGet, "/api/contacts/ct1/tags", "tn", nil)))

	require.Len(t, events.events, 2)
	assert.Equal(t, automation.TriggerTagAdded, events.events[0].Trigger)
	assert.Equal(t, "vip", events.events[0].Context.TagID)
	assert.Equal(t, "ct1", events.events[0].Context.ContactID)
	assert.Equal(t, automation.TriggerTagRemoved, events.events[1].Trigger)

	w = do(r, http.MethodPost, "/api/contacts/ct1/tags", "other", map[string]string{"tag_id": "vip"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, events.events, 2)
}

func TestExportContacts(t *testing.T) {
	db := newTestDB(t)
	seedInbox(t, db)
	store := crm.NewStore(db)
	require.NoError(t, store.AddTag(context.Background(), "tn", "ct1", "lead"))
	require.NoError(t, store.AddTag(context.Background(), "tn", "ct1", "vip"))
	r := newRouter(NewContactHandler(store, &captureEnqueuer{}, zerolog.Nop()))

	w := do(r, http.MethodGet, "/api/contacts/export", "tn", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"ct1", "Ana", "5511999990000", "", "lead;vip"}, records[1][:5])
}

func TestOperatorReplyIsQueued(t *testing.T) {
	db := newTestDB(t)
	seedInbox(t, db)
	store := crm.NewStore(db)
	q := queue.NewMemoryQueue(4)
	executor := actions.NewExecutor(actions.Deps{
		Conversations: store,
		Channels:      store,
		Contacts:      store,
		Messages:      store,
		Queue:         q,
	}, zerolog.Nop())
	r := newRouter(NewConversationHandler(store, executor, &captureEnqueuer{}, zerolog.Nop()))

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/conversations/conv1/messages", "tn", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/conversations/conv1/messages", "other", `{"content": "x"}`).Code)

	w := do(r, http.MethodPost, "/api/conversations/conv1/messages", "tn", map[string]string{"content": "Olá Ana"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	msg := decode[models.Message](t, w)
	assert.Equal(t, "user", msg.SenderType)
	assert.Equal(t, models.MessagePending, msg.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var job models.SendJob
	_ = q.Consume(ctx, func(_ context.Context, j models.SendJob) error {
		job = j
		cancel()
		return nil
	})
	assert.Equal(t, msg.ID, job.MessageID)
	assert.Equal(t, "5511999990000", job.To)
	assert.Equal(t, "meta", job.Provider)

	history := decode[[]models.Message](t, do(r, http.MethodGet, "/api/conversations/conv1/messages", "tn", nil))
	require.Len(t, history, 1)
	assert.Equal(t, "Olá Ana", history[0].Content)
}

func TestResolveAndAssignConversation(t *testing.T) {
	db := newTestDB(t)
	seedInbox(t, db)
	events := &captureEnqueuer{}
	store := crm.NewStore(db)
	r := newRouter(NewConversationHandler(store, nil, events, zerolog.Nop()))

	w := do(r, http.MethodPost, "/api/conversations/conv1/assign", "tn", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	conv, err := store.FindConversation(context.Background(), "conv1", "tn")
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.AssignedUserID)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/conversations/nope/assign", "tn", map[string]string{"user_id": "u1"}).Code)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/conversations/conv1/resolve", "tn", nil).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/conversations/conv1/resolve", "tn", nil).Code)

	require.Len(t, events.events, 1)
	assert.Equal(t, automation.TriggerConversationResolved, events.events[0].Trigger)
	assert.Equal(t, "conv1", events.events[0].Context.ConversationID)
}
