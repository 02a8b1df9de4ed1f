package crm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-automation/internal/database"
	"crm-automation/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenAndMigrate("sqlite", filepath.Join(t.TempDir(), "crm.db"))
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Channel{ID: "wa", TenantID: "tn", Provider: "meta", ExternalID: "1555"}).Error)
	require.NoError(t, db.Create(&models.Deal{ID: "d1", TenantID: "tn", PipelineID: "p1", StageID: "s1"}).Error)
	return NewStore(db)
}

func TestFindersAreTenantScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.FindChannel(ctx, "wa", "tn")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "meta", ch.Provider)

	ch, err = s.FindChannel(ctx, "wa", "other")
	require.NoError(t, err)
	assert.Nil(t, ch)

	conv, err := s.FindConversation(ctx, "missing", "tn")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestEnsureContactAndConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contact, created, err := s.EnsureContact(ctx, "tn", "5511999990000", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "5511999990000", contact.Name)

	again, created, err := s.EnsureContact(ctx, "tn", "5511999990000", "Ana")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, contact.ID, again.ID)

	conv, created, err := s.EnsureConversation(ctx, "tn", "wa", contact.ID)
	require.NoError(t, err)
	assert.True(t, created)

	same, created, err := s.EnsureConversation(ctx, "tn", "wa", contact.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, same.ID)

	closed, err := s.CloseConversation(ctx, "tn", conv.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	next, created, err := s.EnsureConversation(ctx, "tn", "wa", contact.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, next.ID)
}

func TestTagsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddTag(ctx, "tn", "c1", "vip"))
	require.NoError(t, s.AddTag(ctx, "tn", "c1", "vip"))
	require.NoError(t, s.AddTag(ctx, "tn", "c1", "lead"))

	tags, err := s.ContactTags(ctx, "tn", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "vip"}, tags)

	require.NoError(t, s.RemoveTag(ctx, "tn", "c1", "vip"))
	tags, err = s.ContactTags(ctx, "tn", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead"}, tags)
}

func TestMoveDealStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MoveDealStage(ctx, "tn", "d1", "s2"))
	deal, err := s.FindDeal(ctx, "d1", "tn")
	require.NoError(t, err)
	assert.Equal(t, "s2", deal.StageID)

	assert.ErrorIs(t, s.MoveDealStage(ctx, "other", "d1", "s3"), ErrNotFound)
}

func TestMessageStatusUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{TenantID: "tn", ConversationID: "conv1", Direction: "outbound", Content: "oi", Status: models.MessagePending}
	require.NoError(t, s.CreateMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	require.NoError(t, s.UpdateMessageStatus(ctx, msg.ID, models.MessageSent, "wamid.1", ""))
	require.NoError(t, s.UpdateStatusByExternalID(ctx, "wamid.1", "read"))

	msgs, err := s.ListMessages(ctx, "tn", "conv1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "read", msgs[0].Status)
	assert.Equal(t, "wamid.1", msgs[0].ExternalID)

	assert.ErrorIs(t, s.UpdateMessageStatus(ctx, "nope", models.MessageFailed, "", "x"), ErrNotFound)
}

func TestChannelByExternalID(t *testing.T) {
	s := newTestStore(t)

	ch, err := s.ChannelByExternalID(context.Background(), "1555")
	require.NoError(t, err)
	assert.Equal(t, "wa", ch.ID)

	_, err = s.ChannelByExternalID(context.Background(), "0000")
	assert.ErrorIs(t, err, ErrNotFound)
}
