// Package webhook is the event ingress: the WhatsApp Cloud API webhook and
// the generic message and CRM event endpoints. Events are queued per
// conversation and dispatched to the automation and flow engines.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crm-automation/internal/automation"
	"crm-automation/internal/crm"
	"crm-automation/internal/models"
)

// Inbox persists what the Cloud API webhook receives.
type Inbox interface {
	ChannelByExternalID(ctx context.Context, externalID string) (*models.Channel, error)
	EnsureContact(ctx context.Context, tenantID, phone, name string) (*models.Contact, bool, error)
	EnsureConversation(ctx context.Context, tenantID, channelID, contactID string) (*models.Conversation, bool, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateStatusByExternalID(ctx context.Context, externalID, status string) error
}

type Enqueuer interface {
	Enqueue(event Event) error
}

type Handler struct {
	verifyToken string
	inbox       Inbox
	events      Enqueuer
	logger      zerolog.Logger
}

func NewHandler(verifyToken string, inbox Inbox, events Enqueuer, logger zerolog.Logger) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		inbox:       inbox,
		events:      events,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.HandleMessage)
	r.POST("/api/events/messages", h.HandleMessageEvent)
	r.POST("/api/events/crm", h.HandleCRMEvent)
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		h.logger.Info().Msg("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleMessage ingests a Cloud API callback. It always answers 200 once the
// body parses, so the provider does not redeliver what was already stored.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload CloudPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn().Err(err).Msg("invalid webhook payload")
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.ingest(ctx, change.Value)
		}
	}
	c.Status(http.StatusOK)
}

func (h *Handler) ingest(ctx context.Context, value CloudValue) {
	for _, st := range value.Statuses {
		if err := h.inbox.UpdateStatusByExternalID(ctx, st.ID, st.Status); err != nil {
			h.logger.Error().Err(err).Str("external_id", st.ID).Msg("failed to apply status callback")
		}
	}
	if len(value.Messages) == 0 {
		return
	}

	channel, err := h.inbox.ChannelByExternalID(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			h.logger.Warn().Str("phone_number_id", value.Metadata.PhoneNumberID).Msg("message for unknown channel dropped")
		} else {
			h.logger.Error().Err(err).Msg("channel lookup failed")
		}
		return
	}

	names := make(map[string]string, len(value.Contacts))
	for _, ct := range value.Contacts {
		names[ct.WaID] = ct.Profile.Name
	}

	for _, m := range value.Messages {
		if err := h.ingestMessage(ctx, channel, m, names[m.From]); err != nil {
			h.logger.Error().Err(err).Str("external_id", m.ID).Msg("failed to ingest message")
		}
	}
}

func (h *Handler) ingestMessage(ctx context.Context, channel *models.Channel, m CloudMessage, name string) error {
	contact, newContact, err := h.inbox.EnsureContact(ctx, channel.TenantID, m.From, name)
	if err != nil {
		return err
	}
	conv, newConv, err := h.inbox.EnsureConversation(ctx, channel.TenantID, channel.ID, contact.ID)
	if err != nil {
		return err
	}

	content := m.Content()
	msg := &models.Message{
		TenantID:       channel.TenantID,
		ConversationID: conv.ID,
		ChannelID:      channel.ID,
		Direction:      "inbound",
		SenderType:     "contact",
		Content:        content,
		Status:         models.MessageReceived,
		ExternalID:     m.ID,
	}
	if err := h.inbox.CreateMessage(ctx, msg); err != nil {
		return err
	}
	h.logger.Debug().Str("from", m.From).Str("type", m.Type).Str("conversation_id", conv.ID).Msg("message received")

	tc := automation.TriggerContext{
		TenantID:       channel.TenantID,
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		ChannelID:      channel.ID,
		Data: map[string]any{
			"contact": map[string]any{"id": contact.ID, "name": contact.Name, "phone": contact.Phone},
		},
	}
	if newContact {
		h.enqueue(Event{Trigger: automation.TriggerContactCreated, Context: tc})
	}
	if newConv {
		h.enqueue(Event{Trigger: automation.TriggerConversationOpened, Context: tc})
	}
	tc.MessageText = content
	h.enqueue(Event{Trigger: automation.TriggerMessageReceived, Context: tc})
	return nil
}

func (h *Handler) enqueue(event Event) {
	if err := h.events.Enqueue(event); err != nil {
		h.logger.Error().Err(err).
			Str("trigger", string(event.Trigger)).
			Str("conversation_id", event.Context.ConversationID).
			Msg("event dropped")
	}
}

// MessageEvent is an inbound message already stored by another ingress.
type MessageEvent struct {
	TenantID       string         `json:"tenant_id" binding:"required"`
	ConversationID string         `json:"conversation_id" binding:"required"`
	ContactID      string         `json:"contact_id"`
	ChannelID      string         `json:"channel_id"`
	Text           string         `json:"text"`
	Data           map[string]any `json:"data"`
}

func (h *Handler) HandleMessageEvent(c *gin.Context) {
	var req MessageEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.events.Enqueue(Event{
		Trigger: automation.TriggerMessageReceived,
		Context: automation.TriggerContext{
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			ContactID:      req.ContactID,
			ChannelID:      req.ChannelID,
			MessageText:    req.Text,
			Data:           req.Data,
		},
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// CRMEvent is a domain event raised by the CRM: tags, deals, conversations.
type CRMEvent struct {
	Type           automation.TriggerType `json:"type" binding:"required"`
	TenantID       string                 `json:"tenant_id" binding:"required"`
	ConversationID string                 `json:"conversation_id"`
	ContactID      string                 `json:"contact_id"`
	ChannelID      string                 `json:"channel_id"`
	DealID         string                 `json:"deal_id"`
	TagID          string                 `json:"tag_id"`
	PipelineID     string                 `json:"pipeline_id"`
	FromStageID    string                 `json:"from_stage_id"`
	ToStageID      string                 `json:"to_stage_id"`
	Data           map[string]any         `json:"data"`
}

func (h *Handler) HandleCRMEvent(c *gin.Context) {
	var req CRMEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.Valid() || req.Type == automation.TriggerMessageReceived {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported event type " + string(req.Type)})
		return
	}
	err := h.events.Enqueue(Event{
		Trigger: req.Type,
		Context: automation.TriggerContext{
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			ContactID:      req.ContactID,
			ChannelID:      req.ChannelID,
			DealID:         req.DealID,
			TagID:          req.TagID,
			PipelineID:     req.PipelineID,
			FromStageID:    req.FromStageID,
			ToStageID:      req.ToStageID,
			Data:           req.Data,
		},
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
