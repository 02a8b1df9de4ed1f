package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crm-automation/internal/actions"
	"crm-automation/internal/automation"
	"crm-automation/internal/crm"
	"crm-automation/internal/models"
	"crm-automation/internal/webhook"
)

// MessageSender is the operator path into outbound delivery.
type MessageSender interface {
	SendMessage(ctx context.Context, scope *actions.Scope, a actions.SendMessage) (*models.Message, error)
}

// ConversationHandler serves the inbox: history, operator replies, assignment
// and resolution.
type ConversationHandler struct {
	store  *crm.Store
	sender MessageSender
	events webhook.Enqueuer
	logger zerolog.Logger
}

func NewConversationHandler(store *crm.Store, sender MessageSender, events webhook.Enqueuer, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  store,
		sender: sender,
		events: events,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

func (h *ConversationHandler) Register(r gin.IRouter) {
	r.GET("/conversations/:id/messages", h.GetMessages)
	r.POST("/conversations/:id/messages", h.SendMessage)
	r.POST("/conversations/:id/assign", h.Assign)
	r.POST("/conversations/:id/resolve", h.Resolve)
}

func (h *ConversationHandler) conversation(c *gin.Context) (*models.Conversation, bool) {
	conv, err := h.store.FindConversation(c.Request.Context(), c.Param("id"), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return nil, false
	}
	return conv, true
}

func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), tenantID(c), conv.ID, queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

type SendRequest struct {
	Content  string `json:"content"`
	MediaURL string `json:"media_url"`
}

// SendMessage queues an operator reply on the conversation's channel.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.MediaURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or media_url is required"})
		return
	}
	conv, ok := h.conversation(c)
	if !ok {
		return
	}

	msg, err := h.sender.SendMessage(c.Request.Context(), &actions.Scope{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		ChannelID:      conv.ChannelID,
		SenderType:     "user",
	}, actions.SendMessage{Text: req.Content, MediaURL: req.MediaURL})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, actions.ErrMissingChannel) || errors.Is(err, actions.ErrMissingContact) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": "Failed to send message: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

func (h *ConversationHandler) Assign(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.store.AssignConversation(c.Request.Context(), tenantID(c), c.Param("id"), req.UserID)
	if errors.Is(err, crm.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation assigned"})
}

// Resolve closes an open conversation and raises conversation_resolved.
func (h *ConversationHandler) Resolve(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	closed, err := h.store.CloseConversation(c.Request.Context(), conv.TenantID, conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !closed {
		c.JSON(http.StatusConflict, gin.H{"error": "Conversation is not open"})
		return
	}

	err = h.events.Enqueue(webhook.Event{
		Trigger: automation.TriggerConversationResolved,
		Context: automation.TriggerContext{
			TenantID:       conv.TenantID,
			ConversationID: conv.ID,
			ContactID:      conv.ContactID,
			ChannelID:      conv.ChannelID,
		},
	})
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("event dropped")
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation resolved"})
}
