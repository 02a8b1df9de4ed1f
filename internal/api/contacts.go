package api

import (
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crm-automation/internal/automation"
	"crm-automation/internal/crm"
	"crm-automation/internal/models"
	"crm-automation/internal/webhook"
)

type ContactHandler struct {
	store  *crm.Store
	events webhook.Enqueuer
	logger zerolog.Logger
}

func NewContactHandler(store *crm.Store, events webhook.Enqueuer, logger zerolog.Logger) *ContactHandler {
	return &ContactHandler{store: store, events: events, logger: logger.With().Str("component", "api").Logger()}
}

func (h *ContactHandler) Register(r gin.IRouter) {
	r.GET("/contacts", h.GetContacts)
	r.GET("/contacts/export", h.ExportContacts)
	r.GET("/contacts/:id/tags", h.GetTags)
	r.POST("/contacts/:id/tags", h.AddTag)
	r.DELETE("/contacts/:id/tags/:tagId", h.RemoveTag)
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	contacts, err := h.store.ListContacts(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

// contact loads the path contact, writing 404 when it is not the tenant's.
func (h *ContactHandler) contact(c *gin.Context) (*models.Contact, bool) {
	contact, err := h.store.FindContact(c.Request.Context(), c.Param("id"), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if contact == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return nil, false
	}
	return contact, true
}

func (h *ContactHandler) GetTags(c *gin.Context) {
	contact, ok := h.contact(c)
	if !ok {
		return
	}
	tags, err := h.store.ContactTags(c.Request.Context(), tenantID(c), contact.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tags == nil {
		tags = []string{}
	}
	c.JSON(http.StatusOK, tags)
}

type tagRequest struct {
	TagID string `json:"tag_id" binding:"required"`
}

// AddTag tags a contact and raises tag_added.
func (h *ContactHandler) AddTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, ok := h.contact(c)
	if !ok {
		return
	}
	if err := h.store.AddTag(c.Request.Context(), tenantID(c), contact.ID, req.TagID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.raise(automation.TriggerTagAdded, contact, req.TagID)
	c.JSON(http.StatusOK, gin.H{"status": "Tag added"})
}

// RemoveTag untags a contact and raises tag_removed.
func (h *ContactHandler) RemoveTag(c *gin.Context) {
	contact, ok := h.contact(c)
	if !ok {
		return
	}
	tagID := c.Param("tagId")
	if err := h.store.RemoveTag(c.Request.Context(), tenantID(c), contact.ID, tagID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.raise(automation.TriggerTagRemoved, contact, tagID)
	c.JSON(http.StatusOK, gin.H{"status": "Tag removed"})
}

func (h *ContactHandler) raise(trigger automation.TriggerType, contact *models.Contact, tagID string) {
	err := h.events.Enqueue(webhook.Event{
		Trigger: trigger,
		Context: automation.TriggerContext{
			TenantID:  contact.TenantID,
			ContactID: contact.ID,
			TagID:     tagID,
			Data: map[string]any{
				"contact": map[string]any{"id": contact.ID, "name": contact.Name, "phone": contact.Phone},
			},
		},
	})
	if err != nil {
		h.logger.Error().Err(err).Str("trigger", string(trigger)).Str("contact_id", contact.ID).Msg("event dropped")
	}
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	contacts, err := h.store.ListContacts(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"ID", "Name", "Phone", "Email", "Tags", "Created At"})
	for _, ct := range contacts {
		tags, err := h.store.ContactTags(c.Request.Context(), tenantID(c), ct.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = w.Write([]string{ct.ID, ct.Name, ct.Phone, ct.Email, strings.Join(tags, ";"), ct.CreatedAt.Format(time.RFC3339)})
	}
	w.Flush()

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.String(http.StatusOK, buf.String())
}
