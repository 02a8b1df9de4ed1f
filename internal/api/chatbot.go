package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crm-automation/internal/chatbot"
	"crm-automation/internal/models"
)

type ChatbotHandler struct {
	bots *chatbot.Store
}

func NewChatbotHandler(bots *chatbot.Store) *ChatbotHandler {
	return &ChatbotHandler{bots: bots}
}

func (h *ChatbotHandler) Register(r gin.IRouter) {
	r.GET("/chatbots", h.GetChatbots)
	r.POST("/chatbots", h.CreateChatbot)
	r.GET("/chatbots/:id", h.GetChatbot)
	r.PUT("/chatbots/:id", h.UpdateChatbot)
	r.PATCH("/chatbots/:id/active", h.ToggleChatbot)
	r.DELETE("/chatbots/:id", h.DeleteChatbot)
}

// chatbotResponse is the editor shape of a bot plus its identity.
type chatbotResponse struct {
	ID string `json:"id"`
	chatbot.Definition
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *ChatbotHandler) GetChatbots(c *gin.Context) {
	bots, err := h.bots.List(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bots == nil {
		bots = []models.Chatbot{}
	}
	c.JSON(http.StatusOK, bots)
}

func (h *ChatbotHandler) GetChatbot(c *gin.Context) {
	bot, err := h.bots.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, bot)
}

func (h *ChatbotHandler) CreateChatbot(c *gin.Context) {
	var def chatbot.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if def.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	bot, err := def.Model(tenantID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.bots.Create(c.Request.Context(), bot); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusCreated, bot)
}

// UpdateChatbot replaces the bot settings and its whole graph.
func (h *ChatbotHandler) UpdateChatbot(c *gin.Context) {
	var def chatbot.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bot, err := def.Model(tenantID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.bots.ReplaceGraph(ctx, tenantID(c), id, bot.Nodes, bot.Edges); err != nil {
		h.fail(c, err)
		return
	}
	fields := map[string]any{
		"channel_id":     bot.ChannelID,
		"trigger_type":   bot.TriggerType,
		"trigger_config": bot.TriggerConfig,
		"is_active":      bot.IsActive,
	}
	if bot.Name != "" {
		fields["name"] = bot.Name
	}
	if err := h.bots.Update(ctx, tenantID(c), id, fields); err != nil {
		h.fail(c, err)
		return
	}

	stored, err := h.bots.Get(ctx, tenantID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, stored)
}

func (h *ChatbotHandler) ToggleChatbot(c *gin.Context) {
	var req struct {
		IsActive bool `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.bots.Update(c.Request.Context(), tenantID(c), c.Param("id"), map[string]any{"is_active": req.IsActive})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isActive": req.IsActive})
}

func (h *ChatbotHandler) DeleteChatbot(c *gin.Context) {
	if err := h.bots.Delete(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chatbot deleted"})
}

func (h *ChatbotHandler) respond(c *gin.Context, status int, bot *models.Chatbot) {
	def, err := chatbot.DefinitionFromModel(bot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, chatbotResponse{ID: bot.ID, Definition: *def, CreatedAt: bot.CreatedAt, UpdatedAt: bot.UpdatedAt})
}

func (h *ChatbotHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chatbot.ErrChatbotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chatbot.ErrInvalidGraph), errors.Is(err, chatbot.ErrNoStartNode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
