package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-automation/internal/chatbot"
)

type ExecutionHandler struct {
	engine *chatbot.Engine
}

func NewExecutionHandler(engine *chatbot.Engine) *ExecutionHandler {
	return &ExecutionHandler{engine: engine}
}

func (h *ExecutionHandler) Register(r gin.IRouter) {
	r.GET("/executions", h.GetExecutions)
	r.GET("/executions/:id", h.GetExecution)
	r.GET("/executions/:id/timers", h.GetTimers)
	r.POST("/executions/:id/terminate", h.TerminateExecution)
}

// GetExecutions lists ledger rows, filtered by ?chatbot_id= and ?status=.
func (h *ExecutionHandler) GetExecutions(c *gin.Context) {
	list, err := h.engine.Ledger().List(c.Request.Context(), chatbot.ListFilter{
		TenantID:  tenantID(c),
		ChatbotID: c.Query("chatbot_id"),
		Status:    chatbot.Status(c.Query("status")),
		Limit:     queryLimit(c, 100),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	exec, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (h *ExecutionHandler) GetTimers(c *gin.Context) {
	exec, ok := h.load(c)
	if !ok {
		return
	}
	timers, err := h.engine.Timers().ForExecution(c.Request.Context(), exec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, timers)
}

type terminateRequest struct {
	Status chatbot.Status `json:"status"`
	Reason string         `json:"reason"`
}

// TerminateExecution force-ends an execution; status defaults to completed.
func (h *ExecutionHandler) TerminateExecution(c *gin.Context) {
	var req terminateRequest
	// an empty body takes the defaults
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = chatbot.StatusCompleted
	}
	if req.Status != chatbot.StatusCompleted && req.Status != chatbot.StatusError {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed or error"})
		return
	}
	if _, ok := h.load(c); !ok {
		return
	}

	exec, err := h.engine.Terminate(c.Request.Context(), c.Param("id"), req.Status, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// load fetches the path execution and hides other tenants' rows.
func (h *ExecutionHandler) load(c *gin.Context) (*chatbot.Execution, bool) {
	exec, err := h.engine.Ledger().Get(c.Request.Context(), c.Param("id"))
	if err == nil && exec.TenantID != tenantID(c) {
		err = chatbot.ErrNotFound
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return exec, true
}

func (h *ExecutionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chatbot.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chatbot.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
