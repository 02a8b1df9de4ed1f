package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-automation/internal/actions"
	"crm-automation/internal/automation"
	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

type AutomationHandler struct {
	store *automation.GormStore
}

func NewAutomationHandler(store *automation.GormStore) *AutomationHandler {
	return &AutomationHandler{store: store}
}

func (h *AutomationHandler) Register(r gin.IRouter) {
	r.GET("/automations", h.GetAutomations)
	r.POST("/automations", h.CreateAutomation)
	r.GET("/automations/analytics", h.GetAnalytics)
	r.GET("/automations/logs", h.GetLogs)
	r.GET("/automations/:id", h.GetAutomation)
	r.PUT("/automations/:id", h.UpdateAutomation)
	r.DELETE("/automations/:id", h.DeleteAutomation)
	r.PATCH("/automations/:id/status", h.SetStatus)
	r.GET("/automations/:id/logs", h.GetLogs)
	r.GET("/automations/:id/analytics", h.GetAnalytics)
}

type automationRequest struct {
	Name          string          `json:"name"`
	TriggerType   string          `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config"`
	Conditions    json.RawMessage `json:"conditions"`
	Actions       json.RawMessage `json:"actions"`
	Status        string          `json:"status"`
	Priority      *int            `json:"priority"`
}

func validStatus(s string) bool {
	switch s {
	case models.AutomationActive, models.AutomationPaused, models.AutomationDraft:
		return true
	}
	return false
}

// fields validates the request and returns the columns it sets. Malformed
// conditions or actions are rejected here so stored rules always decode.
func (req automationRequest) fields() (map[string]any, error) {
	out := map[string]any{}
	if req.Name != "" {
		out["name"] = req.Name
	}
	if req.TriggerType != "" {
		if !automation.TriggerType(req.TriggerType).Valid() {
			return nil, fmt.Errorf("unknown trigger type %q", req.TriggerType)
		}
		out["trigger_type"] = req.TriggerType
	}
	if len(req.TriggerConfig) > 0 {
		if _, err := automation.ParseTriggerConfig(string(req.TriggerConfig)); err != nil {
			return nil, err
		}
		out["trigger_config"] = string(req.TriggerConfig)
	}
	if len(req.Conditions) > 0 {
		conds, err := rules.ParseConditions(string(req.Conditions))
		if err != nil {
			return nil, err
		}
		if err := rules.ValidateAutomationConditions(conds); err != nil {
			return nil, err
		}
		out["conditions"] = string(req.Conditions)
	}
	if len(req.Actions) > 0 {
		decoded, err := actions.DecodeList(string(req.Actions))
		if err != nil {
			return nil, err
		}
		for i, d := range decoded {
			if d.Err != nil {
				return nil, fmt.Errorf("action %d: %w", i, d.Err)
			}
			if d.Action.Kind() == actions.KindSetVariable {
				return nil, fmt.Errorf("action %d: set_variable is only available in flows", i)
			}
		}
		out["actions"] = string(req.Actions)
	}
	if req.Status != "" {
		if !validStatus(req.Status) {
			return nil, fmt.Errorf("unknown status %q", req.Status)
		}
		out["status"] = req.Status
	}
	if req.Priority != nil {
		out["priority"] = *req.Priority
	}
	return out, nil
}

func (h *AutomationHandler) GetAutomations(c *gin.Context) {
	list, err := h.store.List(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []models.Automation{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" || req.TriggerType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and trigger_type are required"})
		return
	}
	if _, err := req.fields(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := models.Automation{
		TenantID:      tenantID(c),
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: string(req.TriggerConfig),
		Conditions:    string(req.Conditions),
		Actions:       string(req.Actions),
		Status:        req.Status,
	}
	if a.Status == "" {
		a.Status = models.AutomationDraft
	}
	if req.Priority != nil {
		a.Priority = *req.Priority
	}
	if err := h.store.Create(c.Request.Context(), &a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields, err := req.fields()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if err := h.store.Update(c.Request.Context(), tenantID(c), c.Param("id"), fields); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Automation updated"})
}

func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Automation deleted"})
}

// SetStatus activates, pauses or drafts an automation.
func (h *AutomationHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + req.Status})
		return
	}
	err := h.store.Update(c.Request.Context(), tenantID(c), c.Param("id"), map[string]any{"status": req.Status})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// GetLogs returns audit rows, for one automation when the path names it.
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	logs, err := h.store.ListLogs(c.Request.Context(), tenantID(c), c.Param("id"), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.AutomationExecutionLog{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	stats, err := h.store.Analytics(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AutomationHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, automation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
