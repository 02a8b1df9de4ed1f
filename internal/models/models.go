package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Automation status values.
const (
	AutomationActive = "active"
	AutomationPaused = "paused"
	AutomationDraft  = "draft"
)

// Automation is a tenant rule fired by a domain event.
type Automation struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID      string     `gorm:"type:varchar(64);not null;index:idx_automations_lookup,priority:1" json:"tenant_id"`
	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	TriggerType   string     `gorm:"type:varchar(50);not null;index:idx_automations_lookup,priority:2" json:"trigger_type"`
	TriggerConfig string     `gorm:"type:text" json:"trigger_config"` // JSON filter map
	Conditions    string     `gorm:"type:text" json:"conditions"`     // JSON [{field,operator,value}]
	Actions       string     `gorm:"type:text" json:"actions"`        // JSON [{type,...params}]
	Status        string     `gorm:"type:varchar(20);default:'draft';index:idx_automations_lookup,priority:3" json:"status"`
	Priority      int        `gorm:"default:0" json:"priority"`
	RunCount      int64      `gorm:"default:0" json:"run_count"`
	LastRunAt     *time.Time `json:"last_run_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Automation) TableName() string {
	return "automations"
}

func (a *Automation) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Automation execution log status values.
const (
	LogSuccess = "success"
	LogPartial = "partial"
	LogError   = "error"
)

// AutomationExecutionLog is the append-only audit row written once per firing.
type AutomationExecutionLog struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID     string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	AutomationID string    `gorm:"type:varchar(36);not null;index" json:"automation_id"`
	TriggerType  string    `gorm:"type:varchar(50)" json:"trigger_type"`
	Context      string    `gorm:"type:text" json:"context"` // JSON snapshot of the trigger context
	Results      string    `gorm:"type:text" json:"results"` // JSON [{action,status,error}]
	Status       string    `gorm:"type:varchar(20);index" json:"status"`
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AutomationExecutionLog) TableName() string {
	return "automation_execution_logs"
}

func (l *AutomationExecutionLog) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Chatbot trigger types.
const (
	ChatbotTriggerKeyword  = "keyword"
	ChatbotTriggerAlways   = "always"
	ChatbotTriggerSchedule = "schedule"
)

// Chatbot is a flow definition, optionally bound to one channel.
type Chatbot struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID      string     `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	ChannelID     string     `gorm:"type:varchar(64);index" json:"channel_id"`
	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	TriggerType   string     `gorm:"type:varchar(20);not null" json:"trigger_type"`
	TriggerConfig string     `gorm:"type:text" json:"trigger_config"` // JSON {keywords, matchMode}
	IsActive      bool       `gorm:"default:false" json:"is_active"`
	Nodes         []FlowNode `gorm:"foreignKey:ChatbotID;constraint:OnDelete:CASCADE;" json:"nodes,omitempty"`
	Edges         []FlowEdge `gorm:"foreignKey:ChatbotID;constraint:OnDelete:CASCADE;" json:"edges,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

func (c *Chatbot) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type FlowNode struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ChatbotID string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_flow_nodes_chatbot_node,priority:1" json:"chatbot_id"`
	NodeID    string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_flow_nodes_chatbot_node,priority:2" json:"node_id"`
	Type      string    `gorm:"type:varchar(20);not null" json:"type"`
	Config    string    `gorm:"type:text" json:"config"` // type specific JSON
	PositionX float64   `json:"position_x"`
	PositionY float64   `json:"position_y"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (FlowNode) TableName() string {
	return "flow_nodes"
}

type FlowEdge struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	ChatbotID    string `gorm:"type:varchar(36);not null;index" json:"chatbot_id"`
	EdgeID       string `gorm:"type:varchar(255)" json:"edge_id"`
	SourceNodeID string `gorm:"type:varchar(255);not null" json:"source_node_id"`
	TargetNodeID string `gorm:"type:varchar(255);not null" json:"target_node_id"`
	Condition    string `gorm:"type:text" json:"condition"` // empty = fallback edge
	SortOrder    int    `gorm:"default:0" json:"sort_order"`
}

func (FlowEdge) TableName() string {
	return "flow_edges"
}

// ChatbotExecution is the Execution Ledger row for one (chatbot, conversation) pair.
type ChatbotExecution struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)"`
	ChatbotID      string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_chatbot_executions_pair,priority:1"`
	ConversationID string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_chatbot_executions_pair,priority:2;index"`
	ContactID      string     `gorm:"type:varchar(64)"`
	TenantID       string     `gorm:"type:varchar(64);not null;index"`
	ChannelID      string     `gorm:"type:varchar(64)"`
	CurrentNodeID  string     `gorm:"type:varchar(255)"`
	Variables      string     `gorm:"type:text"` // JSON object
	MessageHistory string     `gorm:"type:text"` // JSON [{role,content,timestamp}]
	Status         string     `gorm:"type:varchar(20);not null;index"`
	Error          string     `gorm:"type:text"`
	Revision       string     `gorm:"type:varchar(36);not null"`
	TimerID        string     `gorm:"type:varchar(36)"` // delay timer the row is paused on
	StartedAt      time.Time  `gorm:"not null"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

func (ChatbotExecution) TableName() string {
	return "chatbot_executions"
}

// Flow timer status values.
const (
	TimerPending   = "pending"
	TimerFiring    = "firing"
	TimerFired     = "fired"
	TimerCancelled = "cancelled"
)

// FlowTimer is a durable resumption point for a paused execution.
type FlowTimer struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	ExecutionID string     `gorm:"type:varchar(36);not null;index"`
	NodeID      string     `gorm:"type:varchar(255);not null"`
	FireAt      time.Time  `gorm:"not null;index"`
	Status      string     `gorm:"type:varchar(20);not null;index"`
	ClaimedAt   *time.Time `gorm:"column:claimed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

func (FlowTimer) TableName() string {
	return "flow_timers"
}
