package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crm-automation/internal/models"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal statuses are kept for history and never resumed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ActiveStatuses are the non-terminal ledger states.
var ActiveStatuses = []Status{StatusRunning, StatusWaiting, StatusPaused}

var (
	ErrNotFound = errors.New("execution not found")
	// ErrConflict means the row changed since it was read.
	ErrConflict = errors.New("execution was modified concurrently")
)

// LastUserMessageVar is the reserved variable holding the latest inbound text.
const LastUserMessageVar = "_lastUserMessage"

type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Execution is one chatbot running against one conversation.
type Execution struct {
	ID             string         `json:"id"`
	ChatbotID      string         `json:"chatbot_id"`
	ConversationID string         `json:"conversation_id"`
	ContactID      string         `json:"contact_id"`
	TenantID       string         `json:"tenant_id"`
	ChannelID      string         `json:"channel_id"`
	CurrentNodeID  string         `json:"current_node_id"`
	Variables      map[string]any `json:"variables"`
	History        []HistoryEntry `json:"message_history"`
	Status         Status         `json:"status"`
	Error          string         `json:"error,omitempty"`
	Revision       string         `json:"revision"`
	TimerID        string         `json:"timer_id,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Ledger persists executions. Every write after the initial upsert is a
// compare-and-swap on Revision.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Upsert writes a fresh execution for (chatbot, conversation), replacing any
// previous row for the pair. exec.ID and exec.Revision are refreshed from the
// stored row, which keeps the original id on conflict.
func (l *Ledger) Upsert(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	exec.Revision = uuid.NewString()
	row, err := toRow(exec)
	if err != nil {
		return err
	}

	err = l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chatbot_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"contact_id", "tenant_id", "channel_id", "current_node_id", "variables",
			"message_history", "status", "error", "revision", "timer_id", "started_at", "completed_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}

	stored, err := l.GetByPair(ctx, exec.ChatbotID, exec.ConversationID)
	if err != nil {
		return err
	}
	*exec = *stored
	return nil
}

// Save writes exec if nobody else changed the row since it was read.
func (l *Ledger) Save(ctx context.Context, exec *Execution) error {
	row, err := toRow(exec)
	if err != nil {
		return err
	}
	next := uuid.NewString()

	res := l.db.WithContext(ctx).Model(&models.ChatbotExecution{}).
		Where("id = ? AND revision = ?", exec.ID, exec.Revision).
		Updates(map[string]any{
			"current_node_id": row.CurrentNodeID,
			"variables":       row.Variables,
			"message_history": row.MessageHistory,
			"status":          row.Status,
			"error":           row.Error,
			"completed_at":    row.CompletedAt,
			"timer_id":        row.TimerID,
			"revision":        next,
			"updated_at":      row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("save execution: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	exec.Revision = next
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Execution, error) {
	return l.first(l.db.WithContext(ctx).Where("id = ?", id))
}

func (l *Ledger) GetByPair(ctx context.Context, chatbotID, conversationID string) (*Execution, error) {
	return l.first(l.db.WithContext(ctx).Where("chatbot_id = ? AND conversation_id = ?", chatbotID, conversationID))
}

// FindActive returns the most recently touched non-terminal execution of the
// conversation, or ErrNotFound.
func (l *Ledger) FindActive(ctx context.Context, tenantID, conversationID string) (*Execution, error) {
	return l.first(l.db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ? AND status IN ?", tenantID, conversationID, activeStatusValues()).
		Order("updated_at DESC"))
}

// Stale returns running executions last written before cutoff. A walk writes
// the ledger on every node, so these rows belong to a walk that died.
func (l *Ledger) Stale(ctx context.Context, cutoff time.Time, limit int) ([]*Execution, error) {
	var rows []models.ChatbotExecution
	err := l.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(StatusRunning), cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load stale executions: %w", err)
	}
	out := make([]*Execution, 0, len(rows))
	for i := range rows {
		exec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

type ListFilter struct {
	TenantID  string
	ChatbotID string
	Status    Status
	Limit     int
}

func (l *Ledger) List(ctx context.Context, f ListFilter) ([]*Execution, error) {
	q := l.db.WithContext(ctx).Model(&models.ChatbotExecution{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.ChatbotID != "" {
		q = q.Where("chatbot_id = ?", f.ChatbotID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows []models.ChatbotExecution
	if err := q.Order("updated_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Execution, 0, len(rows))
	for i := range rows {
		exec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

func activeStatusValues() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func (l *Ledger) first(q *gorm.DB) (*Execution, error) {
	var row models.ChatbotExecution
	err := q.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func toRow(exec *Execution) (*models.ChatbotExecution, error) {
	vars := exec.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	history := exec.History
	if history == nil {
		history = []HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode message history: %w", err)
	}
	return &models.ChatbotExecution{
		ID:             exec.ID,
		ChatbotID:      exec.ChatbotID,
		ConversationID: exec.ConversationID,
		ContactID:      exec.ContactID,
		TenantID:       exec.TenantID,
		ChannelID:      exec.ChannelID,
		CurrentNodeID:  exec.CurrentNodeID,
		Variables:      string(varsJSON),
		MessageHistory: string(historyJSON),
		Status:         string(exec.Status),
		Error:          exec.Error,
		Revision:       exec.Revision,
		TimerID:        exec.TimerID,
		StartedAt:      exec.StartedAt,
		CompletedAt:    exec.CompletedAt,
		UpdatedAt:      exec.UpdatedAt,
	}, nil
}

func fromRow(row *models.ChatbotExecution) (*Execution, error) {
	exec := &Execution{
		ID:             row.ID,
		ChatbotID:      row.ChatbotID,
		ConversationID: row.ConversationID,
		ContactID:      row.ContactID,
		TenantID:       row.TenantID,
		ChannelID:      row.ChannelID,
		CurrentNodeID:  row.CurrentNodeID,
		Variables:      map[string]any{},
		Status:         Status(row.Status),
		Error:          row.Error,
		Revision:       row.Revision,
		TimerID:        row.TimerID,
		StartedAt:      row.StartedAt,
		CompletedAt:    row.CompletedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.Variables != "" {
		if err := json.Unmarshal([]byte(row.Variables), &exec.Variables); err != nil {
			return nil, fmt.Errorf("decode variables of %s: %w", row.ID, err)
		}
	}
	if row.MessageHistory != "" {
		if err := json.Unmarshal([]byte(row.MessageHistory), &exec.History); err != nil {
			return nil, fmt.Errorf("decode message history of %s: %w", row.ID, err)
		}
	}
	return exec, nil
}
