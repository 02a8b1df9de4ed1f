package automation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"crm-automation/internal/models"
)

var ErrNotFound = errors.New("automation not found")

// Store is what the trigger engine needs from persistence.
type Store interface {
	ListActive(ctx context.Context, tenantID string, triggerType TriggerType) ([]models.Automation, error)
	AppendLog(ctx context.Context, entry *models.AutomationExecutionLog) error
	MarkRun(ctx context.Context, automationID string, at time.Time) error
}

type GormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ListActive returns active automations for the tenant and trigger, lowest priority first.
func (s *GormStore) ListActive(ctx context.Context, tenantID string, triggerType TriggerType) ([]models.Automation, error) {
	var list []models.Automation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND trigger_type = ? AND status = ?", tenantID, string(triggerType), models.AutomationActive).
		Order("priority ASC, created_at ASC").
		Find(&list).Error
	return list, err
}

func (s *GormStore) AppendLog(ctx context.Context, entry *models.AutomationExecutionLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// MarkRun bumps run_count in SQL so concurrent firings do not lose increments.
func (s *GormStore) MarkRun(ctx context.Context, automationID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ?", automationID).
		Updates(map[string]any{
			"run_count":   gorm.Expr("run_count + 1"),
			"last_run_at": at,
		}).Error
}

func (s *GormStore) List(ctx context.Context, tenantID string) ([]models.Automation, error) {
	var list []models.Automation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority ASC, created_at DESC").
		Find(&list).Error
	return list, err
}

func (s *GormStore) Get(ctx context.Context, tenantID, id string) (*models.Automation, error) {
	var a models.Automation
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *GormStore) Create(ctx context.Context, a *models.Automation) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// Update applies a partial column map scoped to the tenant.
func (s *GormStore) Update(ctx context.Context, tenantID, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.Automation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLogs returns the newest audit rows first. An empty automationID lists the whole tenant.
func (s *GormStore) ListLogs(ctx context.Context, tenantID, automationID string, limit int) ([]models.AutomationExecutionLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if automationID != "" {
		q = q.Where("automation_id = ?", automationID)
	}
	var logs []models.AutomationExecutionLog
	err := q.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

type Analytics struct {
	TotalAutomations  int64   `json:"total_automations"`
	ActiveAutomations int64   `json:"active_automations"`
	TotalExecutions   int64   `json:"total_executions"`
	Successful        int64   `json:"successful_executions"`
	Partial           int64   `json:"partial_executions"`
	Failed            int64   `json:"failed_executions"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
}

// Analytics aggregates audit rows by overall status.
func (s *GormStore) Analytics(ctx context.Context, tenantID, automationID string) (*Analytics, error) {
	var out Analytics
	db := s.db.WithContext(ctx)

	automations := func() *gorm.DB {
		q := db.Model(&models.Automation{}).Where("tenant_id = ?", tenantID)
		if automationID != "" {
			q = q.Where("id = ?", automationID)
		}
		return q
	}
	if err := automations().Count(&out.TotalAutomations).Error; err != nil {
		return nil, err
	}
	if err := automations().Where("status = ?", models.AutomationActive).Count(&out.ActiveAutomations).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Status string
		Count  int64
		AvgMs  float64
	}
	logQ := db.Model(&models.AutomationExecutionLog{}).Where("tenant_id = ?", tenantID)
	if automationID != "" {
		logQ = logQ.Where("automation_id = ?", automationID)
	}
	err := logQ.Select("status, COUNT(*) AS count, AVG(duration_ms) AS avg_ms").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var weighted float64
	for _, r := range rows {
		out.TotalExecutions += r.Count
		weighted += r.AvgMs * float64(r.Count)
		switch r.Status {
		case models.LogSuccess:
			out.Successful = r.Count
		case models.LogPartial:
			out.Partial = r.Count
		case models.LogError:
			out.Failed = r.Count
		}
	}
	if out.TotalExecutions > 0 {
		out.AvgDurationMs = weighted / float64(out.TotalExecutions)
	}
	return &out, nil
}
