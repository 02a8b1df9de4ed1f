// Package automation fires tenant rules on domain events.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crm-automation/internal/actions"
	"crm-automation/internal/metrics"
	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

// ActionRunner performs a single decoded action.
type ActionRunner interface {
	Execute(ctx context.Context, action actions.Action, scope *actions.Scope) error
}

// Observer is told about every audit row after it is written.
type Observer interface {
	AutomationFired(entry *models.AutomationExecutionLog)
}

// ActionResult is one element of the audit row's results list.
type ActionResult struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Engine struct {
	store    Store
	runner   ActionRunner
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, runner ActionRunner, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		runner: runner,
		logger: logger.With().Str("component", "automation").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessTrigger runs every matching active automation for the event, in
// ascending priority, and returns how many fired. It never fails the caller.
func (e *Engine) ProcessTrigger(ctx context.Context, triggerType TriggerType, tc TriggerContext) int {
	logger := e.logger.With().
		Str("tenant_id", tc.TenantID).
		Str("trigger_type", string(triggerType)).
		Logger()

	candidates, err := e.store.ListActive(ctx, tc.TenantID, triggerType)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load automations")
		return 0
	}

	fired := 0
	for i := range candidates {
		if e.fire(ctx, logger, &candidates[i], triggerType, tc) {
			fired++
		}
	}
	if fired > 0 {
		logger.Info().Int("candidates", len(candidates)).Int("fired", fired).Msg("trigger processed")
	}
	return fired
}

func (e *Engine) fire(ctx context.Context, logger zerolog.Logger, a *models.Automation, triggerType TriggerType, tc TriggerContext) bool {
	logger = logger.With().Str("automation_id", a.ID).Logger()

	cfg, err := ParseTriggerConfig(a.TriggerConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("skipping automation with unreadable trigger config")
		metrics.AutomationSkips.WithLabelValues(string(triggerType), "invalid_config").Inc()
		return false
	}
	if !MatchesTriggerConfig(triggerType, cfg, tc) {
		logger.Debug().Msg("trigger config did not match")
		metrics.AutomationSkips.WithLabelValues(string(triggerType), "trigger_config").Inc()
		return false
	}

	conditions, err := rules.ParseConditions(a.Conditions)
	if err != nil {
		logger.Warn().Err(err).Msg("skipping automation with unreadable conditions")
		metrics.AutomationSkips.WithLabelValues(string(triggerType), "invalid_conditions").Inc()
		return false
	}
	if !rules.Evaluate(conditions, tc) {
		logger.Debug().Msg("conditions did not match")
		metrics.AutomationSkips.WithLabelValues(string(triggerType), "conditions").Inc()
		return false
	}

	start := e.now()
	results, pipelineErr := e.run(ctx, logger, a, tc)
	status := overallStatus(results, pipelineErr)

	entry := &models.AutomationExecutionLog{
		TenantID:     tc.TenantID,
		AutomationID: a.ID,
		TriggerType:  string(triggerType),
		Context:      marshalText(tc.Fields()),
		Results:      marshalText(results),
		Status:       status,
		DurationMs:   e.now().Sub(start).Milliseconds(),
	}
	if pipelineErr != nil {
		entry.Error = pipelineErr.Error()
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("failed to write automation log")
	}
	if err := e.store.MarkRun(ctx, a.ID, start); err != nil {
		logger.Error().Err(err).Msg("failed to update run count")
	}

	metrics.AutomationFirings.WithLabelValues(string(triggerType), status).Inc()
	if e.observer != nil {
		e.observer.AutomationFired(entry)
	}
	logger.Info().Str("status", status).Int("actions", len(results)).Msg("automation fired")
	return true
}

// run executes the action list in order. A failing action is recorded and the
// next one still runs.
func (e *Engine) run(ctx context.Context, logger zerolog.Logger, a *models.Automation, tc TriggerContext) (results []ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	decoded, err := actions.DecodeList(a.Actions)
	if err != nil {
		return nil, err
	}

	scope := &actions.Scope{
		TenantID:       tc.TenantID,
		ConversationID: tc.ConversationID,
		ContactID:      tc.ContactID,
		ChannelID:      tc.ChannelID,
		DealID:         tc.DealID,
		SenderType:     "automation",
		Lookup:         tc,
		Payload:        tc.Fields(),
	}

	for _, d := range decoded {
		res := ActionResult{Action: d.Type, Status: models.LogSuccess}
		actionErr := d.Err
		if actionErr == nil {
			actionErr = e.runner.Execute(ctx, d.Action, scope)
		}
		if actionErr != nil {
			res.Status = models.LogError
			res.Error = actionErr.Error()
			logger.Warn().Err(actionErr).Str("action", d.Type).Msg("automation action failed")
		}
		results = append(results, res)
	}
	return results, nil
}

func overallStatus(results []ActionResult, pipelineErr error) string {
	if pipelineErr != nil && len(results) == 0 {
		return models.LogError
	}
	failed := 0
	for _, r := range results {
		if r.Status == models.LogError {
			failed++
		}
	}
	switch {
	case len(results) > 0 && failed == len(results):
		return models.LogError
	case failed > 0 || pipelineErr != nil:
		return models.LogPartial
	default:
		return models.LogSuccess
	}
}

func marshalText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
