package automation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-automation/internal/actions"
	"crm-automation/internal/database"
	"crm-automation/internal/models"
)

type recordingRunner struct {
	ran    []actions.Action
	failOn actions.Kind
}

func (r *recordingRunner) Execute(_ context.Context, a actions.Action, _ *actions.Scope) error {
	if a.Kind() == r.failOn {
		return &actions.ActionError{Kind: a.Kind(), Err: errors.New("crm unavailable")}
	}
	r.ran = append(r.ran, a)
	return nil
}

type captureObserver struct {
	entries []*models.AutomationExecutionLog
}

func (o *captureObserver) AutomationFired(entry *models.AutomationExecutionLog) {
	o.entries = append(o.entries, entry)
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := database.OpenAndMigrate("sqlite", filepath.Join(t.TempDir(), "automation.db"))
	require.NoError(t, err)
	return NewStore(db)
}

func seedAutomation(t *testing.T, store *GormStore, a models.Automation) *models.Automation {
	t.Helper()
	if a.TenantID == "" {
		a.TenantID = "tn"
	}
	if a.Status == "" {
		a.Status = models.AutomationActive
	}
	require.NoError(t, store.Create(context.Background(), &a))
	return &a
}

func logsFor(t *testing.T, store *GormStore, automationID string) []models.AutomationExecutionLog {
	t.Helper()
	logs, err := store.ListLogs(context.Background(), "tn", automationID, 0)
	require.NoError(t, err)
	return logs
}

func TestProcessTriggerIsolatesFailingAction(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{failOn: actions.KindAddTag}
	engine := NewEngine(store, runner, zerolog.Nop())

	a := seedAutomation(t, store, models.Automation{
		Name:        "welcome",
		TriggerType: string(TriggerMessageReceived),
		Actions:     `[{"type":"add_tag","tagId":"lead"},{"type":"assign_user","userId":"u1"}]`,
	})

	fired := engine.ProcessTrigger(context.Background(), TriggerMessageReceived, TriggerContext{
		TenantID:       "tn",
		ConversationID: "conv1",
		MessageText:    "hello",
	})
	require.Equal(t, 1, fired)

	require.Len(t, runner.ran, 1)
	assert.Equal(t, actions.AssignUser{UserID: "u1"}, runner.ran[0])

	logs := logsFor(t, store, a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogPartial, logs[0].Status)

	var results []ActionResult
	require.NoError(t, json.Unmarshal([]byte(logs[0].Results), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "add_tag", results[0].Action)
	assert.Equal(t, models.LogError, results[0].Status)
	assert.Contains(t, results[0].Error, "crm unavailable")
	assert.Equal(t, "assign_user", results[1].Action)
	assert.Equal(t, models.LogSuccess, results[1].Status)

	reloaded, err := store.Get(context.Background(), "tn", a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reloaded.RunCount)
	assert.NotNil(t, reloaded.LastRunAt)
}

func TestTagAddedWithOtherTagDoesNotFire(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{}
	engine := NewEngine(store, runner, zerolog.Nop())

	a := seedAutomation(t, store, models.Automation{
		Name:          "vip follow-up",
		TriggerType:   string(TriggerTagAdded),
		TriggerConfig: `{"tagIds":["t1"]}`,
		Actions:       `[{"type":"assign_user","userId":"u1"}]`,
	})

	fired := engine.ProcessTrigger(context.Background(), TriggerTagAdded, TriggerContext{TenantID: "tn", ContactID: "c1", TagID: "t2"})
	assert.Zero(t, fired)
	assert.Empty(t, runner.ran)
	assert.Empty(t, logsFor(t, store, a.ID))

	reloaded, err := store.Get(context.Background(), "tn", a.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.RunCount)
}

func TestEmptyConditionsAlwaysPass(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{}
	engine := NewEngine(store, runner, zerolog.Nop())

	for _, conds := range []string{"", "[]"} {
		seedAutomation(t, store, models.Automation{
			Name:        "vacuous",
			TriggerType: string(TriggerContactCreated),
			Conditions:  conds,
			Actions:     `[{"type":"add_tag","tagId":"new"}]`,
		})
	}

	fired := engine.ProcessTrigger(context.Background(), TriggerContactCreated, TriggerContext{TenantID: "tn", ContactID: "c1"})
	assert.Equal(t, 2, fired)
}

func TestConditionsAreAndedAgainstContext(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{}
	engine := NewEngine(store, runner, zerolog.Nop())

	a := seedAutomation(t, store, models.Automation{
		Name:        "pricing question",
		TriggerType: string(TriggerMessageReceived),
		Conditions:  `[{"field":"message","operator":"contains","value":"PRICE"},{"field":"contact.city","operator":"equals","value":"recife"}]`,
		Actions:     `[{"type":"add_tag","tagId":"pricing"}]`,
	})

	ctx := context.Background()
	tc := TriggerContext{
		TenantID:    "tn",
		MessageText: "what is the price?",
		Data:        map[string]any{"contact": map[string]any{"city": "Recife"}},
	}
	assert.Equal(t, 1, engine.ProcessTrigger(ctx, TriggerMessageReceived, tc))

	tc.Data = map[string]any{"contact": map[string]any{"city": "Natal"}}
	assert.Zero(t, engine.ProcessTrigger(ctx, TriggerMessageReceived, tc))

	assert.Len(t, logsFor(t, store, a.ID), 1)
}

func TestAutomationsRunInPriorityOrder(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{}
	engine := NewEngine(store, runner, zerolog.Nop())

	seedAutomation(t, store, models.Automation{
		Name: "second", Priority: 20, TriggerType: string(TriggerDealCreated),
		Actions: `[{"type":"assign_user","userId":"second"}]`,
	})
	seedAutomation(t, store, models.Automation{
		Name: "first", Priority: 1, TriggerType: string(TriggerDealCreated),
		Actions: `[{"type":"assign_user","userId":"first"}]`,
	})
	seedAutomation(t, store, models.Automation{
		Name: "paused", Priority: 0, Status: models.AutomationPaused, TriggerType: string(TriggerDealCreated),
		Actions: `[{"type":"assign_user","userId":"paused"}]`,
	})
	seedAutomation(t, store, models.Automation{
		TenantID: "other", Name: "other tenant", TriggerType: string(TriggerDealCreated),
		Actions: `[{"type":"assign_user","userId":"other"}]`,
	})

	fired := engine.ProcessTrigger(context.Background(), TriggerDealCreated, TriggerContext{TenantID: "tn", DealID: "d1"})
	require.Equal(t, 2, fired)
	assert.Equal(t, []actions.Action{actions.AssignUser{UserID: "first"}, actions.AssignUser{UserID: "second"}}, runner.ran)
}

func TestUnknownActionTypeIsRecordedNotSkipped(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{}
	engine := NewEngine(store, runner, zerolog.Nop())

	a := seedAutomation(t, store, models.Automation{
		Name:        "legacy",
		TriggerType: string(TriggerConversationOpened),
		Actions:     `[{"type":"start_flow","flowId":"x"}]`,
	})

	require.Equal(t, 1, engine.ProcessTrigger(context.Background(), TriggerConversationOpened, TriggerContext{TenantID: "tn"}))

	logs := logsFor(t, store, a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogError, logs[0].Status)
	assert.Contains(t, logs[0].Results, "unknown action type")
}

func TestUnreadableActionListLogsPipelineError(t *testing.T) {
	store := newTestStore(t)
	observer := &captureObserver{}
	engine := NewEngine(store, &recordingRunner{}, zerolog.Nop(), WithObserver(observer))

	a := seedAutomation(t, store, models.Automation{
		Name:        "broken",
		TriggerType: string(TriggerConversationResolved),
		Actions:     `{"type":"add_tag"}`,
	})

	require.Equal(t, 1, engine.ProcessTrigger(context.Background(), TriggerConversationResolved, TriggerContext{TenantID: "tn"}))

	logs := logsFor(t, store, a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogError, logs[0].Status)
	assert.Contains(t, logs[0].Error, "decode actions")

	require.Len(t, observer.entries, 1)
	assert.Equal(t, a.ID, observer.entries[0].AutomationID)
}

func TestOverallStatus(t *testing.T) {
	ok := ActionResult{Status: models.LogSuccess}
	bad := ActionResult{Status: models.LogError}

	assert.Equal(t, models.LogSuccess, overallStatus(nil, nil))
	assert.Equal(t, models.LogSuccess, overallStatus([]ActionResult{ok, ok}, nil))
	assert.Equal(t, models.LogPartial, overallStatus([]ActionResult{bad, ok}, nil))
	assert.Equal(t, models.LogError, overallStatus([]ActionResult{bad, bad}, nil))
	assert.Equal(t, models.LogError, overallStatus(nil, errors.New("boom")))
	assert.Equal(t, models.LogPartial, overallStatus([]ActionResult{ok}, errors.New("boom")))
}

func TestAnalyticsAggregatesByStatus(t *testing.T) {
	store := newTestStore(t)
	runner := &recordingRunner{failOn: actions.KindAddTag}
	engine := NewEngine(store, runner, zerolog.Nop())

	seedAutomation(t, store, models.Automation{
		Name: "ok", TriggerType: string(TriggerContactCreated),
		Actions: `[{"type":"assign_user","userId":"u1"}]`,
	})
	seedAutomation(t, store, models.Automation{
		Name: "fails", TriggerType: string(TriggerContactCreated),
		Actions: `[{"type":"add_tag","tagId":"x"}]`,
	})
	seedAutomation(t, store, models.Automation{
		Name: "draft", Status: models.AutomationDraft, TriggerType: string(TriggerContactCreated),
	})

	engine.ProcessTrigger(context.Background(), TriggerContactCreated, TriggerContext{TenantID: "tn", ContactID: "c1"})
	engine.ProcessTrigger(context.Background(), TriggerContactCreated, TriggerContext{TenantID: "tn", ContactID: "c2"})

	stats, err := store.Analytics(context.Background(), "tn", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalAutomations)
	assert.EqualValues(t, 2, stats.ActiveAutomations)
	assert.EqualValues(t, 4, stats.TotalExecutions)
	assert.EqualValues(t, 2, stats.Successful)
	assert.EqualValues(t, 2, stats.Failed)
	assert.Zero(t, stats.Partial)
}
