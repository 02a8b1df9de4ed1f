// Package chatbot walks chatbot flow graphs against conversations and keeps
// the execution ledger that lets a walk suspend and resume.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"crm-automation/internal/actions"
	"crm-automation/internal/metrics"
	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

var ErrNotActive = errors.New("execution is not active")

// Actions is the part of the action executor the flow engine uses.
type Actions interface {
	Execute(ctx context.Context, action actions.Action, scope *actions.Scope) error
	SendMessage(ctx context.Context, scope *actions.Scope, a actions.SendMessage) (*models.Message, error)
}

// Observer is notified after every ledger write.
type Observer interface {
	ExecutionChanged(exec *Execution)
}

type StartRequest struct {
	ChatbotID      string
	ConversationID string
	ContactID      string
	TenantID       string
	ChannelID      string
	TriggerMessage string
	// Variables seeds the execution, e.g. contact fields.
	Variables map[string]any
}

type Engine struct {
	bots     *Store
	ledger   *Ledger
	timers   *TimerStore
	actions  Actions
	locker   Locker
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
	maxSteps int
}

type Option func(*Engine)

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxSteps bounds how many nodes one walk may visit before the execution
// is failed, which stops cycles made only of non-suspending nodes.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

func NewEngine(db *gorm.DB, acts Actions, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		bots:     NewStore(db),
		ledger:   NewLedger(db),
		timers:   NewTimerStore(db),
		actions:  acts,
		locker:   NewLocalLocker(),
		logger:   logger.With().Str("component", "chatbot").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		maxSteps: 200,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() *Store { return e.bots }

func (e *Engine) Ledger() *Ledger { return e.ledger }

func (e *Engine) Timers() *TimerStore { return e.timers }

// persistError marks a ledger or timer write failure. The walk stops without
// touching the ledger again.
type persistError struct{ err error }

func (p *persistError) Error() string { return p.err.Error() }
func (p *persistError) Unwrap() error { return p.err }

// FindTriggeredChatbots returns the active bots of the channel that an inbound
// message starts: always-bots, and keyword bots whose keywords match.
func (e *Engine) FindTriggeredChatbots(ctx context.Context, tenantID, channelID, message string) ([]models.Chatbot, error) {
	bots, err := e.bots.ListActive(ctx, tenantID, channelID)
	if err != nil {
		return nil, fmt.Errorf("list active chatbots: %w", err)
	}

	var matched []models.Chatbot
	for _, bot := range bots {
		switch bot.TriggerType {
		case models.ChatbotTriggerAlways:
			matched = append(matched, bot)
		case models.ChatbotTriggerKeyword:
			cfg, err := ParseTriggerConfig(bot.TriggerConfig)
			if err != nil {
				e.logger.Warn().Err(err).Str("chatbot_id", bot.ID).Msg("skipping chatbot with unreadable trigger config")
				continue
			}
			if rules.MatchKeyword(message, cfg.Keywords, cfg.MatchMode) {
				matched = append(matched, bot)
			}
		}
	}
	return matched, nil
}

// FindActiveExecution returns the conversation's non-terminal execution, or ErrNotFound.
func (e *Engine) FindActiveExecution(ctx context.Context, tenantID, conversationID string) (*Execution, error) {
	return e.ledger.FindActive(ctx, tenantID, conversationID)
}

// StartExecution replaces any execution of the pair with a fresh one seeded
// with the trigger message and walks from the start node.
func (e *Engine) StartExecution(ctx context.Context, req StartRequest) (*Execution, error) {
	graph, err := e.bots.LoadGraph(ctx, req.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("load chatbot %s: %w", req.ChatbotID, err)
	}

	var exec *Execution
	err = e.locker.WithLock(ctx, pairKey(req.ChatbotID, req.ConversationID), func() error {
		now := e.now()
		vars := make(map[string]any, len(req.Variables)+1)
		maps.Copy(vars, req.Variables)
		history := []HistoryEntry{}
		if req.TriggerMessage != "" {
			vars[LastUserMessageVar] = req.TriggerMessage
			history = append(history, HistoryEntry{Role: "user", Content: req.TriggerMessage, Timestamp: now})
		}

		exec = &Execution{
			ChatbotID:      req.ChatbotID,
			ConversationID: req.ConversationID,
			ContactID:      req.ContactID,
			TenantID:       req.TenantID,
			ChannelID:      req.ChannelID,
			CurrentNodeID:  graph.StartID,
			Variables:      vars,
			History:        history,
			Status:         StatusRunning,
			StartedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.ledger.Upsert(ctx, exec); err != nil {
			return err
		}
		if err := e.timers.CancelOpen(ctx, exec.ID); err != nil {
			return fmt.Errorf("cancel timers of replaced execution: %w", err)
		}
		e.notify(exec)
		e.logger.Info().
			Str("execution_id", exec.ID).
			Str("chatbot_id", exec.ChatbotID).
			Str("conversation_id", exec.ConversationID).
			Msg("flow started")

		return e.walk(ctx, graph, exec, graph.StartID)
	})
	return exec, err
}

// ContinueExecution feeds a user reply to an execution. A waiting execution
// resumes along the outgoing edges of the node it suspended on. Replies that
// arrive while the execution is running or paused are recorded only.
func (e *Engine) ContinueExecution(ctx context.Context, executionID, userMessage string) (*Execution, error) {
	current, err := e.ledger.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var exec *Execution
	err = e.locker.WithLock(ctx, pairKey(current.ChatbotID, current.ConversationID), func() error {
		var err error
		exec, err = e.ledger.Get(ctx, executionID)
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return ErrNotActive
		}

		now := e.now()
		exec.History = append(exec.History, HistoryEntry{Role: "user", Content: userMessage, Timestamp: now})
		if exec.Variables == nil {
			exec.Variables = map[string]any{}
		}
		exec.Variables[LastUserMessageVar] = userMessage

		if exec.Status != StatusWaiting {
			return e.save(ctx, exec)
		}

		graph, err := e.bots.LoadGraph(ctx, exec.ChatbotID)
		if err != nil {
			return e.fail(ctx, exec, fmt.Errorf("load chatbot: %w", err))
		}
		node, ok := graph.Node(exec.CurrentNodeID)
		if !ok {
			return e.fail(ctx, exec, fmt.Errorf("node %q not found", exec.CurrentNodeID))
		}
		if node.Message != nil && node.Message.Variable != "" {
			exec.Variables[node.Message.Variable] = userMessage
		}

		exec.Status = StatusRunning
		if err := e.save(ctx, exec); err != nil {
			return err
		}
		return e.advance(ctx, graph, exec, node.ID)
	})
	return exec, err
}

// ResumeDelayed continues the execution paused by the given timer. It
// reports false without side effects when the timer was cancelled or the
// execution is no longer paused on it, e.g. after a restart of the pair.
//
// The running status is written by the first node save of the walk, so a
// crash before that leaves the row paused and the timer reclaimable.
func (e *Engine) ResumeDelayed(ctx context.Context, timerID string) (bool, error) {
	timer, err := e.timers.Get(ctx, timerID)
	if errors.Is(err, ErrTimerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	current, err := e.ledger.Get(ctx, timer.ExecutionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	resumed := false
	err = e.locker.WithLock(ctx, pairKey(current.ChatbotID, current.ConversationID), func() error {
		timer, err := e.timers.Get(ctx, timerID)
		if err != nil {
			return err
		}
		if timer.Status != models.TimerFiring {
			return nil
		}
		exec, err := e.ledger.Get(ctx, timer.ExecutionID)
		if err != nil {
			return err
		}
		if exec.Status != StatusPaused || exec.CurrentNodeID != timer.NodeID || exec.TimerID != timer.ID {
			return nil
		}

		exec.Status = StatusRunning
		exec.TimerID = ""
		resumed = true

		graph, err := e.bots.LoadGraph(ctx, exec.ChatbotID)
		if err != nil {
			return e.fail(ctx, exec, fmt.Errorf("load chatbot: %w", err))
		}
		err = e.advance(ctx, graph, exec, timer.NodeID)
		if errors.Is(err, ErrConflict) {
			// the row moved on without this timer
			resumed = false
			return nil
		}
		return err
	})
	return resumed, err
}

// FailStale marks executions that stayed running since before cutoff as
// error and cancels their timers. It returns how many were failed.
func (e *Engine) FailStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := e.ledger.Stale(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, s := range stale {
		err := e.locker.WithLock(ctx, pairKey(s.ChatbotID, s.ConversationID), func() error {
			exec, err := e.ledger.Get(ctx, s.ID)
			if err != nil {
				return err
			}
			if exec.Status != StatusRunning || !exec.UpdatedAt.Before(cutoff) {
				return nil
			}
			exec.TimerID = ""
			if err := e.fail(ctx, exec, fmt.Errorf("walk interrupted at node %s", exec.CurrentNodeID)); err != nil {
				if errors.Is(err, ErrConflict) {
					return nil
				}
				return err
			}
			failed++
			return e.timers.CancelOpen(ctx, exec.ID)
		})
		if err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// Terminate force-ends an execution as completed or error and cancels its timers.
func (e *Engine) Terminate(ctx context.Context, executionID string, status Status, reason string) (*Execution, error) {
	if status != StatusCompleted && status != StatusError {
		return nil, fmt.Errorf("terminate: status must be completed or error, got %q", status)
	}
	current, err := e.ledger.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var exec *Execution
	err = e.locker.WithLock(ctx, pairKey(current.ChatbotID, current.ConversationID), func() error {
		var err error
		exec, err = e.ledger.Get(ctx, executionID)
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return nil
		}
		now := e.now()
		exec.Status = status
		exec.Error = reason
		exec.CompletedAt = &now
		exec.TimerID = ""
		if err := e.save(ctx, exec); err != nil {
			return err
		}
		e.logger.Info().Str("execution_id", exec.ID).Str("status", string(status)).Msg("execution terminated by operator")
		return e.timers.CancelOpen(ctx, exec.ID)
	})
	return exec, err
}

// advance follows the outgoing edges of an already executed node.
func (e *Engine) advance(ctx context.Context, g *Graph, exec *Execution, fromID string) error {
	next, ok := g.Next(fromID, e.lookup(exec))
	if !ok {
		return e.complete(ctx, exec)
	}
	return e.walk(ctx, g, exec, next)
}

// walk executes nodes from nodeID until the flow suspends or ends. Node
// failures and panics mark the execution error; write failures stop the walk
// and are returned.
func (e *Engine) walk(ctx context.Context, g *Graph, exec *Execution, nodeID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.fail(ctx, exec, fmt.Errorf("panic in node %s: %v", exec.CurrentNodeID, r))
		}
	}()

	for steps := 0; ; steps++ {
		if steps >= e.maxSteps {
			return e.fail(ctx, exec, fmt.Errorf("walk exceeded %d steps", e.maxSteps))
		}
		node, ok := g.Node(nodeID)
		if !ok {
			return e.fail(ctx, exec, fmt.Errorf("node %q not found", nodeID))
		}
		if exec.CurrentNodeID != node.ID {
			exec.CurrentNodeID = node.ID
			if err := e.save(ctx, exec); err != nil {
				return err
			}
		}
		metrics.NodeExecutions.WithLabelValues(string(node.Type)).Inc()

		next, suspended, err := e.step(ctx, g, exec, node)
		if err != nil {
			var pe *persistError
			if errors.As(err, &pe) {
				return err
			}
			return e.fail(ctx, exec, fmt.Errorf("node %s (%s): %w", node.ID, node.Type, err))
		}
		if suspended {
			return nil
		}
		if next == "" {
			return e.complete(ctx, exec)
		}
		nodeID = next
	}
}

// step runs one node. It returns the next node id, or "" when the flow ends
// here, or suspended=true once the ledger has been persisted in a suspended state.
func (e *Engine) step(ctx context.Context, g *Graph, exec *Execution, node *Node) (string, bool, error) {
	logger := e.logger.With().Str("execution_id", exec.ID).Str("node_id", node.ID).Logger()

	switch node.Type {
	case NodeStart, NodeCondition:
		next, _ := g.Next(node.ID, e.lookup(exec))
		return next, false, nil

	case NodeMessage:
		cfg := node.Message
		if cfg.Text != "" || cfg.MediaURL != "" {
			msg, err := e.actions.SendMessage(ctx, e.scope(exec, node), actions.SendMessage{Text: cfg.Text, MediaURL: cfg.MediaURL})
			if err != nil {
				return "", false, err
			}
			exec.History = append(exec.History, HistoryEntry{Role: "bot", Content: msg.Content, Timestamp: e.now()})
		}
		if cfg.AwaitsReply() {
			exec.Status = StatusWaiting
			if err := e.save(ctx, exec); err != nil {
				return "", false, err
			}
			logger.Debug().Msg("waiting for reply")
			return "", true, nil
		}
		next, _ := g.Next(node.ID, e.lookup(exec))
		return next, false, nil

	case NodeAction:
		if err := e.actions.Execute(ctx, node.Action, e.scope(exec, node)); err != nil {
			return "", false, err
		}
		if err := e.save(ctx, exec); err != nil {
			return "", false, err
		}
		next, _ := g.Next(node.ID, e.lookup(exec))
		return next, false, nil

	case NodeDelay:
		fireAt := e.now().Add(node.Delay)
		timer, err := e.timers.Schedule(ctx, exec.ID, node.ID, fireAt)
		if err != nil {
			return "", false, &persistError{err: err}
		}
		exec.Status = StatusPaused
		exec.TimerID = timer.ID
		if err := e.save(ctx, exec); err != nil {
			return "", false, err
		}
		logger.Debug().Time("fire_at", fireAt).Msg("paused on delay")
		return "", true, nil

	case NodeEnd:
		return "", false, nil
	}
	return "", false, fmt.Errorf("unsupported node type %q", node.Type)
}

func (e *Engine) complete(ctx context.Context, exec *Execution) error {
	now := e.now()
	exec.Status = StatusCompleted
	exec.CompletedAt = &now
	if err := e.save(ctx, exec); err != nil {
		return err
	}
	e.logger.Info().Str("execution_id", exec.ID).Msg("flow completed")
	return nil
}

// fail records cause on the ledger. It only returns an error when that write fails.
func (e *Engine) fail(ctx context.Context, exec *Execution, cause error) error {
	e.logger.Warn().Err(cause).Str("execution_id", exec.ID).Str("node_id", exec.CurrentNodeID).Msg("flow execution failed")
	now := e.now()
	exec.Status = StatusError
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	return e.save(ctx, exec)
}

func (e *Engine) save(ctx context.Context, exec *Execution) error {
	exec.UpdatedAt = e.now()
	if err := e.ledger.Save(ctx, exec); err != nil {
		e.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to persist execution")
		return &persistError{err: err}
	}
	e.notify(exec)
	return nil
}

func (e *Engine) notify(exec *Execution) {
	metrics.ExecutionTransitions.WithLabelValues(string(exec.Status)).Inc()
	if e.observer != nil {
		snapshot := *exec
		snapshot.Variables = maps.Clone(exec.Variables)
		snapshot.History = append([]HistoryEntry(nil), exec.History...)
		e.observer.ExecutionChanged(&snapshot)
	}
}

// lookup resolves variables first, then execution identifiers.
func (e *Engine) lookup(exec *Execution) rules.Lookup {
	return rules.Chain{
		rules.MapLookup(exec.Variables),
		rules.MapLookup{
			"executionId":    exec.ID,
			"chatbotId":      exec.ChatbotID,
			"conversationId": exec.ConversationID,
			"contactId":      exec.ContactID,
			"tenantId":       exec.TenantID,
			"channelId":      exec.ChannelID,
		},
	}
}

func (e *Engine) scope(exec *Execution, node *Node) *actions.Scope {
	return &actions.Scope{
		TenantID:       exec.TenantID,
		ConversationID: exec.ConversationID,
		ContactID:      exec.ContactID,
		ChannelID:      exec.ChannelID,
		SenderType:     "bot",
		Variables:      exec.Variables,
		Lookup:         e.lookup(exec),
		Payload: map[string]any{
			"chatbotId":   exec.ChatbotID,
			"executionId": exec.ID,
			"nodeId":      node.ID,
		},
	}
}
