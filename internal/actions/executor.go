package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-automation/internal/metrics"
	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

// Scope is the context an action runs against.
type Scope struct {
	TenantID       string
	ConversationID string
	ContactID      string
	ChannelID      string
	DealID         string
	// SenderType is stamped on outbound messages ("automation" or "bot").
	SenderType string
	// Variables receives set_variable writes; may be nil for automations.
	Variables map[string]any
	// Lookup feeds {{placeholder}} interpolation.
	Lookup rules.Lookup
	// Payload is sent as the call_webhook body context.
	Payload map[string]any
}

// ActionError records which action failed and why.
type ActionError struct {
	Kind Kind
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

type Executor struct {
	deps    Deps
	logger  zerolog.Logger
	maxWait time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Executor)

// WithMaxWait caps how long a wait action may block a firing.
func WithMaxWait(d time.Duration) Option {
	return func(e *Executor) { e.maxWait = d }
}

// WithSleeper replaces the wait implementation, mostly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

func NewExecutor(deps Deps, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		deps:    deps,
		logger:  logger.With().Str("component", "actions").Logger(),
		maxWait: time.Hour,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs one action. It never decides control flow; the returned error
// is local to this action.
func (e *Executor) Execute(ctx context.Context, action Action, scope *Scope) (err error) {
	if action == nil {
		return &ActionError{Kind: "", Err: ErrUnknownAction}
	}
	if scope == nil {
		scope = &Scope{}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		status := "success"
		if err != nil {
			status = "error"
			err = &ActionError{Kind: action.Kind(), Err: err}
		}
		metrics.ActionResults.WithLabelValues(string(action.Kind()), status).Inc()
	}()

	switch a := action.(type) {
	case SendMessage:
		_, err = e.SendMessage(ctx, scope, a)
	case AddTag:
		err = e.addTag(ctx, scope, a.TagID)
	case RemoveTag:
		err = e.removeTag(ctx, scope, a.TagID)
	case AssignUser:
		err = e.assignUser(ctx, scope, a)
	case MoveDealStage:
		err = e.moveDealStage(ctx, scope, a)
	case CreateNotification:
		err = e.createNotification(ctx, scope, a)
	case CallWebhook:
		err = e.callWebhook(ctx, scope, a)
	case SynchronousDelay:
		err = e.wait(ctx, a)
	case SetVariable:
		err = e.setVariable(scope, a)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
	return err
}

// SendMessage resolves routing for the scope's conversation, persists a pending
// outbound message and enqueues it for delivery.
func (e *Executor) SendMessage(ctx context.Context, scope *Scope, a SendMessage) (*models.Message, error) {
	if e.deps.Conversations == nil || e.deps.Channels == nil || e.deps.Messages == nil || e.deps.Queue == nil {
		return nil, ErrUnsupportedAction
	}
	if scope.ConversationID == "" {
		return nil, ErrMissingConversation
	}

	conv, err := e.deps.Conversations.FindConversation(ctx, scope.ConversationID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrMissingConversation
	}

	channelID := conv.ChannelID
	if channelID == "" {
		channelID = scope.ChannelID
	}
	channel, err := e.deps.Channels.FindChannel(ctx, channelID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("find channel: %w", err)
	}
	if channel == nil {
		return nil, ErrMissingChannel
	}

	recipient := ""
	if e.deps.Contacts != nil {
		contact, err := e.deps.Contacts.FindContact(ctx, conv.ContactID, scope.TenantID)
		if err != nil {
			return nil, fmt.Errorf("find contact: %w", err)
		}
		if contact != nil {
			recipient = contact.Phone
			if recipient == "" {
				recipient = contact.ExternalID
			}
		}
	}
	if recipient == "" {
		return nil, ErrMissingContact
	}

	senderType := scope.SenderType
	if senderType == "" {
		senderType = "automation"
	}

	msg := &models.Message{
		TenantID:       scope.TenantID,
		ConversationID: conv.ID,
		ChannelID:      channel.ID,
		Direction:      "outbound",
		SenderType:     senderType,
		Content:        rules.Interpolate(a.Text, scope.Lookup),
		MediaURL:       a.MediaURL,
		Status:         models.MessagePending,
	}
	if err := e.deps.Messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	job := models.SendJob{
		TenantID:       scope.TenantID,
		ConversationID: conv.ID,
		ChannelID:      channel.ID,
		MessageID:      msg.ID,
		Provider:       channel.Provider,
		To:             recipient,
		Text:           msg.Content,
		MediaURL:       msg.MediaURL,
	}
	if err := e.deps.Queue.EnqueueSend(ctx, job); err != nil {
		return msg, fmt.Errorf("enqueue send: %w", err)
	}
	return msg, nil
}

func (e *Executor) addTag(ctx context.Context, scope *Scope, tagID string) error {
	if e.deps.Tags == nil {
		return ErrUnsupportedAction
	}
	if scope.ContactID == "" {
		return ErrMissingContact
	}
	return e.deps.Tags.AddTag(ctx, scope.TenantID, scope.ContactID, tagID)
}

func (e *Executor) removeTag(ctx context.Context, scope *Scope, tagID string) error {
	if e.deps.Tags == nil {
		return ErrUnsupportedAction
	}
	if scope.ContactID == "" {
		return ErrMissingContact
	}
	return e.deps.Tags.RemoveTag(ctx, scope.TenantID, scope.ContactID, tagID)
}

func (e *Executor) assignUser(ctx context.Context, scope *Scope, a AssignUser) error {
	if e.deps.Assigner == nil {
		return ErrUnsupportedAction
	}
	if scope.ConversationID == "" {
		return ErrMissingConversation
	}
	return e.deps.Assigner.AssignConversation(ctx, scope.TenantID, scope.ConversationID, a.UserID)
}

func (e *Executor) moveDealStage(ctx context.Context, scope *Scope, a MoveDealStage) error {
	if e.deps.Deals == nil {
		return ErrUnsupportedAction
	}
	dealID := a.DealID
	if dealID == "" {
		dealID = scope.DealID
	}
	if dealID == "" {
		return ErrMissingDeal
	}
	return e.deps.Deals.MoveDealStage(ctx, scope.TenantID, dealID, a.StageID)
}

func (e *Executor) createNotification(ctx context.Context, scope *Scope, a CreateNotification) error {
	if e.deps.Notifier == nil {
		return ErrUnsupportedAction
	}
	userID := a.UserID
	if userID == "" && e.deps.Conversations != nil && scope.ConversationID != "" {
		if conv, err := e.deps.Conversations.FindConversation(ctx, scope.ConversationID, scope.TenantID); err == nil && conv != nil {
			userID = conv.AssignedUserID
		}
	}
	return e.deps.Notifier.CreateNotification(ctx, &models.Notification{
		TenantID: scope.TenantID,
		UserID:   userID,
		Title:    rules.Interpolate(a.Title, scope.Lookup),
		Body:     rules.Interpolate(a.Body, scope.Lookup),
		Data:     rules.Stringify(scope.Payload),
	})
}

func (e *Executor) callWebhook(ctx context.Context, scope *Scope, a CallWebhook) error {
	if e.deps.Webhooks == nil {
		return ErrUnsupportedAction
	}
	method := strings.ToUpper(strings.TrimSpace(a.Method))
	if method == "" {
		method = "POST"
	}
	body := map[string]any{
		"tenantId":       scope.TenantID,
		"conversationId": scope.ConversationID,
		"contactId":      scope.ContactID,
		"context":        scope.Payload,
	}
	if scope.Variables != nil {
		body["variables"] = scope.Variables
	}
	return e.deps.Webhooks.Call(ctx, WebhookRequest{
		Method:  method,
		URL:     rules.Interpolate(a.URL, scope.Lookup),
		Headers: a.Headers,
		Body:    body,
	})
}

// wait sleeps for the requested duration. A longer request than maxWait
// sleeps maxWait and then fails, so the audit row shows the shortened wait.
func (e *Executor) wait(ctx context.Context, a SynchronousDelay) error {
	requested := a.Wait()
	d := requested
	if e.maxWait > 0 && d > e.maxWait {
		e.logger.Warn().Dur("requested", requested).Dur("max", e.maxWait).Msg("wait action capped")
		d = e.maxWait
	}
	if d <= 0 {
		return nil
	}
	if err := e.sleep(ctx, d); err != nil {
		return err
	}
	if d < requested {
		return fmt.Errorf("%w: requested %s, waited %s", ErrWaitCapped, requested, d)
	}
	return nil
}

func (e *Executor) setVariable(scope *Scope, a SetVariable) error {
	if scope.Variables == nil {
		return fmt.Errorf("%w: set_variable needs a flow execution", ErrUnsupportedAction)
	}
	value := a.Value
	if s, ok := value.(string); ok {
		value = rules.Interpolate(s, scope.Lookup)
	}
	scope.Variables[a.Name] = value
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsMissingContext reports whether err came from an absent conversation, channel, contact or deal.
func IsMissingContext(err error) bool {
	return errors.Is(err, ErrMissingConversation) || errors.Is(err, ErrMissingChannel) ||
		errors.Is(err, ErrMissingContact) || errors.Is(err, ErrMissingDeal)
}
