package webhook

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"crm-automation/internal/automation"
	"crm-automation/internal/chatbot"
	"crm-automation/internal/models"
)

// Event is one inbound occurrence: a contact message or a CRM domain event.
type Event struct {
	Trigger automation.TriggerType
	Context automation.TriggerContext
}

// key groups events that must run in order. Events without a conversation
// are ordered per contact.
func (e Event) key() string {
	switch {
	case e.Context.ConversationID != "":
		return e.Context.TenantID + ":" + e.Context.ConversationID
	case e.Context.ContactID != "":
		return e.Context.TenantID + ":contact:" + e.Context.ContactID
	default:
		return e.Context.TenantID + ":_"
	}
}

type Automations interface {
	ProcessTrigger(ctx context.Context, triggerType automation.TriggerType, tc automation.TriggerContext) int
}

type Flows interface {
	FindActiveExecution(ctx context.Context, tenantID, conversationID string) (*chatbot.Execution, error)
	ContinueExecution(ctx context.Context, executionID, userMessage string) (*chatbot.Execution, error)
	FindTriggeredChatbots(ctx context.Context, tenantID, channelID, message string) ([]models.Chatbot, error)
	StartExecution(ctx context.Context, req chatbot.StartRequest) (*chatbot.Execution, error)
}

// Dispatcher routes events to the automation engine and, for messages, to
// the flow engine.
type Dispatcher struct {
	automations Automations
	flows       Flows
	logger      zerolog.Logger
}

func NewDispatcher(automations Automations, flows Flows, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		automations: automations,
		flows:       flows,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle processes one event. Failures are logged; nothing is returned to the
// event source.
func (d *Dispatcher) Handle(ctx context.Context, event Event) {
	tc := event.Context
	fired := d.automations.ProcessTrigger(ctx, event.Trigger, tc)
	d.logger.Debug().
		Str("tenant_id", tc.TenantID).
		Str("trigger", string(event.Trigger)).
		Int("fired", fired).
		Msg("event processed")

	if event.Trigger == automation.TriggerMessageReceived && tc.ConversationID != "" {
		d.routeMessage(ctx, tc)
	}
}

// routeMessage continues the conversation's active execution, or starts the
// first chatbot the message triggers.
func (d *Dispatcher) routeMessage(ctx context.Context, tc automation.TriggerContext) {
	logger := d.logger.With().Str("tenant_id", tc.TenantID).Str("conversation_id", tc.ConversationID).Logger()

	active, err := d.flows.FindActiveExecution(ctx, tc.TenantID, tc.ConversationID)
	switch {
	case err == nil:
		_, err = d.flows.ContinueExecution(ctx, active.ID, tc.MessageText)
		if err == nil {
			return
		}
		if !errors.Is(err, chatbot.ErrNotActive) {
			logger.Error().Err(err).Str("execution_id", active.ID).Msg("continue execution failed")
			return
		}
		// ended between lookup and continue; treat the message as a new trigger
	case !errors.Is(err, chatbot.ErrNotFound):
		logger.Error().Err(err).Msg("active execution lookup failed")
		return
	}

	bots, err := d.flows.FindTriggeredChatbots(ctx, tc.TenantID, tc.ChannelID, tc.MessageText)
	if err != nil {
		logger.Error().Err(err).Msg("chatbot trigger lookup failed")
		return
	}
	if len(bots) == 0 {
		return
	}
	if len(bots) > 1 {
		logger.Debug().Int("matched", len(bots)).Str("chatbot_id", bots[0].ID).Msg("several chatbots matched, starting the oldest")
	}

	_, err = d.flows.StartExecution(ctx, chatbot.StartRequest{
		ChatbotID:      bots[0].ID,
		ConversationID: tc.ConversationID,
		ContactID:      tc.ContactID,
		TenantID:       tc.TenantID,
		ChannelID:      tc.ChannelID,
		TriggerMessage: tc.MessageText,
		Variables:      seedVariables(tc.Data),
	})
	if err != nil {
		logger.Error().Err(err).Str("chatbot_id", bots[0].ID).Msg("start execution failed")
	}
}

// seedVariables copies contact fields an ingress attached to the event.
func seedVariables(data map[string]any) map[string]any {
	vars := map[string]any{}
	if contact, ok := data["contact"]; ok {
		vars["contact"] = contact
	}
	return vars
}
