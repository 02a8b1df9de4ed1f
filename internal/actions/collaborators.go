package actions

import (
	"context"

	"crm-automation/internal/models"
)

// Lookups return (nil, nil) when the record does not exist for the tenant.

type ConversationFinder interface {
	FindConversation(ctx context.Context, id, tenantID string) (*models.Conversation, error)
}

type ChannelFinder interface {
	FindChannel(ctx context.Context, id, tenantID string) (*models.Channel, error)
}

type ContactFinder interface {
	FindContact(ctx context.Context, id, tenantID string) (*models.Contact, error)
}

type MessageCreator interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
}

// SendQueue hands a job to outbound delivery. Delivery is asynchronous and at-least-once.
type SendQueue interface {
	EnqueueSend(ctx context.Context, job models.SendJob) error
}

type Notifier interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

type TagMutator interface {
	AddTag(ctx context.Context, tenantID, contactID, tagID string) error
	RemoveTag(ctx context.Context, tenantID, contactID, tagID string) error
}

type DealMutator interface {
	MoveDealStage(ctx context.Context, tenantID, dealID, stageID string) error
}

type Assigner interface {
	AssignConversation(ctx context.Context, tenantID, conversationID, userID string) error
}

type WebhookRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// WebhookCaller performs outbound HTTP calls. No retry is expected from it.
type WebhookCaller interface {
	Call(ctx context.Context, req WebhookRequest) error
}

// Deps groups the collaborators the executor talks to. A nil dependency makes the
// actions that need it fail with ErrUnsupportedAction.
type Deps struct {
	Conversations ConversationFinder
	Channels      ChannelFinder
	Contacts      ContactFinder
	Messages      MessageCreator
	Queue         SendQueue
	Notifier      Notifier
	Tags          TagMutator
	Deals         DealMutator
	Assigner      Assigner
	Webhooks      WebhookCaller
}
