package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Channel is a tenant's messaging endpoint (a WhatsApp number, an inbox).
type Channel struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TenantID   string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Type       string    `gorm:"type:varchar(50)" json:"type"`     // whatsapp, instagram, webchat
	Provider   string    `gorm:"type:varchar(50)" json:"provider"` // meta, evolution
	ExternalID string    `gorm:"type:varchar(255)" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Channel) TableName() string {
	return "channels"
}

type Contact struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TenantID   string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Phone      string    `gorm:"type:varchar(50);index" json:"phone"`
	Email      string    `gorm:"type:varchar(255)" json:"email"`
	ExternalID string    `gorm:"type:varchar(255)" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

type Conversation struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TenantID       string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	ChannelID      string    `gorm:"type:varchar(64);not null" json:"channel_id"`
	ContactID      string    `gorm:"type:varchar(64);not null" json:"contact_id"`
	AssignedUserID string    `gorm:"type:varchar(64)" json:"assigned_user_id"`
	Status         string    `gorm:"type:varchar(20);default:'open'" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message status values.
const (
	MessagePending  = "pending"
	MessageSent     = "sent"
	MessageFailed   = "failed"
	MessageReceived = "received"
)

// Message is one row of conversation history, inbound or outbound.
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID       string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	ConversationID string    `gorm:"type:varchar(64);not null;index" json:"conversation_id"`
	ChannelID      string    `gorm:"type:varchar(64)" json:"channel_id"`
	Direction      string    `gorm:"type:varchar(10)" json:"direction"`   // inbound, outbound
	SenderType     string    `gorm:"type:varchar(20)" json:"sender_type"` // contact, bot, automation, user
	Content        string    `gorm:"type:text" json:"content"`
	MediaURL       string    `gorm:"type:text" json:"media_url,omitempty"`
	Status         string    `gorm:"type:varchar(20)" json:"status"`
	ExternalID     string    `gorm:"type:varchar(255)" json:"external_id,omitempty"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type Notification struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID  string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	UserID    string    `gorm:"type:varchar(64);index" json:"user_id"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	Body      string    `gorm:"type:text" json:"body"`
	Data      string    `gorm:"type:text" json:"data"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

type ContactTag struct {
	TenantID  string    `gorm:"primaryKey;type:varchar(64)" json:"tenant_id"`
	ContactID string    `gorm:"primaryKey;type:varchar(64)" json:"contact_id"`
	TagID     string    `gorm:"primaryKey;type:varchar(64)" json:"tag_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ContactTag) TableName() string {
	return "contact_tags"
}

type Deal struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TenantID   string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	ContactID  string    `gorm:"type:varchar(64);index" json:"contact_id"`
	PipelineID string    `gorm:"type:varchar(64)" json:"pipeline_id"`
	StageID    string    `gorm:"type:varchar(64)" json:"stage_id"`
	Title      string    `gorm:"type:varchar(255)" json:"title"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Deal) TableName() string {
	return "deals"
}

// SendJob is the payload handed to the outbound delivery queue.
type SendJob struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	ChannelID      string `json:"channel_id"`
	MessageID      string `json:"message_id"`
	Provider       string `json:"provider"`
	To             string `json:"to"`
	Text           string `json:"text"`
	MediaURL       string `json:"media_url,omitempty"`
}
