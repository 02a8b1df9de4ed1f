// Package crm is the gorm-backed implementation of the CRM records the
// engines read and mutate: channels, contacts, conversations, messages,
// notifications, tags and deals.
package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crm-automation/internal/models"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// findOne loads a tenant-scoped row by id. A missing row is (nil, nil).
func findOne[T any](ctx context.Context, db *gorm.DB, id, tenantID string) (*T, error) {
	var row T
	err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) FindConversation(ctx context.Context, id, tenantID string) (*models.Conversation, error) {
	return findOne[models.Conversation](ctx, s.db, id, tenantID)
}

func (s *Store) FindChannel(ctx context.Context, id, tenantID string) (*models.Channel, error) {
	return findOne[models.Channel](ctx, s.db, id, tenantID)
}

func (s *Store) FindContact(ctx context.Context, id, tenantID string) (*models.Contact, error) {
	return findOne[models.Contact](ctx, s.db, id, tenantID)
}

func (s *Store) FindDeal(ctx context.Context, id, tenantID string) (*models.Deal, error) {
	return findOne[models.Deal](ctx, s.db, id, tenantID)
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// UpdateMessageStatus records the delivery outcome of an outbound message.
func (s *Store) UpdateMessageStatus(ctx context.Context, id, status, externalID, errMsg string) error {
	fields := map[string]any{"status": status, "error": errMsg}
	if externalID != "" {
		fields["external_id"] = externalID
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusByExternalID applies a provider status callback (delivered, read).
func (s *Store) UpdateStatusByExternalID(ctx context.Context, externalID, status string) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("external_id = ?", externalID).
		Update("status", status).Error
}

func (s *Store) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// AddTag is idempotent.
func (s *Store) AddTag(ctx context.Context, tenantID, contactID, tagID string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ContactTag{TenantID: tenantID, ContactID: contactID, TagID: tagID}).Error
}

func (s *Store) RemoveTag(ctx context.Context, tenantID, contactID, tagID string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND tag_id = ?", tenantID, contactID, tagID).
		Delete(&models.ContactTag{}).Error
}

func (s *Store) ContactTags(ctx context.Context, tenantID, contactID string) ([]string, error) {
	var tags []string
	err := s.db.WithContext(ctx).Model(&models.ContactTag{}).
		Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).
		Order("tag_id ASC").
		Pluck("tag_id", &tags).Error
	return tags, err
}

func (s *Store) MoveDealStage(ctx context.Context, tenantID, dealID, stageID string) error {
	res := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("id = ? AND tenant_id = ?", dealID, tenantID).
		Update("stage_id", stageID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	return nil
}

func (s *Store) AssignConversation(ctx context.Context, tenantID, conversationID, userID string) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND tenant_id = ?", conversationID, tenantID).
		Update("assigned_user_id", userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

func (s *Store) ListContacts(ctx context.Context, tenantID string) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&contacts).Error
	return contacts, err
}

// ChannelByExternalID resolves a provider endpoint (the Cloud API phone number
// id) to the owning channel.
func (s *Store) ChannelByExternalID(ctx context.Context, externalID string) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// EnsureContact returns the tenant's contact with phone, creating it on first contact.
func (s *Store) EnsureContact(ctx context.Context, tenantID, phone, name string) (*models.Contact, bool, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&contact).Error
	if err == nil {
		return &contact, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if name == "" {
		name = phone
	}
	contact = models.Contact{ID: uuid.NewString(), TenantID: tenantID, Phone: phone, Name: name}
	if err := s.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, false, err
	}
	return &contact, true, nil
}

// EnsureConversation returns the open conversation of contact on channel,
// opening one if needed. created reports a new conversation.
func (s *Store) EnsureConversation(ctx context.Context, tenantID, channelID, contactID string) (*models.Conversation, bool, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND channel_id = ? AND contact_id = ? AND status = ?", tenantID, channelID, contactID, "open").
		Order("created_at DESC").
		First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	conv = models.Conversation{ID: uuid.NewString(), TenantID: tenantID, ChannelID: channelID, ContactID: contactID, Status: "open"}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, false, err
	}
	return &conv, true, nil
}

// CloseConversation marks a conversation closed. It reports false when it was
// not open.
func (s *Store) CloseConversation(ctx context.Context, tenantID, conversationID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND tenant_id = ? AND status = ?", conversationID, tenantID, "open").
		Update("status", "closed")
	return res.RowsAffected > 0, res.Error
}
