package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

var ErrChatbotNotFound = errors.New("chatbot not found")

// TriggerConfig is the stored trigger filter of a keyword chatbot.
type TriggerConfig struct {
	Keywords  []string        `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	MatchMode rules.MatchMode `json:"matchMode,omitempty" yaml:"matchMode,omitempty"`
}

func ParseTriggerConfig(raw string) (TriggerConfig, error) {
	var cfg TriggerConfig
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("decode chatbot trigger config: %w", err)
	}
	if !cfg.MatchMode.Valid() {
		return cfg, fmt.Errorf("unknown match mode %q", cfg.MatchMode)
	}
	return cfg, nil
}

// Store holds chatbot definitions: the bot row plus its nodes and edges.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create validates the graph and inserts the bot with its nodes and edges.
func (s *Store) Create(ctx context.Context, bot *models.Chatbot) error {
	if _, err := BuildGraph(bot.ID, bot.Nodes, bot.Edges); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(bot).Error
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*models.Chatbot, error) {
	var bot models.Chatbot
	err := s.db.WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Edges", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, id ASC") }).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatbotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]models.Chatbot, error) {
	var bots []models.Chatbot
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&bots).Error
	return bots, err
}

// ListActive returns the tenant's active bots that apply to channelID. A bot
// without a channel applies to every channel.
func (s *Store) ListActive(ctx context.Context, tenantID, channelID string) ([]models.Chatbot, error) {
	var bots []models.Chatbot
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ? AND (channel_id = ? OR channel_id = '' OR channel_id IS NULL)", tenantID, true, channelID).
		Order("created_at ASC").
		Find(&bots).Error
	return bots, err
}

// Update changes bot columns only; the graph goes through ReplaceGraph.
func (s *Store) Update(ctx context.Context, tenantID, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Chatbot{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChatbotNotFound
	}
	return nil
}

// ReplaceGraph swaps the whole node and edge set in one transaction. Running
// executions keep their node ids, so removing a node they sit on ends them in
// error on their next step.
func (s *Store) ReplaceGraph(ctx context.Context, tenantID, id string, nodes []models.FlowNode, edges []models.FlowEdge) error {
	if _, err := BuildGraph(id, nodes, edges); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Chatbot{}).Where("id = ? AND tenant_id = ?", id, tenantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrChatbotNotFound
		}
		if err := tx.Where("chatbot_id = ?", id).Delete(&models.FlowEdge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chatbot_id = ?", id).Delete(&models.FlowNode{}).Error; err != nil {
			return err
		}
		for i := range nodes {
			nodes[i].ID = 0
			nodes[i].ChatbotID = id
		}
		for i := range edges {
			edges[i].ID = 0
			edges[i].ChatbotID = id
		}
		if len(nodes) > 0 {
			if err := tx.Create(&nodes).Error; err != nil {
				return err
			}
		}
		if len(edges) > 0 {
			if err := tx.Create(&edges).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Chatbot{}).Where("id = ?", id).Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	})
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.Chatbot{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatbotNotFound
		}
		if err := tx.Where("chatbot_id = ?", id).Delete(&models.FlowEdge{}).Error; err != nil {
			return err
		}
		return tx.Where("chatbot_id = ?", id).Delete(&models.FlowNode{}).Error
	})
}

// LoadGraph reads and validates the flow of a chatbot.
func (s *Store) LoadGraph(ctx context.Context, chatbotID string) (*Graph, error) {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Chatbot{}).Where("id = ?", chatbotID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrChatbotNotFound
	}

	var nodes []models.FlowNode
	if err := db.Where("chatbot_id = ?", chatbotID).Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("load flow nodes: %w", err)
	}
	var edges []models.FlowEdge
	if err := db.Where("chatbot_id = ?", chatbotID).Order("sort_order ASC, id ASC").Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("load flow edges: %w", err)
	}
	return BuildGraph(chatbotID, nodes, edges)
}
