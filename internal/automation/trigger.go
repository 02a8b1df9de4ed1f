package automation

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"crm-automation/internal/rules"
)

type TriggerType string

const (
	TriggerMessageReceived      TriggerType = "message_received"
	TriggerConversationOpened   TriggerType = "conversation_opened"
	TriggerConversationResolved TriggerType = "conversation_resolved"
	TriggerContactCreated       TriggerType = "contact_created"
	TriggerDealCreated          TriggerType = "deal_created"
	TriggerDealStageChanged     TriggerType = "deal_stage_changed"
	TriggerTagAdded             TriggerType = "tag_added"
	TriggerTagRemoved           TriggerType = "tag_removed"
	TriggerScheduled            TriggerType = "scheduled"
)

var TriggerTypes = []TriggerType{
	TriggerMessageReceived,
	TriggerConversationOpened,
	TriggerConversationResolved,
	TriggerContactCreated,
	TriggerDealCreated,
	TriggerDealStageChanged,
	TriggerTagAdded,
	TriggerTagRemoved,
	TriggerScheduled,
}

func (t TriggerType) Valid() bool {
	return slices.Contains(TriggerTypes, t)
}

// TriggerContext is the event an automation is evaluated against.
type TriggerContext struct {
	TenantID       string         `json:"tenantId"`
	ConversationID string         `json:"conversationId,omitempty"`
	ContactID      string         `json:"contactId,omitempty"`
	ChannelID      string         `json:"channelId,omitempty"`
	DealID         string         `json:"dealId,omitempty"`
	MessageText    string         `json:"message,omitempty"`
	TagID          string         `json:"tagId,omitempty"`
	PipelineID     string         `json:"pipelineId,omitempty"`
	FromStageID    string         `json:"fromStageId,omitempty"`
	ToStageID      string         `json:"toStageId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Fields flattens the context into the map conditions and templates read from.
// Typed fields win over Data entries with the same key.
func (tc TriggerContext) Fields() map[string]any {
	fields := make(map[string]any, len(tc.Data)+10)
	for k, v := range tc.Data {
		fields[k] = v
	}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("tenantId", tc.TenantID)
	set("conversationId", tc.ConversationID)
	set("contactId", tc.ContactID)
	set("channelId", tc.ChannelID)
	set("dealId", tc.DealID)
	set("message", tc.MessageText)
	set("messageText", tc.MessageText)
	set("tagId", tc.TagID)
	set("pipelineId", tc.PipelineID)
	set("fromStageId", tc.FromStageID)
	set("toStageId", tc.ToStageID)
	return fields
}

func (tc TriggerContext) Lookup(field string) (any, bool) {
	return rules.MapLookup(tc.Fields()).Lookup(field)
}

// TriggerConfig is the structural filter stored on an automation. Which lists
// apply depends on the trigger type; an empty list never filters.
type TriggerConfig struct {
	ChannelIDs   []string        `json:"channelIds,omitempty" yaml:"channelIds,omitempty"`
	Keywords     []string        `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	MatchMode    rules.MatchMode `json:"matchMode,omitempty" yaml:"matchMode,omitempty"`
	TagIDs       []string        `json:"tagIds,omitempty" yaml:"tagIds,omitempty"`
	PipelineIDs  []string        `json:"pipelineIds,omitempty" yaml:"pipelineIds,omitempty"`
	FromStageIDs []string        `json:"fromStageIds,omitempty" yaml:"fromStageIds,omitempty"`
	ToStageIDs   []string        `json:"toStageIds,omitempty" yaml:"toStageIds,omitempty"`
}

// ParseTriggerConfig decodes the stored filter. Empty input is the match-all config.
func ParseTriggerConfig(raw string) (TriggerConfig, error) {
	var cfg TriggerConfig
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("decode trigger config: %w", err)
	}
	if !cfg.MatchMode.Valid() {
		return cfg, fmt.Errorf("unknown match mode %q", cfg.MatchMode)
	}
	return cfg, nil
}

// MatchesTriggerConfig is the cheap filter applied before conditions.
func MatchesTriggerConfig(triggerType TriggerType, cfg TriggerConfig, tc TriggerContext) bool {
	switch triggerType {
	case TriggerMessageReceived:
		if !allowed(cfg.ChannelIDs, tc.ChannelID) {
			return false
		}
		if len(cfg.Keywords) > 0 && !rules.MatchKeyword(tc.MessageText, cfg.Keywords, cfg.MatchMode) {
			return false
		}
		return true
	case TriggerConversationOpened, TriggerConversationResolved:
		return allowed(cfg.ChannelIDs, tc.ChannelID)
	case TriggerTagAdded, TriggerTagRemoved:
		return allowed(cfg.TagIDs, tc.TagID)
	case TriggerDealCreated:
		return allowed(cfg.PipelineIDs, tc.PipelineID)
	case TriggerDealStageChanged:
		return allowed(cfg.PipelineIDs, tc.PipelineID) &&
			allowed(cfg.FromStageIDs, tc.FromStageID) &&
			allowed(cfg.ToStageIDs, tc.ToStageID)
	default:
		return true
	}
}

func allowed(list []string, value string) bool {
	return len(list) == 0 || slices.Contains(list, value)
}
