package chatbot

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

// Definition is the editor/import shape of a chatbot. Nodes follow the
// React Flow layout (id, type, position, data) used by the flow builder.
type Definition struct {
	Name          string        `json:"name" yaml:"name"`
	ChannelID     string        `json:"channelId,omitempty" yaml:"channelId,omitempty"`
	TriggerType   string        `json:"triggerType" yaml:"triggerType"`
	TriggerConfig TriggerConfig `json:"triggerConfig" yaml:"triggerConfig"`
	IsActive      bool          `json:"isActive" yaml:"isActive"`
	Nodes         []NodeSpec    `json:"nodes" yaml:"nodes"`
	Edges         []EdgeSpec    `json:"edges" yaml:"edges"`
}

type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type NodeSpec struct {
	ID       string         `json:"id" yaml:"id"`
	Type     NodeType       `json:"type" yaml:"type"`
	Position Position       `json:"position" yaml:"position"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

type EdgeSpec struct {
	ID        string           `json:"id" yaml:"id"`
	Source    string           `json:"source" yaml:"source"`
	Target    string           `json:"target" yaml:"target"`
	Condition *rules.Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	SortOrder int              `json:"sortOrder,omitempty" yaml:"sortOrder,omitempty"`
}

// GraphRows converts the node and edge specs into storage rows.
func (d Definition) GraphRows() ([]models.FlowNode, []models.FlowEdge, error) {
	nodes := make([]models.FlowNode, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		data := n.Data
		if data == nil {
			data = map[string]any{}
		}
		cfg, err := json.Marshal(normalizeYAML(data))
		if err != nil {
			return nil, nil, fmt.Errorf("node %q config: %w", n.ID, err)
		}
		nodes = append(nodes, models.FlowNode{
			NodeID:    n.ID,
			Type:      string(n.Type),
			Config:    string(cfg),
			PositionX: n.Position.X,
			PositionY: n.Position.Y,
		})
	}

	edges := make([]models.FlowEdge, 0, len(d.Edges))
	for i, e := range d.Edges {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("e-%s-%s-%d", e.Source, e.Target, i)
		}
		cond := ""
		if e.Condition != nil {
			data, err := json.Marshal(e.Condition)
			if err != nil {
				return nil, nil, fmt.Errorf("edge %q condition: %w", id, err)
			}
			cond = string(data)
		}
		edges = append(edges, models.FlowEdge{
			EdgeID:       id,
			SourceNodeID: e.Source,
			TargetNodeID: e.Target,
			Condition:    cond,
			SortOrder:    e.SortOrder,
		})
	}
	return nodes, edges, nil
}

// Model builds a storage row for the whole definition.
func (d Definition) Model(tenantID string) (*models.Chatbot, error) {
	nodes, edges, err := d.GraphRows()
	if err != nil {
		return nil, err
	}
	trigger, err := json.Marshal(d.TriggerConfig)
	if err != nil {
		return nil, err
	}
	triggerType := d.TriggerType
	if triggerType == "" {
		triggerType = models.ChatbotTriggerKeyword
	}
	return &models.Chatbot{
		TenantID:      tenantID,
		ChannelID:     d.ChannelID,
		Name:          d.Name,
		TriggerType:   triggerType,
		TriggerConfig: string(trigger),
		IsActive:      d.IsActive,
		Nodes:         nodes,
		Edges:         edges,
	}, nil
}

// DefinitionFromModel renders a stored bot back into the editor shape.
func DefinitionFromModel(bot *models.Chatbot) (*Definition, error) {
	trigger, err := ParseTriggerConfig(bot.TriggerConfig)
	if err != nil {
		return nil, err
	}
	d := &Definition{
		Name:          bot.Name,
		ChannelID:     bot.ChannelID,
		TriggerType:   bot.TriggerType,
		TriggerConfig: trigger,
		IsActive:      bot.IsActive,
		Nodes:         make([]NodeSpec, 0, len(bot.Nodes)),
		Edges:         make([]EdgeSpec, 0, len(bot.Edges)),
	}
	for _, n := range bot.Nodes {
		var data map[string]any
		if n.Config != "" {
			if err := json.Unmarshal([]byte(n.Config), &data); err != nil {
				return nil, fmt.Errorf("node %q config: %w", n.NodeID, err)
			}
		}
		d.Nodes = append(d.Nodes, NodeSpec{
			ID:       n.NodeID,
			Type:     NodeType(n.Type),
			Position: Position{X: n.PositionX, Y: n.PositionY},
			Data:     data,
		})
	}
	for _, e := range bot.Edges {
		cond, err := rules.ParseCondition(e.Condition)
		if err != nil {
			return nil, fmt.Errorf("edge %q condition: %w", e.EdgeID, err)
		}
		d.Edges = append(d.Edges, EdgeSpec{
			ID:        e.EdgeID,
			Source:    e.SourceNodeID,
			Target:    e.TargetNodeID,
			Condition: cond,
			SortOrder: e.SortOrder,
		})
	}
	return d, nil
}

// ParseDefinitionYAML decodes a flow file and checks its graph.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing chatbot definition: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("chatbot definition: missing required field 'name'")
	}
	nodes, edges, err := def.GraphRows()
	if err != nil {
		return nil, err
	}
	if _, err := BuildGraph("", nodes, edges); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile reads a YAML flow file.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chatbot file %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// YAML renders the definition in the import file format.
func (d Definition) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// normalizeYAML turns map[any]any values into map[string]any so they can be
// encoded as JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
