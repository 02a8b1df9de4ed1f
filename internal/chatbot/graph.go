package chatbot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"crm-automation/internal/actions"
	"crm-automation/internal/models"
	"crm-automation/internal/rules"
)

type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeMessage   NodeType = "message"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
	NodeDelay     NodeType = "delay"
	NodeEnd       NodeType = "end"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeStart, NodeMessage, NodeCondition, NodeAction, NodeDelay, NodeEnd:
		return true
	}
	return false
}

var (
	ErrNoStartNode  = errors.New("flow has no start node")
	ErrInvalidGraph = errors.New("invalid flow graph")
)

// MessageConfig is the config of a message node. A nil or -1 Delay suspends
// the execution until the contact replies; any other value advances at once.
type MessageConfig struct {
	Text     string   `json:"text"`
	MediaURL string   `json:"mediaUrl,omitempty"`
	Delay    *float64 `json:"delay,omitempty"`
	// Variable stores the reply that resumes this node.
	Variable string `json:"variable,omitempty"`
}

func (c MessageConfig) AwaitsReply() bool {
	return c.Delay == nil || *c.Delay < 0
}

// ActionConfig is the config of an action node: one verb and its parameters.
// Parameters may also sit next to "action" when Params is absent.
type ActionConfig struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DelayConfig is the config of a suspending delay node.
type DelayConfig struct {
	Duration float64 `json:"duration"`
	Unit     string  `json:"unit"`
}

// Node is a decoded flow node.
type Node struct {
	ID      string
	Type    NodeType
	Message *MessageConfig
	Action  actions.Action
	Delay   time.Duration
}

// Edge is a decoded flow edge. A nil Condition marks the fallback edge.
type Edge struct {
	ID        string
	Source    string
	Target    string
	Condition *rules.Condition
	SortOrder int
	seq       uint
}

// Graph is an immutable, validated chatbot flow.
type Graph struct {
	ChatbotID string
	StartID   string
	nodes     map[string]*Node
	outgoing  map[string][]Edge
}

// flowActions are the verbs an action node may run. wait is automation-only.
var flowActions = map[actions.Kind]bool{
	actions.KindSendMessage:        true,
	actions.KindAddTag:             true,
	actions.KindRemoveTag:          true,
	actions.KindAssignUser:         true,
	actions.KindMoveDealStage:      true,
	actions.KindCreateNotification: true,
	actions.KindCallWebhook:        true,
	actions.KindSetVariable:        true,
}

// BuildGraph decodes and validates stored rows. Exactly one start node is
// required and every edge must join existing nodes.
func BuildGraph(chatbotID string, nodes []models.FlowNode, edges []models.FlowEdge) (*Graph, error) {
	g := &Graph{
		ChatbotID: chatbotID,
		nodes:     make(map[string]*Node, len(nodes)),
		outgoing:  make(map[string][]Edge),
	}

	for _, row := range nodes {
		if _, dup := g.nodes[row.NodeID]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, row.NodeID)
		}
		node, err := decodeNode(row)
		if err != nil {
			return nil, err
		}
		if node.Type == NodeStart {
			if g.StartID != "" {
				return nil, fmt.Errorf("%w: more than one start node", ErrInvalidGraph)
			}
			g.StartID = node.ID
		}
		g.nodes[node.ID] = node
	}
	if g.StartID == "" {
		return nil, ErrNoStartNode
	}

	for _, row := range edges {
		if _, ok := g.nodes[row.SourceNodeID]; !ok {
			return nil, fmt.Errorf("%w: edge %q from unknown node %q", ErrInvalidGraph, row.EdgeID, row.SourceNodeID)
		}
		if _, ok := g.nodes[row.TargetNodeID]; !ok {
			return nil, fmt.Errorf("%w: edge %q to unknown node %q", ErrInvalidGraph, row.EdgeID, row.TargetNodeID)
		}
		cond, err := rules.ParseCondition(row.Condition)
		if err != nil {
			return nil, fmt.Errorf("%w: edge %q: %v", ErrInvalidGraph, row.EdgeID, err)
		}
		g.outgoing[row.SourceNodeID] = append(g.outgoing[row.SourceNodeID], Edge{
			ID:        row.EdgeID,
			Source:    row.SourceNodeID,
			Target:    row.TargetNodeID,
			Condition: cond,
			SortOrder: row.SortOrder,
			seq:       row.ID,
		})
	}
	for _, list := range g.outgoing {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].SortOrder != list[j].SortOrder {
				return list[i].SortOrder < list[j].SortOrder
			}
			return list[i].seq < list[j].seq
		})
	}
	return g, nil
}

func decodeNode(row models.FlowNode) (*Node, error) {
	node := &Node{ID: row.NodeID, Type: NodeType(row.Type)}
	if strings.TrimSpace(node.ID) == "" {
		return nil, fmt.Errorf("%w: node without id", ErrInvalidGraph)
	}
	if !node.Type.Valid() {
		return nil, fmt.Errorf("%w: node %q has unknown type %q", ErrInvalidGraph, row.NodeID, row.Type)
	}
	raw := []byte(row.Config)
	if strings.TrimSpace(row.Config) == "" {
		raw = []byte("{}")
	}

	switch node.Type {
	case NodeMessage:
		var cfg MessageConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: message node %q: %v", ErrInvalidGraph, row.NodeID, err)
		}
		node.Message = &cfg
	case NodeAction:
		var cfg ActionConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: action node %q: %v", ErrInvalidGraph, row.NodeID, err)
		}
		kind := actions.Kind(cfg.Action)
		if kind == "webhook" {
			kind = actions.KindCallWebhook
		}
		if !flowActions[kind] {
			return nil, fmt.Errorf("%w: action node %q: %q is not available in flows", ErrInvalidGraph, row.NodeID, cfg.Action)
		}
		params := cfg.Params
		if len(params) == 0 {
			params = raw
		}
		a, err := actions.DecodeKind(kind, params)
		if err != nil {
			return nil, fmt.Errorf("%w: action node %q: %v", ErrInvalidGraph, row.NodeID, err)
		}
		node.Action = a
	case NodeDelay:
		var cfg DelayConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: delay node %q: %v", ErrInvalidGraph, row.NodeID, err)
		}
		if cfg.Duration < 0 {
			return nil, fmt.Errorf("%w: delay node %q: negative duration", ErrInvalidGraph, row.NodeID)
		}
		d, err := actions.UnitDuration(cfg.Duration, cfg.Unit)
		if err != nil {
			return nil, fmt.Errorf("%w: delay node %q: %v", ErrInvalidGraph, row.NodeID, err)
		}
		node.Delay = d
	}
	return node, nil
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Start() *Node {
	return g.nodes[g.StartID]
}

// Outgoing returns the node's edges in evaluation order.
func (g *Graph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// Next picks the edge to follow: the first conditioned edge that matches, in
// order, else the first fallback edge. It returns false when nothing applies.
func (g *Graph) Next(nodeID string, lookup rules.Lookup) (string, bool) {
	var fallback *Edge
	for i, e := range g.outgoing[nodeID] {
		if e.Condition == nil {
			if fallback == nil {
				fallback = &g.outgoing[nodeID][i]
			}
			continue
		}
		if rules.EvaluateOne(*e.Condition, lookup) {
			return e.Target, true
		}
	}
	if fallback != nil {
		return fallback.Target, true
	}
	return "", false
}
