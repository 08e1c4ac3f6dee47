package server

import (
	"time"

	"github.com/sanonone/neurograph/pkg/core"
	"github.com/sanonone/neurograph/pkg/engine"
)

// NodeCreateRequest defines the body for node creation.
type NodeCreateRequest struct {
	Type    string         `json:"type,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EdgeCreateRequest defines the body for hyperedge creation. Strength
// defaults to 0.5 when omitted.
type EdgeCreateRequest struct {
	Members      []string `json:"members"`
	Relationship string   `json:"relationship"`
	Strength     float64  `json:"strength,omitempty"`
}

// QueryRequest carries one Pulse statement.
type QueryRequest struct {
	Query string `json:"query"`
}

// DatasetRecordRequest stores spike events for later TRAIN replay.
type DatasetRecordRequest struct {
	Events []engine.SpikeEvent `json:"events"`
}

// NeighborResponse is one adjacency entry of a node.
type NeighborResponse struct {
	EdgeID  string   `json:"edge_id"`
	Members []string `json:"members"`
}

// NodeResponse is the wire view of a node, read through the node's own lock.
type NodeResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Activation float64        `json:"activation"`
	LastSpike  *time.Time     `json:"last_spike,omitempty"`
}

func nodeView(n *core.Node) NodeResponse {
	resp := NodeResponse{
		ID:         n.ID,
		Type:       n.Type,
		Payload:    n.Payload,
		Activation: n.ActivationLevel(),
	}
	if ts := n.LastSpikeTime(); !ts.IsZero() {
		resp.LastSpike = &ts
	}
	return resp
}

// EdgeResponse is the wire view of a hyperedge.
type EdgeResponse struct {
	ID           string     `json:"id"`
	Members      []string   `json:"members"`
	Relationship string     `json:"relationship"`
	Strength     float64    `json:"strength"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
}

func edgeView(e *core.HyperEdge) EdgeResponse {
	resp := EdgeResponse{
		ID:           e.ID,
		Members:      e.Members,
		Relationship: e.Relationship,
		Strength:     e.CurrentStrength(),
	}
	if ts := e.LastUsedTime(); !ts.IsZero() {
		resp.LastUsed = &ts
	}
	return resp
}
