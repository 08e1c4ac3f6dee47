package persistence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload layouts for the frame op codes. JSON keeps the log inspectable
// with standard tools; the frame header already carries the length and
// checksum, so the payload needs no extra envelope.

// NodeRecord is the payload of OpAddNode.
type NodeRecord struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EdgeRecord is the payload of OpAddEdge.
type EdgeRecord struct {
	ID           string   `json:"id"`
	Members      []string `json:"members"`
	Relationship string   `json:"relationship"`
	Strength     float64  `json:"strength"`
}

// RemoveRecord is the payload of OpRemoveNode and OpRemoveEdge.
type RemoveRecord struct {
	ID string `json:"id"`
}

// StrengthRecord is the payload of OpSetStrength. At is recorded so replay
// restores the staleness clock, not just the value.
type StrengthRecord struct {
	EdgeID   string    `json:"edge_id"`
	Strength float64   `json:"strength"`
	At       time.Time `json:"at"`
}

// TouchRecord is the payload of OpTouchEdge.
type TouchRecord struct {
	EdgeID string    `json:"edge_id"`
	At     time.Time `json:"at"`
}

// EncodeRecord marshals a record for framing.
func EncodeRecord(rec any) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode log record: %w", err)
	}
	return payload, nil
}

// DecodeRecord unmarshals a frame payload into the given record struct.
func DecodeRecord(payload []byte, rec any) error {
	if err := json.Unmarshal(payload, rec); err != nil {
		return fmt.Errorf("decode log record: %w", err)
	}
	return nil
}
