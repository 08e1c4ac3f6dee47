// Package client provides a Go client for interacting with the NeuroGraph API.
//
// It offers a type-safe way to perform all major operations, including:
//   - Node operations (Add, Get, Delete, Neighbors, Similar).
//   - Hyperedge operations (Add, Get, Delete).
//   - Network analysis (Effects, Centrality, Alignment, Relationships).
//   - Pulse queries and dataset recording for TRAIN.
//   - System administration tasks (Snapshot, Log Rewrite, Stats).
//
// The client handles HTTP communication, JSON serialization/deserialization,
// bearer authentication and standardized error handling.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Custom Errors ---

// APIError represents an error returned by the NeuroGraph API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// --- JSON Response Structs ---

// Node models a node as returned by the retrieval API.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Activation float64        `json:"activation"`
	LastSpike  *time.Time     `json:"last_spike,omitempty"`
}

// Edge models a hyperedge as returned by the retrieval API.
type Edge struct {
	ID           string     `json:"id"`
	Members      []string   `json:"members"`
	Relationship string     `json:"relationship"`
	Strength     float64    `json:"strength"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
}

// Neighbor is one adjacency entry of a node.
type Neighbor struct {
	EdgeID  string   `json:"edge_id"`
	Members []string `json:"members"`
}

// SimilarNode is one similarity hit.
type SimilarNode struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// AffectedNode is one downstream node of a simulated cascade.
type AffectedNode struct {
	ID     string  `json:"id"`
	Effect float64 `json:"effect"`
	Depth  int     `json:"depth"`
}

// NetworkEffect models the outcome of a simulated cascade from one node.
type NetworkEffect struct {
	Source             string         `json:"source"`
	Affected           []AffectedNode `json:"affected"`
	TotalEffect        float64        `json:"total_effect"`
	CascadeDepth       int            `json:"cascade_depth"`
	Type               string         `json:"type"`
	PrimaryBeneficiary string         `json:"primary_beneficiary,omitempty"`
}

// Centrality models the structural importance of a node.
type Centrality struct {
	Degree    int     `json:"degree"`
	Neighbors int     `json:"neighbors"`
	Influence float64 `json:"influence"`
}

// Alignment models a pairwise goal-alignment score.
type Alignment struct {
	NodeA          string   `json:"node_a"`
	NodeB          string   `json:"node_b"`
	Score          float64  `json:"score"`
	Type           string   `json:"type"`
	PotentialValue float64  `json:"potential_value"`
	Risks          []string `json:"risks"`
	Opportunities  []string `json:"opportunities"`
}

// SpikeEvent is one entry of a TRAIN dataset: sources spiked together at a
// given strength.
type SpikeEvent struct {
	Sources  []string `json:"sources"`
	Strength float64  `json:"strength"`
}

// QueryResult models the tabular outcome of a Pulse query. Elapsed is in
// nanoseconds, as encoded by the server.
type QueryResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	Warnings []string         `json:"warnings,omitempty"`
	Elapsed  int64            `json:"elapsed"`
}

// Stats models the aggregate graph statistics.
type Stats struct {
	NodeCount      int     `json:"node_count"`
	EdgeCount      int     `json:"edge_count"`
	AvgStrength    float64 `json:"avg_strength"`
	StrengthStdDev float64 `json:"strength_stddev"`
	AvgActivation  float64 `json:"avg_activation"`
	ActiveNodes    int     `json:"active_nodes"`
	AvgDegree      float64 `json:"avg_degree"`
	TotalSpikes    int     `json:"total_spikes"`
}

// --- Client ---

// Client is the Go client for interacting with NeuroGraph.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a new NeuroGraph client.
func New(host string, port int) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithURL creates a client for an explicit base URL (no trailing slash).
func NewWithURL(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAuthToken sets the bearer token sent with every request.
func (c *Client) WithAuthToken(token string) *Client {
	c.authToken = token
	return c
}

// jsonRequest is a helper method to execute all requests to the API.
// It handles JSON serialization, HTTP calls, and error management.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, nil
}

// --- Node Methods ---

// AddNode creates a node and returns its id.
func (c *Client) AddNode(nodeType string, payload map[string]any) (string, error) {
	body := map[string]any{}
	if nodeType != "" {
		body["type"] = nodeType
	}
	if payload != nil {
		body["payload"] = payload
	}
	respBody, err := c.jsonRequest(http.MethodPost, "/nodes", body)
	if err != nil {
		return "", err
	}
	var resp map[string]string
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response for AddNode: %w", err)
	}
	return resp["id"], nil
}

// GetNode retrieves a node by its id.
func (c *Client) GetNode(id string) (*Node, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/nodes/"+id, nil)
	if err != nil {
		return nil, err
	}
	var resp Node
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetNode: %w", err)
	}
	return &resp, nil
}

// DeleteNode removes a node, cascading to edges that would drop below two
// members.
func (c *Client) DeleteNode(id string) error {
	_, err := c.jsonRequest(http.MethodDelete, "/nodes/"+id, nil)
	return err
}

// Neighbors returns the hyperedges the node participates in.
func (c *Client) Neighbors(id string) ([]Neighbor, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/nodes/"+id+"/neighbors", nil)
	if err != nil {
		return nil, err
	}
	var resp []Neighbor
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Neighbors: %w", err)
	}
	return resp, nil
}

// Similar returns nodes scored similar to the given one, best first.
func (c *Client) Similar(id string, threshold float64) ([]SimilarNode, error) {
	endpoint := fmt.Sprintf("/nodes/%s/similar?threshold=%g", id, threshold)
	respBody, err := c.jsonRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp []SimilarNode
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Similar: %w", err)
	}
	return resp, nil
}

// --- Analysis Methods ---

// NetworkEffects simulates a cascade from the node and reports which nodes
// it would reach. strength 0 and depth 0 let the server defaults apply.
func (c *Client) NetworkEffects(id string, strength float64, depth int) (*NetworkEffect, error) {
	endpoint := "/nodes/" + id + "/effects"
	sep := "?"
	if strength != 0 {
		endpoint += fmt.Sprintf("%sstrength=%g", sep, strength)
		sep = "&"
	}
	if depth != 0 {
		endpoint += fmt.Sprintf("%sdepth=%d", sep, depth)
	}
	respBody, err := c.jsonRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp NetworkEffect
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for NetworkEffects: %w", err)
	}
	return &resp, nil
}

// Centrality retrieves the structural importance measures of a node.
func (c *Client) Centrality(id string) (*Centrality, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/nodes/"+id+"/centrality", nil)
	if err != nil {
		return nil, err
	}
	var resp Centrality
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Centrality: %w", err)
	}
	return &resp, nil
}

// Alignment scores how well two nodes' positions in the graph line up.
func (c *Client) Alignment(a, b string) (*Alignment, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/nodes/"+a+"/alignment/"+b, nil)
	if err != nil {
		return nil, err
	}
	var resp Alignment
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Alignment: %w", err)
	}
	return &resp, nil
}

// Relationships proposes up to limit non-overlapping node pairs with the
// highest-value alignments. limit 0 lets the server default apply.
func (c *Client) Relationships(limit int) ([]Alignment, error) {
	endpoint := "/relationships"
	if limit != 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	respBody, err := c.jsonRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp []Alignment
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Relationships: %w", err)
	}
	return resp, nil
}

// --- Edge Methods ---

// AddEdge creates a hyperedge over the given member node ids and returns its
// id. A strength of 0 lets the server default apply.
func (c *Client) AddEdge(members []string, relationship string, strength float64) (string, error) {
	body := map[string]any{
		"members":      members,
		"relationship": relationship,
	}
	if strength != 0 {
		body["strength"] = strength
	}
	respBody, err := c.jsonRequest(http.MethodPost, "/edges", body)
	if err != nil {
		return "", err
	}
	var resp map[string]string
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response for AddEdge: %w", err)
	}
	return resp["id"], nil
}

// GetEdge retrieves a hyperedge by its id.
func (c *Client) GetEdge(id string) (*Edge, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/edges/"+id, nil)
	if err != nil {
		return nil, err
	}
	var resp Edge
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetEdge: %w", err)
	}
	return &resp, nil
}

// DeleteEdge removes a hyperedge.
func (c *Client) DeleteEdge(id string) error {
	_, err := c.jsonRequest(http.MethodDelete, "/edges/"+id, nil)
	return err
}

// --- Query Methods ---

// Query executes a Pulse statement and returns its tabular result.
func (c *Client) Query(query string) (*QueryResult, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/query", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var resp QueryResult
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Query: %w", err)
	}
	return &resp, nil
}

// RecordDataset stores spike events under a name for later TRAIN replay.
func (c *Client) RecordDataset(name string, events []SpikeEvent) error {
	_, err := c.jsonRequest(http.MethodPost, "/datasets/"+name, map[string]any{"events": events})
	return err
}

// --- Administration Methods ---

// Stats retrieves the aggregate graph statistics.
func (c *Client) Stats() (*Stats, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/stats", nil)
	if err != nil {
		return nil, err
	}
	var resp Stats
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Stats: %w", err)
	}
	return &resp, nil
}

// Save triggers a snapshot of the graph, truncating the activation log.
func (c *Client) Save() error {
	_, err := c.jsonRequest(http.MethodPost, "/system/save", nil)
	return err
}

// RewriteLog compacts the activation log from the live graph state.
func (c *Client) RewriteLog() error {
	_, err := c.jsonRequest(http.MethodPost, "/system/log-rewrite", nil)
	return err
}
