package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sanonone/neurograph/pkg/core"
	"github.com/sanonone/neurograph/pkg/engine"
	"github.com/sanonone/neurograph/pkg/pulse"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Node handlers ---

func (s *Server) handleNodeCreate(w http.ResponseWriter, r *http.Request) {
	var req NodeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON, expected {\"type\": ..., \"payload\": ...}")
		return
	}

	id, err := s.Engine.AddNode(req.Payload, req.Type)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleNodeGet(w http.ResponseWriter, r *http.Request) {
	node, err := s.Engine.GetNode(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, nodeView(node))
}

func (s *Server) handleNodeDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RemoveNode(r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleNodeNeighbors(w http.ResponseWriter, r *http.Request) {
	neighbors, err := s.Engine.Neighbors(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	out := make([]NeighborResponse, 0, len(neighbors))
	for _, nb := range neighbors {
		out = append(out, NeighborResponse{EdgeID: nb.EdgeID, Members: nb.Members})
	}
	s.writeHTTPResponse(w, http.StatusOK, out)
}

func (s *Server) handleNodeSimilar(w http.ResponseWriter, r *http.Request) {
	threshold := 0.5
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			s.writeHTTPError(w, http.StatusBadRequest, "threshold must be a number in [0,1]")
			return
		}
		threshold = v
	}

	similar, err := s.Engine.FindSimilar(r.PathValue("id"), threshold)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, similar)
}

func (s *Server) handleNodeEffects(w http.ResponseWriter, r *http.Request) {
	strength := 1.0
	if raw := r.URL.Query().Get("strength"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeHTTPError(w, http.StatusBadRequest, "strength must be a number in (0,1]")
			return
		}
		strength = v
	}
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeHTTPError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		depth = v
	}

	eff, err := s.Engine.AnalyzeEffects(r.Context(), r.PathValue("id"), strength, depth)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, eff)
}

func (s *Server) handleNodeCentrality(w http.ResponseWriter, r *http.Request) {
	c, err := s.Engine.NodeCentrality(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, c)
}

func (s *Server) handleNodeAlignment(w http.ResponseWriter, r *http.Request) {
	al, err := s.Engine.AnalyzeAlignment(r.PathValue("id"), r.PathValue("other"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, al)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeHTTPError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	pairs, err := s.Engine.DiscoverRelationships(limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, pairs)
}

// --- Edge handlers ---

func (s *Server) handleEdgeCreate(w http.ResponseWriter, r *http.Request) {
	var req EdgeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON, expected {\"members\": [...], \"relationship\": ..., \"strength\": ...}")
		return
	}
	if req.Strength == 0 {
		req.Strength = 0.5
	}

	id, err := s.Engine.AddEdge(req.Members, req.Relationship, req.Strength)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleEdgeGet(w http.ResponseWriter, r *http.Request) {
	edge, err := s.Engine.GetEdge(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, edgeView(edge))
}

func (s *Server) handleEdgeDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RemoveEdge(r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

// --- Query and dataset handlers ---

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON, expected {\"query\": \"...\"}")
		return
	}
	if req.Query == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	res, err := s.Engine.ExecuteQueryContext(r.Context(), req.Query)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, res)
}

func (s *Server) handleDatasetRecord(w http.ResponseWriter, r *http.Request) {
	var req DatasetRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON, expected {\"events\": [{\"sources\": [...], \"strength\": ...}]}")
		return
	}
	if len(req.Events) == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "events must not be empty")
		return
	}

	s.Engine.RecordDataset(r.PathValue("name"), req.Events)
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{
		"status": "OK",
		"events": len(req.Events),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.Engine.GetStats())
}

// --- System handlers ---

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.SaveSnapshot(); err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleLogRewrite(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RewriteAOF(); err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

// --- Response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}

// writeEngineError maps engine errors onto HTTP status codes: malformed
// queries are the client's fault (400), semantically invalid ones are
// unprocessable (422), resource caps mean the server refused the work (503).
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var synErr *pulse.SyntaxError
	var valErr *engine.ValidationError
	var capErr *engine.CapacityError

	switch {
	case errors.As(err, &synErr):
		s.writeHTTPError(w, http.StatusBadRequest, synErr.Error())
	case errors.As(err, &valErr):
		s.writeHTTPError(w, http.StatusUnprocessableEntity, valErr.Error())
	case errors.As(err, &capErr):
		s.writeHTTPError(w, http.StatusServiceUnavailable, capErr.Error())
	case errors.Is(err, core.ErrNotFound):
		s.writeHTTPError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrInvalidEdge):
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
	}
}
