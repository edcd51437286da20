// Package httpapi exposes the organizer's HTTP surface (spec.md §6): a
// synchronous /organize endpoint, async /process submission, /status
// polling, and /health liveness. This is explicitly "for reference only;
// not the core" per the spec, so it stays a thin adapter over
// internal/organize and internal/batch rather than owning any behavior.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"charm.land/log/v2"

	"github.com/Arke-Institute/arke-organizer-service/internal/batch"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/organize"
)

const maxRequestBodyBytes = model.MaxRequestBytes + 4096 // headroom for JSON framing overhead

// OrganizeRunner is the narrow interface the /organize handler needs.
type OrganizeRunner interface {
	Run(ctx context.Context, req model.OrganizeRequest) (organize.Result, error)
}

// BatchSubmitter is the narrow interface the /process handler needs.
type BatchSubmitter interface {
	Submit(ctx context.Context, batchID, chunkID string, ids []string, customPrompt string) (string, error)
}

// BatchStatusReader is the narrow interface the /status handler needs.
type BatchStatusReader interface {
	Get(ctx context.Context, batchID, chunkID string) (*model.BatchState, error)
}

// Server wires the HTTP handlers.
type Server struct {
	Organizer OrganizeRunner
	Batch     BatchSubmitter
	Status    BatchStatusReader
	Logger    *log.Logger
}

// Routes returns the configured mux, ready to be wrapped in an
// http.Server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /organize", s.handleOrganize)
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /status/{batch_id}/{chunk_id}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > maxRequestBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds 10 MiB limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req model.OrganizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds 10 MiB limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files must be non-empty")
		return
	}
	seen := make(map[string]bool, len(req.Files))
	for _, f := range req.Files {
		if seen[f.Name] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("duplicate file name %q", f.Name))
			return
		}
		seen[f.Name] = true
	}

	res, err := s.Organizer.Run(r.Context(), req)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("organize failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, organizeResponse{
		OrganizePlan:     res.Plan,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens,
		Cost:             res.Cost,
	})
}

// organizeResponse is the synchronous /organize response shape of spec.md
// §6: the OrganizePlan plus the token accounting and dollar cost of the
// LLM call that produced it.
type organizeResponse struct {
	model.OrganizePlan
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

type processRequest struct {
	BatchID      string   `json:"batch_id"`
	ChunkID      string   `json:"chunk_id"`
	IDs          []string `json:"ids"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BatchID == "" || req.ChunkID == "" || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "batch_id, chunk_id, and ids are required")
		return
	}

	status, err := s.Batch.Submit(r.Context(), req.BatchID, req.ChunkID, req.IDs, req.CustomPrompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"chunk_id": req.ChunkID,
		"total":    len(req.IDs),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batch_id")
	chunkID := r.PathValue("chunk_id")

	state, err := s.Status.Get(r.Context(), batchID, chunkID)
	if err != nil {
		if err == batch.ErrNotFound {
			writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"phase":    state.Phase,
		"progress": state.Progress(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
