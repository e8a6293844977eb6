package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/pulse/async"
	"github.com/teranos/qaflow/version"
)

// QueryRequest is the body of POST /query
type QueryRequest struct {
	Question string          `json:"question"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// QueryResponse is the 202 body of POST /query
type QueryResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	CheckStatusURL string `json:"check_status_url"`
}

// HandleQuery admits a question and returns its job handle
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, "Question is required")
		return
	}

	jobID, err := s.submitter.Submit(r.Context(), req.Question, req.Context)
	if err != nil {
		if errors.IsInvalidRequestError(err) {
			s.writeError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
		logger.FromContext(r.Context(), s.logger).Errorw("Failed to submit question", logger.FieldError, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to submit question")
		return
	}

	s.writeJSON(w, http.StatusAccepted, QueryResponse{
		JobID:          jobID,
		Status:         "processing",
		Message:        "Your request is being processed",
		CheckStatusURL: "/status/" + jobID,
	})
}

// HandleStatus returns the view of one job
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	view, err := s.status.Get(r.Context(), jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Job not found", "job_id": jobID})
			return
		}
		logger.FromContext(r.Context(), s.logger).Errorw("Failed to read job status",
			logger.FieldJobID, jobID,
			logger.FieldError, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read job status")
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string             `json:"status"`
	Service   string             `json:"service"`
	Timestamp string             `json:"timestamp"`
	Version   string             `json:"version"`
	Workers   *WorkersHealth     `json:"workers,omitempty"`
	Memory    *async.MemoryStats `json:"memory,omitempty"`
}

// WorkersHealth summarises the in-process worker pool
type WorkersHealth struct {
	Active       int `json:"active"`
	Total        int `json:"total"`
	TasksQueued  int `json:"tasks_queued"`
	TasksRunning int `json:"tasks_running"`
	Processed    int `json:"processed"`
}

// HandleHealth reports liveness plus worker and memory figures
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Version:   version.Get().Version,
	}

	if s.pool != nil {
		m := s.pool.GetSystemMetrics(r.Context())
		resp.Workers = &WorkersHealth{
			Active:       m.WorkersActive,
			Total:        m.WorkersTotal,
			TasksQueued:  m.TasksQueued,
			TasksRunning: m.TasksRunning,
			Processed:    s.pool.TasksProcessed(),
		}
	}
	if mem, err := async.ReadMemory(); err == nil {
		resp.Memory = &mem
	}

	s.writeJSON(w, http.StatusOK, resp)
}
