package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/auth"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// timestampLayout formats job timestamps in responses.
const timestampLayout = "2006-01-02 15:04:05"

type submitRequest struct {
	URL string `json:"url"`
}

type summaryItem struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Summary   *string `json:"summary"`
	Processed int     `json:"processed"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type listResponse struct {
	Page      int           `json:"page"`
	Offset    int           `json:"offset"`
	UserID    int64         `json:"user_id"`
	Summaries []summaryItem `json:"summaries"`
}

func toSummaryItem(job summary.Job) summaryItem {
	item := summaryItem{
		ID:        job.ID,
		URL:       job.URL,
		CreatedAt: job.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt: job.UpdatedAt.UTC().Format(timestampLayout),
	}
	if job.Processed() {
		text := job.ResultText
		item.Summary = &text
		item.Processed = 1
	}
	return item
}

func (s *Server) submitSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "Not authenticated")
		return
	}
	var req submitRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	id, err := s.summaries.Submit(r.Context(), user.ID, req.URL)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"msg": "Summary generation request accepted",
		"id":  id,
	})
}

func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "Not authenticated")
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	size, err := queryInt(r, "offset", summary.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	jobs, err := s.summaries.List(r.Context(), user.ID, summary.Page{Number: page, Size: size})
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	items := make([]summaryItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, toSummaryItem(job))
	}
	writeJSON(w, http.StatusOK, listResponse{Page: page, Offset: size, UserID: user.ID, Summaries: items})
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "Not authenticated")
		return
	}
	job, err := s.summaries.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryItem(job))
}

func (s *Server) deleteSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "Not authenticated")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.summaries.Remove(r.Context(), user.ID, id); err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "Summary deleted", "id": id})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, summary.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, summary.ErrNotSummarizable):
		writeError(w, http.StatusBadRequest, "URL does not point to a web page with content")
	case errors.Is(err, summary.ErrDuplicateJob):
		writeError(w, http.StatusBadRequest, "Summary already exists for this URL")
	case errors.Is(err, summary.ErrNotFound):
		writeError(w, http.StatusNotFound, "Summary not found")
	case errors.Is(err, summary.ErrQueueUnavailable):
		s.logger.Error("job queue unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Summarization is temporarily unavailable")
	default:
		s.logger.Error("summary request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return n, nil
}
