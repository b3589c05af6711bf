package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runnerr0/trail/internal/history"
)

const defaultLimit = 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

// recordVisitRequest is the body of POST /api/visits. VisitTime defaults
// to the time the request is received.
type recordVisitRequest struct {
	URL        string `json:"url" validate:"required"`
	Title      string `json:"title"`
	VisitTime  *int64 `json:"visit_time"`
	Duration   *int64 `json:"visit_duration" validate:"omitempty,gte=0"`
	FromURL    string `json:"from_url"`
	Transition string `json:"transition_type"`
	Incognito  bool   `json:"incognito"`
}

type recordVisitResponse struct {
	Recorded bool            `json:"recorded"`
	ID       history.VisitID `json:"id,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Category string          `json:"category,omitempty"`
}

type updateDurationRequest struct {
	Seconds *int64 `json:"seconds" validate:"required"`
}

type clearRequest struct {
	OlderThan *int64 `json:"older_than" validate:"required_without=All,excluded_with=All"`
	All       bool   `json:"all"`
}

type visitsResponse struct {
	Visits []history.Visit `json:"visits"`
	Count  int             `json:"count"`
}

type pagesResponse struct {
	Pages []history.PageAggregate `json:"pages"`
	Count int                     `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps engine errors to status codes: validation 400, not found
// 404, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *history.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: verr.Error(), Kind: string(verr.Kind), Field: verr.Field,
		})
	case errors.Is(err, history.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation error: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.history.CountVisits(r.Context())
	dbOK := err == nil

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  s.now().Sub(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.history.Path(),
		"visits":  count,
	})
}

func (s *Server) handleRecordVisit(w http.ResponseWriter, r *http.Request) {
	var req recordVisitRequest
	if !s.decode(w, r, &req) {
		return
	}

	now := s.now()
	if s.policy != nil {
		if d := s.policy.Check(req.URL, req.Incognito, now); !d.Record {
			s.logger.Debug("visit not captured", zap.String("reason", string(d.Reason)), zap.String("category", d.Category))
			writeJSON(w, http.StatusAccepted, recordVisitResponse{Recorded: false, Reason: string(d.Reason), Category: d.Category})
			return
		}
	}

	visitTime := now.Unix()
	if req.VisitTime != nil {
		visitTime = *req.VisitTime
	}

	id, err := s.history.RecordVisit(r.Context(), history.Visit{
		URL:        req.URL,
		Title:      req.Title,
		VisitTime:  visitTime,
		Duration:   req.Duration,
		FromURL:    req.FromURL,
		Transition: history.Transition(req.Transition),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, recordVisitResponse{Recorded: true, ID: id})
}

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	v, err := s.history.GetVisit(r.Context(), history.VisitID(chi.URLParam(r, "visitID")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVisit(w http.ResponseWriter, r *http.Request) {
	if err := s.history.DeleteVisit(r.Context(), history.VisitID(chi.URLParam(r, "visitID"))); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateDuration(w http.ResponseWriter, r *http.Request) {
	var req updateDurationRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := history.VisitID(chi.URLParam(r, "visitID"))
	if err := s.history.UpdateVisitDuration(r.Context(), id, *req.Seconds); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := history.SearchQuery{
		Text:  q.Get("q"),
		Match: history.MatchMode(q.Get("match")),
		Limit: defaultLimit,
	}

	var err error
	if query.Start, err = optionalInt64(q.Get("since"), "since"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if query.End, err = optionalInt64(q.Get("until"), "until"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if query.Limit, err = intParam(q.Get("limit"), "limit", defaultLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	if query.Offset, err = intParam(q.Get("offset"), "offset", 0); err != nil {
		s.writeError(w, r, err)
		return
	}

	visits, err := s.history.Search(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visitsResponse{Visits: visits, Count: len(visits)})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", defaultLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	visits, err := s.history.GetRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visitsResponse{Visits: visits, Count: len(visits)})
}

func (s *Server) handlePageVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := s.history.GetVisitsForURL(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visitsResponse{Visits: visits, Count: len(visits)})
}

func (s *Server) handleMostVisited(w http.ResponseWriter, r *http.Request) {
	s.handleRanking(w, r, s.history.GetMostVisited)
}

func (s *Server) handleFrecent(w http.ResponseWriter, r *http.Request) {
	s.handleRanking(w, r, s.history.GetFrecent)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request, rank func(ctx context.Context, limit int) ([]history.PageAggregate, error)) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", defaultLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	pages, err := rank(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagesResponse{Pages: pages, Count: len(pages)})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	var (
		n   int64
		err error
	)
	if u := r.URL.Query().Get("url"); u != "" {
		n, err = s.history.CountVisitsForURL(r.Context(), u)
	} else {
		n, err = s.history.CountVisits(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	var (
		n   int64
		err error
	)
	if req.All {
		n, err = s.history.ClearAll(r.Context())
	} else {
		n, err = s.history.ClearOlderThan(r.Context(), *req.OlderThan)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("history cleared via api",
		zap.Bool("all", req.All),
		zap.Int64("removed", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func optionalInt64(raw, field string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &history.ValidationError{Kind: history.InvalidTimestamp, Field: field, Reason: "not an integer"}
	}
	return &v, nil
}

func intParam(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		kind := history.InvalidQuery
		if field == "limit" {
			kind = history.InvalidLimit
		}
		return 0, &history.ValidationError{Kind: kind, Field: field, Reason: "not an integer"}
	}
	return v, nil
}
