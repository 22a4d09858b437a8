// Package server exposes strategy creation, lifecycle actions and reports
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"odin/internal/service"
	"odin/internal/store"
	"odin/internal/strategy"
)

const maxBodyBytes = 1 << 20

// Reader is the read side of the store. *store.Store implements it.
type Reader interface {
	GetStrategy(ctx context.Context, id string) (*strategy.Document, error)
	FindStrategies(ctx context.Context, f store.Filter) ([]*strategy.Document, error)
	Report(ctx context.Context, name string, now time.Time) (any, error)
}

// Server routes HTTP requests to the service and store.
type Server struct {
	svc    *service.Service
	reader Reader
	log    *zap.Logger
	now    func() time.Time
}

// New returns a Server. A nil logger discards output.
func New(svc *service.Service, reader Reader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, reader: reader, log: logger, now: time.Now}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /strategies", s.handleCreate)
	mux.HandleFunc("GET /strategies", s.handleList)
	mux.HandleFunc("GET /strategies/{id}", s.handleGet)
	mux.HandleFunc("POST /strategies/{id}/{action}", s.handleTransition)
	mux.HandleFunc("GET /reports/{name}", s.handleReport)
	return s.logRequests(mux)
}

// ListenAndServe serves addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreate answers 500 with {error, timestamp} for every failure.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, &service.InputValidationError{Err: err})
		return
	}
	resp, err := s.svc.CreateStrategy(r.Context(), service.RequestFromBody(body))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.Filter
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			st, err := strategy.ParseStatus(part)
			if err != nil {
				s.fail(w, http.StatusBadRequest, err)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("recommendation"); raw != "" {
		rec, ok := strategy.ParseRecommendation(raw)
		if !ok {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("unknown recommendation %q", raw))
			return
		}
		f.Recommendation = rec
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		f.Limit = n
	}
	docs, err := s.reader.FindStrategies(r.Context(), f)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []*strategy.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": docs, "count": len(docs)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.reader.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type transitionBody struct {
	User          string         `json:"user"`
	Reason        string         `json:"reason"`
	ApprovalLevel string         `json:"approval_level"`
	Changes       map[string]any `json:"changes"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	action, err := strategy.ParseAction(r.PathValue("action"))
	if err != nil {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	var body transitionBody
	if raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes)); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	} else if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
	}
	doc, err := s.svc.Transition(r.Context(), r.PathValue("id"), strategy.Transition{
		Action:        action,
		User:          body.User,
		Reason:        body.Reason,
		ApprovalLevel: body.ApprovalLevel,
		Changes:       body.Changes,
	})
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reader.Report(r.Context(), r.PathValue("name"), s.now())
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownReport):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, service.FailureFor(err, s.now()))
}

func decodeBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	body := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
