// Package server exposes the runner over HTTP: events in, run status and
// step logs out.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v44/github"
	"github.com/google/uuid"

	"workflowci/internal/core"
	"workflowci/internal/ledger"
	"workflowci/internal/logger"
	"workflowci/internal/storage"
)

const maxBodyBytes = 5 << 20

// Server turns events into queued job instances for one workflow.
type Server struct {
	Workflow   *core.Workflow
	Scheduler  *core.Scheduler
	Dispatcher *Dispatcher
	Runs       *RunStore

	// Optional.
	Logs          *storage.LogStorage
	Ledger        *ledger.Ledger
	WebhookSecret string
}

func New(w *core.Workflow, runs *RunStore, d *Dispatcher) *Server {
	return &Server{
		Workflow:   w,
		Scheduler:  core.NewScheduler(),
		Dispatcher: d,
		Runs:       runs,
	}
}

// Trigger queues one run per job ev starts and returns their ids. It returns
// an empty slice when no trigger matches.
func (s *Server) Trigger(ev core.Event) ([]string, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	jobs := s.Scheduler.JobsFor(s.Workflow, ev)
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		req := core.RunRequest{ID: uuid.NewString(), Workflow: s.Workflow, JobID: job, Event: ev}
		if err := s.Dispatcher.Submit(req); err != nil {
			return ids, err
		}
		ids = append(ids, req.ID)
	}
	logger.LogInfo("event received", map[string]interface{}{"event": ev.Name, "ref": ev.Ref, "head_ref": ev.HeadRef, "runs": len(ids)})
	return ids, nil
}

// Fire adapts Trigger for the cron scheduler.
func (s *Server) Fire(ev core.Event) {
	if _, err := s.Trigger(ev); err != nil {
		logger.LogError("cannot queue scheduled run", err, map[string]interface{}{"cron": ev.Schedule})
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/events", s.handleEvent)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/logs/{index}", s.handleStepLog)
		r.Get("/{id}/ledger", s.handleRunLedger)
	})
	r.Get("/ledger/verify", s.handleVerifyLedger)
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.LogInfo("listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// POST /events -> queue the jobs an event starts
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	// with a secret configured every event must be signed, generic ones included
	if s.WebhookSecret != "" {
		if err := checkSignature(s.WebhookSecret, r.Header.Get(SignatureHeader), body); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid event signature")
			return
		}
	}

	var ev core.Event
	if kind := github.WebHookType(r); kind != "" {
		if kind == "ping" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
			return
		}
		if ev, err = decodeWebhook(kind, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if err := json.Unmarshal(body, &ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
			return
		}
		if ev.Name == "" {
			writeError(w, http.StatusBadRequest, "event name is required")
			return
		}
	}

	ids, err := s.Trigger(ev)
	if errors.Is(err, ErrQueueFull) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(ids) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"runs": ids})
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Runs.List())
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	res, ok := s.Runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /runs/{id}/logs/{index} -> plain text log of one step
func (s *Server) handleStepLog(w http.ResponseWriter, r *http.Request) {
	if s.Logs == nil {
		writeError(w, http.StatusNotFound, "log storage disabled")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid step index")
		return
	}
	data, err := s.Logs.ReadLog(chi.URLParam(r, "id"), index)
	if err != nil {
		writeError(w, http.StatusNotFound, "log not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

// GET /runs/{id}/ledger
func (s *Server) handleRunLedger(w http.ResponseWriter, r *http.Request) {
	if s.Ledger == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.Ledger.RunBlocks(chi.URLParam(r, "id")))
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if s.Ledger == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}
	if err := s.Ledger.VerifyChain(); err != nil {
		writeError(w, http.StatusInternalServerError, "ledger verification failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"blocks": s.Ledger.Len(),
		"head":   s.Ledger.LastHash(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogWarn("cannot encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.LogDebug("http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}
