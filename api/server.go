// ABOUTME: HTTP control plane for submitting, observing, and steering pipeline runs.
// ABOUTME: Routes of spec.md 6.4, chi-routed, one TCP endpoint, JSON over HTTP plus SSE for events.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pipecraft/pipecraft/graph"
	"github.com/pipecraft/pipecraft/runtime"
)

// ServerConfig configures the control plane's run settings. Every submitted
// pipeline runs with these; a submit request carries only the graph source.
type ServerConfig struct {
	Addr               string // listen address, e.g. "127.0.0.1:8420"
	ArtifactsBaseDir   string // default "artifacts"
	Backend            runtime.CodergenBackend
	BaseURL            string
	Observer           runtime.Observer
	DefaultRetry       runtime.RetryPolicy
	Watchdog           *runtime.WatchdogConfig
	RestartMaxRestarts int
	ExtraLintRules     []graph.LintRule
	DotBinary          string // default "dot"
}

// Server is the HTTP control plane: a chi router over an in-memory run
// registry. A run's lifecycle lives entirely in memory; artifacts and
// checkpoints are the durable record on disk.
type Server struct {
	config ServerConfig
	router chi.Router

	mu   sync.RWMutex
	runs map[string]*pipelineRun
}

// NewServer builds a Server and its route table.
func NewServer(cfg ServerConfig) *Server {
	if cfg.ArtifactsBaseDir == "" {
		cfg.ArtifactsBaseDir = "artifacts"
	}
	if cfg.DotBinary == "" {
		cfg.DotBinary = "dot"
	}
	s := &Server{config: cfg, runs: make(map[string]*pipelineRun)}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP satisfies http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the control plane on cfg.Addr with timeouts
// appropriate for long-running SSE connections and slow clients. It returns
// once ctx is cancelled (closing the listener) or the server fails to start.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE streams run indefinitely
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/pipelines", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPipeline)
			r.Post("/cancel", s.handleCancel)
			r.Get("/events", s.handleEvents)
			r.Get("/checkpoint", s.handleCheckpoint)
			r.Get("/context", s.handleContext)
			r.Get("/graph", s.handleGraph)
			r.Post("/questions/{qid}/answer", s.handleAnswerQuestion)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("component=api.server action=encode_response_failed err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, diagnostics []graph.Diagnostic) {
	body := map[string]any{"error": message}
	if len(diagnostics) > 0 {
		rendered := make([]map[string]any, 0, len(diagnostics))
		for _, d := range diagnostics {
			rendered = append(rendered, map[string]any{
				"rule":     d.Rule,
				"severity": d.Severity.String(),
				"message":  d.Message,
				"node_id":  d.NodeID,
			})
		}
		body["diagnostics"] = rendered
	}
	writeJSON(w, status, body)
}

type submitRequest struct {
	DotSource string `json:"dotSource"`
}

// handleSubmit handles POST /pipelines. The graph is parsed and validated
// before the run is accepted, so malformed sources never reach the runner.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}
	if req.DotSource == "" {
		writeError(w, http.StatusBadRequest, "dotSource must not be empty", nil)
		return
	}

	g, err := graph.Parse(req.DotSource)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse error: "+err.Error(), nil)
		return
	}
	diags, err := graph.ValidateOrError(g, s.config.ExtraLintRules...)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error(), diags)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	run := newPipelineRun(id, req.DotSource, cancel)
	run.interviewer = &httpInterviewer{run: run}
	if dir, dirErr := runtime.ResolveRunDir(s.config.ArtifactsBaseDir, id); dirErr == nil {
		run.artifactDir = dir
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()

	cfg := runtime.RunConfig{
		ArtifactsBaseDir:   s.config.ArtifactsBaseDir,
		RunID:              id,
		ExtraLintRules:     s.config.ExtraLintRules,
		DefaultRetry:       s.config.DefaultRetry,
		Backend:            s.config.Backend,
		BaseURL:            s.config.BaseURL,
		Interviewer:        run.interviewer,
		Observer:           s.config.Observer,
		RestartMaxRestarts: s.config.RestartMaxRestarts,
		Watchdog:           s.config.Watchdog,
		EventHandler:       run.recordEvent,
	}

	go func() {
		runner := runtime.NewRunner(cfg)
		result, runErr := runner.RunGraph(ctx, g)
		run.finish(result, runErr, ctx.Err() != nil)
	}()

	log.Printf("component=api.server action=pipeline_submitted run_id=%s bytes=%d", id, len(req.DotSource))
	writeJSON(w, http.StatusCreated, map[string]string{"runId": id})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *pipelineRun {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run", nil)
		return nil
	}
	return run
}

type pendingQuestionView struct {
	ID      string   `json:"id"`
	NodeID  string   `json:"node_id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type statusResponse struct {
	RunID           string               `json:"runId"`
	Status          string               `json:"status"`
	CompletedNodes  []string             `json:"completed_nodes"`
	CurrentNode     string               `json:"current_node,omitempty"`
	Context         map[string]any       `json:"context,omitempty"`
	PendingQuestion *pendingQuestionView `json:"pending_question,omitempty"`
	FinalOutcome    *runtime.Outcome     `json:"final_outcome,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// handleGetPipeline handles GET /pipelines/{id}.
func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	status, errMsg, currentNode, completed, outcome, pending := run.snapshotStatus()

	resp := statusResponse{
		RunID:          run.id,
		Status:         status,
		CompletedNodes: completed,
		CurrentNode:    currentNode,
		Context:        run.contextSnapshot(),
		FinalOutcome:   outcome,
		Error:          errMsg,
	}
	if pending != nil {
		resp.PendingQuestion = &pendingQuestionView{ID: pending.ID, NodeID: pending.NodeID, Prompt: pending.Prompt, Options: pending.Options}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles POST /pipelines/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	if run.isTerminal() {
		writeError(w, http.StatusConflict, "run already reached a terminal state", nil)
		return
	}
	run.cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleAnswerQuestion handles POST /pipelines/{id}/questions/{qid}/answer.
func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	qid := chi.URLParam(r, "qid")

	var body struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}
	if body.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required", nil)
		return
	}

	if !run.resolve(qid, runtime.Answer{Value: body.Value, Text: body.Text}) {
		writeError(w, http.StatusNotFound, "unknown or already-answered question", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

// handleCheckpoint handles GET /pipelines/{id}/checkpoint.
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	run.mu.RLock()
	artifactDir := run.artifactDir
	run.mu.RUnlock()
	if artifactDir == "" {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	cp, err := runtime.LoadCheckpoint(artifactDir + "/checkpoint.json")
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// handleContext handles GET /pipelines/{id}/context.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	snap := run.contextSnapshot()
	if snap == nil {
		snap = map[string]any{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGraph handles GET /pipelines/{id}/graph: renders SVG via a `dot`
// binary on PATH, falling back to the raw graph source when unavailable.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	dotPath, lookErr := exec.LookPath(s.config.DotBinary)
	if lookErr != nil {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(run.source))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, dotPath, "-Tsvg")
	cmd.Stdin = strings.NewReader(run.source)
	svg, err := cmd.Output()
	if err != nil {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(run.source))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(svg)
}
