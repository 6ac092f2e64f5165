package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/solweave/chainflow/internal/diagram"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/pkg/schema"
)

// --- Pipelines ---

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.deps.Store.ListPipelines(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": pipelines})
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Graph       json.RawMessage `json:"graph"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	graph, err := s.deps.Validator.ValidateGraphJSON(body.Graph)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	pipeline := &store.Pipeline{
		Name:        body.Name,
		Description: body.Description,
		Graph:       *graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Store.StorePipeline(r.Context(), pipeline); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": body.Name})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, err := s.deps.Store.GetPipeline(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeletePipeline(r.Context(), r.PathValue("name")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Runs ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		PipelineName: r.URL.Query().Get("pipeline"),
		Limit:        queryInt(r, "limit", 50),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		rs := schema.RunStatus(status)
		filter.Status = &rs
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleStartRun creates a run and executes it in the background. The canvas
// follows progress over the run's SSE stream.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pipeline string          `json:"pipeline"`
		Graph    json.RawMessage `json:"graph"`
		Inputs   map[string]any  `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var graph *schema.Graph
	switch {
	case len(body.Graph) > 0 && body.Pipeline != "":
		writeError(w, http.StatusBadRequest, "graph and pipeline are mutually exclusive")
		return
	case len(body.Graph) > 0:
		g, err := s.deps.Validator.ValidateGraphJSON(body.Graph)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		graph = g
	case body.Pipeline != "":
		pipeline, err := s.deps.Store.GetPipeline(r.Context(), body.Pipeline)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		graph = &pipeline.Graph
	default:
		writeError(w, http.StatusBadRequest, "either graph or pipeline is required")
		return
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:           uuid.NewString(),
		PipelineName: body.Pipeline,
		Graph:        *graph,
		Status:       schema.RunStatusPending,
		Inputs:       body.Inputs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Store.CreateRun(r.Context(), run); err != nil {
		writeStoreError(w, err)
		return
	}

	// Detached from the request context: closing the browser tab must not
	// cancel the pipeline.
	go func() {
		if _, err := s.deps.Runner.Run(context.Background(), run); err != nil {
			s.deps.Logger.Error("run failed to start",
				"run_id", run.ID, "error", err.Error())
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.deps.Runner.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.Stop(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	since := int64(queryInt(r, "since", 0))

	events, err := s.deps.Store.GetEvents(r.Context(), runID, since)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": events})
}

func (s *Server) handleRunDiagram(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	run, err := s.deps.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	states, _ := s.deps.Store.ListNodeStates(r.Context(), runID)

	model, err := diagram.Build(&run.Graph, states)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderASCII(model))
	case "image":
		png, imgErr := diagram.RenderImage(model)
		if imgErr != nil {
			writeError(w, http.StatusInternalServerError, imgErr.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	default:
		writeError(w, http.StatusBadRequest, "format must be mermaid, ascii, or image")
	}
}

// --- Schedules ---

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := store.ScheduleFilter{
		PipelineName: r.URL.Query().Get("pipeline"),
		Limit:        queryInt(r, "limit", 50),
	}
	schedules, err := s.deps.Store.ListSchedules(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PipelineName string          `json:"pipeline_name"`
		Cron         string          `json:"cron"`
		Inputs       json.RawMessage `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.PipelineName == "" || body.Cron == "" {
		writeError(w, http.StatusBadRequest, "pipeline_name and cron are required")
		return
	}
	if _, err := s.deps.Store.GetPipeline(r.Context(), body.PipelineName); err != nil {
		writeStoreError(w, err)
		return
	}

	now := time.Now().UTC()
	nextRun, err := s.deps.Cron.CalculateNextRun(body.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched := &store.Schedule{
		ID:             uuid.NewString(),
		PipelineName:   body.PipelineName,
		CronExpression: body.Cron,
		Inputs:         body.Inputs,
		Enabled:        true,
		NextRunAt:      &nextRun,
		CreatedAt:      now,
	}
	if err := s.deps.Store.CreateSchedule(r.Context(), sched); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":          sched.ID,
		"next_run_at": nextRun.Format(time.RFC3339),
	})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	err := s.deps.Store.UpdateSchedule(r.Context(), r.PathValue("id"), store.ScheduleUpdate{
		Enabled: body.Enabled,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteSchedule(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
