package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"scanbot/internal/task/scheduler"
	"scanbot/internal/workflow"
)

type envelope struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, envelope{Status: "ok", RequestID: RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC(), Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeEnvelope(w, status, envelope{Status: "error", RequestID: RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC(), Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

type jobView struct {
	Name         string     `json:"name"`
	Spec         string     `json:"spec"`
	Next         *time.Time `json:"next,omitempty"`
	Running      bool       `json:"running"`
	Runs         uint64     `json:"runs"`
	Skips        uint64     `json:"skips"`
	LastStart    *time.Time `json:"last_start,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

type schedulerView struct {
	Running    bool      `json:"running"`
	Timezone   string    `json:"timezone"`
	JobTimeout string    `json:"job_timeout"`
	Jobs       []jobView `json:"jobs"`
}

type statusResponse struct {
	Scheduler *schedulerView    `json:"scheduler,omitempty"`
	LastRun   *workflow.Summary `json:"last_run,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toSchedulerView(snap scheduler.Snapshot) *schedulerView {
	v := &schedulerView{
		Running:    snap.Running,
		Timezone:   snap.Timezone,
		JobTimeout: snap.JobTimeout.String(),
		Jobs:       make([]jobView, 0, len(snap.Jobs)),
	}
	for _, j := range snap.Jobs {
		jv := jobView{
			Name:      j.Name,
			Spec:      j.Spec,
			Next:      timePtr(j.Next),
			Running:   j.Running,
			Runs:      j.Runs,
			Skips:     j.Skips,
			LastStart: timePtr(j.LastStart),
			LastError: j.LastError,
		}
		if j.LastDuration > 0 {
			jv.LastDuration = j.LastDuration.String()
		}
		v.Jobs = append(v.Jobs, jv)
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	if s.sched != nil {
		resp.Scheduler = toSchedulerView(s.sched.Snapshot())
	}
	if s.runs != nil {
		if last, ok := s.runs.Last(); ok {
			resp.LastRun = &last
		}
	}
	respondJSON(w, r, http.StatusOK, resp)
}

type runResponse struct {
	Job      string `json:"job"`
	Accepted bool   `json:"accepted"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		respondError(w, r, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	err := s.sched.Trigger(s.jobName)
	switch {
	case err == nil:
		respondJSON(w, r, http.StatusAccepted, runResponse{Job: s.jobName, Accepted: true})
	case errors.Is(err, scheduler.ErrJobRunning):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrUnknownJob):
		respondError(w, r, http.StatusNotFound, err.Error())
	default:
		respondError(w, r, http.StatusInternalServerError, err.Error())
	}
}
