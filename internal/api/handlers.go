package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/storyforge/internal/factory"
	"github.com/taibuivan/storyforge/internal/svcctx"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady still closes over the Factory directly: Pool is a
// connection detail the request-scoped Services deliberately don't
// expose, since nothing below the HTTP layer should reach for it.
func handleReady(f *factory.Factory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f.Pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	session, ok := svcctx.SchedulerFrom(r.Context()).GetStatus(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "no active session for project")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type runRequest struct {
	Chapters int `json:"chapters"`
}

func handleRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	chapters := 1
	if n := r.URL.Query().Get("chapters"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			chapters = v
		}
	}
	var body runRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Chapters > 0 {
			chapters = body.Chapters
		}
	}

	summary, err := svcctx.SchedulerFrom(r.Context()).StartRun(r.Context(), projectID, chapters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handlePause(w http.ResponseWriter, r *http.Request) {
	if err := svcctx.SchedulerFrom(r.Context()).Pause(chi.URLParam(r, "projectID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func handleResume(w http.ResponseWriter, r *http.Request) {
	if err := svcctx.SchedulerFrom(r.Context()).Resume(chi.URLParam(r, "projectID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func handleStop(w http.ResponseWriter, r *http.Request) {
	if err := svcctx.SchedulerFrom(r.Context()).Stop(chi.URLParam(r, "projectID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func handleTick(w http.ResponseWriter, r *http.Request) {
	result, err := svcctx.PublisherFrom(r.Context()).TickPublisher(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
