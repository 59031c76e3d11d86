package jobs

import (
	"canvas-studio/core"
	"canvas-studio/editor"
	"canvas-studio/handlers/api"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	SubmitRequest struct {
		ServiceID string         `json:"serviceId"`
		Values    map[string]any `json:"values"`
	}

	BackgroundRemovalRequest struct {
		LayerIDs []string `json:"layerIds"`
	}

	BackgroundRemovalResponse struct {
		Queued int `json:"queued"`
	}
)

// HandleSubmit starts a service job on the session's selection.
func HandleSubmit(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			api.Error(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		// Jobs outlive the request.
		job, err := s.SubmitJob(context.WithoutCancel(r.Context()), req.ServiceID, req.Values)
		switch {
		case errors.Is(err, editor.ErrUnknownService):
			api.Error(w, r, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, editor.ErrInputMismatch):
			api.Error(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "error": err}).Error("Failed to submit job")
			api.Error(w, r, http.StatusInternalServerError, "Failed to submit job")
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, job)
	}
}

func HandleList(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		jobs := s.Jobs()
		if jobs == nil {
			jobs = []core.ServiceJob{}
		}
		render.JSON(w, r, jobs)
	}
}

func HandleGet(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		job, found := s.Job(chi.URLParam(r, "jobId"))
		if !found {
			api.Error(w, r, http.StatusNotFound, "Job not found")
			return
		}
		render.JSON(w, r, job)
	}
}

func HandleDismiss(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		if !s.DismissJob(chi.URLParam(r, "jobId")) {
			api.Error(w, r, http.StatusNotFound, "Job not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleHistory lists the persisted terminal records of a session's jobs.
func HandleHistory(registry *editor.Registry, store core.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		records, err := store.ListJobs(r.Context(), s.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "error": err}).Error("Failed to list job records")
			api.Error(w, r, http.StatusInternalServerError, "Failed to list job records")
			return
		}
		if records == nil {
			records = []core.JobRecord{}
		}
		render.JSON(w, r, records)
	}
}

// HandleBackgroundRemoval queues layers for background removal, the
// selection when no ids are given.
func HandleBackgroundRemoval(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		var req BackgroundRemovalRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				api.Error(w, r, http.StatusBadRequest, "Invalid request body")
				return
			}
		}
		queued := s.RemoveBackground(context.WithoutCancel(r.Context()), req.LayerIDs...)
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, BackgroundRemovalResponse{Queued: queued})
	}
}

func HandleBackgroundRemovalState(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, s.BackgroundRemoval())
	}
}

// Routes mounts job routes under /api/sessions/{id}.
func Routes(r chi.Router, registry *editor.Registry, store core.JobStore) {
	r.Post("/jobs", HandleSubmit(registry))
	r.Get("/jobs", HandleList(registry))
	r.Get("/jobs/history", HandleHistory(registry, store))
	r.Get("/jobs/{jobId}", HandleGet(registry))
	r.Delete("/jobs/{jobId}", HandleDismiss(registry))
	r.Post("/bg-removal", HandleBackgroundRemoval(registry))
	r.Get("/bg-removal", HandleBackgroundRemovalState(registry))
}
