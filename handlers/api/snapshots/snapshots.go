package snapshots

import (
	"canvas-studio/core"
	"canvas-studio/editor"
	"canvas-studio/handlers/api"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateSnapshotRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	CreateSnapshotResponse struct {
		ID string `json:"id"`
	}

	UpdateSnapshotRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
)

func storeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, core.ErrNotFound) {
		api.Error(w, r, http.StatusNotFound, "Snapshot not found")
		return
	}
	logrus.WithField("error", err).Error(msg)
	api.Error(w, r, http.StatusInternalServerError, msg)
}

// HandleCreateSnapshot saves the session's current document.
func HandleCreateSnapshot(registry *editor.Registry, store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}

		var req CreateSnapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		data, err := s.EncodeDocument()
		if err != nil {
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "error": err}).Error("Failed to encode document")
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}

		id, err := store.CreateSnapshot(r.Context(), s.ID, req.Name, req.Description, data)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to create snapshot")
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateSnapshotResponse{ID: id})
	}
}

// HandleListSnapshots lists a session's snapshots newest first. The session
// does not need to be open.
func HandleListSnapshots(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		snapshots, err := store.ListSnapshots(r.Context(), sessionID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list snapshots")
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}
		if snapshots == nil {
			snapshots = []core.Snapshot{}
		}
		render.JSON(w, r, snapshots)
	}
}

func HandleGetSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := store.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotId"))
		if err != nil {
			storeError(w, r, err, "Failed to get snapshot")
			return
		}
		render.JSON(w, r, snapshot)
	}
}

func HandleDeleteSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteSnapshot(r.Context(), chi.URLParam(r, "snapshotId")); err != nil {
			storeError(w, r, err, "Failed to delete snapshot")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleUpdateSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSnapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := store.UpdateSnapshot(r.Context(), chi.URLParam(r, "snapshotId"), req.Name, req.Description); err != nil {
			storeError(w, r, err, "Failed to update snapshot")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestoreSnapshot loads a snapshot into its session, opening a new
// session when the original one is gone.
func HandleRestoreSnapshot(registry *editor.Registry, store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := store.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotId"))
		if err != nil {
			storeError(w, r, err, "Failed to get snapshot")
			return
		}

		s, ok := registry.Get(snapshot.SessionID)
		if !ok {
			s = registry.Create()
		}
		if err := s.DecodeDocument(snapshot.Data); err != nil {
			logrus.WithFields(logrus.Fields{"snapshot_id": snapshot.ID, "error": err}).Error("Failed to restore snapshot")
			api.Error(w, r, http.StatusUnprocessableEntity, "Snapshot could not be restored")
			return
		}
		logrus.WithFields(logrus.Fields{"snapshot_id": snapshot.ID, "session_id": s.ID}).Info("Snapshot restored")
		render.JSON(w, r, s.Info())
	}
}

// SessionRoutes mounts under /api/sessions/{id}.
func SessionRoutes(r chi.Router, registry *editor.Registry, store core.SnapshotStore) {
	r.Post("/snapshots", HandleCreateSnapshot(registry, store))
	r.Get("/snapshots", HandleListSnapshots(store))
}

// Routes mounts under /api/snapshots.
func Routes(r chi.Router, registry *editor.Registry, store core.SnapshotStore) {
	r.Get("/{snapshotId}", HandleGetSnapshot(store))
	r.Patch("/{snapshotId}", HandleUpdateSnapshot(store))
	r.Delete("/{snapshotId}", HandleDeleteSnapshot(store))
	r.Post("/{snapshotId}/restore", HandleRestoreSnapshot(registry, store))
}
