package kv

import (
	"canvas-studio/core"
	"canvas-studio/editor"
	"canvas-studio/handlers/api"
	"canvas-studio/handlers/auth"
	"canvas-studio/middleware"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// savedCanvas is the part of a saved document the listing needs.
type savedCanvas struct {
	Name   string            `json:"name"`
	Layers []json.RawMessage `json:"layers"`
}

func requestClaims(w http.ResponseWriter, r *http.Request) (*auth.AppClaims, bool) {
	claims, ok := middleware.Claims(r)
	if !ok {
		api.Error(w, r, http.StatusUnauthorized, "User claims not found")
		return nil, false
	}
	return claims, true
}

func canvasKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if key == "" {
		api.Error(w, r, http.StatusBadRequest, "Canvas key is required")
		return "", false
	}
	return key, true
}

func HandleListCanvases(store core.CanvasStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(w, r)
		if !ok {
			return
		}

		canvases, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": claims.Subject,
			}).Error("Failed to list canvases")
			api.Error(w, r, http.StatusInternalServerError, "Failed to list canvases")
			return
		}
		if canvases == nil {
			canvases = []*core.Canvas{}
		}
		render.JSON(w, r, canvases)
	}
}

func HandleGetCanvas(store core.CanvasStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(w, r)
		if !ok {
			return
		}
		key, ok := canvasKey(w, r)
		if !ok {
			return
		}

		canvas, err := store.Get(r.Context(), claims.Subject, key)
		if err != nil {
			canvasError(w, r, err, claims.Subject, key, "Failed to get canvas")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(canvas.Data)
	}
}

// HandleSaveCanvas stores the request body, a canvas document, under key.
// The optional top-level "name" names the canvas; the key is used otherwise.
func HandleSaveCanvas(store core.CanvasStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(w, r)
		if !ok {
			return
		}
		key, ok := canvasKey(w, r)
		if !ok {
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "key": key}).Error("Failed to read request body")
			api.Error(w, r, http.StatusInternalServerError, "Failed to read request body")
			return
		}
		defer r.Body.Close()

		var saved savedCanvas
		if err := json.Unmarshal(body, &saved); err != nil {
			api.Error(w, r, http.StatusBadRequest, "Canvas must be a JSON document")
			return
		}
		name := saved.Name
		if name == "" {
			name = key
		}

		save(w, r, store, &core.Canvas{
			ID:         key,
			UserID:     claims.Subject,
			Name:       name,
			LayerCount: len(saved.Layers),
			Data:       body,
		})
	}
}

// HandleSaveSession stores the current document of session {id} under key.
func HandleSaveSession(registry *editor.Registry, store core.CanvasStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(w, r)
		if !ok {
			return
		}
		key, ok := canvasKey(w, r)
		if !ok {
			return
		}
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}

		data, err := s.EncodeDocument()
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "session_id": s.ID}).Error("Failed to encode document")
			api.Error(w, r, http.StatusInternalServerError, "Failed to encode document")
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = key
		}
		save(w, r, store, &core.Canvas{
			ID:         key,
			UserID:     claims.Subject,
			Name:       name,
			LayerCount: len(s.Layers()),
			Data:       data,
		})
	}
}

// HandleOpenCanvas opens a saved canvas in a new session.
func HandleOpenCanvas(registry *editor.Registry, store core.CanvasStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(w, r)
		if !ok {
			return
		}
		key, ok := canvasKey(w, r)
		if !ok {
			return
		}

		canvas, err := store.Get(r.Context(), claims.Subject, key)
		if err != nil {
			canvasError(w, r, err, claims.Subject, key, "Failed to get canvas")
			return
		}
		s := registry.Create()
		if err := s.DecodeDocument(canvas.Data); err != nil {
			registry.Delete(s.ID)
			logrus.WithFields(logrus.Fields{"error": err, "key": key}).Warn("Saved canvas could not be loaded")
			api.Error(w, r, http.StatusUnprocessableEntity, "Canvas could not be loaded")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, s.Info())
	}
}

func HandleDeleteCanvas(store core.CanvasStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(w, r)
		if !ok {
			return
		}
		key, ok := canvasKey(w, r)
		if !ok {
			return
		}

		if err := store.Delete(r.Context(), claims.Subject, key); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": claims.Subject,
				"key":     key,
			}).Error("Failed to delete canvas")
			api.Error(w, r, http.StatusInternalServerError, "Failed to delete canvas")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func save(w http.ResponseWriter, r *http.Request, store core.CanvasStore, canvas *core.Canvas) {
	if err := store.Save(r.Context(), canvas); err != nil {
		logrus.WithFields(logrus.Fields{
			"error":   err,
			"user_id": canvas.UserID,
			"key":     canvas.ID,
		}).Error("Failed to save canvas")
		api.Error(w, r, http.StatusInternalServerError, "Failed to save canvas")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func canvasError(w http.ResponseWriter, r *http.Request, err error, userID, key, msg string) {
	if errors.Is(err, core.ErrNotFound) {
		api.Error(w, r, http.StatusNotFound, "Canvas not found")
		return
	}
	logrus.WithFields(logrus.Fields{"error": err, "user_id": userID, "key": key}).Error(msg)
	api.Error(w, r, http.StatusInternalServerError, msg)
}

// Routes mounts the saved-canvas endpoints. Callers wrap r with
// middleware.AuthJWT.
func Routes(r chi.Router, store core.CanvasStore, registry *editor.Registry) {
	r.Get("/", HandleListCanvases(store))
	r.Route("/{key}", func(r chi.Router) {
		r.Get("/", HandleGetCanvas(store))
		r.Put("/", HandleSaveCanvas(store))
		r.Delete("/", HandleDeleteCanvas(store))
		r.Post("/open", HandleOpenCanvas(registry, store))
		r.Put("/session/{id}", HandleSaveSession(registry, store))
	})
}
