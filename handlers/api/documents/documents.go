package documents

import (
	"canvas-studio/core"
	"canvas-studio/editor"
	"canvas-studio/handlers/api"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type DocumentCreateResponse struct {
	ID string `json:"id"`
}

// HandleCreate stores the raw request body as a shared document.
func HandleCreate(documentStore core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to read request body")
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}
		id, err := documentStore.Create(r.Context(), &core.Document{Data: data})
		if err != nil {
			logrus.WithField("error", err).Error("Failed to save document")
			http.Error(w, "Failed to save", http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

// HandleGet returns a shared document as it was stored.
func HandleGet(documentStore core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		document, err := documentStore.FindID(r.Context(), id)
		if err != nil {
			logrus.WithFields(logrus.Fields{"document_id": id, "error": err}).Debug("Document lookup failed")
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		w.Write(document.Data)
	}
}

// HandleShare stores the current document of a session and returns its
// share id.
func HandleShare(registry *editor.Registry, documentStore core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		data, err := s.EncodeDocument()
		if err != nil {
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "error": err}).Error("Failed to encode document")
			api.Error(w, r, http.StatusInternalServerError, "Failed to encode document")
			return
		}
		id, err := documentStore.Create(r.Context(), &core.Document{Data: data})
		if err != nil {
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "error": err}).Error("Failed to save document")
			api.Error(w, r, http.StatusInternalServerError, "Failed to save")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

// HandleOpen opens a shared document in a new session.
func HandleOpen(registry *editor.Registry, documentStore core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		document, err := documentStore.FindID(r.Context(), id)
		if err != nil {
			api.Error(w, r, http.StatusNotFound, "Document not found")
			return
		}
		s := registry.Create()
		if err := s.DecodeDocument(document.Data); err != nil {
			registry.Delete(s.ID)
			logrus.WithFields(logrus.Fields{"document_id": id, "error": err}).Warn("Shared document is not a canvas")
			api.Error(w, r, http.StatusUnprocessableEntity, "Document is not a canvas")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, s.Info())
	}
}

// Routes mounts the share endpoints under /api/v2.
func Routes(r chi.Router, documentStore core.DocumentStore, registry *editor.Registry) {
	r.Post("/post/", HandleCreate(documentStore))
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", HandleGet(documentStore))
		r.Post("/open", HandleOpen(registry, documentStore))
	})
}
