// Package api holds helpers shared by the HTTP handlers.
package api

import (
	"canvas-studio/editor"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Error writes {"error": msg} with status.
func Error(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// Session resolves the {id} route parameter, answering 404 when the session
// does not exist.
func Session(w http.ResponseWriter, r *http.Request, registry *editor.Registry) (*editor.Session, bool) {
	id := chi.URLParam(r, "id")
	s, err := registry.Lookup(id)
	if err != nil {
		logrus.WithField("session_id", id).Debug("Session not found")
		Error(w, r, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return s, true
}
