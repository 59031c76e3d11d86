package services

import (
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/handlers/api"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Filterer is the part of the service catalog the listing needs.
type Filterer interface {
	Filter(useLocal bool, local []string) []core.AIService
}

// HandleList returns the services offered in the current API mode.
func HandleList(catalog Filterer, prefs *config.Prefs, localServices []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := catalog.Filter(prefs.Settings().UseLocalAPI, localServices)
		if services == nil {
			services = []core.AIService{}
		}
		render.JSON(w, r, services)
	}
}

func HandleGetSettings(prefs *config.Prefs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, prefs.Settings())
	}
}

// HandleUpdateSettings replaces the preferences. Omitted fields fall back to
// their current values.
func HandleUpdateSettings(prefs *config.Prefs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings := prefs.Settings()
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			logrus.WithField("error", err).Debug("Failed to decode settings")
			api.Error(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if settings.MaxDimension <= 0 {
			api.Error(w, r, http.StatusUnprocessableEntity, "maxDimension must be positive")
			return
		}
		if settings.UIScale <= 0 {
			api.Error(w, r, http.StatusUnprocessableEntity, "uiScale must be positive")
			return
		}
		if err := prefs.Apply(settings); err != nil {
			logrus.WithField("error", err).Error("Failed to save settings")
			api.Error(w, r, http.StatusInternalServerError, "Failed to save settings")
			return
		}
		logrus.WithField("use_local_api", settings.UseLocalAPI).Info("Settings saved")
		render.JSON(w, r, prefs.Settings())
	}
}

func Routes(r chi.Router, catalog Filterer, prefs *config.Prefs, localServices []string) {
	r.Get("/services", HandleList(catalog, prefs, localServices))
	r.Get("/settings", HandleGetSettings(prefs))
	r.Put("/settings", HandleUpdateSettings(prefs))
}
