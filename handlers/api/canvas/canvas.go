package canvas

import (
	"canvas-studio/editor"
	"canvas-studio/handlers/api"
	"canvas-studio/imaging"
	"canvas-studio/layers"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// MaxUploadBytes caps a multipart image upload.
const MaxUploadBytes = 64 << 20

type (
	CreateSessionRequest struct {
		ScreenWidth  int `json:"screenWidth"`
		ScreenHeight int `json:"screenHeight"`
	}

	LayerResponse struct {
		ID string `json:"id"`
	}

	LayersResponse struct {
		IDs []string `json:"ids"`
	}

	EmptyImageRequest struct {
		Width   int    `json:"width"`
		Height  int    `json:"height"`
		Ratio   string `json:"ratio"`
		Base    int    `json:"base"`
		Divisor int    `json:"divisor"`
	}

	ModelRequest struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}

	// PatchLayerRequest changes any of visibility, name and text properties.
	// FontSize is accepted as a string so values like "32px" parse.
	PatchLayerRequest struct {
		Visible    *bool   `json:"visible,omitempty"`
		Name       *string `json:"name,omitempty"`
		Text       *string `json:"text,omitempty"`
		FontSize   *string `json:"fontSize,omitempty"`
		FontFamily *string `json:"fontFamily,omitempty"`
		Color      *string `json:"color,omitempty"`
	}

	ScreenRequest struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	GesturesResponse struct {
		Handled int         `json:"handled"`
		Scene   editor.Info `json:"scene"`
	}

	SeekRequest struct {
		Time float64 `json:"time"`
	}
)

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		logrus.WithField("error", err).Error("Failed to decode request")
		api.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func layerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, layers.ErrNotFound):
		api.Error(w, r, http.StatusNotFound, "Layer not found")
	case errors.Is(err, editor.ErrNotText), errors.Is(err, editor.ErrNotVideo),
		errors.Is(err, editor.ErrNotRaster), errors.Is(err, editor.ErrUnknownDirection),
		errors.Is(err, editor.ErrEmptyLayer):
		api.Error(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		logrus.WithField("error", err).Error("Layer operation failed")
		api.Error(w, r, http.StatusInternalServerError, err.Error())
	}
}

func HandleCreateSession(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if !decode(w, r, &req) {
			return
		}
		s := registry.Create()
		if req.ScreenWidth > 0 && req.ScreenHeight > 0 {
			s.SetScreen(req.ScreenWidth, req.ScreenHeight)
		}
		logrus.WithField("session_id", s.ID).Info("Session created")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, s.Info())
	}
}

func HandleGetSession(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, s.Info())
	}
}

func HandleDeleteSession(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !registry.Delete(id) {
			api.Error(w, r, http.StatusNotFound, "Session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleScreen(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		var req ScreenRequest
		if !decode(w, r, &req) {
			return
		}
		s.SetScreen(req.Width, req.Height)
		w.WriteHeader(http.StatusNoContent)
	}
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func HandleFrame(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		data, err := s.Frame(queryInt(r, "w"), queryInt(r, "h"))
		if err != nil {
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "error": err}).Error("Failed to render frame")
			api.Error(w, r, http.StatusInternalServerError, "Failed to render frame")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}
}

// HandleUploadImages adds every image in the multipart "files" field. Files
// that do not decode are skipped.
func HandleUploadImages(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			api.Error(w, r, http.StatusBadRequest, "Invalid multipart body")
			return
		}

		var uploads []editor.Upload
		for _, fh := range r.MultipartForm.File["files"] {
			log := logrus.WithFields(logrus.Fields{"session_id": s.ID, "file": fh.Filename})
			f, err := fh.Open()
			if err != nil {
				log.WithError(err).Warn("Failed to open upload")
				continue
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				log.WithError(err).Warn("Failed to read upload")
				continue
			}
			img, _, err := imaging.Decode(data)
			if err != nil {
				log.WithError(err).Warn("Skipping file that is not an image")
				continue
			}
			name := strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
			uploads = append(uploads, editor.Upload{Name: name, Image: img, Source: fh.Filename})
		}
		if len(uploads) == 0 {
			api.Error(w, r, http.StatusBadRequest, "No images in upload")
			return
		}

		ids := s.AddUploadedImages(uploads)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, LayersResponse{IDs: ids})
	}
}

func HandleAddText(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, LayerResponse{ID: s.AddTextLayer()})
	}
}

// HandleAddEmpty sizes the layer from width and height, or from ratio and
// base when no size is given.
func HandleAddEmpty(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		var req EmptyImageRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Divisor <= 0 {
			req.Divisor = imaging.DefaultDivisor
		}
		if req.Width <= 0 || req.Height <= 0 {
			if req.Base <= 0 {
				req.Base = 1024
			}
			req.Width, req.Height = imaging.DimensionsFromAspectRatio(req.Ratio, req.Base, req.Divisor)
		}
		if req.Ratio == "" {
			req.Ratio = fmt.Sprintf("%d:%d", req.Width, req.Height)
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, LayerResponse{ID: s.AddEmptyImageLayer(req.Width, req.Height, req.Ratio, req.Divisor)})
	}
}

func HandleCapture(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, LayerResponse{ID: s.CaptureCanvasAsLayer()})
	}
}

func HandleAddModel(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		var req ModelRequest
		if !decode(w, r, &req) {
			return
		}
		if req.URL == "" {
			api.Error(w, r, http.StatusBadRequest, "url is required")
			return
		}
		if req.Name == "" {
			req.Name = "3D Model"
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, LayerResponse{ID: s.AddModelLayer(req.Name, req.URL)})
	}
}

func HandlePatchLayer(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		layerID := chi.URLParam(r, "layerId")
		var req PatchLayerRequest
		if !decode(w, r, &req) {
			return
		}

		if req.Visible != nil {
			if err := s.SetVisible(layerID, *req.Visible); err != nil {
				layerError(w, r, err)
				return
			}
		}
		if req.Name != nil {
			if err := s.Rename(layerID, *req.Name); err != nil {
				layerError(w, r, err)
				return
			}
		}
		if req.Text != nil || req.FontSize != nil || req.FontFamily != nil || req.Color != nil {
			patch := editor.TextPatch{Content: req.Text, FontFamily: req.FontFamily, Color: req.Color}
			if req.FontSize != nil {
				size := editor.ParseFontSize(*req.FontSize)
				patch.FontSize = &size
			}
			if err := s.UpdateText(layerID, patch); err != nil {
				layerError(w, r, err)
				return
			}
		}

		l, found := s.Find(layerID)
		if !found {
			layerError(w, r, fmt.Errorf("%s: %w", layerID, layers.ErrNotFound))
			return
		}
		render.JSON(w, r, l)
	}
}

func HandleMoveLayer(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		moved, err := s.Move(chi.URLParam(r, "layerId"), chi.URLParam(r, "direction"))
		if err != nil {
			layerError(w, r, err)
			return
		}
		render.JSON(w, r, map[string]bool{"moved": moved})
	}
}

// HandleExportLayer downloads a raster layer as PNG. Video and 3D layers
// answer with their file name and source URL instead.
func HandleExportLayer(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		export, err := s.ExportLayer(chi.URLParam(r, "layerId"))
		if err != nil {
			layerError(w, r, err)
			return
		}
		if export.Data == nil {
			render.JSON(w, r, export)
			return
		}
		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
		w.Write(export.Data)
	}
}

func HandleCopyLayer(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		data, err := s.CopyLayer(chi.URLParam(r, "layerId"))
		if err != nil {
			layerError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}
}

func HandleDeleteSelection(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, map[string]int{"deleted": s.DeleteSelected()})
	}
}

func HandleUndo(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		if !s.Undo() {
			api.Error(w, r, http.StatusConflict, "Nothing to undo")
			return
		}
		render.JSON(w, r, s.Info())
	}
}

func HandleRedo(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		if !s.Redo() {
			api.Error(w, r, http.StatusConflict, "Nothing to redo")
			return
		}
		render.JSON(w, r, s.Info())
	}
}

func HandleGestures(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		var events []editor.GestureEvent
		if !decode(w, r, &events) {
			return
		}
		handled := s.HandleGestures(events)
		render.JSON(w, r, GesturesResponse{Handled: handled, Scene: s.Info()})
	}
}

// HandleVideo runs play, pause or seek on a video layer.
func HandleVideo(registry *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := api.Session(w, r, registry)
		if !ok {
			return
		}
		layerID := chi.URLParam(r, "layerId")

		var err error
		switch action := chi.URLParam(r, "action"); action {
		case "play":
			err = s.Play(layerID)
		case "pause":
			err = s.Pause(layerID)
		case "seek":
			var req SeekRequest
			if !decode(w, r, &req) {
				return
			}
			var pos float64
			pos, err = s.Seek(layerID, req.Time)
			if err == nil {
				render.JSON(w, r, map[string]float64{"currentTime": pos})
				return
			}
		default:
			api.Error(w, r, http.StatusNotFound, "Unknown video action "+action)
			return
		}
		if err != nil {
			layerError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Routes mounts the session routes under /api/sessions. Each of mounts is
// called with the /{id} subrouter.
func Routes(r chi.Router, registry *editor.Registry, mounts ...func(r chi.Router)) {
	r.Post("/", HandleCreateSession(registry))
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", HandleGetSession(registry))
		r.Delete("/", HandleDeleteSession(registry))
		r.Put("/screen", HandleScreen(registry))
		r.Get("/frame", HandleFrame(registry))
		r.Post("/layers/image", HandleUploadImages(registry))
		r.Post("/layers/text", HandleAddText(registry))
		r.Post("/layers/empty", HandleAddEmpty(registry))
		r.Post("/layers/capture", HandleCapture(registry))
		r.Post("/layers/model", HandleAddModel(registry))
		r.Patch("/layers/{layerId}", HandlePatchLayer(registry))
		r.Post("/layers/{layerId}/order/{direction}", HandleMoveLayer(registry))
		r.Get("/layers/{layerId}/export", HandleExportLayer(registry))
		r.Get("/layers/{layerId}/copy", HandleCopyLayer(registry))
		r.Delete("/selection", HandleDeleteSelection(registry))
		r.Post("/undo", HandleUndo(registry))
		r.Post("/redo", HandleRedo(registry))
		r.Post("/gestures", HandleGestures(registry))
		r.Post("/videos/{layerId}/{action}", HandleVideo(registry))
		for _, mount := range mounts {
			mount(r)
		}
	})
}
