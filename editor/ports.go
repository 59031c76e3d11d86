package editor

import (
	"canvas-studio/bgremoval"
	"canvas-studio/core"
	"canvas-studio/imaging"
	"canvas-studio/render"
	"math"

	"github.com/sirupsen/logrus"
)

// The methods in this file are called by the gesture interpreter while mu is
// held, or by job and queue goroutines. Only the appending ones take mu.

func (s *Session) Layers() []core.Layer {
	return s.repo.All()
}

func (s *Session) Layer(id string) (core.Layer, bool) {
	return s.repo.Find(id)
}

func (s *Session) Find(id string) (core.Layer, bool) {
	return s.repo.Find(id)
}

// Selected returns the selected ids that still exist, in selection order.
func (s *Session) Selected() []string {
	return s.sel.Live(s.repo)
}

func (s *Session) Select(ids ...string) {
	s.sel.Set(ids...)
}

func (s *Session) Toggle(id string) {
	s.sel.Toggle(id)
}

func (s *Session) ClearSelection() {
	s.sel.Clear()
}

func (s *Session) Duplicate(id string) (core.Layer, error) {
	return s.repo.Duplicate(id)
}

// Apply writes gesture results back to the stack.
func (s *Session) Apply(updated ...core.Layer) {
	for _, l := range updated {
		l := l
		if err := s.repo.Update(l.ID, func(dst *core.Layer) { *dst = l }); err != nil {
			logrus.WithField("session_id", s.ID).WithError(err).Debug("Gesture update skipped")
		}
	}
}

func (s *Session) Record() {
	s.record()
}

func (s *Session) Viewport() core.Viewport {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	return s.viewport
}

func (s *Session) SetViewport(v core.Viewport) {
	s.vmu.Lock()
	s.viewport = v
	s.vmu.Unlock()
}

// Rasterize draws l alone at its own size, unrotated, on a transparent background.
func (s *Session) Rasterize(l core.Layer) ([]byte, error) {
	w, h := int(math.Ceil(l.Width)), int(math.Ceil(l.Height))
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyLayer
	}
	l.X, l.Y, l.Rotation, l.Visible = 0, 0, 0, true
	frame := s.raster.Frame(render.Scene{
		Layers:   []core.Layer{l},
		Viewport: core.Viewport{Zoom: 1},
	}, w, h, render.Options{HideSelection: true, SkipBackground: true})
	return imaging.EncodePNG(frame)
}

// AddResult appends a job result on top, selects it and records history.
func (s *Session) AddResult(l core.Layer) string {
	s.mu.Lock()
	id := s.repo.Append(l)[0]
	s.sel.Set(id)
	s.record()
	s.mu.Unlock()

	s.changed()
	if l.Kind == core.KindModel3D {
		s.scanModels()
	}
	return id
}

// AppendLayer adds l on top without touching the selection and records history.
func (s *Session) AppendLayer(l core.Layer) string {
	s.mu.Lock()
	id := s.repo.Append(l)[0]
	s.record()
	s.mu.Unlock()

	s.changed()
	return id
}

func (s *Session) JobChanged(job core.ServiceJob) {
	s.notify(EventJob, job)
}

func (s *Session) QueueChanged(state bgremoval.State) {
	s.notify(EventBGRemoval, state)
}

// scanModels makes thumbnails for new 3D layers in the background.
func (s *Session) scanModels() {
	s.scans.Add(1)
	go func() {
		defer s.scans.Done()
		s.auto.Scan(s.ctx, s)
	}()
}
