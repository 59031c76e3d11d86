package editor

import (
	"canvas-studio/core"
	"canvas-studio/imaging"
	"canvas-studio/render"
	"encoding/json"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
)

// Document captures the stack, selection and viewport with every raster
// encoded as PNG.
func (s *Session) Document() (core.CanvasDocument, error) {
	doc := core.CanvasDocument{
		Layers:    s.repo.All(),
		Selection: s.sel.Live(s.repo),
		Viewport:  s.Viewport(),
		Rasters:   make(map[string][]byte),
	}
	for _, l := range doc.Layers {
		var raster image.Image
		switch {
		case l.Image != nil:
			raster = l.Image.Raster
		case l.Model != nil:
			raster = l.Model.Thumbnail
		}
		if raster == nil {
			continue
		}
		data, err := imaging.EncodePNG(raster)
		if err != nil {
			return core.CanvasDocument{}, fmt.Errorf("encode layer %s: %w", l.ID, err)
		}
		doc.Rasters[l.ID] = data
	}
	return doc, nil
}

// LoadDocument replaces the session state with doc and starts a fresh
// history. Video layers come back paused and without a decoded handle.
func (s *Session) LoadDocument(doc core.CanvasDocument) error {
	loaded := core.CloneLayers(doc.Layers)
	for i := range loaded {
		l := &loaded[i]
		data, ok := doc.Rasters[l.ID]
		if !ok {
			continue
		}
		img, _, err := imaging.Decode(data)
		if err != nil {
			return fmt.Errorf("decode layer %s: %w", l.ID, err)
		}
		switch {
		case l.Image != nil:
			l.Image.Raster = img
		case l.Model != nil:
			l.Model.Thumbnail = img
		}
	}
	var thumbnails []string
	for i := range loaded {
		if v := loaded[i].Video; v != nil {
			v.Playing = false
		}
		if img := loaded[i].Image; img != nil && img.IsGLBThumbnail && img.GLBURL != "" {
			thumbnails = append(thumbnails, img.GLBURL)
		}
	}
	s.auto.MarkProcessed(thumbnails...)

	viewport := doc.Viewport
	if viewport.Zoom <= 0 {
		viewport.Zoom = 1
	}

	s.mu.Lock()
	for _, id := range s.videos.Playing() {
		s.videos.Forget(id)
	}
	s.repo.Replace(loaded)
	s.sel.Set(doc.Selection...)
	s.hist.Seed(s.repo.All(), s.sel.IDs())
	s.SetViewport(viewport)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": s.ID, "layers": len(loaded)}).Info("Document loaded")
	s.loop.VideosChanged()
	s.scanModels()
	return nil
}

// EncodeDocument returns the JSON form of the session document.
func (s *Session) EncodeDocument() ([]byte, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (s *Session) DecodeDocument(data []byte) error {
	var doc core.CanvasDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	return s.LoadDocument(doc)
}

// Frame renders the scene at w x h as PNG.
func (s *Session) Frame(w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		w, h = s.screen()
	}
	frame := s.raster.Frame(s.Scene(), w, h, render.Options{})
	s.deps.Metrics.FrameRendered()
	return imaging.EncodePNG(frame)
}
