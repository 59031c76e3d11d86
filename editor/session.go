// Package editor composes the layer stack, history, gestures, jobs and
// background removal of one canvas into a session the HTTP layer drives.
package editor

import (
	"canvas-studio/bgremoval"
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/gesture"
	"canvas-studio/history"
	"canvas-studio/jobs"
	"canvas-studio/layers"
	"canvas-studio/metrics"
	"canvas-studio/render"
	"canvas-studio/thumbnail"
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Events sent through the Notifier.
const (
	EventScene     = "scene-update"
	EventJob       = "job-update"
	EventBGRemoval = "bg-removal"
	EventVideoTime = "video-time"
)

// Default screen size used to centre new layers until a client reports its own.
const (
	DefaultScreenWidth  = 1280
	DefaultScreenHeight = 800
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrInputMismatch  = errors.New("selection does not match the service inputs")
	ErrNotVideo       = errors.New("layer is not a video")
	ErrNotRaster      = errors.New("3D layers cannot be copied as an image")
	ErrEmptyLayer     = errors.New("layer has no drawable size")
)

// Notifier receives session events for connected clients.
type Notifier interface {
	Notify(sessionID, event string, payload any)
}

// Deps are the collaborators shared by every session of a registry.
type Deps struct {
	Text         *render.FontMeasurer
	Placeholder  image.Image
	Catalog      core.Catalog
	Settings     func() config.Settings
	Endpoints    jobs.Endpoints
	Materializer *jobs.Materializer
	Matting      core.ModelLoader
	GLBRenderer  core.GLBRenderer
	JobStore     core.JobStore
	Metrics      *metrics.Metrics
	Notifier     Notifier
	// StatusDelay overrides the local-mode status check delay when set.
	StatusDelay time.Duration
}

// Session is one open canvas. Structural edits and gestures are serialized
// by mu; the layer repository, selection and history are safe to read
// without it.
type Session struct {
	ID   string
	deps Deps

	repo   *layers.Repository
	sel    *layers.Selection
	hist   *history.Store
	interp *gesture.Interpreter
	jobs   *jobs.Orchestrator
	bg     *bgremoval.Queue
	auto   *thumbnail.Auto
	videos *render.VideoController
	loop   *render.Loop
	raster *render.Rasterizer

	mu sync.Mutex

	vmu      sync.RWMutex
	viewport core.Viewport
	screenW  int
	screenH  int

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	scans  sync.WaitGroup
}

// NewSession builds a session and starts its render loop.
func NewSession(id string, deps Deps) *Session {
	if deps.Settings == nil {
		deps.Settings = func() config.Settings { return config.Settings{} }
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       id,
		deps:     deps,
		repo:     layers.NewRepository(),
		sel:      layers.NewSelection(),
		hist:     history.NewStore(),
		auto:     &thumbnail.Auto{Renderer: deps.GLBRenderer, Placeholder: deps.Placeholder},
		videos:   render.NewVideoController(),
		raster:   render.NewRasterizer(deps.Text, deps.Placeholder),
		viewport: core.Viewport{Zoom: 1},
		screenW:  DefaultScreenWidth,
		screenH:  DefaultScreenHeight,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	var measurer core.TextMeasurer
	if deps.Text != nil {
		measurer = deps.Text
	}
	s.interp = gesture.NewInterpreter(s, measurer)
	s.jobs = jobs.NewOrchestrator(s, jobs.Options{
		Settings:     deps.Settings,
		Endpoints:    deps.Endpoints,
		Materializer: deps.Materializer,
		StatusDelay:  deps.StatusDelay,
		Store:        deps.JobStore,
		SessionID:    id,
		Metrics:      deps.Metrics,
	})
	s.bg = bgremoval.NewQueue(s, deps.Matting, deps.Metrics)
	s.loop = render.NewLoop(s.videos, s.redraw, s.syncVideos)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop.Run(ctx)
	}()

	deps.Metrics.SessionOpened()
	logrus.WithField("session_id", id).Info("Session opened")
	return s
}

// Close stops the render loop and waits for running jobs and background
// removal to finish.
func (s *Session) Close() {
	s.cancel()
	s.Wait()
	s.wg.Wait()
	s.deps.Metrics.SessionClosed()
	logrus.WithField("session_id", s.ID).Info("Session closed")
}

// Wait blocks until background work started by the session is done. It is
// used by tests and shutdown.
func (s *Session) Wait() {
	s.jobs.Wait()
	s.bg.Wait()
	s.scans.Wait()
}

func (s *Session) notify(event string, payload any) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(s.ID, event, payload)
	}
}

// changed schedules a redraw after a mutation.
func (s *Session) changed() {
	s.loop.Invalidate()
}

// record snapshots the stack and selection. Callers hold mu.
func (s *Session) record() {
	s.hist.Record(s.repo.All(), s.sel.IDs())
}

// Info is the client-facing summary of a session.
type Info struct {
	ID            string        `json:"id"`
	Layers        []core.Layer  `json:"layers"`
	Selection     []string      `json:"selectedLayerIds"`
	Viewport      core.Viewport `json:"viewport"`
	HistoryIndex  int           `json:"historyIndex"`
	HistoryLength int           `json:"historyLength"`
	CanUndo       bool          `json:"canUndo"`
	CanRedo       bool          `json:"canRedo"`
	Mode          string        `json:"mode"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	mode := s.interp.Mode().String()
	s.mu.Unlock()
	return Info{
		ID:            s.ID,
		Layers:        s.repo.All(),
		Selection:     s.sel.Live(s.repo),
		Viewport:      s.Viewport(),
		HistoryIndex:  s.hist.Cursor(),
		HistoryLength: s.hist.Len(),
		CanUndo:       s.hist.CanUndo(),
		CanRedo:       s.hist.CanRedo(),
		Mode:          mode,
	}
}

func (s *Session) redraw() {
	s.notify(EventScene, s.Info())
}

// syncVideos stores playing positions on their layers. A video that reached
// its end is paused.
func (s *Session) syncVideos(positions map[string]float64) {
	if len(positions) == 0 {
		return
	}
	for id, pos := range positions {
		pos := pos
		ended := false
		err := s.repo.Update(id, func(l *core.Layer) {
			if l.Video == nil {
				return
			}
			l.Video.CurrentTime = pos
			if l.Video.Duration > 0 && pos >= l.Video.Duration {
				l.Video.Playing = false
				ended = true
			}
		})
		if err != nil {
			s.videos.Forget(id)
			continue
		}
		if ended {
			s.videos.Pause(id)
			s.loop.VideosChanged()
		}
	}
	s.notify(EventVideoTime, positions)
}

// Scene returns what the rasterizer draws for the current state.
func (s *Session) Scene() render.Scene {
	s.mu.Lock()
	delta := s.interp.DragDelta()
	s.mu.Unlock()
	return render.Scene{
		Layers:    s.repo.All(),
		Selection: s.sel.Live(s.repo),
		Viewport:  s.Viewport(),
		DragDelta: delta,
	}
}

// SetScreen records the client's canvas size, used to centre new layers
// and to capture the canvas.
func (s *Session) SetScreen(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	s.vmu.Lock()
	s.screenW, s.screenH = w, h
	s.vmu.Unlock()
}

func (s *Session) screen() (int, int) {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	return s.screenW, s.screenH
}

// viewCenter returns the canvas point under the middle of the screen.
func (s *Session) viewCenter() (float64, float64) {
	w, h := s.screen()
	v := s.Viewport()
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return (float64(w)/2 - v.Pan.X) / zoom, (float64(h)/2 - v.Pan.Y) / zoom
}

// Jobs returns the session's jobs that were not dismissed, oldest first.
func (s *Session) Jobs() []core.ServiceJob {
	var out []core.ServiceJob
	for _, j := range s.jobs.Jobs() {
		if !j.Dismissed {
			out = append(out, j)
		}
	}
	return out
}

func (s *Session) Job(id string) (core.ServiceJob, bool) {
	j, ok := s.jobs.Get(id)
	if !ok || j.Dismissed {
		return core.ServiceJob{}, false
	}
	return j, true
}

// DismissJob hides a finished job from the list.
func (s *Session) DismissJob(id string) bool {
	return s.jobs.Dismiss(id)
}

func (s *Session) BackgroundRemoval() bgremoval.State {
	return s.bg.State()
}
