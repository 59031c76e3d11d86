// Package bgremoval removes image backgrounds one layer at a time. The
// matting model is loaded on first use and shared by every request, so the
// queue never runs two inferences at once.
package bgremoval

import (
	"canvas-studio/core"
	"canvas-studio/metrics"
	"context"
	"errors"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
)

// Offset is how far a result layer is shifted from its source.
const Offset = 20.0

const loadFailed = "Failed to load background removal models. Please try again."

var ErrNoModel = errors.New("no background removal model configured")

// Canvas is the editor state the queue reads layers from and appends results to.
type Canvas interface {
	Layer(id string) (core.Layer, bool)
	// AppendLayer adds l on top of the stack and records history. It returns
	// the id assigned to the layer.
	AppendLayer(l core.Layer) string
	// QueueChanged is called whenever the queue state changes.
	QueueChanged(state State)
}

// State is what a client shows while background removal runs.
type State struct {
	Processing bool     `json:"processing"`
	Current    string   `json:"current,omitempty"`
	Queue      []string `json:"queue"`
	Error      string   `json:"error,omitempty"`
}

type Queue struct {
	canvas  Canvas
	loader  core.ModelLoader
	metrics *metrics.Metrics

	mu         sync.Mutex
	queue      []string
	processing bool
	current    string

	modelMu sync.Mutex
	model   core.Matter

	wg sync.WaitGroup
}

func NewQueue(canvas Canvas, loader core.ModelLoader, m *metrics.Metrics) *Queue {
	return &Queue{canvas: canvas, loader: loader, metrics: m}
}

// Enqueue appends the image layers among ids that are not already queued and
// starts the worker if it is idle. It returns how many ids were accepted.
func (q *Queue) Enqueue(ctx context.Context, ids ...string) int {
	q.mu.Lock()
	queued := make(map[string]bool, len(q.queue)+len(ids))
	for _, id := range q.queue {
		queued[id] = true
	}
	var accepted []string
	for _, id := range ids {
		if queued[id] {
			continue
		}
		l, ok := q.canvas.Layer(id)
		if !ok || l.Kind != core.KindImage || l.Image == nil || l.Image.Raster == nil {
			continue
		}
		queued[id] = true
		accepted = append(accepted, id)
	}
	if len(accepted) == 0 {
		q.mu.Unlock()
		return 0
	}
	next := make([]string, len(q.queue), len(q.queue)+len(accepted))
	copy(next, q.queue)
	q.queue = append(next, accepted...)
	start := !q.processing
	q.processing = true
	state := q.stateLocked()
	q.mu.Unlock()

	logrus.WithField("layer_ids", accepted).Info("Layers queued for background removal")
	q.canvas.QueueChanged(state)
	if start {
		q.wg.Add(1)
		go q.drain(context.WithoutCancel(ctx))
	}
	return len(accepted)
}

// State returns a copy of the current queue state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() State {
	queue := make([]string, len(q.queue))
	copy(queue, q.queue)
	return State{Processing: q.processing, Current: q.current, Queue: queue}
}

// Wait blocks until the worker has drained the queue.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drain(ctx context.Context) {
	defer q.wg.Done()

	model, err := q.loadModel(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to load background removal model")
		q.mu.Lock()
		q.queue = nil
		q.processing = false
		q.current = ""
		state := q.stateLocked()
		q.mu.Unlock()
		state.Error = loadFailed
		q.canvas.QueueChanged(state)
		return
	}

	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.processing = false
			q.current = ""
			state := q.stateLocked()
			q.mu.Unlock()
			logrus.Debug("Background removal queue drained")
			q.canvas.QueueChanged(state)
			return
		}
		id := q.queue[0]
		q.mu.Unlock()

		q.process(ctx, model, id)

		q.mu.Lock()
		q.queue = q.queue[1:]
		q.current = ""
		q.mu.Unlock()
	}
}

// process removes the background of one layer. Failures are logged and the
// layer is skipped.
func (q *Queue) process(ctx context.Context, model core.Matter, id string) {
	log := logrus.WithField("layer_id", id)
	l, ok := q.canvas.Layer(id)
	if !ok || l.Kind != core.KindImage || l.Image == nil || l.Image.Raster == nil {
		log.Debug("Skipping layer that is no longer an image")
		return
	}

	q.mu.Lock()
	q.current = l.Name
	state := q.stateLocked()
	q.mu.Unlock()
	q.canvas.QueueChanged(state)

	matted, err := q.remove(ctx, model, l)
	if err != nil {
		log.WithError(err).Warnf("Background removal failed for layer %s", l.Name)
		q.metrics.BackgroundRemoved(false)
		return
	}

	out := core.Layer{
		Kind:     core.KindImage,
		Name:     l.Name + " (BG Removed)",
		X:        l.X + Offset,
		Y:        l.Y + Offset,
		Width:    l.Width,
		Height:   l.Height,
		Rotation: l.Rotation,
		Visible:  true,
		Image:    &core.ImagePayload{Raster: matted},
	}
	newID := q.canvas.AppendLayer(out)
	q.metrics.BackgroundRemoved(true)
	log.WithField("result_id", newID).Info("Background removed")
}

func (q *Queue) remove(ctx context.Context, model core.Matter, l core.Layer) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("matting panicked")
		}
	}()
	return model.RemoveBackground(ctx, l.Image.Raster)
}

// loadModel returns the memoized model, loading it on first use. A failed
// load is not memoized so the next batch tries again.
func (q *Queue) loadModel(ctx context.Context) (core.Matter, error) {
	q.modelMu.Lock()
	defer q.modelMu.Unlock()
	if q.model != nil {
		return q.model, nil
	}
	if q.loader == nil {
		return nil, ErrNoModel
	}
	m, err := q.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	logrus.Info("Background removal model loaded")
	q.model = m
	return m, nil
}
