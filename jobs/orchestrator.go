// Package jobs runs AI service jobs: it uploads the input layers, submits
// the payload, classifies the answer and turns the result into a layer.
package jobs

import (
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/metrics"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StatusCheckDelay is how long a local-mode job waits before its single
// status check.
const StatusCheckDelay = time.Second

const missingToken = "Please configure TostAI token first in API Configuration"

// Canvas is the editor state a job reads from and writes to.
type Canvas interface {
	// Layer returns the live layer with id.
	Layer(id string) (core.Layer, bool)
	// Rasterize draws a layer at its own size and returns PNG bytes.
	Rasterize(l core.Layer) ([]byte, error)
	// AddResult appends l on top, selects it and records history. It returns
	// the id assigned to the layer.
	AddResult(l core.Layer) string
	// JobChanged is called after every job update.
	JobChanged(job core.ServiceJob)
}

// Endpoints picks the upload and execution collaborators for the API mode
// in settings.
type Endpoints func(settings config.Settings) (core.Uploader, core.Executor)

type Options struct {
	Settings     func() config.Settings
	Endpoints    Endpoints
	Materializer *Materializer
	// StatusDelay overrides StatusCheckDelay when set.
	StatusDelay time.Duration
	// Store receives terminal job records. Optional.
	Store     core.JobStore
	SessionID string
	Metrics   *metrics.Metrics
}

type SubmitRequest struct {
	Service core.AIService
	// Inputs are the selected layers in selection order.
	Inputs []core.Layer
	Values map[string]any
}

// Orchestrator keeps the job list of one canvas. Jobs run on their own
// goroutines and never wait on each other.
type Orchestrator struct {
	canvas Canvas
	opts   Options

	mu      sync.RWMutex
	jobs    []core.ServiceJob
	running map[string]bool

	wg sync.WaitGroup
}

func NewOrchestrator(canvas Canvas, opts Options) *Orchestrator {
	if opts.Settings == nil {
		opts.Settings = func() config.Settings { return config.Settings{} }
	}
	if opts.Materializer == nil {
		opts.Materializer = &Materializer{}
	}
	if opts.StatusDelay <= 0 {
		opts.StatusDelay = StatusCheckDelay
	}
	return &Orchestrator{canvas: canvas, opts: opts, running: make(map[string]bool)}
}

// NewJobID returns 32 lowercase hex characters.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit starts a job for req. It reports false and does nothing when the
// number of inputs does not match the service. A missing remote token
// yields a failed job without any network call.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (core.ServiceJob, bool) {
	service := req.Service
	log := logrus.WithField("service_id", service.ID)
	if len(req.Inputs) != RequiredInputs(service) {
		log.WithField("inputs", len(req.Inputs)).Debug("Input count does not match service, ignoring submit")
		return core.ServiceJob{}, false
	}

	settings := o.opts.Settings()
	if !settings.UseLocalAPI && settings.Token == "" {
		job := core.ServiceJob{
			ID:          NewJobID(),
			ServiceID:   service.ID,
			ServiceName: service.Name,
			Progress:    100,
			Status:      "Error: " + missingToken,
			APIStatus:   core.APIStatusFailed,
			Result:      &core.JobResult{Error: true, Message: missingToken},
			LayerID:     req.Inputs[0].ID,
			CreatedAt:   time.Now(),
		}
		o.append(job)
		o.opts.Metrics.JobRejected(service.ID)
		o.persist(job)
		log.WithField("job_id", job.ID).Warn("Job rejected, no API token configured")
		return job, true
	}

	input := core.CloneLayer(req.Inputs[0])
	job := core.ServiceJob{
		ID:          NewJobID(),
		ServiceID:   service.ID,
		ServiceName: service.Name,
		Progress:    0,
		Status:      StatusCapturing,
		APIStatus:   core.APIStatusNone,
		Options:     JobOptions(service, req.Values),
		LayerID:     input.ID,
		InputLayer:  &input,
		CreatedAt:   time.Now(),
	}
	inputs := core.CloneLayers(req.Inputs)

	o.mu.Lock()
	o.running[job.ID] = true
	o.mu.Unlock()
	o.append(job)
	o.opts.Metrics.JobStarted()
	log.WithField("job_id", job.ID).Info("Job submitted")

	o.wg.Add(1)
	go o.run(context.WithoutCancel(ctx), job.ID, service, inputs, req.Values, settings)
	return job, true
}

func (o *Orchestrator) run(ctx context.Context, id string, service core.AIService, inputs []core.Layer, values map[string]any, settings config.Settings) {
	defer o.wg.Done()
	log := logrus.WithFields(logrus.Fields{"job_id": id, "service_id": service.ID})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Job panicked")
			o.advance(id, Event{Kind: MaterializeFailed, Err: &MaterializeError{Message: msgProcessResult}})
		}
		o.mu.Lock()
		delete(o.running, id)
		o.mu.Unlock()
	}()

	var uploader core.Uploader
	var executor core.Executor
	if o.opts.Endpoints != nil {
		uploader, executor = o.opts.Endpoints(settings)
	}
	if executor == nil {
		o.advance(id, Event{Kind: SubmitFailed, Err: fmt.Errorf("no execution endpoint configured")})
		return
	}

	uploads := make(map[string]string, len(inputs))
	if !service.TextInput() {
		if err := o.upload(ctx, id, service, inputs, uploader, uploads); err != nil {
			log.WithError(err).Error("Upload failed")
			o.advance(id, Event{Kind: UploadFailed, Err: err})
			return
		}
	}

	payload := BuildPayload(service, values, uploads, inputs, id, settings.WebhookURL)
	resp, err := executor.Submit(ctx, service, payload)
	if err != nil {
		log.WithError(err).Error("Submit failed")
		o.advance(id, Event{Kind: SubmitFailed, Err: err})
		return
	}
	job, effect := o.advance(id, Event{Kind: Submitted, Response: resp, Local: settings.UseLocalAPI})

	if effect == EffectCheckStatus {
		timer := time.NewTimer(o.opts.StatusDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		resp, err := executor.Status(ctx, job.ExternalID)
		if err != nil {
			log.WithError(err).Warn("Status check failed")
			o.advance(id, Event{Kind: StatusCheckFailed, Err: err})
			return
		}
		job, effect = o.advance(id, Event{Kind: StatusChecked, Response: resp})
	}

	if effect == EffectMaterialize {
		layerID, msg, err := o.opts.Materializer.Materialize(ctx, o.canvas, job, service, values, settings)
		if err != nil {
			o.advance(id, Event{Kind: MaterializeFailed, Err: err})
			return
		}
		o.advance(id, Event{Kind: Materialized, Message: msg, LayerID: layerID})
	}
}

// upload rasterizes and uploads every input concurrently. The first failure
// fails the whole job.
func (o *Orchestrator) upload(ctx context.Context, id string, service core.AIService, inputs []core.Layer, uploader core.Uploader, out map[string]string) error {
	if uploader == nil {
		return &UploadError{Message: "no upload endpoint configured"}
	}
	o.advance(id, Event{Kind: UploadStarted})

	names := UploadParamNames(service, len(inputs))
	urls := make([]string, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range inputs {
		i, l := i, l
		g.Go(func() error {
			blob, err := o.canvas.Rasterize(l)
			if err != nil {
				return fmt.Errorf("Could not create blob: %w", err)
			}
			u, err := uploader.Upload(gctx, blob, fmt.Sprintf("selected-layer-%d.png", i+1))
			if err != nil {
				return err
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, name := range names {
		out[name] = urls[i]
	}
	return nil
}

// advance applies ev to the job with id, replacing only that entry.
func (o *Orchestrator) advance(id string, ev Event) (core.ServiceJob, Effect) {
	o.mu.Lock()
	i := o.indexOf(id)
	if i < 0 {
		o.mu.Unlock()
		return core.ServiceJob{}, EffectNone
	}
	prev := o.jobs[i]
	job, effect := Advance(prev, ev)
	next := make([]core.ServiceJob, len(o.jobs))
	copy(next, o.jobs)
	next[i] = job
	o.jobs = next
	o.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"job_id":   id,
		"event":    ev.Kind.String(),
		"progress": job.Progress,
		"status":   job.Status,
	}).Debug("Job advanced")

	o.canvas.JobChanged(job)
	if effect == EffectNone && job.Terminal() {
		o.opts.Metrics.JobFinished(job.ServiceID, string(job.APIStatus), time.Since(job.CreatedAt).Seconds())
		o.persist(job)
	}
	return job, effect
}

func (o *Orchestrator) append(job core.ServiceJob) {
	o.mu.Lock()
	next := make([]core.ServiceJob, len(o.jobs), len(o.jobs)+1)
	copy(next, o.jobs)
	o.jobs = append(next, job)
	o.mu.Unlock()
	o.canvas.JobChanged(job)
}

func (o *Orchestrator) persist(job core.ServiceJob) {
	if o.opts.Store == nil {
		return
	}
	rec := core.JobRecord{
		ID:          job.ID,
		SessionID:   o.opts.SessionID,
		ServiceID:   job.ServiceID,
		APIStatus:   job.APIStatus,
		Status:      job.Status,
		CompletedAt: time.Now(),
	}
	if job.Result != nil {
		rec.Message = job.Result.Message
	}
	if err := o.opts.Store.SaveJob(context.Background(), rec); err != nil {
		logrus.WithField("job_id", job.ID).WithError(err).Warn("Failed to save job record")
	}
}

func (o *Orchestrator) indexOf(id string) int {
	for i, j := range o.jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// Jobs returns the job list in submission order.
func (o *Orchestrator) Jobs() []core.ServiceJob {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]core.ServiceJob, len(o.jobs))
	copy(out, o.jobs)
	return out
}

func (o *Orchestrator) Get(id string) (core.ServiceJob, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if i := o.indexOf(id); i >= 0 {
		return o.jobs[i], true
	}
	return core.ServiceJob{}, false
}

// Active returns the jobs whose goroutine is still running.
func (o *Orchestrator) Active() []core.ServiceJob {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []core.ServiceJob
	for _, j := range o.jobs {
		if o.running[j.ID] {
			out = append(out, j)
		}
	}
	return out
}

// Dismiss marks a job that is no longer running as dismissed. The entry
// stays in the list.
func (o *Orchestrator) Dismiss(id string) bool {
	o.mu.Lock()
	i := o.indexOf(id)
	if i < 0 || o.running[id] || o.jobs[i].Dismissed {
		o.mu.Unlock()
		return false
	}
	job := o.jobs[i]
	job.Dismissed = true
	next := make([]core.ServiceJob, len(o.jobs))
	copy(next, o.jobs)
	next[i] = job
	o.jobs = next
	o.mu.Unlock()

	o.canvas.JobChanged(job)
	return true
}

// Wait blocks until every started job has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
