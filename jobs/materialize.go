package jobs

import (
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/imaging"
	"context"
	"image"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ThumbnailTimeout bounds GLB thumbnail rendering.
const ThumbnailTimeout = 10 * time.Second

// DefaultPosition is used when neither the input layer nor its snapshot is
// available.
var DefaultPosition = [2]float64{200, 200}

const (
	msgImageAdded = "AI edited image added to canvas successfully!"
	msgVideoAdded = "AI generated video added to canvas successfully!"
	msgModelAdded = "AI generated GLB added to canvas successfully!"

	msgImageLoad     = "Failed to load result image from API"
	msgVideoFetch    = "Failed to fetch video from API"
	msgVideoLoad     = "Failed to load result video from API"
	msgThumbnail     = "Failed to generate GLB thumbnail"
	msgProcessResult = "Failed to process result"
)

// MaterializeError is a result that could not become a layer. Its message is
// shown to the user.
type MaterializeError struct {
	Message string
	Err     error
}

func (e *MaterializeError) Error() string { return e.Message }
func (e *MaterializeError) Unwrap() error { return e.Err }

type ResultKind int

const (
	ResultImage ResultKind = iota
	ResultVideo
	ResultModel
)

// KindOf decides how a result is materialized: video services yield video,
// .glb/.gltf references yield a 3D thumbnail, everything else an image.
func KindOf(service core.AIService, resultURL string) ResultKind {
	if service.Category == core.CategoryVideo {
		return ResultVideo
	}
	p := strings.ToLower(resultURL)
	if u, err := url.Parse(resultURL); err == nil && u.Path != "" {
		p = strings.ToLower(u.Path)
	}
	if strings.HasSuffix(p, ".glb") || strings.HasSuffix(p, ".gltf") {
		return ResultModel
	}
	return ResultImage
}

// Materializer turns result references into layers.
type Materializer struct {
	Fetcher  core.ResultFetcher
	Decoder  core.VideoDecoder
	Renderer core.GLBRenderer
	// Placeholder stands in for a GLB thumbnail that could not be rendered.
	Placeholder image.Image
	// Timeout overrides ThumbnailTimeout when set.
	Timeout time.Duration
}

// Materialize builds the result layer for a completed job and adds it to the
// canvas. It returns the new layer id and the success message.
func (m *Materializer) Materialize(ctx context.Context, canvas Canvas, job core.ServiceJob, service core.AIService, values map[string]any, settings config.Settings) (string, string, error) {
	log := logrus.WithFields(logrus.Fields{"job_id": job.ID, "service_id": service.ID})
	merged := ParamValues(service, values)

	var (
		layer core.Layer
		msg   string
		err   error
	)
	switch KindOf(service, job.ResultURL) {
	case ResultVideo:
		layer, err = m.video(ctx, job, truthy(merged["custom_size"]), canvas)
		msg = msgVideoAdded
	case ResultModel:
		layer, err = m.model(ctx, job, settings, canvas)
		msg = msgModelAdded
	default:
		custom := truthy(merged["custom_size"]) || truthy(merged["upscale_size"])
		layer, err = m.image(ctx, job, custom, canvas)
		msg = msgImageAdded
	}
	if err != nil {
		log.WithError(err).Error("Failed to materialize result")
		return "", "", err
	}

	layer.Name = service.Name
	if job.Options != nil && job.Options.LayerName != "" {
		layer.Name = job.Options.LayerName
	}
	layer.Visible = true
	layer.Provenance = provenance(job, service)

	id := canvas.AddResult(layer)
	log.WithField("layer_id", id).Info("Result added to canvas")
	return id, msg, nil
}

// anchor returns the layer a result is positioned against: the live input
// layer, else the snapshot taken at submission.
func anchor(job core.ServiceJob, canvas Canvas) (core.Layer, bool) {
	if job.LayerID != "" {
		if l, ok := canvas.Layer(job.LayerID); ok {
			return l, true
		}
	}
	if job.InputLayer != nil {
		return *job.InputLayer, true
	}
	return core.Layer{}, false
}

// place sets the position of l and its size unless keepSize.
func place(l *core.Layer, job core.ServiceJob, canvas Canvas, natural [2]float64, keepSize bool) {
	in, ok := anchor(job, canvas)
	l.X, l.Y = DefaultPosition[0], DefaultPosition[1]
	l.Width, l.Height = natural[0], natural[1]
	if !ok {
		return
	}
	l.X, l.Y = in.X, in.Y
	if !keepSize {
		l.Width, l.Height = in.Width, in.Height
	}
}

func (m *Materializer) image(ctx context.Context, job core.ServiceJob, custom bool, canvas Canvas) (core.Layer, error) {
	if m.Fetcher == nil {
		return core.Layer{}, &MaterializeError{Message: msgImageLoad}
	}
	data, err := m.Fetcher.Fetch(ctx, job.ResultURL)
	if err != nil {
		return core.Layer{}, &MaterializeError{Message: msgImageLoad, Err: err}
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return core.Layer{}, &MaterializeError{Message: msgImageLoad, Err: err}
	}
	b := img.Bounds()
	l := core.Layer{
		Kind:  core.KindImage,
		Image: &core.ImagePayload{Raster: img, Source: job.ResultURL},
	}
	place(&l, job, canvas, [2]float64{float64(b.Dx()), float64(b.Dy())}, custom)
	return l, nil
}

func (m *Materializer) video(ctx context.Context, job core.ServiceJob, custom bool, canvas Canvas) (core.Layer, error) {
	if m.Fetcher == nil {
		return core.Layer{}, &MaterializeError{Message: msgVideoFetch}
	}
	data, err := m.Fetcher.Fetch(ctx, job.ResultURL)
	if err != nil {
		return core.Layer{}, &MaterializeError{Message: msgVideoFetch, Err: err}
	}
	if m.Decoder == nil {
		return core.Layer{}, &MaterializeError{Message: msgVideoLoad}
	}
	h, err := m.Decoder.Decode(ctx, data)
	if err != nil {
		return core.Layer{}, &MaterializeError{Message: msgVideoLoad, Err: err}
	}
	w, hh := h.Size()
	l := core.Layer{
		Kind:  core.KindVideo,
		Video: &core.VideoPayload{Handle: h, URL: job.ResultURL, Duration: h.Duration()},
	}
	place(&l, job, canvas, [2]float64{float64(w), float64(hh)}, custom)
	return l, nil
}

// model renders a thumbnail for a GLB result. A failed render falls back to
// the placeholder; the job only fails when there is no placeholder either.
func (m *Materializer) model(ctx context.Context, job core.ServiceJob, settings config.Settings, canvas Canvas) (core.Layer, error) {
	thumb, err := m.thumbnail(ctx, job.ResultURL)
	if err != nil {
		logrus.WithField("job_id", job.ID).WithError(err).Warn("GLB thumbnail failed, using placeholder")
		if m.Placeholder == nil {
			return core.Layer{}, &MaterializeError{Message: msgThumbnail, Err: err}
		}
		thumb = m.Placeholder
	}
	thumb = imaging.CropTransparent(thumb)
	b := thumb.Bounds()
	w, h := imaging.FitMaxDimension(float64(b.Dx()), float64(b.Dy()), settings.MaxDimension, settings.MaxDimensionEnabled)

	l := core.Layer{
		Kind: core.KindImage,
		Image: &core.ImagePayload{
			Raster:         thumb,
			IsGLBThumbnail: true,
			GLBURL:         job.ResultURL,
		},
	}
	place(&l, job, canvas, [2]float64{w, h}, true)
	return l, nil
}

func (m *Materializer) thumbnail(ctx context.Context, glbURL string) (image.Image, error) {
	if m.Renderer == nil {
		return nil, &MaterializeError{Message: msgThumbnail}
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = ThumbnailTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.Renderer.Render(ctx, glbURL)
}

func provenance(job core.ServiceJob, service core.AIService) *core.Provenance {
	p := &core.Provenance{
		ServiceID: service.ID,
		ResultURL: job.ResultURL,
		Billing:   job.Billing,
	}
	if job.Options != nil {
		p.Prompt = job.Options.Prompt
		p.Instruction = job.Options.Instruction
	}
	if job.Timing != nil {
		p.DelayTime = job.Timing.DelayTime
		p.ExecutionTime = job.Timing.ExecutionTime
	}
	return p
}
