package core

import (
	"context"
	"image"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

type LayerKind string

const (
	KindImage   LayerKind = "image"
	KindText    LayerKind = "text"
	KindVideo   LayerKind = "video"
	KindModel3D LayerKind = "glb"
)

// MinLayerSize is the smallest width or height a resize gesture may produce.
const MinLayerSize = 20.0

type (
	// Layer is one positioned, rotatable element of the canvas. Exactly one of
	// the payload pointers matching Kind is set.
	Layer struct {
		ID       string    `json:"id"`
		Kind     LayerKind `json:"type"`
		X        float64   `json:"x"`
		Y        float64   `json:"y"`
		Width    float64   `json:"width"`
		Height   float64   `json:"height"`
		Rotation float64   `json:"rotation"`
		Visible  bool      `json:"visible"`
		Name     string    `json:"name"`

		Image *ImagePayload `json:"image,omitempty"`
		Text  *TextPayload  `json:"text,omitempty"`
		Video *VideoPayload `json:"video,omitempty"`
		Model *ModelPayload `json:"model,omitempty"`

		Provenance *Provenance `json:"provenance,omitempty"`
	}

	ImagePayload struct {
		// Raster is the decoded image. It is never mutated once attached.
		Raster image.Image `json:"-"`
		// Source is a URL or data URL the raster can be re-read from.
		Source         string `json:"source,omitempty"`
		IsGLBThumbnail bool   `json:"isGlbThumbnail,omitempty"`
		GLBURL         string `json:"glbUrl,omitempty"`
	}

	TextPayload struct {
		Content    string  `json:"content"`
		FontSize   float64 `json:"fontSize"`
		FontFamily string  `json:"fontFamily"`
		Color      string  `json:"color"`
	}

	VideoPayload struct {
		Handle      VideoHandle `json:"-"`
		URL         string      `json:"url"`
		CurrentTime float64     `json:"currentTime"`
		Duration    float64     `json:"duration"`
		Playing     bool        `json:"isPlaying"`
	}

	ModelPayload struct {
		URL       string      `json:"url"`
		Thumbnail image.Image `json:"-"`
	}

	Billing struct {
		CostPerSecond float64 `json:"costPerSecond"`
		Deducted      float64 `json:"deducted"`
		Remaining     float64 `json:"remaining"`
		Note          string  `json:"note,omitempty"`
	}

	// Provenance is attached to layers produced by an AI service.
	Provenance struct {
		ServiceID     string   `json:"serviceId"`
		Prompt        string   `json:"prompt,omitempty"`
		Instruction   string   `json:"instruction,omitempty"`
		DelayTime     float64  `json:"delayTime,omitempty"`
		ExecutionTime float64  `json:"executionTime,omitempty"`
		Billing       *Billing `json:"billing,omitempty"`
		ResultURL     string   `json:"resultUrl,omitempty"`
	}

	HistoryState struct {
		Layers    []Layer  `json:"layers"`
		Selection []string `json:"selectedLayerIds"`
	}

	Viewport struct {
		Pan  r2.Vec  `json:"pan"`
		Zoom float64 `json:"zoom"`
	}

	// VideoHandle is a decoded video. The concrete decoder is supplied by the host.
	VideoHandle interface {
		Size() (width, height int)
		Duration() float64
		FrameAt(t float64) image.Image
	}
)

// Center returns the layer's center in canvas coordinates.
func (l Layer) Center() r2.Vec {
	return r2.Vec{X: l.X + l.Width/2, Y: l.Y + l.Height/2}
}

// Ready reports whether the layer's payload can be drawn.
func (l Layer) Ready() bool {
	switch l.Kind {
	case KindImage:
		return l.Image != nil && l.Image.Raster != nil
	case KindText:
		return l.Text != nil && l.Text.Content != ""
	case KindVideo:
		return l.Video != nil && l.Video.Handle != nil
	case KindModel3D:
		return l.Model != nil
	}
	return false
}

// CloneLayer copies the layer and its payload structs. Decoded rasters and
// video handles are shared.
func CloneLayer(l Layer) Layer {
	c := l
	if l.Image != nil {
		p := *l.Image
		c.Image = &p
	}
	if l.Text != nil {
		p := *l.Text
		c.Text = &p
	}
	if l.Video != nil {
		p := *l.Video
		c.Video = &p
	}
	if l.Model != nil {
		p := *l.Model
		c.Model = &p
	}
	if l.Provenance != nil {
		p := *l.Provenance
		if l.Provenance.Billing != nil {
			b := *l.Provenance.Billing
			p.Billing = &b
		}
		c.Provenance = &p
	}
	return c
}

func CloneLayers(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for i, l := range layers {
		out[i] = CloneLayer(l)
	}
	return out
}

type (
	// CanvasDocument is the persisted form of a session's layer stack.
	CanvasDocument struct {
		Layers    []Layer  `json:"layers"`
		Selection []string `json:"selectedLayerIds"`
		Viewport  Viewport `json:"viewport"`
		// Rasters holds PNG data for image payloads and 3D thumbnails, keyed by layer id.
		Rasters map[string][]byte `json:"rasters,omitempty"`
	}

	Document struct {
		Data []byte
	}

	DocumentStore interface {
		FindID(ctx context.Context, id string) (*Document, error)
		Create(ctx context.Context, document *Document) (string, error)
	}

	// Snapshot is a named, persisted copy of a session document. A session
	// keeps at most MaxSnapshots; the oldest is evicted first.
	Snapshot struct {
		ID          string `json:"id"`
		SessionID   string `json:"session_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		CreatedAt   int64  `json:"created_at"`
		Data        []byte `json:"data,omitempty"`
	}

	SnapshotStore interface {
		CreateSnapshot(ctx context.Context, sessionID, name, description string, data []byte) (string, error)
		ListSnapshots(ctx context.Context, sessionID string) ([]Snapshot, error)
		GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
		UpdateSnapshot(ctx context.Context, id, name, description string) error
		DeleteSnapshot(ctx context.Context, id string) error
	}

	// JobRecord is the persisted terminal state of a service job.
	JobRecord struct {
		ID          string    `json:"id"`
		SessionID   string    `json:"session_id"`
		ServiceID   string    `json:"service_id"`
		APIStatus   APIStatus `json:"api_status"`
		Status      string    `json:"status"`
		Message     string    `json:"message"`
		CompletedAt time.Time `json:"completed_at"`
	}

	JobStore interface {
		SaveJob(ctx context.Context, record JobRecord) error
		ListJobs(ctx context.Context, sessionID string) ([]JobRecord, error)
	}
)

const MaxSnapshots = 10
