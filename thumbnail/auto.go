package thumbnail

import (
	"canvas-studio/core"
	"canvas-studio/imaging"
	"context"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
)

// Gap is the horizontal space between a 3D layer and its thumbnail.
const Gap = 20.0

// Canvas is what Auto reads 3D layers from and adds thumbnails to.
type Canvas interface {
	Layers() []core.Layer
	AppendLayer(l core.Layer) string
}

// Auto adds a thumbnail layer next to every 3D layer whose URL it has not
// handled yet. A URL whose render failed is forgotten so a later scan
// retries it; the placeholder is only added the first time.
type Auto struct {
	Renderer    core.GLBRenderer
	Placeholder image.Image

	mu        sync.Mutex
	processed map[string]bool
	fellBack  map[string]bool
}

// Scan renders thumbnails for unprocessed 3D layers one after another and
// returns the ids of the layers it added.
func (a *Auto) Scan(ctx context.Context, canvas Canvas) []string {
	var todo []core.Layer
	a.mu.Lock()
	if a.processed == nil {
		a.processed = make(map[string]bool)
		a.fellBack = make(map[string]bool)
	}
	for _, l := range canvas.Layers() {
		if l.Kind != core.KindModel3D || l.Model == nil || l.Model.URL == "" || a.processed[l.Model.URL] {
			continue
		}
		a.processed[l.Model.URL] = true
		todo = append(todo, l)
	}
	a.mu.Unlock()

	var added []string
	for _, l := range todo {
		if id, ok := a.thumbnail(ctx, canvas, l); ok {
			added = append(added, id)
		}
	}
	return added
}

func (a *Auto) thumbnail(ctx context.Context, canvas Canvas, l core.Layer) (string, bool) {
	url := l.Model.URL
	log := logrus.WithFields(logrus.Fields{"layer_id": l.ID, "url": url})

	img, err := a.render(ctx, url)
	if err != nil {
		log.WithError(err).Warn("Failed to generate GLB thumbnail")
		a.mu.Lock()
		delete(a.processed, url)
		shown := a.fellBack[url]
		a.fellBack[url] = true
		a.mu.Unlock()
		if shown || a.Placeholder == nil {
			return "", false
		}
		img = a.Placeholder
	}

	img = imaging.CropTransparent(img)
	b := img.Bounds()
	id := canvas.AppendLayer(core.Layer{
		Kind:    core.KindImage,
		Name:    l.Name + " Thumbnail",
		X:       l.X + l.Width + Gap,
		Y:       l.Y,
		Width:   float64(b.Dx()),
		Height:  float64(b.Dy()),
		Visible: true,
		Image:   &core.ImagePayload{Raster: img, IsGLBThumbnail: true, GLBURL: url},
	})
	log.WithField("thumbnail_id", id).Info("GLB thumbnail added")
	return id, true
}

func (a *Auto) render(ctx context.Context, url string) (image.Image, error) {
	if a.Renderer == nil {
		return nil, errNoRenderer
	}
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()
	return a.Renderer.Render(ctx, url)
}

// MarkProcessed records urls as handled, for documents that already carry
// their thumbnails.
func (a *Auto) MarkProcessed(urls ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.processed == nil {
		a.processed = make(map[string]bool)
		a.fellBack = make(map[string]bool)
	}
	for _, u := range urls {
		a.processed[u] = true
	}
}

// Processed reports whether url has a thumbnail or one is being made.
func (a *Auto) Processed(url string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processed[url]
}
