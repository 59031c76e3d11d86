// Package thumbnail produces preview images for 3D model layers: rendered
// through a remote GLB renderer, or a drawn placeholder when that fails.
package thumbnail

import (
	"bytes"
	"canvas-studio/imaging"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"
)

// Timeout bounds one render.
const Timeout = 10 * time.Second

var errNoRenderer = errors.New("no GLB renderer configured")

// HTTPRenderer asks a headless GLB renderer for a PNG of the model at url.
type HTTPRenderer struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (r *HTTPRenderer) Render(ctx context.Context, url string) (image.Image, error) {
	if r.URL == "" {
		return nil, errNoRenderer
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"url": url, "width": 800, "height": 600})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned %s", resp.Status)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}
	return img, nil
}
