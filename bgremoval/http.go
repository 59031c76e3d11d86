package bgremoval

import (
	"bytes"
	"canvas-studio/core"
	"canvas-studio/imaging"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// HTTPMatter posts a PNG to a matting endpoint and reads back the
// alpha-matted PNG.
type HTTPMatter struct {
	URL    string
	Client *http.Client
}

func (m *HTTPMatter) RemoveBackground(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(m.URL, "/")+"/remove", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := m.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("matting endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out, _, err := imaging.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode matte: %w", err)
	}
	// The matte comes back at model resolution on some backends.
	if b, ob := img.Bounds(), out.Bounds(); b.Dx() != ob.Dx() || b.Dy() != ob.Dy() {
		out = imaging.Scale(out, b.Dx(), b.Dy())
	}
	return out, nil
}

func (m *HTTPMatter) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return http.DefaultClient
}

// HTTPModelLoader checks that the matting endpoint has its model ready and
// hands out an HTTPMatter for it.
type HTTPModelLoader struct {
	URL    string
	Client *http.Client
}

func (l *HTTPModelLoader) Load(ctx context.Context) (core.Matter, error) {
	if l.URL == "" {
		return nil, ErrNoModel
	}
	m := &HTTPMatter{URL: l.URL, Client: l.Client}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(l.URL, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("matting endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matting endpoint not ready: %s", resp.Status)
	}
	logrus.WithField("url", l.URL).Debug("Matting endpoint ready")
	return m, nil
}
