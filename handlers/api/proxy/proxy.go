// Package proxy re-serves job results from the server's origin so clients
// can seek videos and load models without cross-origin restrictions.
package proxy

import (
	"bytes"
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/handlers/api"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// resolve validates target. With local set, paths are resolved against the
// local API.
func resolve(target string, local bool, settings config.Settings) (*url.URL, bool) {
	u, err := url.Parse(target)
	if err != nil || target == "" {
		return nil, false
	}
	if !u.IsAbs() {
		if !local {
			return nil, false
		}
		base, err := url.Parse(settings.LocalAPIURL)
		if err != nil {
			return nil, false
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func contentType(u *url.URL, data []byte) string {
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".glb":
		return "model/gltf-binary"
	case ".gltf":
		return "model/gltf+json"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// HandleImageProxy serves GET /api/image-proxy?url=&local=. Range requests
// are answered from the fetched bytes.
func HandleImageProxy(fetcher core.ResultFetcher, settings func() config.Settings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		local, _ := strconv.ParseBool(r.URL.Query().Get("local"))
		target, ok := resolve(r.URL.Query().Get("url"), local, settings())
		if !ok {
			api.Error(w, r, http.StatusBadRequest, "A http(s) url is required")
			return
		}

		data, err := fetcher.Fetch(r.Context(), target.String())
		if err != nil {
			logrus.WithFields(logrus.Fields{"url": target.String(), "error": err}).Warn("Proxy fetch failed")
			api.Error(w, r, http.StatusBadGateway, "Failed to fetch result")
			return
		}

		w.Header().Set("Content-Type", contentType(target, data))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeContent(w, r, path.Base(target.Path), time.Time{}, bytes.NewReader(data))
	}
}
