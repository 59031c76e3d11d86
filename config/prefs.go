// Package config holds persisted user preferences and the process
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Preference keys.
const (
	KeyToken               = "tostai_token"
	KeyWebhookURL          = "webhook_url"
	KeyMaxDimension        = "max_dimension"
	KeyMaxDimensionEnabled = "max_dimension_enabled"
	KeyUseLocalAPI         = "use_local_api"
	KeyLocalAPIURL         = "local_api_url"
	KeyLocalUploadURL      = "local_upload_url"
	KeyUIScale             = "ui_scale"
)

const (
	DefaultMaxDimension   = 1024
	DefaultLocalAPIURL    = "http://localhost:8000"
	DefaultLocalUploadURL = "http://localhost:9000"
	DefaultUIScale        = 100
)

// Prefs stores preferences as a JSON key-value map.
type Prefs struct {
	mu     sync.RWMutex
	values map[string]any
	path   string
}

// LoadPrefs reads preferences from path. A missing file yields empty prefs.
func LoadPrefs(path string) (*Prefs, error) {
	p := &Prefs{values: make(map[string]any), path: path}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithField("path", path).Debug("No preferences file, using defaults")
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if err := json.Unmarshal(data, &p.values); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	return p, nil
}

// Save writes preferences to disk. In-memory prefs have nothing to write.
func (p *Prefs) Save() error {
	if p.path == "" {
		return nil
	}
	p.mu.RLock()
	data, err := json.MarshalIndent(p.values, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o600)
}

func (p *Prefs) String(key, fallback string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.values[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func (p *Prefs) Int(key string, fallback int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch n := p.values[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}

func (p *Prefs) Bool(key string, fallback bool) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if b, ok := p.values[key].(bool); ok {
		return b
	}
	return fallback
}

func (p *Prefs) Set(key string, value any) {
	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()
}
