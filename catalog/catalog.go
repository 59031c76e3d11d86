// Package catalog loads the AI service catalog from a JSON file, validates
// it and reloads it when the file changes.
package catalog

import (
	"canvas-studio/core"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 250 * time.Millisecond

const servicesSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "name", "category", "parameters"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "name": {"type": "string"},
      "category": {"enum": ["image", "video", "3d"]},
      "inputTypes": {"type": "array", "items": {"type": "string"}},
      "workerId": {"type": "string"},
      "cost": {"type": "string"},
      "divisible": {"type": "integer", "minimum": 1},
      "parameters": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["name", "type"],
          "properties": {
            "name": {"type": "string", "minLength": 1},
            "type": {"type": "string"},
            "options": {"type": "array", "items": {"type": "string"}},
            "ui": {"type": "boolean"}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("services.json", servicesSchema)
	})
	return schema, schemaErr
}

// Parse validates data against the catalog schema and decodes it. Service
// ids must be unique.
func Parse(data []byte) ([]core.AIService, error) {
	s, err := compiled()
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	var services []core.AIService
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		if seen[svc.ID] {
			return nil, fmt.Errorf("duplicate service id %s", svc.ID)
		}
		seen[svc.ID] = true
	}
	return services, nil
}

// FileCatalog serves the services read from one file. A reload that fails
// keeps the previous services.
type FileCatalog struct {
	path string

	mu       sync.RWMutex
	services []core.AIService
	onChange []func([]core.AIService)

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// Load reads and validates the catalog at path.
func Load(path string) (*FileCatalog, error) {
	c := &FileCatalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New returns a catalog holding services, not backed by a file.
func New(services []core.AIService) *FileCatalog {
	return &FileCatalog{services: services}
}

func (c *FileCatalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", c.path, err)
	}
	services, err := Parse(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.services = services
	listeners := append([]func([]core.AIService){}, c.onChange...)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{"path": c.path, "services": len(services)}).Info("Service catalog loaded")
	for _, fn := range listeners {
		fn(c.Services())
	}
	return nil
}

// OnChange registers fn to be called after every successful reload.
func (c *FileCatalog) OnChange(fn func([]core.AIService)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *FileCatalog) Services() []core.AIService {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.AIService, len(c.services))
	copy(out, c.services)
	return out
}

func (c *FileCatalog) Service(id string) (core.AIService, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.services {
		if s.ID == id {
			return s, true
		}
	}
	return core.AIService{}, false
}

// Filter returns the services offered in an API mode. Local mode offers the
// services listed in local; remote mode offers those with a worker id.
func (c *FileCatalog) Filter(useLocal bool, local []string) []core.AIService {
	allowed := make(map[string]bool, len(local))
	for _, id := range local {
		allowed[id] = true
	}
	var out []core.AIService
	for _, s := range c.Services() {
		if (useLocal && allowed[s.ID]) || (!useLocal && strings.TrimSpace(s.WorkerID) != "") {
			out = append(out, s)
		}
	}
	return out
}

// Watch reloads the catalog whenever its file is written or replaced. The
// directory is watched so editors that save by rename are picked up.
func (c *FileCatalog) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher != nil || c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", c.path, err)
	}
	c.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	c.watchCancel = cancel

	c.watchWg.Add(1)
	go c.watchLoop(watchCtx, watcher)
	return nil
}

func (c *FileCatalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.watchWg.Done()
	name := filepath.Clean(c.path)

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := c.Reload(); err != nil {
				logrus.WithError(err).Warn("Catalog reload failed, keeping previous services")
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("Catalog watch error")
		}
	}
}

// Close stops watching.
func (c *FileCatalog) Close() error {
	c.watchMu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	c.watchWg.Wait()
	return err
}
