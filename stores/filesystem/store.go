package filesystem

import (
	"canvas-studio/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ErrInvalidPath is returned for ids that would escape the store directory.
var ErrInvalidPath = errors.New("invalid path: access denied")

// Store keeps shared documents under <base>/documents and user canvases
// under <base>/canvases/<user>, one JSON file per canvas.
type Store struct {
	basePath string
}

func NewStore(basePath string) (*Store, error) {
	for _, dir := range []string{"documents", "canvases"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &Store{basePath: basePath}, nil
}

// resolve joins elems under root and rejects anything that is not a plain
// name inside it.
func resolve(root string, elems ...string) (string, error) {
	for _, e := range elems {
		if e == "" || e == "." || e == ".." || filepath.Base(e) != e {
			return "", ErrInvalidPath
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(filepath.Join(append([]string{root}, elems...)...))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return abs, nil
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	filePath, err := resolve(filepath.Join(s.basePath, "documents"), id)
	if err != nil {
		return nil, err
	}
	log.WithField("file_path", filePath).Debug("Retrieving document by ID")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, core.NotFound("document", id)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Info("Document retrieved successfully")
	return &core.Document{Data: data}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	filePath := filepath.Join(s.basePath, "documents", id)
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
	})

	if err := os.WriteFile(filePath, document.Data, 0644); err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}

	log.Info("Document created successfully")
	return id, nil
}

func (s *Store) userPath(userID string) (string, error) {
	return resolve(filepath.Join(s.basePath, "canvases"), userID)
}

func (s *Store) canvasPath(userID, id string) (string, error) {
	return resolve(filepath.Join(s.basePath, "canvases"), userID, id+".json")
}

func (s *Store) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	userPath, err := s.userPath(userID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "path": userPath})

	files, err := os.ReadDir(userPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Canvas{}, nil
		}
		log.WithError(err).Error("Failed to read user directory")
		return nil, err
	}

	canvases := make([]*core.Canvas, 0, len(files))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(userPath, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read canvas file %s, skipping", file.Name())
			continue
		}
		var canvas core.Canvas
		if err := json.Unmarshal(data, &canvas); err != nil {
			log.WithError(err).Warnf("Failed to unmarshal canvas file %s, skipping", file.Name())
			continue
		}
		canvas.UserID = userID
		canvas.Data = nil
		canvases = append(canvases, &canvas)
	}
	sort.Slice(canvases, func(i, j int) bool {
		return canvases[i].UpdatedAt.After(canvases[j].UpdatedAt)
	})

	log.Debugf("Listed %d canvases", len(canvases))
	return canvases, nil
}

// stored is the on-disk form; core.Canvas hides UserID from JSON.
type stored struct {
	core.Canvas
	Data []byte `json:"data"`
}

func (s *Store) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	filePath, err := s.canvasPath(userID, id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "canvas_id": id})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Canvas file not found")
			return nil, core.NotFound("canvas", id)
		}
		log.WithError(err).Error("Failed to read canvas file")
		return nil, err
	}

	var rec stored
	if err := json.Unmarshal(data, &rec); err != nil {
		log.WithError(err).Error("Failed to unmarshal canvas data")
		return nil, err
	}
	canvas := rec.Canvas
	canvas.UserID = userID
	canvas.Data = rec.Data
	return &canvas, nil
}

func (s *Store) Save(ctx context.Context, canvas *core.Canvas) error {
	filePath, err := s.canvasPath(canvas.UserID, canvas.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": canvas.UserID, "canvas_id": canvas.ID})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create user directory")
		return err
	}

	now := time.Now()
	canvas.CreatedAt = now
	if existing, err := s.Get(ctx, canvas.UserID, canvas.ID); err == nil {
		canvas.CreatedAt = existing.CreatedAt
	}
	canvas.UpdatedAt = now

	data, err := json.Marshal(stored{Canvas: *canvas, Data: canvas.Data})
	if err != nil {
		return fmt.Errorf("marshal canvas: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write canvas file")
		return err
	}
	log.Info("Canvas saved")
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	filePath, err := s.canvasPath(userID, id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{"user_id": userID, "canvas_id": id}).WithError(err).Error("Failed to delete canvas file")
		return err
	}
	return nil
}
