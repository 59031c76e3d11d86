package memory

import (
	"canvas-studio/core"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Store keeps documents, canvases, snapshots and job records in process
// memory. Everything is lost on restart.
type Store struct {
	mu        sync.RWMutex
	documents map[string]core.Document
	canvases  map[string]map[string]core.Canvas
	snapshots map[string]core.Snapshot
	jobs      map[string][]core.JobRecord
}

func NewStore() *Store {
	return &Store{
		documents: make(map[string]core.Document),
		canvases:  make(map[string]map[string]core.Canvas),
		snapshots: make(map[string]core.Snapshot),
		jobs:      make(map[string][]core.JobRecord),
	}
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	if !ok {
		log.WithField("error", "document not found").Warn("Document with specified ID not found")
		return nil, core.NotFound("document", id)
	}
	log.Info("Document retrieved successfully")
	return &core.Document{Data: append([]byte(nil), doc.Data...)}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()

	s.mu.Lock()
	s.documents[id] = core.Document{Data: append([]byte(nil), document.Data...)}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(document.Data),
	}).Info("Document created successfully")
	return id, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canvases := make([]*core.Canvas, 0, len(s.canvases[userID]))
	for _, c := range s.canvases[userID] {
		c := c
		c.Data = nil
		canvases = append(canvases, &c)
	}
	sort.Slice(canvases, func(i, j int) bool {
		return canvases[i].UpdatedAt.After(canvases[j].UpdatedAt)
	})
	return canvases, nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	s.mu.RLock()
	c, ok := s.canvases[userID][id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NotFound("canvas", id)
	}
	c.Data = append([]byte(nil), c.Data...)
	return &c, nil
}

func (s *Store) Save(ctx context.Context, canvas *core.Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.canvases[canvas.UserID]
	if !ok {
		user = make(map[string]core.Canvas)
		s.canvases[canvas.UserID] = user
	}
	now := time.Now()
	if existing, ok := user[canvas.ID]; ok {
		canvas.CreatedAt = existing.CreatedAt
	} else {
		canvas.CreatedAt = now
	}
	canvas.UpdatedAt = now

	stored := *canvas
	stored.Data = append([]byte(nil), canvas.Data...)
	user[canvas.ID] = stored

	logrus.WithFields(logrus.Fields{"user_id": canvas.UserID, "canvas_id": canvas.ID}).Info("Canvas saved")
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	delete(s.canvases[userID], id)
	s.mu.Unlock()
	return nil
}

func (s *Store) CreateSnapshot(ctx context.Context, sessionID, name, description string, data []byte) (string, error) {
	id := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{
		"snapshot_id": id,
		"session_id":  sessionID,
		"data_length": len(data),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []core.Snapshot
	for _, snap := range s.snapshots {
		if snap.SessionID == sessionID {
			owned = append(owned, snap)
		}
	}
	if len(owned) >= core.MaxSnapshots {
		sortOldestFirst(owned)
		for _, snap := range owned[:len(owned)-core.MaxSnapshots+1] {
			delete(s.snapshots, snap.ID)
			log.WithField("evicted_id", snap.ID).Debug("Evicted oldest snapshot")
		}
	}

	s.snapshots[id] = core.Snapshot{
		ID:          id,
		SessionID:   sessionID,
		Name:        name,
		Description: description,
		CreatedAt:   int64(ulid.Now()),
		Data:        append([]byte(nil), data...),
	}
	log.Info("Snapshot created successfully")
	return id, nil
}

// ListSnapshots returns the session's snapshots newest first, without data.
func (s *Store) ListSnapshots(ctx context.Context, sessionID string) ([]core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Snapshot
	for _, snap := range s.snapshots {
		if snap.SessionID == sessionID {
			snap.Data = nil
			out = append(out, snap)
		}
	}
	sortOldestFirst(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NotFound("snapshot", id)
	}
	snap.Data = append([]byte(nil), snap.Data...)
	return &snap, nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, id, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return core.NotFound("snapshot", id)
	}
	snap.Name = name
	snap.Description = description
	s.snapshots[id] = snap
	return nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return core.NotFound("snapshot", id)
	}
	delete(s.snapshots, id)
	return nil
}

func (s *Store) SaveJob(ctx context.Context, record core.JobRecord) error {
	s.mu.Lock()
	s.jobs[record.SessionID] = append(s.jobs[record.SessionID], record)
	s.mu.Unlock()
	return nil
}

// ListJobs returns the session's job records in completion order.
func (s *Store) ListJobs(ctx context.Context, sessionID string) ([]core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.JobRecord(nil), s.jobs[sessionID]...), nil
}

// ULIDs sort by creation time, which breaks ties within one millisecond.
func sortOldestFirst(snaps []core.Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt == snaps[j].CreatedAt {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt < snaps[j].CreatedAt
	})
}
