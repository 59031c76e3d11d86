package editor

import (
	"canvas-studio/core"
	"canvas-studio/gesture"
	"canvas-studio/jobs"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// GestureEvent is one input event from a client. Type selects which of the
// payload fields is read.
type GestureEvent struct {
	Type    string                `json:"type"`
	Pointer *gesture.PointerEvent `json:"pointer,omitempty"`
	Touch   *gesture.TouchEvent   `json:"touch,omitempty"`
	Wheel   *gesture.WheelEvent   `json:"wheel,omitempty"`
}

// HandleGestures feeds a batch of events to the interpreter in order. Events
// with an unknown type or a missing payload are skipped.
func (s *Session) HandleGestures(events []GestureEvent) int {
	s.mu.Lock()
	handled := 0
	for _, e := range events {
		if s.dispatch(e) {
			handled++
		}
	}
	s.mu.Unlock()

	if handled > 0 {
		s.changed()
	}
	return handled
}

func (s *Session) dispatch(e GestureEvent) bool {
	switch e.Type {
	case "pointerdown":
		if e.Pointer == nil {
			return false
		}
		s.interp.PointerDown(*e.Pointer)
	case "pointermove":
		if e.Pointer == nil {
			return false
		}
		s.interp.PointerMove(*e.Pointer)
	case "pointerup":
		s.interp.PointerUp()
	case "touchstart":
		if e.Touch == nil {
			return false
		}
		s.interp.TouchStart(*e.Touch)
	case "touchmove":
		if e.Touch == nil {
			return false
		}
		s.interp.TouchMove(*e.Touch)
	case "touchend":
		s.interp.TouchEnd()
	case "wheel":
		if e.Wheel == nil {
			return false
		}
		s.interp.Wheel(*e.Wheel)
	default:
		logrus.WithFields(logrus.Fields{"session_id": s.ID, "type": e.Type}).Debug("Unknown gesture event")
		return false
	}
	return true
}

func (s *Session) video(id string) (core.Layer, error) {
	l, ok := s.repo.Find(id)
	if !ok || l.Kind != core.KindVideo || l.Video == nil {
		return core.Layer{}, fmt.Errorf("%s: %w", id, ErrNotVideo)
	}
	return l, nil
}

// Play starts a video from its stored position.
func (s *Session) Play(id string) error {
	l, err := s.video(id)
	if err != nil {
		return err
	}
	pos := l.Video.CurrentTime
	if l.Video.Duration > 0 && pos >= l.Video.Duration {
		pos = 0
	}
	s.videos.Play(id, pos, l.Video.Duration)
	s.repo.Update(id, func(l *core.Layer) {
		l.Video.Playing = true
		l.Video.CurrentTime = pos
	})
	s.loop.VideosChanged()
	return nil
}

// Pause stops a video and stores where it stopped.
func (s *Session) Pause(id string) error {
	l, err := s.video(id)
	if err != nil {
		return err
	}
	pos, ok := s.videos.Pause(id)
	if !ok {
		pos = l.Video.CurrentTime
	}
	s.repo.Update(id, func(l *core.Layer) {
		l.Video.Playing = false
		l.Video.CurrentTime = pos
	})
	s.loop.VideosChanged()
	return nil
}

// Seek moves a video to t, clamped to its duration, and returns the
// position used. A video without a duration cannot seek.
func (s *Session) Seek(id string, t float64) (float64, error) {
	l, err := s.video(id)
	if err != nil {
		return 0, err
	}
	pos, ok := s.videos.Seek(id, t, l.Video.Duration)
	if !ok {
		return l.Video.CurrentTime, fmt.Errorf("seek %s: video is not loaded", id)
	}
	s.repo.Update(id, func(l *core.Layer) { l.Video.CurrentTime = pos })
	s.changed()
	return pos, nil
}

// RemoveBackground queues image layers for background removal. With no ids
// the current selection is used. It returns how many layers were queued.
func (s *Session) RemoveBackground(ctx context.Context, ids ...string) int {
	if len(ids) == 0 {
		ids = s.sel.Live(s.repo)
	}
	return s.bg.Enqueue(ctx, ids...)
}

// SubmitJob runs a service on the selection: the primary layer for
// single-input services, the first two selected layers in order for
// two-input ones.
func (s *Session) SubmitJob(ctx context.Context, serviceID string, values map[string]any) (core.ServiceJob, error) {
	if s.deps.Catalog == nil {
		return core.ServiceJob{}, fmt.Errorf("%w %s", ErrUnknownService, serviceID)
	}
	service, ok := s.deps.Catalog.Service(serviceID)
	if !ok {
		return core.ServiceJob{}, fmt.Errorf("%w %s", ErrUnknownService, serviceID)
	}

	var inputs []core.Layer
	if jobs.RequiredInputs(service) == 1 {
		if id, ok := s.sel.Primary(s.repo); ok {
			if l, ok := s.repo.Find(id); ok {
				inputs = append(inputs, l)
			}
		}
	} else {
		for _, id := range s.sel.Live(s.repo) {
			if l, ok := s.repo.Find(id); ok {
				inputs = append(inputs, l)
			}
		}
	}

	job, ok := s.jobs.Submit(ctx, jobs.SubmitRequest{Service: service, Inputs: inputs, Values: values})
	if !ok {
		return core.ServiceJob{}, ErrInputMismatch
	}
	return job, nil
}
