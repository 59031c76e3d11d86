package render

import (
	"canvas-studio/geometry"
	"sync"
	"time"
)

// SeekSettle is how long a seek keeps the sync from overwriting the
// position the user asked for.
const SeekSettle = 100 * time.Millisecond

type playback struct {
	anchorPos  float64
	anchorTime time.Time
	duration   float64
}

// VideoController keeps the play state of video layers. Positions advance
// with the wall clock while a layer plays and stop at its duration.
type VideoController struct {
	mu      sync.Mutex
	now     func() time.Time
	playing map[string]*playback
	seeking map[string]time.Time
}

func NewVideoController() *VideoController {
	return &VideoController{
		now:     time.Now,
		playing: make(map[string]*playback),
		seeking: make(map[string]time.Time),
	}
}

func (c *VideoController) Play(id string, position, duration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing[id] = &playback{anchorPos: position, anchorTime: c.now(), duration: duration}
}

// Pause stops the layer and returns its position. It reports false if the
// layer was not playing.
func (c *VideoController) Pause(id string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.playing[id]
	if !ok {
		return 0, false
	}
	pos := p.position(c.now())
	delete(c.playing, id)
	return pos, true
}

// Seek clamps t to [0, duration] and marks the layer as seeking for
// SeekSettle. A zero duration means the video is not ready and the seek is
// refused.
func (c *VideoController) Seek(id string, t, duration float64) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	t = geometry.Clamp(t, 0, duration)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.seeking[id] = now.Add(SeekSettle)
	if p, ok := c.playing[id]; ok {
		p.anchorPos, p.anchorTime, p.duration = t, now, duration
	}
	return t, true
}

// Forget drops all state for a removed layer.
func (c *VideoController) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.playing, id)
	delete(c.seeking, id)
}

func (c *VideoController) Playing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.playing))
	for id := range c.playing {
		ids = append(ids, id)
	}
	return ids
}

func (c *VideoController) AnyPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.playing) > 0
}

func (c *VideoController) IsPlaying(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.playing[id]
	return ok
}

// Positions returns the current position of every playing layer. Layers
// still settling after a seek are left out so their stored time stands.
func (c *VideoController) Positions() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[string]float64, len(c.playing))
	for id, p := range c.playing {
		if until, ok := c.seeking[id]; ok {
			if now.Before(until) {
				continue
			}
			delete(c.seeking, id)
		}
		out[id] = p.position(now)
	}
	return out
}

func (p *playback) position(now time.Time) float64 {
	pos := p.anchorPos + now.Sub(p.anchorTime).Seconds()
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}
