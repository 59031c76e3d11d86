package render

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DrawInterval = 33 * time.Millisecond
	SyncInterval = 100 * time.Millisecond
)

// Loop redraws on demand and, while any video plays, on a throttled tick.
// draw is called for every frame; sync receives playing video positions at
// most every SyncInterval.
type Loop struct {
	draw   func()
	sync   func(positions map[string]float64)
	videos *VideoController

	invalidate chan struct{}
	wake       chan struct{}

	drawEvery time.Duration
	syncEvery time.Duration
}

func NewLoop(videos *VideoController, draw func(), sync func(map[string]float64)) *Loop {
	return &Loop{
		draw:       draw,
		sync:       sync,
		videos:     videos,
		invalidate: make(chan struct{}, 1),
		wake:       make(chan struct{}, 1),
		drawEvery:  DrawInterval,
		syncEvery:  SyncInterval,
	}
}

// Invalidate requests a redraw. Requests made while one is pending coalesce.
func (l *Loop) Invalidate() {
	select {
	case l.invalidate <- struct{}{}:
	default:
	}
}

// VideosChanged wakes the loop after a play or pause so it can start or
// stop its ticker.
func (l *Loop) VideosChanged() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.Invalidate()
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	var (
		ticker   *time.Ticker
		tick     <-chan time.Time
		lastDraw time.Time
		lastSync time.Time
	)
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
			logrus.Debug("Video loop stopped")
		}
	}
	start := func() {
		if ticker == nil && l.videos.AnyPlaying() {
			ticker = time.NewTicker(l.drawEvery)
			tick = ticker.C
			logrus.Debug("Video loop started")
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.invalidate:
			l.draw()
			lastDraw = time.Now()
			start()
		case <-l.wake:
			start()
		case now := <-tick:
			if !l.videos.AnyPlaying() {
				stop()
				continue
			}
			if now.Sub(lastSync) >= l.syncEvery {
				l.sync(l.videos.Positions())
				lastSync = now
			}
			if now.Sub(lastDraw) >= l.drawEvery {
				l.draw()
				lastDraw = now
			}
		}
	}
}
