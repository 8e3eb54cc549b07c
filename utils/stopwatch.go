package utils

import (
	"sync"
	"time"
)

// Watch is a pausable stopwatch. Paused intervals are excluded from Elapsed,
// which is how input parsing is kept out of the reported prediction time.
type Watch struct {
	mu           sync.RWMutex
	paused       bool
	pauseTime    time.Time
	adjustedTime time.Time
}

func (w *Watch) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		panic("watch cant start because paused")
	}
	w.adjustedTime = time.Now()
}

func (w *Watch) Elapsed() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	now := time.Now()
	if w.paused {
		return w.pauseTime.Sub(w.adjustedTime)
	}
	return now.Sub(w.adjustedTime)
}

// Lap returns the elapsed time and restarts the watch. Used for per phase timing within a sweep.
func (w *Watch) Lap() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		panic("watch cant lap while paused")
	}
	now := time.Now()
	lap := now.Sub(w.adjustedTime)
	w.adjustedTime = now
	return lap
}

// Pause returns the elapsed time up to the pause.
func (w *Watch) Pause() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		panic("watch already paused")
	}
	w.pauseTime = time.Now()
	w.paused = true
	return w.pauseTime.Sub(w.adjustedTime)
}

func (w *Watch) UnPause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		panic("watch wasn't paused")
	}
	w.paused = false
	w.adjustedTime = w.adjustedTime.Add(time.Since(w.pauseTime))
}
