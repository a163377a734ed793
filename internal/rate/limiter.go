package rate

import (
	"sync"
	"time"
)

// Class identifies the endpoint class a request is limited under. Login and
// refresh paths carry stricter budgets than general authenticated calls.
type Class uint8

const (
	// ClassLogin covers login and token-issuance endpoints.
	ClassLogin Class = iota
	// ClassRefresh covers token refresh endpoints.
	ClassRefresh
	// ClassAPI covers general authenticated calls.
	ClassAPI

	classCount
)

// ClassCount is the number of defined endpoint classes.
const ClassCount = int(classCount)

// ClassConfig holds the budget for one endpoint class.
type ClassConfig struct {
	Window time.Duration
	Budget int
}

// Config holds per-class budgets and the stale-entry sweep interval.
type Config struct {
	Classes       [ClassCount]ClassConfig
	SweepInterval time.Duration
}

type window struct {
	start     time.Time
	count     int
	prevCount int
}

type classLimiter struct {
	cfg ClassConfig

	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is an in-memory sliding-window limiter. All methods are safe for
// concurrent use and perform no I/O.
type Limiter struct {
	classes [ClassCount]*classLimiter

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLimiter creates a [Limiter] from cfg. A class with a zero budget or
// window is unlimited.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{done: make(chan struct{})}
	for i := range l.classes {
		l.classes[i] = &classLimiter{
			cfg:     cfg.Classes[i],
			windows: make(map[string]*window),
		}
	}

	if cfg.SweepInterval > 0 {
		l.wg.Add(1)
		go l.sweepLoop(cfg.SweepInterval)
	}

	return l
}

// Allow reports whether clientID may proceed under the given class and
// consumes one unit of budget when it may.
func (l *Limiter) Allow(class Class, clientID string) bool {
	return l.allowAt(class, clientID, time.Now())
}

func (l *Limiter) allowAt(class Class, clientID string, now time.Time) bool {
	if l == nil || class >= classCount || clientID == "" {
		return true
	}

	cl := l.classes[class]
	if cl.cfg.Budget <= 0 || cl.cfg.Window <= 0 {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	w, ok := cl.windows[clientID]
	if !ok {
		w = &window{start: now}
		cl.windows[clientID] = w
	}

	cl.roll(w, now)

	// Weight the previous bucket by how much of it still overlaps the
	// sliding window ending now.
	elapsed := now.Sub(w.start)
	remaining := float64(cl.cfg.Window-elapsed) / float64(cl.cfg.Window)
	effective := float64(w.count) + float64(w.prevCount)*remaining

	if effective >= float64(cl.cfg.Budget) {
		return false
	}

	w.count++
	return true
}

// roll advances the window so that w.start <= now < w.start + Window.
// Caller holds cl.mu.
func (cl *classLimiter) roll(w *window, now time.Time) {
	elapsed := now.Sub(w.start)
	switch {
	case elapsed < cl.cfg.Window:
		// Current bucket still open.
	case elapsed < 2*cl.cfg.Window:
		// One bucket boundary crossed: current becomes previous.
		w.prevCount = w.count
		w.count = 0
		w.start = w.start.Add(cl.cfg.Window)
	default:
		// Fully idle for at least a whole window.
		w.prevCount = 0
		w.count = 0
		w.start = now
	}
}

// Retry returns how long a denied client of the given class should wait
// before its next attempt has a chance of being admitted.
func (l *Limiter) Retry(class Class) time.Duration {
	if l == nil || class >= classCount {
		return 0
	}
	return l.classes[class].cfg.Window
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(time.Now())
		}
	}
}

// sweep discards windows idle for at least two full window widths; their
// weighted contribution is zero.
func (l *Limiter) sweep(now time.Time) {
	for _, cl := range l.classes {
		if cl.cfg.Window <= 0 {
			continue
		}
		cl.mu.Lock()
		for clientID, w := range cl.windows {
			if now.Sub(w.start) >= 2*cl.cfg.Window {
				delete(cl.windows, clientID)
			}
		}
		cl.mu.Unlock()
	}
}
