package fapctl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// StatusChangedFunc receives every observed ServiceStatus transition
type StatusChangedFunc func(ServiceStatus)

// WatchOption configures Watch
type WatchOption func(*watchConfig)

type watchConfig struct {
	interval time.Duration
	debounce time.Duration
	wakePath string
	logger   *slog.Logger
}

// WithInterval sets the status poll interval
func WithInterval(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithWakePath re-polls shortly after any filesystem event under path, for
// example the daemon's runtime directory
func WithWakePath(path string) WatchOption {
	return func(c *watchConfig) {
		c.wakePath = path
	}
}

// WithWatchLogger sets the watcher logger
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(c *watchConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WatchController stops a running Watch
type WatchController struct {
	sctx     *stopper.Context
	killOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

// Kill asks the watch loop to stop at its next check point. It may be called
// any number of times from any goroutine, including a signal handler.
func (w *WatchController) Kill() {
	w.killOnce.Do(func() {
		w.sctx.Stop(100 * time.Millisecond)
	})
}

// Done is closed exactly once, after the watch loop has exited
func (w *WatchController) Done() <-chan struct{} {
	return w.done
}

// Wait kills the watcher and blocks until its goroutines have finished
func (w *WatchController) Wait() error {
	w.Kill()
	return w.sctx.Wait()
}

func (w *WatchController) finish() {
	w.doneOnce.Do(func() { close(w.done) })
}

// watchState tracks the last delivered status
type watchState struct {
	mu        sync.Mutex
	last      ServiceStatus
	delivered bool
	debouncer *time.Timer
}

// Watch polls service in the background and calls onStatusChanged with the
// first observed status and on every change after that. The callback runs on
// the watch goroutine. Cancelling ctx has the same effect as Kill.
func Watch(ctx context.Context, service ServiceHandle, onStatusChanged StatusChangedFunc, opts ...WatchOption) (*WatchController, error) {
	cfg := &watchConfig{
		interval: DefaultWatchInterval,
		debounce: DefaultWatchDebounce,
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var watcher *fsnotify.Watcher
	if cfg.wakePath != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, &OpError{Op: OpWatch, Target: cfg.wakePath, Err: err}
		}
		if err := watcher.Add(cfg.wakePath); err != nil {
			_ = watcher.Close()
			return nil, &OpError{Op: OpWatch, Target: cfg.wakePath, Err: err}
		}
	}

	sctx := stopper.WithContext(ctx)
	wc := &WatchController{
		sctx: sctx,
		done: make(chan struct{}),
	}

	state := &watchState{}
	poll := make(chan struct{}, 1)

	// check polls once and delivers a change
	check := func() {
		if sctx.IsStopping() {
			return
		}
		status := StatusUnknown
		active, err := service.IsActive(ctx)
		if err != nil {
			cfg.logger.Debug("watch poll failed", "error", err)
		} else {
			status = statusFromActive(active)
		}

		state.mu.Lock()
		changed := !state.delivered || status != state.last
		state.last = status
		state.delivered = true
		state.mu.Unlock()

		if changed && !sctx.IsStopping() {
			cfg.logger.Debug("daemon status changed", "status", status)
			onStatusChanged(status)
		}
	}

	sctx.Go(func(sctx *stopper.Context) error {
		defer wc.finish()
		sctx.Defer(func() {
			state.mu.Lock()
			if state.debouncer != nil {
				state.debouncer.Stop()
			}
			state.mu.Unlock()
			if watcher != nil {
				_ = watcher.Close()
			}
		})

		ticker := time.NewTicker(cfg.interval)
		defer ticker.Stop()

		var events <-chan fsnotify.Event
		var errs <-chan error
		if watcher != nil {
			events = watcher.Events
			errs = watcher.Errors
		}

		check()
		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				check()
			case <-poll:
				check()
			case _, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				state.mu.Lock()
				if state.debouncer != nil {
					state.debouncer.Stop()
				}
				state.debouncer = time.AfterFunc(cfg.debounce, func() {
					select {
					case poll <- struct{}{}:
					default:
					}
				})
				state.mu.Unlock()
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				cfg.logger.Warn("watch wake path error", "path", cfg.wakePath, "error", err)
			}
		}
		return nil
	})

	return wc, nil
}
