package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// backgroundLoop runs fn immediately and then on every tick until stopped.
type backgroundLoop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newBackgroundLoop(name string, interval time.Duration, log *zap.Logger, fn func(ctx context.Context)) *backgroundLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &backgroundLoop{name: name, interval: interval, fn: fn, log: log}
}

func (l *backgroundLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.log.Info("background loop started", zap.String("loop", l.name), zap.Duration("interval", l.interval))
		for {
			l.fn(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(l.done)
}

// Stop cancels the loop and waits for the current iteration, bounded by ctx.
func (l *backgroundLoop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		l.log.Info("background loop stopped", zap.String("loop", l.name))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
