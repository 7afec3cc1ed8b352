package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LoadFunc fetches and prepares the identity provider SDK.
type LoadFunc func(ctx context.Context) (SDK, error)

// Loader loads the SDK once in the background and signals readiness.
type Loader struct {
	load     LoadFunc
	timeout  time.Duration
	reporter Reporter
	logger   *slog.Logger

	once  sync.Once
	ready chan struct{}
	sdk   SDK
	err   error
}

// NewLoader prepares a loader. A zero timeout means no deadline beyond ctx.
func NewLoader(load LoadFunc, timeout time.Duration, reporter Reporter, logger *slog.Logger) *Loader {
	return &Loader{
		load:     load,
		timeout:  timeout,
		reporter: reporter,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Start begins loading. Only the first call has any effect.
func (l *Loader) Start(ctx context.Context) {
	l.once.Do(func() {
		go l.run(ctx)
	})
}

func (l *Loader) run(ctx context.Context) {
	defer close(l.ready)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	sdk, err := l.safeLoad(ctx)
	if err == nil && sdk == nil {
		err = fmt.Errorf("loader returned no sdk")
	}
	if err != nil {
		l.err = fmt.Errorf("%w: %w", ErrSDKUnavailable, err)
		l.logger.Error("sdk load failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		if l.reporter != nil {
			l.reporter.Report(ctx, flowErr(FlowNone, "sdk load", l.err))
		}
		return
	}

	l.sdk = sdk
	l.logger.Info("sdk loaded", "duration_ms", time.Since(start).Milliseconds())
}

func (l *Loader) safeLoad(ctx context.Context) (sdk SDK, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during load: %v", rec)
		}
	}()
	return l.load(ctx)
}

// Ready is closed once loading has finished, successfully or not.
func (l *Loader) Ready() <-chan struct{} {
	return l.ready
}

// Wait blocks until loading finishes or ctx is done.
func (l *Loader) Wait(ctx context.Context) (SDK, error) {
	select {
	case <-l.ready:
		return l.sdk, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status is "loading", "ready" or "unavailable".
func (l *Loader) Status() string {
	select {
	case <-l.ready:
		if l.err != nil {
			return "unavailable"
		}
		return "ready"
	default:
		return "loading"
	}
}

// SDK returns the loaded SDK without blocking, or nil.
func (l *Loader) SDK() SDK {
	select {
	case <-l.ready:
		return l.sdk
	default:
		return nil
	}
}
