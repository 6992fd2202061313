package monitoring

import (
	"sync"
	"time"

	"devconnect/logger"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

var (
	mu       sync.Mutex
	degraded = map[string]int64{}
	enabled  bool
)

// Init configures sentry. An empty dsn leaves error reporting disabled.
func Init(dsn, env, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}
	enabled = true
	return nil
}

// ReportDegraded records that path served a degraded response because of err.
func ReportDegraded(path string, err error) {
	mu.Lock()
	degraded[path]++
	mu.Unlock()

	logger.Warn("serving degraded response", zap.String("path", path), zap.Error(err))
	if !enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("degraded_path", path)
		scope.SetLevel(sentry.LevelWarning)
		sentry.CaptureException(err)
	})
}

// CaptureError forwards an unexpected error to sentry.
func CaptureError(err error, tags map[string]string) {
	if !enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Degraded returns a snapshot of degraded responses served per path.
func Degraded() map[string]int64 {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]int64, len(degraded))
	for k, v := range degraded {
		out[k] = v
	}
	return out
}

func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}
