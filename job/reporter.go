package job

import (
	"time"

	"golang.org/x/time/rate"

	"heatsim/model"
)

// Notifier receives session updates. Notify is called without the manager
// lock held and must not block.
type Notifier interface {
	Notify(update model.ProgressUpdate)
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.ProgressUpdate) {}

// progressReporter forwards solver progress into a session. It runs inside
// the derivative evaluation, so updates are throttled with a limiter and
// dropped rather than waited for.
type progressReporter struct {
	m       *Manager
	id      string
	limiter *rate.Limiter
}

func newProgressReporter(m *Manager, id string, every time.Duration) *progressReporter {
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	return &progressReporter{
		m:       m,
		id:      id,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (r *progressReporter) Report(percent float64, message string) {
	if percent < 100 && !r.limiter.Allow() {
		return
	}
	r.m.setProgress(r.id, percent, message)
}
