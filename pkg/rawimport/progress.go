package rawimport

import (
	"log/slog"
	"time"
)

// progressTracker implements spec.md §4.4's rate-limited progress report:
// a log line only when at least one second has elapsed since the last
// one AND the percent has changed, plus an ETA once a second has elapsed
// since the start and at least one byte has arrived.
type progressTracker struct {
	log       *slog.Logger
	total     int64 // dltotal; <= 0 means unknown
	startedAt time.Time

	lastEmit time.Time
	lastPct  int
}

func newProgressTracker(log *slog.Logger, total int64) *progressTracker {
	return &progressTracker{log: log, total: total, startedAt: time.Now()}
}

// Sample reports dlnow bytes received so far and decides whether to
// emit a log line.
func (p *progressTracker) Sample(now int64) {
	if p.total <= 0 {
		return
	}

	pct := int(100 * now / p.total)
	t := time.Now()

	if t.Sub(p.lastEmit) < rateLimitInterval || pct == p.lastPct {
		return
	}

	if t.Sub(p.startedAt) > rateLimitInterval && now > 0 {
		done := t.Sub(p.startedAt)
		left := time.Duration(float64(done) * float64(p.total) / float64(now))
		left -= done
		p.log.Info("download progress", "percent", pct, "eta", left.Round(time.Second))
	} else {
		p.log.Info("download progress", "percent", pct)
	}

	p.lastEmit = t
	p.lastPct = pct
}
