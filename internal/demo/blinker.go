package demo

import (
	"log/slog"
	"sync/atomic"

	"github.com/Swind/go-async-executor/core"
)

// Blinker is a future that wakes every period ticks, counting each wake as a
// blink. It completes after limit blinks; limit 0 blinks forever.
type Blinker struct {
	id     int
	driver core.TimeDriver
	period uint64
	limit  int
	total  *atomic.Int64
	logger *slog.Logger

	timer  *core.Timer
	blinks int
}

// NewBlinker creates blinker id. Every blink also increments total.
func NewBlinker(id int, driver core.TimeDriver, period uint64, limit int, total *atomic.Int64, logger *slog.Logger) *Blinker {
	return &Blinker{
		id:     id,
		driver: driver,
		period: period,
		limit:  limit,
		total:  total,
		logger: logger,
	}
}

// Blinks returns how many times this blinker has fired.
func (b *Blinker) Blinks() int { return b.blinks }

// Poll implements core.Future.
func (b *Blinker) Poll(cx *core.Context) core.Poll {
	for {
		if b.timer == nil {
			b.timer = core.TimerAfter(b.driver, b.period)
		}
		if b.timer.Poll(cx) == core.Pending {
			return core.Pending
		}
		b.timer = nil
		b.blinks++
		b.total.Add(1)
		b.logger.Debug("blink", "blinker", b.id, "count", b.blinks, "tick", b.driver.Now())
		if b.limit > 0 && b.blinks >= b.limit {
			return core.Ready
		}
	}
}
