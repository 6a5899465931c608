package core

import (
	"math"
	"sync"
	"time"
)

// AlarmHandle identifies one alarm of a TimeDriver.
type AlarmHandle struct {
	id uint8
}

// ID returns the alarm's index within its driver.
func (a AlarmHandle) ID() int { return int(a.id) }

// AlarmCallback is invoked when an alarm fires. It may run on any goroutine
// and must not call Poll directly.
type AlarmCallback func(ctx any)

// TimeDriver is the platform clock and alarm facility used by executors with
// integrated timers.
type TimeDriver interface {
	// Now returns the current monotonic tick count.
	Now() uint64

	// AllocateAlarm reserves an alarm. It reports false when none are left.
	AllocateAlarm() (AlarmHandle, bool)

	// SetAlarmCallback sets the function called when the alarm fires.
	SetAlarmCallback(alarm AlarmHandle, callback AlarmCallback, ctx any)

	// SetAlarm arms the alarm for timestamp. It returns false, without arming,
	// if timestamp is not in the future. Forever disarms the alarm.
	SetAlarm(alarm AlarmHandle, timestamp uint64) bool
}

const (
	// DefaultTickHz is the tick rate of StdTimeDriver when none is given.
	DefaultTickHz = 1_000_000

	// DefaultAlarmCount is the number of alarms a driver offers by default.
	DefaultAlarmCount = 4
)

type alarmSlot struct {
	callback  AlarmCallback
	ctx       any
	timestamp uint64
	timer     *time.Timer
	gen       uint64
}

// =============================================================================
// StdTimeDriver: wall-clock ticks backed by time.AfterFunc
// =============================================================================

// StdTimeDriver counts ticks of 1/TickHz seconds since it was created and
// fires alarms through time.AfterFunc.
type StdTimeDriver struct {
	start  time.Time
	tickHz uint64

	mu        sync.Mutex
	alarms    []alarmSlot
	allocated int
}

// NewStdTimeDriver creates a driver with the given tick rate and alarm count.
// Non-positive values select the defaults.
func NewStdTimeDriver(tickHz uint64, alarms int) *StdTimeDriver {
	if tickHz == 0 {
		tickHz = DefaultTickHz
	}
	if alarms <= 0 {
		alarms = DefaultAlarmCount
	}
	return &StdTimeDriver{
		start:  time.Now(),
		tickHz: tickHz,
		alarms: make([]alarmSlot, alarms),
	}
}

// TickHz returns the driver's tick rate.
func (d *StdTimeDriver) TickHz() uint64 { return d.tickHz }

// Now implements TimeDriver.
func (d *StdTimeDriver) Now() uint64 {
	return d.durationToTicks(time.Since(d.start))
}

// Ticks converts a duration to driver ticks.
func (d *StdTimeDriver) Ticks(dur time.Duration) uint64 {
	return d.durationToTicks(dur)
}

func (d *StdTimeDriver) durationToTicks(dur time.Duration) uint64 {
	if dur <= 0 {
		return 0
	}
	secs := uint64(dur / time.Second)
	rem := uint64(dur % time.Second)
	return secs*d.tickHz + rem*d.tickHz/uint64(time.Second)
}

// maxAlarmDelay is the longest delay time.AfterFunc can represent.
const maxAlarmDelay = time.Duration(math.MaxInt64)

// ticksToDuration converts a tick count to a delay, saturating at
// maxAlarmDelay instead of wrapping negative.
func (d *StdTimeDriver) ticksToDuration(ticks uint64) time.Duration {
	secs := ticks / d.tickHz
	if secs >= uint64(maxAlarmDelay/time.Second) {
		return maxAlarmDelay
	}
	rem := ticks % d.tickHz
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/d.tickHz)
}

// AllocateAlarm implements TimeDriver.
func (d *StdTimeDriver) AllocateAlarm() (AlarmHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocated >= len(d.alarms) {
		return AlarmHandle{}, false
	}
	h := AlarmHandle{id: uint8(d.allocated)}
	d.allocated++
	return h, true
}

// SetAlarmCallback implements TimeDriver.
func (d *StdTimeDriver) SetAlarmCallback(alarm AlarmHandle, callback AlarmCallback, ctx any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := &d.alarms[alarm.id]
	a.callback = callback
	a.ctx = ctx
}

// SetAlarm implements TimeDriver.
func (d *StdTimeDriver) SetAlarm(alarm AlarmHandle, timestamp uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a := &d.alarms[alarm.id]
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timestamp = timestamp
	if timestamp == Forever {
		return true
	}

	now := d.Now()
	if timestamp <= now {
		a.timestamp = Forever
		return false
	}

	gen := a.gen
	a.timer = time.AfterFunc(d.ticksToDuration(timestamp-now), func() {
		d.fire(alarm, gen)
	})
	return true
}

func (d *StdTimeDriver) fire(alarm AlarmHandle, gen uint64) {
	d.mu.Lock()
	a := &d.alarms[alarm.id]
	if a.gen != gen {
		// Re-armed or disarmed after this timer was started.
		d.mu.Unlock()
		return
	}
	a.timestamp = Forever
	a.timer = nil
	callback, ctx := a.callback, a.ctx
	d.mu.Unlock()

	if callback != nil {
		callback(ctx)
	}
}

// =============================================================================
// MockTimeDriver: manually advanced clock for deterministic tests
// =============================================================================

// MockTimeDriver is a TimeDriver whose clock only moves when Advance or SetNow
// is called. Alarms that become due fire synchronously inside those calls.
type MockTimeDriver struct {
	mu        sync.Mutex
	now       uint64
	alarms    []alarmSlot
	allocated int
}

// NewMockTimeDriver creates a mock driver with the given number of alarms.
func NewMockTimeDriver(alarms int) *MockTimeDriver {
	if alarms <= 0 {
		alarms = DefaultAlarmCount
	}
	return &MockTimeDriver{alarms: make([]alarmSlot, alarms)}
}

// Now implements TimeDriver.
func (d *MockTimeDriver) Now() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// AllocateAlarm implements TimeDriver.
func (d *MockTimeDriver) AllocateAlarm() (AlarmHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocated >= len(d.alarms) {
		return AlarmHandle{}, false
	}
	h := AlarmHandle{id: uint8(d.allocated)}
	d.alarms[h.id].timestamp = Forever
	d.allocated++
	return h, true
}

// SetAlarmCallback implements TimeDriver.
func (d *MockTimeDriver) SetAlarmCallback(alarm AlarmHandle, callback AlarmCallback, ctx any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := &d.alarms[alarm.id]
	a.callback = callback
	a.ctx = ctx
}

// SetAlarm implements TimeDriver.
func (d *MockTimeDriver) SetAlarm(alarm AlarmHandle, timestamp uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := &d.alarms[alarm.id]
	if timestamp != Forever && timestamp <= d.now {
		a.timestamp = Forever
		return false
	}
	a.timestamp = timestamp
	return true
}

// AlarmAt returns the timestamp an alarm is armed for (Forever if disarmed).
func (d *MockTimeDriver) AlarmAt(alarm AlarmHandle) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alarms[alarm.id].timestamp
}

// Advance moves the clock forward by ticks.
func (d *MockTimeDriver) Advance(ticks uint64) {
	d.mu.Lock()
	now := d.now + ticks
	d.mu.Unlock()
	d.SetNow(now)
}

// SetNow moves the clock to now (never backwards) and fires due alarms.
func (d *MockTimeDriver) SetNow(now uint64) {
	d.mu.Lock()
	if now > d.now {
		d.now = now
	}
	type due struct {
		callback AlarmCallback
		ctx      any
	}
	var fired []due
	for i := 0; i < d.allocated; i++ {
		a := &d.alarms[i]
		if a.timestamp != Forever && a.timestamp <= d.now {
			a.timestamp = Forever
			if a.callback != nil {
				fired = append(fired, due{callback: a.callback, ctx: a.ctx})
			}
		}
	}
	d.mu.Unlock()

	for _, f := range fired {
		f.callback(f.ctx)
	}
}
