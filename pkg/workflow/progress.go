package workflow

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultProgressCadence  = 500 * time.Millisecond
	defaultProgressCeiling  = 90
	defaultProgressTimeBase = 20 * time.Second
)

// Reporter estimates the progress of an in-flight stage call. The remote side reports
// nothing, so the estimate climbs toward a ceiling on a fixed cadence and only reaches
// 100 through Complete.
type Reporter struct {
	clock    clockwork.Clock
	cadence  time.Duration
	ceiling  int
	timeBase time.Duration
	onChange func(percent int)

	mu      sync.Mutex
	value   int
	started time.Time
	epoch   uint64
	stop    chan struct{}
}

type ReporterOption func(*Reporter)

func WithProgressClock(clock clockwork.Clock) ReporterOption {
	return func(p *Reporter) { p.clock = clock }
}

func WithProgressCadence(cadence time.Duration) ReporterOption {
	return func(p *Reporter) { p.cadence = cadence }
}

// WithProgressCeiling caps the estimate. Values outside 1..99 are ignored.
func WithProgressCeiling(ceiling int) ReporterOption {
	return func(p *Reporter) {
		if ceiling > 0 && ceiling < 100 {
			p.ceiling = ceiling
		}
	}
}

// WithProgressTimeBase sets how fast the estimate approaches its ceiling.
func WithProgressTimeBase(base time.Duration) ReporterOption {
	return func(p *Reporter) { p.timeBase = base }
}

// WithProgressListener is called, outside the reporter lock, each time the value changes.
// The controller may hold its own lock at that point, so fn must not call back into it.
func WithProgressListener(fn func(percent int)) ReporterOption {
	return func(p *Reporter) { p.onChange = fn }
}

// NewReporter returns a stopped reporter at zero.
func NewReporter(opts ...ReporterOption) *Reporter {
	p := &Reporter{
		clock:    clockwork.NewRealClock(),
		cadence:  defaultProgressCadence,
		ceiling:  defaultProgressCeiling,
		timeBase: defaultProgressTimeBase,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start resets the estimate to zero and begins ticking.
func (p *Reporter) Start() {
	p.mu.Lock()
	p.halt()
	p.value = 0
	p.started = p.clock.Now()
	p.epoch++
	epoch := p.epoch
	stop := make(chan struct{})
	p.stop = stop
	ticker := p.clock.NewTicker(p.cadence)
	p.mu.Unlock()

	p.notify(0)

	go p.loop(epoch, ticker, stop)
}

// Stop freezes the estimate at its current value.
func (p *Reporter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.halt()
}

// Complete stops ticking and snaps the value to 100.
func (p *Reporter) Complete() {
	p.set(100)
}

// Reset stops ticking and returns the value to zero.
func (p *Reporter) Reset() {
	p.set(0)
}

// Value returns the current estimate.
func (p *Reporter) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.value
}

// Running reports whether the reporter is ticking.
func (p *Reporter) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stop != nil
}

func (p *Reporter) set(value int) {
	p.mu.Lock()
	p.halt()
	changed := p.value != value
	p.value = value
	p.mu.Unlock()

	if changed {
		p.notify(value)
	}
}

// halt must be called with p.mu held.
func (p *Reporter) halt() {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}

	p.epoch++
}

func (p *Reporter) loop(epoch uint64, ticker clockwork.Ticker, stop chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			p.tick(epoch)
		}
	}
}

func (p *Reporter) tick(epoch uint64) {
	p.mu.Lock()

	if epoch != p.epoch {
		p.mu.Unlock()

		return
	}

	next := p.estimate(p.clock.Since(p.started))
	if next <= p.value {
		p.mu.Unlock()

		return
	}

	p.value = next
	p.mu.Unlock()

	p.notify(next)
}

func (p *Reporter) estimate(elapsed time.Duration) int {
	if elapsed <= 0 || p.timeBase <= 0 {
		return 0
	}

	ratio := 1 - math.Exp(-float64(elapsed)/float64(p.timeBase))

	value := int(math.Floor(float64(p.ceiling) * ratio))
	if value > p.ceiling {
		return p.ceiling
	}

	return value
}

func (p *Reporter) notify(value int) {
	if p.onChange != nil {
		p.onChange(value)
	}
}
