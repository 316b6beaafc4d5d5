// Package dedup tracks the server's duplicate-detection job.
//
// Poller is a state machine (idle, polling, completed, failed) driven by
// explicit Tick calls; Run drives it from a timer at the poll interval.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rescale/filehub/internal/api"
	"github.com/rescale/filehub/internal/cache"
	"github.com/rescale/filehub/internal/constants"
	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/logging"
	"github.com/rescale/filehub/internal/models"
)

// ReportCache is the resource cache holding the latest dedup report.
type ReportCache = cache.Cache[models.DedupKey, *models.DedupReport]

// State of the poller.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the poller has stopped fetching.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is the poller's view of the duplicate-detection job.
type Snapshot struct {
	State State
	Epoch uint64 // incremented on every arm; results from older epochs are discarded

	// Report is the most recent report fetched in this epoch, pending or
	// terminal. Nil until the first fetch of the epoch returns one.
	Report *models.DedupReport

	// Previous is the last terminal report of an earlier epoch. It is no
	// longer authoritative.
	Previous *models.DedupReport

	Violations        []models.GroupViolation
	LastError         error
	ConsecutiveErrors int
	Polls             int // fetches in this epoch
	LastPoll          time.Time
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration // 0 uses constants.DedupPollInterval
	Bus      *events.EventBus
	Logger   *logging.Logger
}

// Poller follows the latest dedup report until it reaches a terminal status.
// Safe for concurrent use.
type Poller struct {
	reports  *ReportCache
	interval time.Duration
	eventBus *events.EventBus
	logger   *logging.Logger
	now      func() time.Time
	wake     chan struct{}

	mu       sync.Mutex
	snap     Snapshot
	terminal chan struct{} // closed when the current epoch reaches a terminal state
}

// NewPoller creates an idle poller reading through reports.
func NewPoller(reports *ReportCache, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = constants.DedupPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Poller{
		reports:  reports,
		interval: interval,
		eventBus: opts.Bus,
		logger:   logger.Component("dedup-poller"),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		snap:     Snapshot{State: StateIdle},
		terminal: make(chan struct{}),
	}
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.State
}

// Arm moves an idle or terminal poller to polling. A poller already polling
// is left alone. Returns the epoch now being polled.
func (p *Poller) Arm() uint64 {
	p.mu.Lock()
	if p.snap.State == StatePolling {
		epoch := p.snap.Epoch
		p.mu.Unlock()
		return epoch
	}
	return p.armLocked()
}

// Rearm invalidates the cached report and forces a new polling epoch from
// any state, including polling. Called after every mutation that can change
// the duplicate set.
func (p *Poller) Rearm() uint64 {
	p.reports.Invalidate(models.DedupKey{})
	p.mu.Lock()
	return p.armLocked()
}

// armLocked starts a new epoch and unlocks p.mu.
func (p *Poller) armLocked() uint64 {
	old := p.snap
	prev := old.Previous
	if old.State.Terminal() {
		prev = old.Report
	}

	p.snap = Snapshot{
		State:    StatePolling,
		Epoch:    old.Epoch + 1,
		Previous: prev,
	}
	if old.State.Terminal() {
		p.terminal = make(chan struct{})
	}
	epoch := p.snap.Epoch
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	p.logger.Debug().Uint64("epoch", epoch).Str("from", string(old.State)).Msg("Poller armed")
	p.eventBus.Publish(events.NewDedupStateEvent(string(old.State), string(StatePolling), epoch, nil))
	return epoch
}

// Tick performs one poll if the poller is polling and reports whether it is
// still polling afterwards. It issues no request in any other state.
func (p *Poller) Tick(ctx context.Context) bool {
	p.mu.Lock()
	if p.snap.State != StatePolling {
		p.mu.Unlock()
		return false
	}
	epoch := p.snap.Epoch
	p.mu.Unlock()

	report, err := p.reports.Refresh(ctx, models.DedupKey{})
	return p.observe(ctx, epoch, report, err)
}

// observe applies one fetch result to the state machine.
func (p *Poller) observe(ctx context.Context, epoch uint64, report *models.DedupReport, err error) bool {
	p.mu.Lock()

	if p.snap.Epoch != epoch {
		polling := p.snap.State == StatePolling
		p.mu.Unlock()
		p.logger.Debug().Uint64("epoch", epoch).Msg("Discarding dedup report from superseded epoch")
		return polling
	}

	if err != nil && ctx.Err() != nil {
		p.mu.Unlock()
		return true
	}

	p.snap.Polls++
	p.snap.LastPoll = p.now()

	switch {
	case errors.Is(err, api.ErrNoDedupReport):
		// No job recorded yet; one is expected to start
		p.snap.LastError = nil
		p.snap.ConsecutiveErrors = 0
		p.mu.Unlock()
		return true

	case err != nil:
		p.snap.LastError = err
		p.snap.ConsecutiveErrors++
		n := p.snap.ConsecutiveErrors
		p.mu.Unlock()

		if n == 1 || n%constants.PollErrorWarnEvery == 0 {
			p.logger.Warn().Err(err).Int("consecutive_errors", n).Msg("Dedup report fetch failed, will retry")
		}
		return true
	}

	p.snap.LastError = nil
	p.snap.ConsecutiveErrors = 0
	p.snap.Report = report

	var next State
	switch {
	case report.Completed():
		next = StateCompleted
		p.snap.Violations = report.Validate()
	case report.Failed():
		next = StateFailed
	default:
		p.mu.Unlock()
		return true
	}

	p.snap.State = next
	violations := p.snap.Violations
	close(p.terminal)
	p.mu.Unlock()

	for _, v := range violations {
		p.logger.Warn().Str("report_id", report.ID).Int("group", v.Group).Str("file_id", v.FileID).Msg(v.Reason)
	}
	p.logger.Info().
		Str("status", string(report.Status)).
		Str("report_id", report.ID).
		Int("groups", len(report.Groups())).
		Msg("Dedup job finished")
	p.eventBus.Publish(events.NewDedupStateEvent(string(StatePolling), string(next), epoch, report))
	return false
}

// Read returns the current snapshot. On first use it arms the poller and
// performs the initial fetch.
func (p *Poller) Read(ctx context.Context) Snapshot {
	p.mu.Lock()
	idle := p.snap.State == StateIdle
	if idle {
		p.armLocked()
	} else {
		p.mu.Unlock()
	}
	if idle {
		p.Tick(ctx)
	}
	return p.Snapshot()
}

// Run drives the poller until ctx is done: one fetch per interval while
// polling, and an immediate fetch whenever the poller is armed. While
// terminal or idle the timer is disarmed.
func (p *Poller) Run(ctx context.Context) error {
	var timer *time.Timer
	var tick <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	p.logger.Debug().Str("interval", p.interval.String()).Msg("Poll loop started")

	for {
		if p.Tick(ctx) {
			if timer == nil {
				timer = time.NewTimer(p.interval)
			} else {
				timer.Reset(p.interval)
			}
			tick = timer.C
		} else {
			tick = nil
		}

		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("Poll loop cancelled by context")
			return ctx.Err()
		case <-p.wake:
		case <-tick:
		}
	}
}

// Wait blocks until the current epoch reaches a terminal state and returns
// that snapshot. Something must drive the poller (Run or Tick) meanwhile.
func (p *Poller) Wait(ctx context.Context) (Snapshot, error) {
	for {
		p.mu.Lock()
		if p.snap.State.Terminal() {
			s := p.snap
			p.mu.Unlock()
			return s, nil
		}
		done := p.terminal
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return p.Snapshot(), ctx.Err()
		case <-done:
		}
	}
}
