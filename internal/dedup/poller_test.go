package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/filehub/internal/api"
	"github.com/rescale/filehub/internal/cache"
	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/models"
)

type response struct {
	report *models.DedupReport
	err    error
}

// scriptedServer replays responses in order, repeating the last one.
type scriptedServer struct {
	mu        sync.Mutex
	responses []response
	calls     int
	hold      chan struct{} // when set, each fetch waits on it
	started   chan struct{}
}

func (s *scriptedServer) fetch(ctx context.Context, _ models.DedupKey) (*models.DedupReport, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	r := s.responses[i]
	hold, started := s.hold, s.started
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if hold != nil {
		<-hold
	}
	return r.report, r.err
}

func (s *scriptedServer) script(rs ...response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, rs...)
}

func (s *scriptedServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pending() response {
	return response{report: &models.DedupReport{ID: "job", Status: models.DedupStatusPending}}
}

func completed(groups ...models.DuplicateGroup) response {
	return response{report: &models.DedupReport{ID: "job", Status: models.DedupStatusCompleted, IsValid: true, Duplicates: groups}}
}

func failed() response {
	return response{report: &models.DedupReport{ID: "job", Status: models.DedupStatusFailed}}
}

func group(original string, dups ...string) models.DuplicateGroup {
	g := models.DuplicateGroup{Original: models.FileRef{ID: original}}
	for _, d := range dups {
		g.Duplicates = append(g.Duplicates, models.FileRef{ID: d, Size: 10})
	}
	return g
}

func newPoller(t *testing.T, srv *scriptedServer, bus *events.EventBus) (*Poller, *ReportCache) {
	t.Helper()
	reports := cache.New(srv.fetch, cache.Options{Name: "dedup"})
	return NewPoller(reports, Options{Interval: 10 * time.Millisecond, Bus: bus}), reports
}

func TestPoller_StartsIdleWithoutRequests(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(pending())
	p, _ := newPoller(t, srv, nil)

	assert.Equal(t, StateIdle, p.State())
	assert.False(t, p.Tick(context.Background()), "idle poller must not fetch")
	assert.Equal(t, 0, srv.Calls())
}

func TestPoller_StopsAfterCompleted(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(pending(), pending(), pending(), completed(group("a", "b")))
	p, _ := newPoller(t, srv, nil)
	ctx := context.Background()

	snap := p.Read(ctx)
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, models.DedupStatusPending, snap.Report.Status)

	assert.True(t, p.Tick(ctx))
	assert.True(t, p.Tick(ctx))
	assert.False(t, p.Tick(ctx), "fourth response is completed")
	require.Equal(t, 4, srv.Calls())

	snap = p.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, []string{"b"}, snap.Report.DuplicateIDs())
	assert.Equal(t, 4, snap.Polls)

	for i := 0; i < 5; i++ {
		assert.False(t, p.Tick(ctx))
	}
	assert.Equal(t, 4, srv.Calls(), "no requests after a terminal status")
}

func TestPoller_FailedIsTerminalData(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(pending(), failed())
	p, _ := newPoller(t, srv, nil)
	ctx := context.Background()

	p.Read(ctx)
	assert.False(t, p.Tick(ctx))

	snap := p.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.True(t, snap.Report.Failed())
	assert.NoError(t, snap.LastError)
	assert.Nil(t, snap.Report.Groups())
}

func TestPoller_RearmAfterCompleted(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(completed(group("a", "b")), pending(), completed())
	bus := events.NewEventBus(10)
	defer bus.Close()
	stateCh := bus.Subscribe(events.EventDedupStateChanged)

	p, reports := newPoller(t, srv, bus)
	ctx := context.Background()

	first := p.Read(ctx)
	require.Equal(t, StateCompleted, first.State)

	epoch := p.Rearm()
	assert.Equal(t, first.Epoch+1, epoch)

	snap := p.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.Nil(t, snap.Report, "previous terminal report is no longer authoritative")
	assert.Equal(t, first.Report, snap.Previous)

	e, ok := reports.Peek(models.DedupKey{})
	require.True(t, ok)
	assert.True(t, e.Stale, "cached report must be invalidated")

	assert.True(t, p.Tick(ctx))
	assert.False(t, p.Tick(ctx))
	assert.Equal(t, StateCompleted, p.State())
	assert.Empty(t, p.Snapshot().Report.Groups())

	var transitions []string
	for len(stateCh) > 0 {
		ev := (<-stateCh).(*events.DedupStateEvent)
		transitions = append(transitions, ev.OldState+">"+ev.NewState)
	}
	assert.Equal(t, []string{"idle>polling", "polling>completed", "completed>polling", "polling>completed"}, transitions)
}

func TestPoller_RearmWhilePollingStartsNewEpoch(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(pending())
	p, _ := newPoller(t, srv, nil)

	e1 := p.Arm()
	assert.Equal(t, e1, p.Arm(), "Arm is a no-op while polling")
	e2 := p.Rearm()
	assert.Equal(t, e1+1, e2)
	assert.Equal(t, StatePolling, p.State())
}

func TestPoller_DiscardsResultFromSupersededEpoch(t *testing.T) {
	srv := &scriptedServer{hold: make(chan struct{}), started: make(chan struct{}, 4)}
	srv.script(completed(group("a", "b")), pending())
	p, _ := newPoller(t, srv, nil)
	ctx := context.Background()

	p.Arm()
	done := make(chan bool, 1)
	go func() { done <- p.Tick(ctx) }()
	<-srv.started

	// A delete lands while the old report is still in flight
	p.Rearm()
	close(srv.hold)

	assert.True(t, <-done, "still polling the new epoch")
	snap := p.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.Nil(t, snap.Report)
	assert.Equal(t, 0, snap.Polls)

	assert.True(t, p.Tick(ctx))
	assert.Equal(t, models.DedupStatusPending, p.Snapshot().Report.Status)
}

func TestPoller_TransportErrorsKeepPolling(t *testing.T) {
	srv := &scriptedServer{}
	boom := &api.TransportError{Op: "get dedup report", StatusCode: 502}
	srv.script(response{err: boom}, response{err: boom}, response{err: errors.New("dial tcp: refused")}, completed())
	p, _ := newPoller(t, srv, nil)
	ctx := context.Background()

	snap := p.Read(ctx)
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, 1, snap.ConsecutiveErrors)
	assert.ErrorIs(t, snap.LastError, boom)

	assert.True(t, p.Tick(ctx))
	assert.True(t, p.Tick(ctx))
	assert.Equal(t, 3, p.Snapshot().ConsecutiveErrors)

	assert.False(t, p.Tick(ctx))
	snap = p.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	assert.NoError(t, snap.LastError)
}

func TestPoller_NoReportYetCountsAsPending(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(response{err: api.ErrNoDedupReport}, completed())
	p, _ := newPoller(t, srv, nil)
	ctx := context.Background()

	snap := p.Read(ctx)
	assert.Equal(t, StatePolling, snap.State)
	assert.Nil(t, snap.Report)
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	assert.NoError(t, snap.LastError)

	assert.False(t, p.Tick(ctx))
	assert.Equal(t, StateCompleted, p.State())
}

func TestPoller_ExposesGroupViolations(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(completed(group("a", "b", "a"), group("c", "b")))
	p, _ := newPoller(t, srv, nil)

	snap := p.Read(context.Background())
	require.Equal(t, StateCompleted, snap.State)
	require.Len(t, snap.Violations, 2)
	assert.Equal(t, "a", snap.Violations[0].FileID)
	assert.Equal(t, "b", snap.Violations[1].FileID)

	// Data is reported as received
	assert.Len(t, snap.Report.Duplicates[0].Duplicates, 2)
}

func TestPoller_RunAndWait(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(pending(), pending(), completed(group("x", "y")))
	p, _ := newPoller(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	p.Arm()
	snap, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 3, srv.Calls())

	// Timer is disarmed: no further fetches while terminal
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, srv.Calls())

	// Re-arming wakes the loop immediately
	p.Rearm()
	snap, err = p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 4, srv.Calls())

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestPoller_WaitHonoursContext(t *testing.T) {
	srv := &scriptedServer{}
	srv.script(pending())
	p, _ := newPoller(t, srv, nil)
	p.Arm()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePolling, snap.State)
}
