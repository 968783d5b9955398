package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/lib/recipe"
)

var errProbeFailed = errors.New("probe failed")

// scriptProbe replays a fixed sequence of probe results; the last result
// repeats forever.
type scriptProbe struct {
	mu    sync.Mutex
	steps []error
}

func (p *scriptProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	return err
}

func fastHealthcheck(startPeriod time.Duration, retries int) *recipe.Healthcheck {
	return &recipe.Healthcheck{
		Command:     []string{"true"},
		Interval:    recipe.Duration(20 * time.Millisecond),
		Timeout:     recipe.Duration(time.Second),
		Retries:     retries,
		StartPeriod: recipe.Duration(startPeriod),
	}
}

// transitionRecorder captures state changes for later assertions.
type transitionRecorder struct {
	mu    sync.Mutex
	moves []State
}

func (r *transitionRecorder) record(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, to)
}

func (r *transitionRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.moves...)
}

func TestProcessLifecycle(t *testing.T) {
	s, err := Start(context.Background(), Config{
		Command: []string{"/bin/sh", "-c", "exit 0"},
	})
	require.NoError(t, err)

	<-s.Done()
	require.Equal(t, StateTerminated, s.State())

	code, exited := s.ExitCode()
	require.True(t, exited)
	require.Zero(t, code)
}

func TestExitCodePropagated(t *testing.T) {
	s, err := Start(context.Background(), Config{
		Command: []string{"/bin/sh", "-c", "exit 7"},
	})
	require.NoError(t, err)

	<-s.Done()
	code, exited := s.ExitCode()
	require.True(t, exited)
	require.Equal(t, 7, code)
}

func TestStartUnknownCommand(t *testing.T) {
	_, err := Start(context.Background(), Config{
		Command: []string{"/no/such/binary"},
	})
	require.Error(t, err)
}

func TestNoHealthcheckStaysReady(t *testing.T) {
	s, err := Start(context.Background(), Config{
		Command: []string{"/bin/sleep", "30"},
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateReady, s.State())
}

func TestProbeSuccessMovesToHealthy(t *testing.T) {
	script := &scriptProbe{steps: []error{nil}}

	s, err := Start(context.Background(), Config{
		Command:     []string{"/bin/sleep", "30"},
		Healthcheck: fastHealthcheck(0, 3),
		Probe:       script.probe,
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitState(ctx, StateHealthy))
}

func TestConsecutiveFailuresMarkUnhealthy(t *testing.T) {
	rec := &transitionRecorder{}
	// Healthy once, then two consecutive failures trip retries=2, then a
	// single success recovers.
	script := &scriptProbe{steps: []error{nil, errProbeFailed, errProbeFailed, nil}}

	s, err := Start(context.Background(), Config{
		Command:      []string{"/bin/sleep", "30"},
		Healthcheck:  fastHealthcheck(0, 2),
		Probe:        script.probe,
		OnTransition: rec.record,
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		states := rec.states()
		return len(states) >= 4 && states[len(states)-1] == StateHealthy
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []State{StateReady, StateHealthy, StateUnhealthy, StateHealthy}, rec.states()[:4])
}

func TestSingleFailureBelowRetriesStaysHealthy(t *testing.T) {
	script := &scriptProbe{steps: []error{nil, errProbeFailed, nil}}

	s, err := Start(context.Background(), Config{
		Command:     []string{"/bin/sleep", "30"},
		Healthcheck: fastHealthcheck(0, 3),
		Probe:       script.probe,
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitState(ctx, StateHealthy))

	// One failure is below the retry threshold; the state never drops.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateHealthy, s.State())
}

func TestStartPeriodSwallowsEarlyFailures(t *testing.T) {
	script := &scriptProbe{steps: []error{errProbeFailed}}

	s, err := Start(context.Background(), Config{
		Command:     []string{"/bin/sleep", "30"},
		Healthcheck: fastHealthcheck(time.Hour, 2),
		Probe:       script.probe,
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	// Failures within the start period do not count against retries.
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateReady, s.State())
}

func TestStartPeriodExpiryMarksUnhealthyWithoutRestart(t *testing.T) {
	script := &scriptProbe{steps: []error{errProbeFailed}}

	s, err := Start(context.Background(), Config{
		Command:     []string{"/bin/sleep", "30"},
		Healthcheck: fastHealthcheck(50*time.Millisecond, 2),
		Probe:       script.probe,
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitState(ctx, StateUnhealthy))

	// The process keeps running; unhealthy never triggers a restart or
	// termination here.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateUnhealthy, s.State())
}

func TestLateRecoveryAfterSlowStart(t *testing.T) {
	script := &scriptProbe{steps: []error{errProbeFailed, errProbeFailed, nil}}

	s, err := Start(context.Background(), Config{
		Command:     []string{"/bin/sleep", "30"},
		Healthcheck: fastHealthcheck(time.Hour, 2),
		Probe:       script.probe,
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitState(ctx, StateHealthy))
}

func TestWaitStateReturnsErrTerminated(t *testing.T) {
	s, err := Start(context.Background(), Config{
		Command: []string{"/bin/sh", "-c", "exit 0"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = s.WaitState(ctx, StateHealthy)
	require.ErrorIs(t, err, ErrTerminated)
}

func TestStopTerminatesProcess(t *testing.T) {
	s, err := Start(context.Background(), Config{
		Command: []string{"/bin/sleep", "30"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.Equal(t, StateTerminated, s.State())

	// Stop again is a no-op.
	require.NoError(t, s.Stop(ctx))
}

func TestStopEscalatesToKill(t *testing.T) {
	// The process ignores SIGTERM, so Stop must escalate when its context
	// expires.
	s, err := Start(context.Background(), Config{
		Command: []string{"/bin/sh", "-c", `trap "" TERM; sleep 30 & wait`},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.Equal(t, StateTerminated, s.State())
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	hc := &recipe.Healthcheck{
		Command:  []string{"true"},
		Interval: recipe.Duration(20 * time.Millisecond),
		Timeout:  recipe.Duration(10 * time.Millisecond),
		Retries:  1,
	}

	s, err := Start(context.Background(), Config{
		Command:     []string{"/bin/sleep", "30"},
		Healthcheck: hc,
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitState(ctx, StateUnhealthy))
}
