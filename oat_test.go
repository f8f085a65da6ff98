package oat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starry-os/infra/os-acceptor/types"
)

// trackedRunFn counts runSuite invocations and signals on each one.
type trackedRunFn struct {
	execCount atomic.Int32
	execCh    chan struct{}
	err       error
	record    *types.RunRecord
}

func newTrackedRunFn() *trackedRunFn {
	return &trackedRunFn{
		execCh: make(chan struct{}, 100), // Buffer to prevent blocking
	}
}

func (f *trackedRunFn) run(o *oat) func() error {
	return func() error {
		f.execCount.Add(1)
		if f.record != nil {
			o.record = f.record
		}
		select {
		case f.execCh <- struct{}{}:
		default:
		}
		return f.err
	}
}

// waitForExecutions waits for a specific number of executions with timeout
func (f *trackedRunFn) waitForExecutions(ctx context.Context, count int32) bool {
	timeoutCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if f.execCount.Load() >= count {
			return true
		}

		select {
		case <-f.execCh:
			continue
		case <-ticker.C:
			continue
		case <-timeoutCtx.Done():
			return false
		}
	}
}

// setupTest creates a test service with a tracked run function
func setupTest(t *testing.T) (*trackedRunFn, *oat, context.Context, context.CancelFunc) {
	t.Helper()

	// Create a clean context for each test with a generous timeout to prevent hangs
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	tracked := newTrackedRunFn()
	tracked.record = &types.RunRecord{Status: types.RunStatusPass}

	service := &oat{
		ctx: ctx,
		config: &Config{
			Log:         log.New(),
			RunInterval: 25 * time.Millisecond, // Short interval for testing
		},
		done: make(chan struct{}),
		// Add a no-op shutdown callback for tests
		shutdownCallback: func(error) {},
	}
	service.runFn = tracked.run(service)

	return tracked, service, ctx, cancel
}

// teardownTest ensures the service is fully stopped before test completion
func teardownTest(t *testing.T, service *oat, cancel context.CancelFunc) {
	t.Helper()

	// Cancel context first to stop background activities
	cancel()

	// Then properly stop the service
	if !service.Stopped() {
		err := service.Stop(context.Background())
		assert.NoError(t, err, "Service should stop cleanly during teardown")
	}

	// Ensure all goroutines have terminated
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := service.WaitForShutdown(ctx)
	if err != nil {
		t.Logf("Warning: Service did not shut down cleanly in teardown: %v", err)
	}
}

// TestOAT_Start_RunsSuiteImmediately tests that OAT runs the suite immediately when started
func TestOAT_Start_RunsSuiteImmediately(t *testing.T) {
	tracked, service, ctx, cancel := setupTest(t)
	defer teardownTest(t, service, cancel)

	err := service.Start(ctx)
	require.NoError(t, err)

	execCompleted := tracked.waitForExecutions(ctx, 1)
	require.True(t, execCompleted, "First execution should have completed")
	assert.Equal(t, int32(1), tracked.execCount.Load())
}

// TestOAT_Start_RunsSuitePeriodically tests that OAT runs the suite periodically
func TestOAT_Start_RunsSuitePeriodically(t *testing.T) {
	tracked, service, ctx, cancel := setupTest(t)
	defer teardownTest(t, service, cancel)

	err := service.Start(ctx)
	require.NoError(t, err)

	// Wait for multiple executions (at least 3)
	execCompleted := tracked.waitForExecutions(ctx, 3)
	require.True(t, execCompleted, "Multiple executions should have completed")

	callCount := tracked.execCount.Load()
	assert.GreaterOrEqual(t, callCount, int32(3), "Runner should be called at least 3 times")
}

// TestOAT_Context_Cancellation tests that the service properly handles context cancellation
func TestOAT_Context_Cancellation(t *testing.T) {
	tracked, service, ctx, cancel := setupTest(t)
	defer teardownTest(t, service, cancel)

	err := service.Start(ctx)
	require.NoError(t, err)

	execCompleted := tracked.waitForExecutions(ctx, 1)
	require.True(t, execCompleted, "First execution should have completed")

	execCountBeforeCancel := tracked.execCount.Load()

	cancel()

	// Wait a moment for the cancellation to propagate
	time.Sleep(50 * time.Millisecond)

	assert.True(t, service.Stopped(), "Service should be stopped after context cancellation")

	// Wait more time to ensure no more runs happen after stopping
	time.Sleep(3 * service.config.RunInterval)

	assert.Equal(t, execCountBeforeCancel, tracked.execCount.Load(),
		"No additional suite runs should occur after context cancellation")
}

// TestOAT_RunOnceMode tests that OAT runs once and triggers shutdown in run-once mode
func TestOAT_RunOnceMode(t *testing.T) {
	tracked, service, ctx, cancel := setupTest(t)
	defer cancel()

	service.config.RunOnce = true

	err := service.Start(ctx)
	require.NoError(t, err)

	execCompleted := tracked.waitForExecutions(ctx, 1)
	require.True(t, execCompleted, "Execution should have completed")

	// Verify the suite ran exactly once and doesn't continue running
	time.Sleep(3 * service.config.RunInterval)
	assert.Equal(t, int32(1), tracked.execCount.Load())
}

// TestOAT_RunOnceMode_Failure tests that a failed run surfaces a SuiteFailureError
func TestOAT_RunOnceMode_Failure(t *testing.T) {
	tracked, service, ctx, cancel := setupTest(t)
	defer cancel()

	service.config.RunOnce = true
	tracked.record = &types.RunRecord{
		SuiteID: "ci",
		RunID:   "run-1",
		Status:  types.RunStatusFail,
	}

	err := service.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsSuiteFailureError(err), "failed run should surface as a suite failure")
}

// TestOAT_RunOnceMode_RuntimeError tests that an infra error surfaces a RuntimeError
func TestOAT_RunOnceMode_RuntimeError(t *testing.T) {
	tracked, service, ctx, cancel := setupTest(t)
	defer cancel()

	service.config.RunOnce = true
	tracked.err = errors.New("template missing")

	err := service.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err), "infrastructure failures should surface as runtime errors")
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, "v0", func(error) {})
	require.Error(t, err)
}
