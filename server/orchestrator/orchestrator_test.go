package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conect2ai/mmcloud-agent-development/server/advisor"
	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

type delivered struct {
	rowID   int64
	message string
	source  string
}

// testHarness collects terminal results and counts generator attempts.
type testHarness struct {
	mu       sync.Mutex
	results  []delivered
	attempts atomic.Int64
	resultCh chan delivered
}

func newHarness() *testHarness {
	return &testHarness{resultCh: make(chan delivered, 16)}
}

func (h *testHarness) onResult(rowID int64, message, source string, meta map[string]any, snapshot map[string]any) {
	d := delivered{rowID: rowID, message: message, source: source}
	h.mu.Lock()
	h.results = append(h.results, d)
	h.mu.Unlock()
	h.resultCh <- d
}

func (h *testHarness) wait(t *testing.T) delivered {
	t.Helper()
	select {
	case d := <-h.resultCh:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for advisory result")
		return delivered{}
	}
}

func okBehavior(ctx context.Context, p *models.Processed) (models.PolicyState, error) {
	return models.PolicyState{Behavior: "Normal", Severity: models.SeverityLow, AdviceCode: models.AdviceMaintain}, nil
}

func noAlerts(ctx context.Context, lat, lon, radiusM float64) []models.Alert {
	return nil
}

func modelAdvise(message string) AdviseFunc {
	return func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
		return advisor.Result{Message: message, Source: advisor.SourceModel}
	}
}

func fastConfig() Config {
	return Config{
		MinInterval:   time.Hour,
		SafetyTimeout: 100 * time.Millisecond,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		BackoffJitter: time.Millisecond,
	}
}

func gpsTick(rowID int64) *models.Processed {
	lat, lon := -5.8, -35.2
	return &models.Processed{RowID: rowID, Speed: 50, Latitude: &lat, Longitude: &lon}
}

func job(rowID int64) *models.AdvisoryJob {
	return &models.AdvisoryJob{RowID: rowID, Policy: models.PolicyState{Behavior: "Normal"}}
}

func TestRunOnceAssessesBehaviorAndSafety(t *testing.T) {
	alert := models.Alert{Type: models.AlertAccident, DistanceM: 120, Direction: models.DirectionAhead, Confidence: 0.85}
	safety := func(ctx context.Context, lat, lon, radiusM float64) []models.Alert {
		return []models.Alert{alert}
	}
	o := New(fastConfig(), okBehavior, safety, modelAdvise("x"), nil, nil)

	out, err := o.RunOnce(context.Background(), gpsTick(1))
	require.NoError(t, err)

	assert.Equal(t, "Normal", out.Policy.Behavior)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, alert, out.Alerts[0])
	assert.Contains(t, out.Metrics, "m.agent.behavior.wall_ms")
	assert.Contains(t, out.Metrics, "m.agent.safety_gps.ok")
}

func TestRunOnceSkipsSafetyWithoutGPS(t *testing.T) {
	called := atomic.Bool{}
	safety := func(ctx context.Context, lat, lon, radiusM float64) []models.Alert {
		called.Store(true)
		return nil
	}
	o := New(fastConfig(), okBehavior, safety, modelAdvise("x"), nil, nil)

	out, err := o.RunOnce(context.Background(), &models.Processed{RowID: 1})
	require.NoError(t, err)
	assert.Empty(t, out.Alerts)
	assert.False(t, called.Load())
}

func TestRunOnceBoundsSlowSafetyLookup(t *testing.T) {
	safety := func(ctx context.Context, lat, lon, radiusM float64) []models.Alert {
		time.Sleep(2 * time.Second)
		return []models.Alert{{Type: models.AlertFine}}
	}
	cfg := fastConfig()
	cfg.SafetyTimeout = 30 * time.Millisecond
	o := New(cfg, okBehavior, safety, modelAdvise("x"), nil, nil)

	start := time.Now()
	out, err := o.RunOnce(context.Background(), gpsTick(1))
	require.NoError(t, err)

	assert.Empty(t, out.Alerts, "a slow lookup degrades to no alerts")
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnqueueRateGate(t *testing.T) {
	o := New(fastConfig(), okBehavior, noAlerts, modelAdvise("x"), nil, nil)

	assert.True(t, o.Enqueue(job(1), false))
	assert.False(t, o.Enqueue(job(2), false), "second enqueue inside the interval is dropped")
	assert.True(t, o.Enqueue(job(3), true), "force bypasses the gate")
	assert.Equal(t, 2, o.QueueSize())
}

func TestEnqueueQueueFullReturnsFalse(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	o := New(cfg, okBehavior, noAlerts, modelAdvise("x"), nil, nil)

	assert.True(t, o.Enqueue(job(1), true))
	assert.False(t, o.Enqueue(job(2), true))
	assert.Equal(t, 1, o.QueueSize())
}

func TestWorkerAcceptsModelResultImmediately(t *testing.T) {
	h := newHarness()
	advise := func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
		h.attempts.Add(1)
		return advisor.Result{Message: "Behavior: Normal. PRF zone: none. Ease off.", Source: advisor.SourceModel}
	}
	o := New(fastConfig(), okBehavior, noAlerts, advise, h.onResult, nil)
	o.Start()
	defer o.Stop()

	require.True(t, o.Enqueue(job(7), true))
	d := h.wait(t)

	assert.Equal(t, int64(7), d.rowID)
	assert.Equal(t, advisor.SourceModel, d.source)
	assert.Equal(t, int64(1), h.attempts.Load())
}

func TestWorkerRetriesUntilModelSuccess(t *testing.T) {
	h := newHarness()
	advise := func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
		n := h.attempts.Add(1)
		if n < 3 {
			return advisor.Result{Message: "draft", Source: advisor.SourceFallback}
		}
		return advisor.Result{Message: "model text", Source: advisor.SourceModel}
	}
	o := New(fastConfig(), okBehavior, noAlerts, advise, h.onResult, nil)
	o.Start()
	defer o.Stop()

	require.True(t, o.Enqueue(job(1), true))
	d := h.wait(t)

	assert.Equal(t, advisor.SourceModel, d.source)
	assert.Equal(t, "model text", d.message)
	assert.Equal(t, int64(3), h.attempts.Load())
}

func TestWorkerExhaustsAttemptsAndDeliversLastResult(t *testing.T) {
	h := newHarness()
	advise := func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
		h.attempts.Add(1)
		return advisor.Result{Message: "draft after timeout", Source: advisor.SourceTimeout}
	}
	o := New(fastConfig(), okBehavior, noAlerts, advise, h.onResult, nil)
	o.Start()
	defer o.Stop()

	require.True(t, o.Enqueue(job(2), true))
	d := h.wait(t)

	assert.Equal(t, advisor.SourceTimeout, d.source)
	assert.Equal(t, "draft after timeout", d.message)
	assert.Equal(t, int64(3), h.attempts.Load(), "gives up after the configured attempts")

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.results, 1, "exactly one callback per job")
}

func TestEmptyModelMessageIsNotTerminalSuccess(t *testing.T) {
	h := newHarness()
	advise := func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
		h.attempts.Add(1)
		return advisor.Result{Message: "   ", Source: advisor.SourceModel}
	}
	o := New(fastConfig(), okBehavior, noAlerts, advise, h.onResult, nil)
	o.Start()
	defer o.Stop()

	require.True(t, o.Enqueue(job(3), true))
	h.wait(t)

	assert.Equal(t, int64(3), h.attempts.Load())
}

func TestWorkerSurvivesGeneratorPanic(t *testing.T) {
	h := newHarness()
	advise := func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
		if h.attempts.Add(1) <= 3 {
			panic("generator exploded")
		}
		return advisor.Result{Message: "recovered", Source: advisor.SourceModel}
	}
	o := New(fastConfig(), okBehavior, noAlerts, advise, h.onResult, nil)
	o.Start()
	defer o.Stop()

	require.True(t, o.Enqueue(job(1), true))
	first := h.wait(t)
	assert.Equal(t, advisor.SourceError, first.source)

	require.True(t, o.Enqueue(job(2), true))
	second := h.wait(t)
	assert.Equal(t, advisor.SourceModel, second.source)
	assert.Equal(t, "recovered", second.message)
}

func TestWorkerSurvivesCallbackPanic(t *testing.T) {
	var calls atomic.Int64
	done := make(chan int64, 2)
	onResult := func(rowID int64, message, source string, meta map[string]any, snapshot map[string]any) {
		done <- rowID
		if calls.Add(1) == 1 {
			panic("callback exploded")
		}
	}
	o := New(fastConfig(), okBehavior, noAlerts, modelAdvise("msg"), onResult, nil)
	o.Start()
	defer o.Stop()

	require.True(t, o.Enqueue(job(1), true))
	assert.Equal(t, int64(1), <-done)

	require.True(t, o.Enqueue(job(2), true))
	select {
	case rowID := <-done:
		assert.Equal(t, int64(2), rowID)
	case <-time.After(5 * time.Second):
		t.Fatal("worker died after callback panic")
	}
}

func TestJobsProcessedInFIFOOrder(t *testing.T) {
	h := newHarness()
	o := New(fastConfig(), okBehavior, noAlerts, modelAdvise("msg"), h.onResult, nil)

	for i := int64(1); i <= 5; i++ {
		require.True(t, o.Enqueue(job(i), true))
	}
	o.Start()
	defer o.Stop()

	for i := int64(1); i <= 5; i++ {
		assert.Equal(t, i, h.wait(t).rowID)
	}
}

func TestStartIsIdempotentAndStopWaits(t *testing.T) {
	h := newHarness()
	o := New(fastConfig(), okBehavior, noAlerts, modelAdvise("msg"), h.onResult, nil)

	o.Start()
	o.Start()

	require.True(t, o.Enqueue(job(1), true))
	h.wait(t)

	o.Stop()
	o.Stop()

	// A restart drains jobs queued while stopped.
	require.True(t, o.Enqueue(job(2), true))
	o.Start()
	defer o.Stop()
	assert.Equal(t, int64(2), h.wait(t).rowID)
}
