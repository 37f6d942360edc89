package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conect2ai/mmcloud-agent-development/server/advisor"
	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

// BehaviorFunc is the deterministic behavior assessment for one tick.
type BehaviorFunc func(ctx context.Context, p *models.Processed) (models.PolicyState, error)

// SafetyFunc looks up hazards near a position. It must be cheap enough to
// bound with SafetyTimeout.
type SafetyFunc func(ctx context.Context, lat, lon, radiusM float64) []models.Alert

// AdviseFunc generates the advisory text for a job. It reports failures via
// the result's Source, never by panicking.
type AdviseFunc func(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result

// ResultFunc receives the terminal outcome of one advisory job, exactly
// once. Panics inside the callback are swallowed and logged.
type ResultFunc func(rowID int64, message, source string, meta map[string]any, snapshot map[string]any)

// Config tunes the orchestrator's rate gate and retry behavior.
type Config struct {
	MinInterval   time.Duration // rate gate between enqueues
	SafetyTimeout time.Duration // budget for the per-tick safety lookup
	SafetyRadiusM float64
	MaxAttempts   int
	BackoffBase   time.Duration // sleep is BackoffBase×attempt + U(0, BackoffJitter)
	BackoffJitter time.Duration
	QueueSize     int
}

func (c *Config) applyDefaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 12 * time.Second
	}
	if c.SafetyTimeout <= 0 {
		c.SafetyTimeout = 250 * time.Millisecond
	}
	if c.SafetyRadiusM <= 0 {
		c.SafetyRadiusM = 500
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffJitter <= 0 {
		c.BackoffJitter = 250 * time.Millisecond
	}
}

// Orchestrator runs the synchronous per-tick assessment and owns the
// decoupled advisory pipeline: a rate-gated FIFO queue drained by a single
// background worker with bounded retries. The tick loop is never blocked by
// advice generation.
type Orchestrator struct {
	cfg      Config
	behavior BehaviorFunc
	safety   SafetyFunc
	advise   AdviseFunc
	onResult ResultFunc
	queue    *advisoryQueue
	logger   *zap.Logger

	mu          sync.Mutex
	lastEnqueue time.Time
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New wires an orchestrator from its collaborators. onResult may be nil.
func New(cfg Config, behavior BehaviorFunc, safety SafetyFunc, advise AdviseFunc, onResult ResultFunc, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		behavior: behavior,
		safety:   safety,
		advise:   advise,
		onResult: onResult,
		queue:    newAdvisoryQueue(cfg.QueueSize),
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunOnce performs the deterministic tick assessment: behavior policy plus
// the time-bounded safety lookup. It never calls the advice generator.
func (o *Orchestrator) RunOnce(ctx context.Context, p *models.Processed) (*models.OrchestratorOutput, error) {
	rec := NewRowMetrics()

	stop := rec.Start("agent.behavior")
	pol, err := o.behavior(ctx, p)
	stop(err == nil)
	if err != nil {
		return nil, fmt.Errorf("behavior assessment: %w", err)
	}

	stop = rec.Start("agent.safety_gps")
	alerts := o.safetyLookup(ctx, p)
	stop(true)

	return &models.OrchestratorOutput{
		Policy:  pol,
		Alerts:  alerts,
		Metrics: rec.Flat(),
	}, nil
}

// safetyLookup bounds the hazard query with SafetyTimeout and degrades to no
// alerts on timeout or missing GPS.
func (o *Orchestrator) safetyLookup(ctx context.Context, p *models.Processed) []models.Alert {
	if !p.HasGPS() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SafetyTimeout)
	defer cancel()

	resCh := make(chan []models.Alert, 1)
	go func() {
		resCh <- o.safety(ctx, *p.Latitude, *p.Longitude, o.cfg.SafetyRadiusM)
	}()

	select {
	case alerts := <-resCh:
		return alerts
	case <-ctx.Done():
		o.logger.Warn("safety lookup timed out", zap.Int64("row_id", p.RowID))
		return nil
	}
}

// Enqueue appends an advisory job unless the rate gate rejects it. The gate
// is a single timestamp: when less than MinInterval has elapsed since the
// last accepted enqueue and force is false, the job is dropped, not
// buffered. The timestamp updates at enqueue time, so enqueue throughput is
// capped regardless of worker speed. Returns whether the job was queued.
func (o *Orchestrator) Enqueue(job *models.AdvisoryJob, force bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	if !force && !o.lastEnqueue.IsZero() && now.Sub(o.lastEnqueue) < o.cfg.MinInterval {
		o.logger.Debug("advisory job dropped by rate gate", zap.Int64("row_id", job.RowID))
		return false
	}
	if !o.queue.push(job) {
		o.logger.Warn("advisory queue full, job dropped", zap.Int64("row_id", job.RowID))
		return false
	}
	o.lastEnqueue = now
	return true
}

// QueueSize reports the number of buffered advisory jobs.
func (o *Orchestrator) QueueSize() int { return o.queue.size() }

// Start launches the background worker. It is idempotent: a second call
// while the worker runs is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	go o.workerLoop(ctx)
}

// Stop cancels the worker and waits for it to exit. Buffered jobs stay in
// the queue; an in-flight generation call is abandoned, not rolled back.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, done := o.cancel, o.done
	o.running = false
	o.mu.Unlock()

	cancel()
	<-done
}

// workerLoop is the single consumer: strictly FIFO, at most one generation
// call in flight system-wide.
func (o *Orchestrator) workerLoop(ctx context.Context) {
	defer close(o.done)
	for {
		job, ok := o.queue.pull(ctx)
		if !ok {
			return
		}
		res := o.processJob(ctx, job)
		o.deliver(job, res)
		o.logger.Info("advisory job finished",
			zap.Int64("row_id", job.RowID),
			zap.String("source", res.Source),
			zap.Int("message_len", len(res.Message)))
	}
}

// processJob calls the advice generator up to MaxAttempts times. Only a
// model-sourced, non-empty message is terminal success; any other outcome is
// retried with jittered linear backoff, and the last outcome becomes the
// final result. A job always produces some result.
func (o *Orchestrator) processJob(ctx context.Context, job *models.AdvisoryJob) advisor.Result {
	var last advisor.Result
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		last = o.safeAdvise(ctx, job)
		if last.Source == advisor.SourceModel && strings.TrimSpace(last.Message) != "" {
			return last
		}
		if attempt < o.cfg.MaxAttempts {
			o.sleep(ctx, o.backoff(attempt))
		}
	}
	return last
}

// safeAdvise shields the worker from generator panics, mapping them to an
// error-sourced result.
func (o *Orchestrator) safeAdvise(ctx context.Context, job *models.AdvisoryJob) (res advisor.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("advice generator panicked", zap.Any("panic", r))
			res = advisor.Result{Source: advisor.SourceError, Meta: map[string]any{"panic": fmt.Sprint(r)}}
		}
	}()
	return o.advise(ctx, job.Policy, job.Alerts)
}

// deliver invokes the result callback exactly once per job, isolating
// callback failures from the worker loop.
func (o *Orchestrator) deliver(job *models.AdvisoryJob, res advisor.Result) {
	if o.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("advisory result callback panicked",
				zap.Int64("row_id", job.RowID),
				zap.Any("panic", r))
		}
	}()
	o.onResult(job.RowID, res.Message, res.Source, res.Meta, job.Snapshot)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	o.rngMu.Lock()
	jitter := time.Duration(o.rng.Int63n(int64(o.cfg.BackoffJitter)))
	o.rngMu.Unlock()
	return time.Duration(attempt)*o.cfg.BackoffBase + jitter
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
