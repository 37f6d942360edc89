package orchestrator

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conect2ai/mmcloud-agent-development/server/cache"
	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

// LatestFunc returns the most recent processed tick, or nil before the
// first one.
type LatestFunc func() *models.Processed

// SchedulerConfig tunes the safety polling loop.
type SchedulerConfig struct {
	Interval     time.Duration // normal polling cadence
	HotInterval  time.Duration // cadence while hazards are present
	AlertBackoff time.Duration // minimum gap between raised advisories
	Jitter       time.Duration // +/- applied to every sleep
	NearRadiusM  float64       // lookup radius below the speed threshold
	FarRadiusM   float64       // lookup radius at speed
	SpeedSplit   float64       // km/h threshold between the two radii
	SeenTTL      time.Duration // how long a row key stays deduplicated
}

func (c *SchedulerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 8 * time.Second
	}
	if c.HotInterval <= 0 {
		c.HotInterval = 3 * time.Second
	}
	if c.AlertBackoff <= 0 {
		c.AlertBackoff = 20 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 250 * time.Millisecond
	}
	if c.NearRadiusM <= 0 {
		c.NearRadiusM = 500
	}
	if c.FarRadiusM <= 0 {
		c.FarRadiusM = 1000
	}
	if c.SpeedSplit <= 0 {
		c.SpeedSplit = 60
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = 10 * time.Minute
	}
}

// SafetyScheduler polls the latest position for nearby hazards and, after
// its own backoff, asks the orchestrator to enqueue an advisory job. Jobs
// are deduplicated by the originating tick's row key, so one tick can never
// enqueue two advisories.
type SafetyScheduler struct {
	cfg      SchedulerConfig
	orch     *Orchestrator
	behavior BehaviorFunc
	safety   SafetyFunc
	latest   LatestFunc
	seen     cache.Cache
	logger   *zap.Logger

	mu        sync.Mutex
	lastAlert time.Time
	rng       *rand.Rand
}

func NewSafetyScheduler(cfg SchedulerConfig, orch *Orchestrator, behavior BehaviorFunc, safety SafetyFunc, latest LatestFunc, seen cache.Cache, logger *zap.Logger) *SafetyScheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafetyScheduler{
		cfg:      cfg,
		orch:     orch,
		behavior: behavior,
		safety:   safety,
		latest:   latest,
		seen:     seen,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run polls until ctx is cancelled. Errors inside one iteration are logged
// and never stop the loop.
func (s *SafetyScheduler) Run(ctx context.Context) {
	for {
		interval := s.iterate(ctx)
		t := time.NewTimer(s.withJitter(interval))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// iterate performs one poll and returns the next sleep interval. A panicked
// iteration sleeps the full normal interval before the next attempt.
func (s *SafetyScheduler) iterate(ctx context.Context) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("safety scheduler iteration panicked", zap.Any("panic", r))
			next = s.cfg.Interval
		}
	}()

	snap := s.latest()
	if !snap.HasGPS() {
		return s.cfg.Interval
	}

	radius := s.cfg.NearRadiusM
	if snap.Speed >= s.cfg.SpeedSplit {
		radius = s.cfg.FarRadiusM
	}
	alerts := s.safety(ctx, *snap.Latitude, *snap.Longitude, radius)
	if len(alerts) == 0 {
		return s.cfg.Interval
	}

	if s.backoffElapsed() {
		s.raise(ctx, snap, alerts)
	}
	// Hazards present: poll faster to track the hotspot.
	if s.cfg.HotInterval < s.cfg.Interval {
		return s.cfg.HotInterval
	}
	return s.cfg.Interval
}

// backoffElapsed checks and, when due, advances the alert backoff stamp.
func (s *SafetyScheduler) backoffElapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.cfg.AlertBackoff {
		return false
	}
	s.lastAlert = now
	return true
}

func (s *SafetyScheduler) raise(ctx context.Context, snap *models.Processed, alerts []models.Alert) {
	if s.alreadySeen(ctx, snap.RowID) {
		return
	}

	pol, err := s.behavior(ctx, snap)
	if err != nil {
		s.logger.Warn("behavior assessment failed in safety scheduler", zap.Error(err))
		return
	}

	queued := s.orch.Enqueue(&models.AdvisoryJob{
		RowID:    snap.RowID,
		Policy:   pol,
		Alerts:   alerts,
		Snapshot: map[string]any{"row_id": snap.RowID, "ts": snap.TS, "speed": snap.Speed},
	}, false)
	s.logger.Info("safety scheduler raised advisory",
		zap.Int64("row_id", snap.RowID),
		zap.Int("alerts", len(alerts)),
		zap.Bool("queued", queued))
}

// alreadySeen marks the row key in the dedup store and reports whether it
// was there before. A dedup-store failure only disables dedup for that key.
func (s *SafetyScheduler) alreadySeen(ctx context.Context, rowID int64) bool {
	if s.seen == nil {
		return false
	}
	key := cache.GenerateCacheKey("advisory-seen", strconv.FormatInt(rowID, 10))
	exists, err := s.seen.Exists(ctx, key)
	if err != nil {
		s.logger.Warn("dedup lookup failed", zap.Error(err))
		return false
	}
	if exists {
		return true
	}
	if err := s.seen.SetWithTTL(ctx, key, true, s.cfg.SeenTTL); err != nil {
		s.logger.Warn("dedup store failed", zap.Error(err))
	}
	return false
}

func (s *SafetyScheduler) withJitter(base time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := time.Duration(s.rng.Int63n(int64(2*s.cfg.Jitter))) - s.cfg.Jitter
	d := base + j
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}
