package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conect2ai/mmcloud-agent-development/server/advisor"
	"github.com/conect2ai/mmcloud-agent-development/server/behavior"
	"github.com/conect2ai/mmcloud-agent-development/server/models"
	"github.com/conect2ai/mmcloud-agent-development/server/policy"
)

// latestState holds the most recent processed tick and the payload built
// from it, shared between the tick loop, the safety scheduler and the REST
// handlers.
type latestState struct {
	mu      sync.RWMutex
	proc    *models.Processed
	payload map[string]any
}

func (l *latestState) Update(p *models.Processed, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proc = p
	l.payload = payload
}

func (l *latestState) Processed() *models.Processed {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.proc
}

func (l *latestState) Payload() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.payload
}

// assessBehavior adapts the rule scorer to the orchestrator's contract.
func (s *Server) assessBehavior(ctx context.Context, p *models.Processed) (models.PolicyState, error) {
	return policy.Assess(policy.Input{
		DriverBehavior: p.DriverBehavior,
		RoadType:       p.RoadType,
		Speed:          p.Speed,
		RadarArea:      p.RadarArea,
		MLScore:        p.MLScore,
	}), nil
}

func (s *Server) generateAdvice(ctx context.Context, pol models.PolicyState, alerts []models.Alert) advisor.Result {
	return advisor.Advise(ctx, pol, alerts, s.runtime)
}

// onAdvisoryResult backfills the trip log row that triggered the advisory
// and pushes the message to connected dashboards.
func (s *Server) onAdvisoryResult(rowID int64, message, source string, meta map[string]any, snapshot map[string]any) {
	updates := map[string]any{
		"llm_message": message,
		"llm_source":  source,
	}
	if latency, ok := meta["latency_ms"]; ok {
		updates["llm_latency_ms"] = latency
	}

	found, err := s.trip.UpdateRowByKey("row_id", rowID, updates)
	if err != nil {
		s.logger.Warn("trip log backfill failed", zap.Int64("row_id", rowID), zap.Error(err))
	} else if !found {
		s.logger.Debug("advisory row not in trip log", zap.Int64("row_id", rowID))
	}

	// Rebroadcast the most recent UI payload with the advisory attached so
	// dashboards that render a single state object pick it up too.
	payload := map[string]any{}
	for k, v := range s.latest.Payload() {
		payload[k] = v
	}
	payload["advisory"] = map[string]any{
		"row_id":   rowID,
		"message":  message,
		"source":   source,
		"meta":     meta,
		"snapshot": snapshot,
	}
	s.hub.Broadcast("advisory", payload)
	s.telemetry.RecordAdvisory(source == advisor.SourceModel)
}

// runTickLoop drives the pipeline at the configured cadence: read sensors,
// derive features, classify, assess, log, broadcast, and offer the tick to
// the advisory queue.
func (s *Server) runTickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Sensors.TickInterval)
	defer ticker.Stop()

	var rowID int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rowID++
		if err := s.tick(ctx, rowID); err != nil {
			s.logger.Error("tick failed", zap.Int64("row_id", rowID), zap.Error(err))
		}
	}
}

func (s *Server) tick(ctx context.Context, rowID int64) error {
	snap, err := s.source.Read(ctx)
	if err != nil {
		return fmt.Errorf("sensor read: %w", err)
	}

	radar := behavior.RadarArea(snap.RPM, snap.Speed, snap.Throttle, snap.EngineLoad)
	feat := behavior.FeatureVector(radar, snap.EngineLoad)
	label, err := s.engine.Classify(feat)
	if err != nil {
		return fmt.Errorf("behavior classify: %w", err)
	}

	p := &models.Processed{
		RowID:          rowID,
		TS:             time.Now().UTC().Format(time.RFC3339),
		Speed:          snap.Speed,
		RPM:            snap.RPM,
		Throttle:       snap.Throttle,
		EngineLoad:     snap.EngineLoad,
		RadarArea:      &radar,
		DriverBehavior: string(label),
		RoadType:       s.config.Sensors.RoadType,
		Latitude:       snap.Latitude,
		Longitude:      snap.Longitude,
	}

	out, err := s.orch.RunOnce(ctx, p)
	if err != nil {
		return fmt.Errorf("tick assessment: %w", err)
	}

	heading := headingMessage(out.Alerts)

	row := map[string]any{
		"row_id":          rowID,
		"ts":              p.TS,
		"speed":           p.Speed,
		"rpm":             p.RPM,
		"throttle":        p.Throttle,
		"engine_load":     p.EngineLoad,
		"radar_area":      radar,
		"driver_behavior": p.DriverBehavior,
		"road_type":       p.RoadType,
		"policy": map[string]any{
			"behavior":    out.Policy.Behavior,
			"severity":    string(out.Policy.Severity),
			"advice_code": string(out.Policy.AdviceCode),
		},
		"alerts_count": len(out.Alerts),
		"heading":      heading,
	}
	if p.HasGPS() {
		row["latitude"] = *p.Latitude
		row["longitude"] = *p.Longitude
	}
	for k, v := range out.Metrics {
		row[k] = v
	}
	if err := s.trip.Append(row); err != nil {
		s.logger.Warn("trip log append failed", zap.Int64("row_id", rowID), zap.Error(err))
	}

	payload := map[string]any{
		"processed": p,
		"policy":    out.Policy,
		"alerts":    out.Alerts,
		"heading":   heading,
		"metrics":   out.Metrics,
	}
	s.latest.Update(p, payload)
	s.hub.Broadcast("telemetry", payload)
	s.telemetry.RecordTick(rowID, p.DriverBehavior, len(out.Alerts))

	s.orch.Enqueue(&models.AdvisoryJob{
		RowID:    rowID,
		Policy:   out.Policy,
		Alerts:   out.Alerts,
		Snapshot: map[string]any{"row_id": rowID, "ts": p.TS, "speed": p.Speed},
	}, false)

	return nil
}

// headingMessage renders the alerts into the short human line logged with
// each row, e.g. "accident 120 m ahead; fine 340 m ahead".
func headingMessage(alerts []models.Alert) string {
	if len(alerts) == 0 {
		return ""
	}
	msg := ""
	for i, a := range alerts {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s %d m %s", a.Type, a.DistanceM, a.Direction)
	}
	return msg
}
