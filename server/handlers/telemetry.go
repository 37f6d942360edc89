package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/conect2ai/mmcloud-agent-development/server/behavior"
	"github.com/conect2ai/mmcloud-agent-development/server/hazards"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TelemetryHandler serves the REST side of the dashboard: latest tick
// state, runtime stats, hazard lookups around an arbitrary point, and
// the current behavior cluster snapshot.
type TelemetryHandler struct {
	engine *behavior.Engine
	index  *hazards.Index
	latest func() map[string]any
	hub    *WebSocketHandler
	logger *zap.Logger

	mu    sync.Mutex
	stats SystemStats
}

type SystemStats struct {
	TotalTicks      int64     `json:"total_ticks"`
	AdvisoriesSent  int64     `json:"advisories_sent"`
	AdvisoryFailed  int64     `json:"advisory_failed"`
	StartTime       time.Time `json:"start_time"`
	LastUpdated     time.Time `json:"last_updated"`
	ActiveClients   int       `json:"active_clients"`
	LastRowID       int64     `json:"last_row_id"`
	LastBehavior    string    `json:"last_behavior"`
	LastAlertsCount int       `json:"last_alerts_count"`
}

func NewTelemetryHandler(engine *behavior.Engine, index *hazards.Index, latest func() map[string]any, hub *WebSocketHandler, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		engine: engine,
		index:  index,
		latest: latest,
		hub:    hub,
		logger: logger,
		stats: SystemStats{
			StartTime:   time.Now(),
			LastUpdated: time.Now(),
		},
	}
}

// RecordTick is called from the sensor loop after each processed row.
func (h *TelemetryHandler) RecordTick(rowID int64, behavior string, alerts int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.TotalTicks++
	h.stats.LastRowID = rowID
	h.stats.LastBehavior = behavior
	h.stats.LastAlertsCount = alerts
	h.stats.LastUpdated = time.Now()
}

// RecordAdvisory is called from the advisory delivery callback.
func (h *TelemetryHandler) RecordAdvisory(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ok {
		h.stats.AdvisoriesSent++
	} else {
		h.stats.AdvisoryFailed++
	}
}

// GetLatest returns the most recent merged tick payload, the same
// document pushed over the websocket.
func (h *TelemetryHandler) GetLatest(c *gin.Context) {
	payload := h.latest()
	if payload == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no telemetry yet"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *TelemetryHandler) GetStats(c *gin.Context) {
	h.mu.Lock()
	stats := h.stats
	h.mu.Unlock()

	stats.ActiveClients = h.hub.ClientCount()

	c.JSON(http.StatusOK, gin.H{
		"system": stats,
		"clusters": gin.H{
			"count": h.engine.ClusterCount(),
		},
		"metrics": gin.H{
			"uptime_seconds": time.Since(stats.StartTime).Seconds(),
		},
	})
}

// QueryHazards looks up accidents and fines around an arbitrary point.
// GET /api/v1/hazards?lat=...&lon=...&radius=500
func (h *TelemetryHandler) QueryHazards(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lat parameter"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lon parameter"})
		return
	}

	radius := 500.0
	if raw := c.Query("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || radius > 50000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius parameter"})
			return
		}
	}

	accidents, fines := h.index.Query(lat, lon, radius)
	alerts := h.index.NearbyAlerts(lat, lon, radius)

	c.JSON(http.StatusOK, gin.H{
		"accidents": accidents,
		"fines":     fines,
		"alerts":    alerts,
		"counts": gin.H{
			"accidents": len(accidents),
			"fines":     len(fines),
		},
		"radius_m": radius,
	})
}

// GetClusters exposes the current behavior cluster snapshot, mainly for
// tuning the classifier against a recorded trip.
func (h *TelemetryHandler) GetClusters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"clusters": h.engine.Snapshot(),
		"count":    h.engine.ClusterCount(),
	})
}
