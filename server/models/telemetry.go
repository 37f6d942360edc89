package models

// Processed is one fully derived sensor tick: raw OBD readings plus the
// soft-sensor features and classifications computed for that second.
type Processed struct {
	RowID      int64   `json:"row_id"`
	TS         string  `json:"ts"`
	Speed      float64 `json:"speed"`
	RPM        float64 `json:"rpm"`
	Throttle   float64 `json:"throttle"`
	EngineLoad float64 `json:"engine_load"`

	RadarArea      *float64 `json:"radar_area,omitempty"`
	DriverBehavior string   `json:"driver_behavior,omitempty"`
	RoadType       string   `json:"road_type,omitempty"`
	MLScore        *float64 `json:"ml_score,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasGPS reports whether the tick carries a usable position fix.
func (p *Processed) HasGPS() bool {
	return p != nil && p.Latitude != nil && p.Longitude != nil
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type AdviceCode string

const (
	AdviceOK             AdviceCode = "ok"
	AdviceReduceThrottle AdviceCode = "reduce_throttle"
	AdviceReduceSpeed    AdviceCode = "reduce_speed"
	AdviceMaintain       AdviceCode = "maintain"
)

// PolicyState is the rule scorer's verdict for one tick.
type PolicyState struct {
	Behavior   string     `json:"behavior"` // "Cautious" | "Normal" | "Aggressive"
	Severity   Severity   `json:"severity"`
	AdviceCode AdviceCode `json:"advice_code"`
	Reasons    []string   `json:"reasons"`
}

type AlertType string

const (
	AlertAccident AlertType = "accident"
	AlertFine     AlertType = "fine"
)

type Direction string

const (
	DirectionAhead  Direction = "ahead"
	DirectionLeft   Direction = "left"
	DirectionRight  Direction = "right"
	DirectionBehind Direction = "behind"
)

// Alert is a nearby hazard returned by the proximity index.
type Alert struct {
	Type       AlertType `json:"type"`
	DistanceM  int       `json:"distance_m"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
}

// AdvisoryJob is one unit of background advice generation. It is immutable
// after enqueue and consumed exactly once by the orchestrator worker.
type AdvisoryJob struct {
	RowID    int64          `json:"row_id"`
	Policy   PolicyState    `json:"policy"`
	Alerts   []Alert        `json:"alerts"`
	Snapshot map[string]any `json:"snapshot"`
}

// OrchestratorOutput bundles the deterministic per-tick assessment.
type OrchestratorOutput struct {
	Policy  PolicyState    `json:"policy"`
	Alerts  []Alert        `json:"alerts"`
	Metrics map[string]any `json:"metrics"`
}

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
